package core

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func unixConnPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	toConn := func(fd int) *net.UnixConn {
		f := os.NewFile(uintptr(fd), "test-conn")
		defer f.Close()
		c, err := net.FileConn(f)
		require.NoError(t, err)
		unixConn, ok := c.(*net.UnixConn)
		require.True(t, ok)
		return unixConn
	}
	left := toConn(fds[0])
	right := toConn(fds[1])
	t.Cleanup(func() {
		left.Close()
		right.Close()
	})
	return left, right
}

func TestWriteReadHandleFrameNoHandles(t *testing.T) {
	left, right := unixConnPair(t)

	payload := []byte("hello, ipc")
	require.NoError(t, WriteHandleFrame(left, payload, nil))

	got, fds, err := ReadHandleFrame(right)
	require.NoError(t, err)
	require.Empty(t, fds)
	require.Equal(t, payload, got)
}

func TestWriteReadHandleFrameWithHandles(t *testing.T) {
	left, right := unixConnPair(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	payload := []byte("carries a pipe")
	require.NoError(t, WriteHandleFrame(left, payload, []int{int(r.Fd())}))

	got, fds, err := ReadHandleFrame(right)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Len(t, fds, 1)

	received := os.NewFile(uintptr(fds[0]), "received-pipe-end")
	defer received.Close()

	go func() {
		_, _ = w.Write([]byte("ping"))
		w.Close()
	}()
	buf := make([]byte, 4)
	n, err := received.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestWriteHandleFrameRejectsTooManyHandles(t *testing.T) {
	left, _ := unixConnPair(t)
	fds := make([]int, maxFrameHandles+1)
	err := WriteHandleFrame(left, []byte("x"), fds)
	require.Error(t, err)
}

func TestReadHandleFrameRejectsOversizedLengthPrefix(t *testing.T) {
	left, right := unixConnPair(t)

	// A garbage length prefix far beyond maxFramePayload must fail fast
	// instead of allocating whatever the corrupt header claims.
	_, err := left.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)

	_, _, err = ReadHandleFrame(right)
	require.ErrorIs(t, err, ErrMalformed)
}
