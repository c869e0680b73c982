package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

type greeting struct {
	From string
	To   string
}

// pipeCarrier is a HandleCarrier backed by a real file descriptor (one end
// of an os.Pipe), since Transport.Send duplicates the descriptor for real
// over SCM_RIGHTS and needs something the kernel will accept.
type pipeCarrier struct {
	fd int
}

func (p pipeCarrier) IPCExportHandle() (HandleDescriptor, error) {
	return HandleDescriptor{Kind: KindSender, FD: p.fd}, nil
}

func (p *pipeCarrier) IPCImportHandle(d HandleDescriptor) error {
	p.fd = d.FD
	return nil
}

type withPipeCarrier struct {
	Name    string
	Carrier pipeCarrier
}

func TestTransportSendRecv(t *testing.T) {
	left, right := unixConnPair(t)
	sender := NewTransport(left)
	receiver := NewTransport(right)

	want := greeting{From: "a", To: "b"}
	require.NoError(t, sender.Send(want))

	var got greeting
	require.NoError(t, receiver.Recv(&got))
	require.Equal(t, want, got)
}

func TestTransportSendRecvWithHandle(t *testing.T) {
	left, right := unixConnPair(t)
	sender := NewTransport(left)
	receiver := NewTransport(right)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, sender.Send(withPipeCarrier{Name: "bearer", Carrier: pipeCarrier{fd: int(w.Fd())}}))
	w.Close()

	var got withPipeCarrier
	require.NoError(t, receiver.Recv(&got))
	require.Equal(t, "bearer", got.Name)

	received := os.NewFile(uintptr(got.Carrier.fd), "received")
	_, err = received.Write([]byte("ping"))
	require.NoError(t, err)
	received.Close()

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestTransportRecvRaw(t *testing.T) {
	left, right := unixConnPair(t)
	sender := NewTransport(left)
	receiver := NewTransport(right)

	require.NoError(t, sender.Send(greeting{From: "x", To: "y"}))

	payload, handles, err := receiver.RecvRaw()
	require.NoError(t, err)
	require.Empty(t, handles)

	var got greeting
	require.NoError(t, Decode(payload, handles, &got))
	require.Equal(t, "x", got.From)
}
