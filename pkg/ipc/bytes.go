package ipc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/framer"
	"golang.org/x/sys/unix"

	"github.com/jabolina/go-ipc/pkg/ipc/core"
)

// bytesReadLimit bounds a single BytesChannel message; large enough for any
// reasonable control message, small enough to fail fast on a corrupt
// stream instead of trying to allocate an attacker-controlled size.
const bytesReadLimit = 16 * 1024 * 1024

// BytesChannel is the header-free counterpart to Channel[T]: it moves raw
// byte slices with no JSON envelope and can never carry embedded handles,
// so it is free to hand framing off to code.hybscloud.com/framer directly
// instead of going through the codec's reflect walk.
func BytesChannel() (BytesSender, BytesReceiver, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return BytesSender{}, BytesReceiver{}, fmt.Errorf("ipc: create bytes channel: %w", err)
	}
	left, err := connFromFD(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return BytesSender{}, BytesReceiver{}, err
	}
	right, err := connFromFD(fds[1])
	if err != nil {
		left.Close()
		unix.Close(fds[1])
		return BytesSender{}, BytesReceiver{}, err
	}
	return newBytesSender(left), newBytesReceiver(right), nil
}

type bytesState struct {
	id       string
	conn     *net.UnixConn
	framed   *framer.ReadWriter
	writeMu  sync.Mutex
	readMu   sync.Mutex
	refcount int32
}

func newBytesChannelState(conn *net.UnixConn) *bytesState {
	rw := framer.NewReadWriter(conn, conn,
		framer.WithProtocol(framer.BinaryStream),
		framer.WithBlock(),
		framer.WithReadLimit(bytesReadLimit),
	)
	return &bytesState{
		id:       core.NewEndpointID(),
		conn:     conn,
		framed:   rw.(*framer.ReadWriter),
		refcount: 1,
	}
}

func (s *bytesState) retain() { atomic.AddInt32(&s.refcount, 1) }

func (s *bytesState) release() error {
	if atomic.AddInt32(&s.refcount, -1) > 0 {
		return nil
	}
	return s.conn.Close()
}

// BytesSender is the writable half of a BytesChannel.
type BytesSender struct {
	state *bytesState
}

func newBytesSender(conn *net.UnixConn) BytesSender {
	return BytesSender{state: newBytesChannelState(conn)}
}

// Send writes p as one framed message.
func (s BytesSender) Send(p []byte) error {
	if s.state == nil {
		return fmt.Errorf("ipc: send on zero-value BytesSender")
	}
	s.state.writeMu.Lock()
	defer s.state.writeMu.Unlock()
	if _, err := s.state.framed.Write(p); err != nil {
		if mapped := translateSendError(s.state.id, err); mapped != err {
			return mapped
		}
		return fmt.Errorf("ipc: bytes send: %w", err)
	}
	return nil
}

// Clone returns an independent handle sharing the same connection.
func (s BytesSender) Clone() BytesSender {
	s.state.retain()
	return BytesSender{state: s.state}
}

// Close releases this handle's share of the underlying connection.
func (s BytesSender) Close() error {
	if s.state == nil {
		return nil
	}
	return s.state.release()
}

// IPCExportHandle implements core.HandleCarrier.
func (s BytesSender) IPCExportHandle() (core.HandleDescriptor, error) {
	if s.state == nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: cannot export zero-value BytesSender")
	}
	fd, err := rawFD(s.state.conn)
	if err != nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: export bytes sender handle: %w", err)
	}
	return core.HandleDescriptor{Kind: core.KindBytesSender, FD: fd}, nil
}

// IPCImportHandle implements core.HandleImporter.
func (s *BytesSender) IPCImportHandle(d core.HandleDescriptor) error {
	conn, err := connFromFD(d.FD)
	if err != nil {
		return err
	}
	s.state = newBytesChannelState(conn)
	return nil
}

// BytesReceiver is the readable half of a BytesChannel.
type BytesReceiver struct {
	state *bytesState
	buf   []byte
}

func newBytesReceiver(conn *net.UnixConn) BytesReceiver {
	return BytesReceiver{state: newBytesChannelState(conn), buf: make([]byte, bytesReadLimit)}
}

// Recv blocks until the next message arrives and returns a copy of it.
func (r BytesReceiver) Recv() ([]byte, error) {
	if r.state == nil {
		return nil, fmt.Errorf("ipc: recv on zero-value BytesReceiver")
	}
	r.state.readMu.Lock()
	defer r.state.readMu.Unlock()
	n, err := r.state.framed.Read(r.buf)
	if err != nil {
		return nil, translateRecvError(err)
	}
	out := make([]byte, n)
	copy(out, r.buf[:n])
	return out, nil
}

// Close releases the underlying connection.
func (r BytesReceiver) Close() error {
	if r.state == nil {
		return nil
	}
	return r.state.release()
}

// IPCExportHandle implements core.HandleCarrier.
func (r BytesReceiver) IPCExportHandle() (core.HandleDescriptor, error) {
	if r.state == nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: cannot export zero-value BytesReceiver")
	}
	fd, err := rawFD(r.state.conn)
	if err != nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: export bytes receiver handle: %w", err)
	}
	return core.HandleDescriptor{Kind: core.KindBytesReceiver, FD: fd}, nil
}

// IPCImportHandle implements core.HandleImporter.
func (r *BytesReceiver) IPCImportHandle(d core.HandleDescriptor) error {
	conn, err := connFromFD(d.FD)
	if err != nil {
		return err
	}
	r.state = newBytesChannelState(conn)
	r.buf = make([]byte, bytesReadLimit)
	return nil
}
