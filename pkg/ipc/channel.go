// Package ipc implements typed, cross-process channels backed by Unix
// domain sockets: a generic Sender[T]/Receiver[T] pair that can itself be
// embedded inside the T carried by another channel, letting a process hand
// off an entire communication endpoint to a peer the way it would hand off
// any other value.
package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jabolina/go-ipc/pkg/ipc/core"
)

// channelState is the state shared by every clone of a Sender[T]. The
// single Receiver[T] side reuses it too; receivers are not cloneable, so
// their refcount only ever moves when a typed receiver is erased to an
// opaque one over the same connection.
type channelState struct {
	id        string
	conn      *net.UnixConn
	transport *core.Transport
	sendMu    sync.Mutex
	refcount  int32
}

func newChannelState(conn *net.UnixConn) *channelState {
	return &channelState{
		id:        core.NewEndpointID(),
		conn:      conn,
		transport: core.NewTransport(conn),
		refcount:  1,
	}
}

func (s *channelState) retain() {
	atomic.AddInt32(&s.refcount, 1)
}

func (s *channelState) release() error {
	if atomic.AddInt32(&s.refcount, -1) > 0 {
		return nil
	}
	return s.conn.Close()
}

// rawFD hands back a fresh duplicate of the connection's file descriptor,
// so the caller (IPCExportHandle) owns a copy independent of the Go runtime's
// own descriptor bookkeeping.
func rawFD(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	var ctrlErr error
	err = raw.Control(func(descriptor uintptr) {
		dup, dupErr := unix.Dup(int(descriptor))
		fd, ctrlErr = dup, dupErr
	})
	if err != nil {
		return -1, err
	}
	return fd, ctrlErr
}

// connFromFD rebuilds a *net.UnixConn from a descriptor received over
// SCM_RIGHTS. The standard idiom: wrap the fd in an *os.File, hand it to
// net.FileConn (which duplicates it internally), then release the
// temporary File.
func connFromFD(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "ipc-endpoint")
	defer f.Close()
	generic, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("ipc: rebuild connection from handle: %w", err)
	}
	conn, ok := generic.(*net.UnixConn)
	if !ok {
		generic.Close()
		return nil, fmt.Errorf("ipc: handle is not a Unix domain socket")
	}
	return conn, nil
}

// Sender is the writable half of a typed channel. It may be cloned and may
// itself be embedded in a value sent over another channel.
type Sender[T any] struct {
	state *channelState
}

// Send encodes v, along with any embedded handles it carries, and writes it
// as a single frame.
func (s Sender[T]) Send(v T) error {
	if s.state == nil {
		return fmt.Errorf("ipc: send on zero-value Sender")
	}
	s.state.sendMu.Lock()
	defer s.state.sendMu.Unlock()
	return translateSendError(s.state.id, s.state.transport.Send(v))
}

// Clone returns an independent handle to the same underlying connection;
// the connection is only closed once every clone (and the original) has
// been closed.
func (s Sender[T]) Clone() Sender[T] {
	s.state.retain()
	return Sender[T]{state: s.state}
}

// Close releases this handle's share of the underlying connection.
func (s Sender[T]) Close() error {
	if s.state == nil {
		return nil
	}
	return s.state.release()
}

// ToOpaque erases T, yielding a handle that can be routed or stored
// alongside senders of other types and later recovered with FromOpaqueSender.
func (s Sender[T]) ToOpaque() OpaqueSender {
	return newOpaqueSender(s.state)
}

// IPCExportHandle implements core.HandleCarrier: a sender embedded in
// another channel's payload hands over a duplicate of its connection fd,
// leaving its own copy open.
func (s Sender[T]) IPCExportHandle() (core.HandleDescriptor, error) {
	if s.state == nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: cannot export zero-value Sender")
	}
	fd, err := rawFD(s.state.conn)
	if err != nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: export sender handle: %w", err)
	}
	return core.HandleDescriptor{Kind: core.KindSender, FD: fd}, nil
}

// IPCImportHandle implements core.HandleImporter, rebuilding a connected
// Sender from a received descriptor.
func (s *Sender[T]) IPCImportHandle(d core.HandleDescriptor) error {
	conn, err := connFromFD(d.FD)
	if err != nil {
		return err
	}
	s.state = newChannelState(conn)
	return nil
}

// Receiver is the readable half of a typed channel. Receivers are not
// cloneable: only one side may consume a given stream.
type Receiver[T any] struct {
	state *channelState
}

// Recv blocks until a value arrives or the connection is closed.
func (r Receiver[T]) Recv() (T, error) {
	var out T
	if r.state == nil {
		return out, fmt.Errorf("ipc: recv on zero-value Receiver")
	}
	if err := r.state.transport.Recv(&out); err != nil {
		return out, translateRecvError(err)
	}
	return out, nil
}

// TryRecv returns core.ErrEmpty immediately instead of blocking when no
// message is ready, by giving the read an already-elapsed deadline rather
// than polling the descriptor separately.
func (r Receiver[T]) TryRecv() (T, error) {
	var out T
	if r.state == nil {
		return out, fmt.Errorf("ipc: try_recv on zero-value Receiver")
	}
	if err := r.state.conn.SetReadDeadline(time.Now()); err != nil {
		return out, err
	}
	defer r.state.conn.SetReadDeadline(time.Time{})
	err := r.state.transport.Recv(&out)
	if err == nil {
		return out, nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return out, core.ErrEmpty
	}
	return out, translateRecvError(err)
}

// Close releases the underlying connection.
func (r Receiver[T]) Close() error {
	if r.state == nil {
		return nil
	}
	return r.state.release()
}

// ToOpaque erases T, mirroring Sender.ToOpaque.
func (r Receiver[T]) ToOpaque() OpaqueReceiver {
	return newOpaqueReceiver(r.state)
}

// IPCExportHandle implements core.HandleCarrier for Receiver.
func (r Receiver[T]) IPCExportHandle() (core.HandleDescriptor, error) {
	if r.state == nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: cannot export zero-value Receiver")
	}
	fd, err := rawFD(r.state.conn)
	if err != nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: export receiver handle: %w", err)
	}
	return core.HandleDescriptor{Kind: core.KindReceiver, FD: fd}, nil
}

// IPCImportHandle implements core.HandleImporter for Receiver.
func (r *Receiver[T]) IPCImportHandle(d core.HandleDescriptor) error {
	conn, err := connFromFD(d.FD)
	if err != nil {
		return err
	}
	r.state = newChannelState(conn)
	return nil
}

// translateRecvError maps the transport's raw failure modes onto the
// module's sentinels: a peer that closed cleanly (EOF, reset, or our own
// descriptor torn down mid-read) is ErrDisconnected, anything else is a
// genuine io error surfaced verbatim. The transport wraps its errors with
// fmt.Errorf("...: %w"), so matching has to go through errors.Is/errors.As
// rather than a bare type assertion.
func translateRecvError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return core.ErrDisconnected
	}
	if errors.Is(err, unix.ECONNRESET) {
		return core.ErrDisconnected
	}
	return err
}

// translateSendError is the write-side counterpart: a receiver that has
// been dropped shows up as EPIPE (or a reset) on the next send, which
// callers need to tell apart from transport io errors.
func translateSendError(endpoint string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: endpoint %s", core.ErrDisconnected, endpoint)
	}
	return err
}

// Channel creates a connected Sender[T]/Receiver[T] pair backed by an
// anonymous Unix domain socket pair: no filesystem name, so nothing to
// clean up or collide on. Either endpoint can then be embedded in a value
// sent over another channel to hand the pair across a process boundary.
func Channel[T any]() (Sender[T], Receiver[T], error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return Sender[T]{}, Receiver[T]{}, fmt.Errorf("ipc: create channel: %w", err)
	}
	left, err := connFromFD(fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return Sender[T]{}, Receiver[T]{}, err
	}
	right, err := connFromFD(fds[1])
	if err != nil {
		left.Close()
		unix.Close(fds[1])
		return Sender[T]{}, Receiver[T]{}, err
	}
	return Sender[T]{state: newChannelState(left)}, Receiver[T]{state: newChannelState(right)}, nil
}
