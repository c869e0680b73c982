package ipc

import (
	"fmt"

	"github.com/jabolina/go-ipc/pkg/ipc/core"
)

// OpaqueSender is a type-erased Sender[T]: it can be stored, routed, or
// cloned alongside senders carrying unrelated T, at the cost of giving up
// compile-time type checking on Send.
type OpaqueSender struct {
	state *channelState
}

func newOpaqueSender(state *channelState) OpaqueSender {
	state.retain()
	return OpaqueSender{state: state}
}

// Send encodes v, whatever its concrete type, and writes it as one frame.
func (s OpaqueSender) Send(v any) error {
	if s.state == nil {
		return fmt.Errorf("ipc: send on zero-value OpaqueSender")
	}
	s.state.sendMu.Lock()
	defer s.state.sendMu.Unlock()
	return translateSendError(s.state.id, s.state.transport.Send(v))
}

// Clone returns an independent handle sharing the same connection.
func (s OpaqueSender) Clone() OpaqueSender {
	s.state.retain()
	return OpaqueSender{state: s.state}
}

// Close releases this handle's share of the underlying connection.
func (s OpaqueSender) Close() error {
	if s.state == nil {
		return nil
	}
	return s.state.release()
}

// IPCExportHandle implements core.HandleCarrier.
func (s OpaqueSender) IPCExportHandle() (core.HandleDescriptor, error) {
	if s.state == nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: cannot export zero-value OpaqueSender")
	}
	fd, err := rawFD(s.state.conn)
	if err != nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: export opaque sender handle: %w", err)
	}
	return core.HandleDescriptor{Kind: core.KindOpaqueSender, FD: fd}, nil
}

// IPCImportHandle implements core.HandleImporter.
func (s *OpaqueSender) IPCImportHandle(d core.HandleDescriptor) error {
	conn, err := connFromFD(d.FD)
	if err != nil {
		return err
	}
	s.state = newChannelState(conn)
	return nil
}

// FromOpaqueSender recovers a typed Sender[T] from an OpaqueSender that is
// known (by convention, out of band) to carry T. Mismatched types are not
// caught here or on Send (the wire has no type tag); they surface as
// core.ErrMalformed when the receiving side decodes a payload whose shape
// doesn't match its own type.
func FromOpaqueSender[T any](s OpaqueSender) Sender[T] {
	s.state.retain()
	return Sender[T]{state: s.state}
}

// OpaqueReceiver is the type-erased counterpart of Receiver[T]: it reads
// raw frames without committing to a destination type until ToTyped is
// called on each received OpaqueMessage.
type OpaqueReceiver struct {
	state *channelState
}

func newOpaqueReceiver(state *channelState) OpaqueReceiver {
	state.retain()
	return OpaqueReceiver{state: state}
}

// Recv reads the next frame without decoding it.
func (r OpaqueReceiver) Recv() (OpaqueMessage, error) {
	if r.state == nil {
		return OpaqueMessage{}, fmt.Errorf("ipc: recv on zero-value OpaqueReceiver")
	}
	payload, handles, err := r.state.transport.RecvRaw()
	if err != nil {
		return OpaqueMessage{}, translateRecvError(err)
	}
	return OpaqueMessage{payload: payload, handles: handles}, nil
}

// Close releases the underlying connection.
func (r OpaqueReceiver) Close() error {
	if r.state == nil {
		return nil
	}
	return r.state.release()
}

// IPCExportHandle implements core.HandleCarrier.
func (r OpaqueReceiver) IPCExportHandle() (core.HandleDescriptor, error) {
	if r.state == nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: cannot export zero-value OpaqueReceiver")
	}
	fd, err := rawFD(r.state.conn)
	if err != nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: export opaque receiver handle: %w", err)
	}
	return core.HandleDescriptor{Kind: core.KindOpaqueReceiver, FD: fd}, nil
}

// IPCImportHandle implements core.HandleImporter.
func (r *OpaqueReceiver) IPCImportHandle(d core.HandleDescriptor) error {
	conn, err := connFromFD(d.FD)
	if err != nil {
		return err
	}
	r.state = newChannelState(conn)
	return nil
}

// FromOpaqueReceiver recovers a typed Receiver[T].
func FromOpaqueReceiver[T any](r OpaqueReceiver) Receiver[T] {
	r.state.retain()
	return Receiver[T]{state: r.state}
}

// OpaqueMessage is a frame read by an OpaqueReceiver whose payload has not
// yet been decoded into a concrete type.
type OpaqueMessage struct {
	payload []byte
	handles []core.HandleDescriptor
}

// ToTyped decodes the message into T. If the message carries handles,
// decoding consumes them by rebuilding live endpoints from their
// descriptors; calling ToTyped a second time on the same message will fail
// once those descriptors have been closed by the first decode.
func ToTyped[T any](m *OpaqueMessage) (T, error) {
	var out T
	err := core.Decode(m.payload, m.handles, &out)
	return out, err
}
