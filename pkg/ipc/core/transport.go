package core

import (
	"fmt"
	"net"
)

// Transport is the single OS-level primitive every typed endpoint in this
// module is built on: a connected Unix domain socket plus the codec and
// framing glue needed to move an arbitrary Go value, handles included,
// across it.
type Transport struct {
	conn *net.UnixConn
}

// NewTransport wraps an already-connected Unix socket.
func NewTransport(conn *net.UnixConn) *Transport {
	return &Transport{conn: conn}
}

// Send encodes v and writes it as one handle frame. Encode already hands
// back a fresh descriptor per embedded handle carrier (IPCExportHandle dups
// or detaches it for transmission), so Send's only remaining job is to put
// those fds on the wire and close its own copy once the write is done:
// SCM_RIGHTS copies the fd into the peer's ancillary data without consuming
// the sender's descriptor, so leaving it open here would leak one fd per
// handle carried on every send.
func (t *Transport) Send(v any) error {
	payload, descriptors, err := Encode(v)
	if err != nil {
		return fmt.Errorf("ipc: encode: %w", err)
	}
	fds := descriptorFDs(descriptors)
	writeErr := WriteHandleFrame(t.conn, payload, fds)
	closeAll(fds)
	return writeErr
}

// Recv reads the next frame and decodes it into out, a non-nil pointer.
func (t *Transport) Recv(out any) error {
	payload, descriptors, err := t.RecvRaw()
	if err != nil {
		return err
	}
	if err := Decode(payload, descriptors, out); err != nil {
		closeAll(descriptorFDs(descriptors))
		return err
	}
	return nil
}

// RecvRaw reads the next frame without decoding it, for callers (the
// opaque endpoints) that don't know the destination type until later. The
// returned descriptors are only valid until consumed by a matching Decode
// or explicitly released.
func (t *Transport) RecvRaw() ([]byte, []HandleDescriptor, error) {
	payload, fds, err := ReadHandleFrame(t.conn)
	if err != nil {
		return nil, nil, err
	}
	return payload, describeReceived(fds), nil
}

// Close shuts down the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

func closeAll(fds []int) {
	for _, fd := range fds {
		if fd >= 0 {
			NewRefcountedFD(fd).Release()
		}
	}
}

// describeReceived pairs the raw fds pulled off the wire with the
// placeholder order Decode expects: the sender serializes handle
// placeholders in encounter order and attaches their fds to the frame in
// the same order, so the receiver need only zip the two lists back
// together. Only FD travels out of band, so Kind and Len are left zero
// here: the concrete carrier type on the decode side determines the kind,
// and Decode fills in Len from the in-band handle placeholder.
func describeReceived(fds []int) []HandleDescriptor {
	descriptors := make([]HandleDescriptor, len(fds))
	for i, fd := range fds {
		descriptors[i] = HandleDescriptor{FD: fd}
	}
	return descriptors
}

func descriptorFDs(descriptors []HandleDescriptor) []int {
	fds := make([]int, len(descriptors))
	for i, d := range descriptors {
		fds[i] = d.FD
	}
	return fds
}
