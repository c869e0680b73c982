package core

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// maxFrameHandles bounds how many descriptors a single frame may carry, so
// ReadHandleFrame can size its oob buffer up front instead of guessing.
const maxFrameHandles = 64

// maxFramePayload bounds a single frame's declared payload length. Large
// values cross as shared memory regions instead, so a length prefix beyond
// this marks a corrupt or misaligned stream, not a real frame; failing
// fast beats allocating whatever a garbage prefix says.
const maxFramePayload = 64 << 20

// WriteHandleFrame sends payload prefixed with its big-endian uint32
// length, attaching fds as SCM_RIGHTS ancillary data on the first write so
// that the byte payload and the descriptors cross the socket atomically
// from the reader's point of view.
func WriteHandleFrame(conn *net.UnixConn, payload []byte, fds []int) error {
	if len(fds) > maxFrameHandles {
		return fmt.Errorf("ipc: frame carries %d handles, limit is %d", len(fds), maxFrameHandles)
	}
	if len(payload) > maxFramePayload {
		return fmt.Errorf("ipc: frame payload is %d bytes, limit is %d", len(payload), maxFramePayload)
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	framed := append(header, payload...)

	var rights []byte
	if len(fds) > 0 {
		rights = unix.UnixRights(fds...)
	}

	for len(framed) > 0 {
		n, oobn, err := conn.WriteMsgUnix(framed, rights, nil)
		if err != nil {
			return fmt.Errorf("ipc: write frame: %w", err)
		}
		if oobn < len(rights) {
			return fmt.Errorf("ipc: short ancillary write: wrote %d of %d bytes", oobn, len(rights))
		}
		framed = framed[n:]
		rights = nil // rights travel on the first chunk only
	}
	return nil
}

// ReadHandleFrame reads one length-prefixed frame plus whatever descriptors
// were attached to it. The initial read takes only the 4-byte length header,
// with an oob buffer sized for maxFrameHandles, so the ancillary data sent
// with the frame's first chunk is captured on this call and no bytes of a
// following frame are consumed; the payload is then pulled with plain
// conn.Read, exactly length bytes, which carries no oob data of its own.
func ReadHandleFrame(conn *net.UnixConn) ([]byte, []int, error) {
	header := make([]byte, 4)
	oob := make([]byte, unix.CmsgSpace(4*maxFrameHandles))

	n, oobn, _, _, err := conn.ReadMsgUnix(header, oob)
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: read frame: %w", err)
	}
	if n < 4 {
		return nil, nil, ErrMalformed
	}
	length := binary.BigEndian.Uint32(header)
	if length > maxFramePayload {
		return nil, nil, ErrMalformed
	}
	data := make([]byte, 0, length)

	for uint32(len(data)) < length {
		chunk := make([]byte, length-uint32(len(data)))
		m, rerr := conn.Read(chunk)
		if rerr != nil {
			return nil, nil, fmt.Errorf("ipc: read frame body: %w", rerr)
		}
		data = append(data, chunk[:m]...)
	}

	fds, err := parseRights(oob[:oobn])
	if err != nil {
		return nil, nil, err
	}
	return data, fds, nil
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	messages, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("ipc: parse control message: %w", err)
	}
	var fds []int
	for _, msg := range messages {
		parsed, err := unix.ParseUnixRights(&msg)
		if err != nil {
			return nil, fmt.Errorf("ipc: parse unix rights: %w", err)
		}
		fds = append(fds, parsed...)
	}
	return fds, nil
}
