package core

import "errors"

// Sentinel error kinds shared by every package in this module. Callers
// distinguish them with errors.Is, not type switches.
var (
	// ErrDisconnected is returned when the peer side of a channel is gone
	// and no more data will ever arrive.
	ErrDisconnected = errors.New("ipc: disconnected")

	// ErrEmpty is a status, not a failure: try_recv found nothing ready.
	ErrEmpty = errors.New("ipc: no message ready")

	// ErrMalformed means decode failed: handle-count mismatch or a codec
	// error while rebuilding the value.
	ErrMalformed = errors.New("ipc: malformed message")

	// ErrTypeMismatch names the opaque-retype mismatch kind. No code path in
	// this module returns it: the wire carries no type tag, so an opaque
	// endpoint retyped incompatibly surfaces as ErrMalformed on decode.
	ErrTypeMismatch = errors.New("ipc: opaque type mismatch")
)
