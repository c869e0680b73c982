// Package ipc provides typed, cross-process channels over Unix domain
// sockets: generic Sender[T]/Receiver[T] pairs, type-erased opaque
// endpoints, a raw BytesChannel, shared memory regions, a ReceiverSet for
// waiting on several receivers at once, named one-shot rendezvous servers,
// and a process-wide Router for fanning receiver arrivals into callbacks or
// native Go channels.
//
// Every endpoint that can be embedded in another channel's payload
// (Sender, Receiver, the opaque endpoints, SharedMemory, the bytes
// endpoints) implements core.HandleCarrier/core.HandleImporter, so a value
// of any shape, including one holding other endpoints, can be sent as
// long as its non-endpoint fields are otherwise JSON-marshalable.
package ipc

import "github.com/jabolina/go-ipc/pkg/ipc/core"

// Error kinds returned by this package are core's sentinels, re-exported
// here so callers importing only ipc don't need a second import for
// errors.Is checks.
var (
	ErrDisconnected = core.ErrDisconnected
	ErrEmpty        = core.ErrEmpty
	ErrMalformed    = core.ErrMalformed
	ErrTypeMismatch = core.ErrTypeMismatch
)
