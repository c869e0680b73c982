package core

// HandleKind tags which concrete carrier type exported a HandleDescriptor.
// It is set on the encode side only and does not travel on the wire; the
// decode side picks the carrier from the destination's static Go type.
type HandleKind byte

const (
	KindSender HandleKind = iota + 1
	KindReceiver
	KindOpaqueSender
	KindOpaqueReceiver
	KindSharedMemory
	KindBytesSender
	KindBytesReceiver
)

// HandleDescriptor is one entry of the out-of-band handle vector carried
// alongside a frame's byte payload. FD is the descriptor to duplicate to
// the peer; Len is only meaningful for KindSharedMemory.
type HandleDescriptor struct {
	Kind HandleKind
	FD   int
	Len  int
}

// HandleCarrier is implemented by every type that embeds a transmissible OS
// handle: Sender[T], Receiver[T], the opaque endpoints, SharedMemory, and
// the bytes-channel endpoints. The serialization bridge type-asserts to
// this interface while walking a value so the handle is diverted into the
// frame's handle vector instead of being marshaled inline.
type HandleCarrier interface {
	// IPCExportHandle detaches (or, for cloneable senders, duplicates) the
	// underlying OS handle for transmission and describes it for the wire.
	//
	// Not part of this library's public contract for direct use; it exists
	// so the codec can reach into arbitrary embedded fields via reflection.
	IPCExportHandle() (HandleDescriptor, error)
}

// HandleImporter is implemented by the same carrier types and lets the
// decoder rebuild a live value from a received HandleDescriptor in place.
type HandleImporter interface {
	// IPCImportHandle rebinds the receiver to the handle described by d.
	IPCImportHandle(d HandleDescriptor) error
}
