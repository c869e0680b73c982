package core

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// RefcountedFD is a single OS file descriptor with a reference count; the
// descriptor is closed exactly once, when the last reference is released.
// SharedMemory holds one per handle: its Clone duplicates the descriptor
// into a fresh RefcountedFD rather than calling Retain on a shared one.
// Sender clones do not use this type; they share a count on their
// connection state instead.
type RefcountedFD struct {
	fd    int32
	count int32
}

// NewRefcountedFD wraps fd with an initial refcount of 1.
func NewRefcountedFD(fd int) *RefcountedFD {
	return &RefcountedFD{fd: int32(fd), count: 1}
}

// FD returns the underlying descriptor. Valid only while the caller holds
// a reference (i.e. between Retain/clone and the matching Release).
func (r *RefcountedFD) FD() int {
	return int(atomic.LoadInt32(&r.fd))
}

// Retain adds a reference, for use when cloning a handle that shares this
// descriptor.
func (r *RefcountedFD) Retain() {
	atomic.AddInt32(&r.count, 1)
}

// Release drops a reference and closes the descriptor once the count
// reaches zero.
func (r *RefcountedFD) Release() error {
	if atomic.AddInt32(&r.count, -1) > 0 {
		return nil
	}
	fd := atomic.LoadInt32(&r.fd)
	if fd < 0 {
		return nil
	}
	atomic.StoreInt32(&r.fd, -1)
	return unix.Close(int(fd))
}

// DupForTransmit returns a fresh descriptor referring to the same open file
// description as r, suitable for handing to unix.UnixRights: Transport.Send
// closes every descriptor it transmits once the write returns, so the
// handle's own copy must be a different fd to survive the send.
func (r *RefcountedFD) DupForTransmit() (int, error) {
	return unix.Dup(r.FD())
}
