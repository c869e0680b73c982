package ipc

import (
	"fmt"

	"github.com/jabolina/go-ipc/pkg/ipc/core"
)

// SharedMemory is a fixed-length region backed by a single OS descriptor
// that can be mapped read/write in any process holding a clone of the
// handle. The intended protocol is write-then-publish: fill the region
// before sending it, treat it as immutable after.
type SharedMemory struct {
	fd     *core.RefcountedFD
	length int
	data   []byte
}

// FromByte allocates a length-byte region filled with fill.
func FromByte(fill byte, length int) (SharedMemory, error) {
	fd, err := core.CreateSharedMemory(fill, length)
	if err != nil {
		return SharedMemory{}, err
	}
	data, err := core.MapSharedMemory(fd, length)
	if err != nil {
		core.NewRefcountedFD(fd).Release()
		return SharedMemory{}, err
	}
	return SharedMemory{fd: core.NewRefcountedFD(fd), length: length, data: data}, nil
}

// FromBytes allocates a region sized to len(src) and copies src into it.
func FromBytes(src []byte) (SharedMemory, error) {
	m, err := FromByte(0, len(src))
	if err != nil {
		return SharedMemory{}, err
	}
	copy(m.data, src)
	return m, nil
}

// Len returns the region's fixed size in bytes.
func (m SharedMemory) Len() int {
	return m.length
}

// Bytes returns the mapped region. Mutations through the slice are visible
// to every other handle mapping the same region, in this process or any
// other that received a clone.
func (m SharedMemory) Bytes() []byte {
	return m.data
}

// Clone returns an independent handle to the same region, safe to embed in
// a message sent to another process.
func (m SharedMemory) Clone() (SharedMemory, error) {
	if m.fd == nil {
		return SharedMemory{}, fmt.Errorf("ipc: cannot clone zero-value SharedMemory")
	}
	dup, err := m.fd.DupForTransmit()
	if err != nil {
		return SharedMemory{}, err
	}
	data, err := core.MapSharedMemory(dup, m.length)
	if err != nil {
		core.NewRefcountedFD(dup).Release()
		return SharedMemory{}, err
	}
	return SharedMemory{fd: core.NewRefcountedFD(dup), length: m.length, data: data}, nil
}

// Close unmaps the region and releases this handle's reference to the
// backing descriptor.
func (m SharedMemory) Close() error {
	if m.fd == nil {
		return nil
	}
	if err := core.UnmapSharedMemory(m.data); err != nil {
		return err
	}
	return m.fd.Release()
}

// IPCExportHandle implements core.HandleCarrier: the region's fd is
// duplicated for transmission, and its length travels alongside it since
// mmap needs the length up front to map the peer's copy.
func (m SharedMemory) IPCExportHandle() (core.HandleDescriptor, error) {
	if m.fd == nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: cannot export zero-value SharedMemory")
	}
	dup, err := m.fd.DupForTransmit()
	if err != nil {
		return core.HandleDescriptor{}, fmt.Errorf("ipc: export shared memory handle: %w", err)
	}
	return core.HandleDescriptor{Kind: core.KindSharedMemory, FD: dup, Len: m.length}, nil
}

// IPCImportHandle implements core.HandleImporter, mapping the received
// descriptor into this process.
func (m *SharedMemory) IPCImportHandle(d core.HandleDescriptor) error {
	data, err := core.MapSharedMemory(d.FD, d.Len)
	if err != nil {
		return err
	}
	m.fd = core.NewRefcountedFD(d.FD)
	m.length = d.Len
	m.data = data
	return nil
}
