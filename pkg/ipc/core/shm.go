package core

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CreateSharedMemory allocates a length-byte anonymous shared memory region
// and fills it with fill, returning a descriptor transmissible via
// unix.UnixRights: memfd_create for an in-memory-only backing file, with a
// /dev/shm fallback for kernels too old to carry MemfdCreate.
func CreateSharedMemory(fill byte, length int) (int, error) {
	fd, err := createBackingFD(length)
	if err != nil {
		return -1, err
	}
	if fill != 0 {
		data, err := MapSharedMemory(fd, length)
		if err != nil {
			unix.Close(fd)
			return -1, err
		}
		for i := range data {
			data[i] = fill
		}
		if err := UnmapSharedMemory(data); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	return fd, nil
}

func createBackingFD(length int) (int, error) {
	fd, err := unix.MemfdCreate("go-ipc-shmem", 0)
	if err == nil {
		if err := unix.Ftruncate(fd, int64(length)); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("ipc: ftruncate memfd: %w", err)
		}
		return fd, nil
	}

	// memfd_create unavailable (old kernel, non-Linux): fall back to a
	// /dev/shm-backed file, unlinked immediately so it never outlives the
	// process unless handed to a peer first.
	name := "/dev/shm/" + NewEndpointID()
	f, ferr := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if ferr != nil {
		return -1, fmt.Errorf("ipc: create shared memory backing file: %w (memfd_create: %v)", ferr, err)
	}
	defer os.Remove(name)
	if err := f.Truncate(int64(length)); err != nil {
		f.Close()
		return -1, fmt.Errorf("ipc: truncate shared memory backing file: %w", err)
	}
	dupFD, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		return -1, fmt.Errorf("ipc: dup shared memory backing fd: %w", err)
	}
	return dupFD, nil
}

// MapSharedMemory maps the full length-byte region backed by fd into this
// process's address space.
func MapSharedMemory(fd, length int) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ipc: mmap shared memory: %w", err)
	}
	return data, nil
}

// UnmapSharedMemory releases a mapping returned by MapSharedMemory. It does
// not close the backing descriptor.
func UnmapSharedMemory(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
