package ipc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSharedMemoryFromByteAndClone(t *testing.T) {
	mem, err := FromByte('Q', 16)
	require.NoError(t, err)
	defer mem.Close()

	require.Equal(t, 16, mem.Len())
	for _, b := range mem.Bytes() {
		require.Equal(t, byte('Q'), b)
	}

	clone, err := mem.Clone()
	require.NoError(t, err)
	defer clone.Close()

	mem.Bytes()[0] = 'Z'
	require.Equal(t, byte('Z'), clone.Bytes()[0], "clone must observe writes through the original mapping")
}

func TestSharedMemoryFromBytes(t *testing.T) {
	mem, err := FromBytes([]byte("shared payload"))
	require.NoError(t, err)
	defer mem.Close()

	require.Equal(t, "shared payload", string(mem.Bytes()))
}

// TestSharedMemoryLargeRegionRoundTrip exercises spec scenario 6: a 1 MiB
// region filled with a single byte value, exported and re-imported, where
// the imported mapping must have the full length and observe every byte.
func TestSharedMemoryLargeRegionRoundTrip(t *testing.T) {
	const size = 1 << 20
	const fill = 0xBA

	mem, err := FromByte(fill, size)
	require.NoError(t, err)
	defer mem.Close()

	descriptor, err := mem.IPCExportHandle()
	require.NoError(t, err)
	require.Equal(t, size, descriptor.Len)

	var imported SharedMemory
	require.NoError(t, imported.IPCImportHandle(descriptor))
	defer imported.Close()

	require.Len(t, imported.Bytes(), size)
	for i, b := range imported.Bytes() {
		if b != fill {
			t.Fatalf("byte %d: got %#x, want %#x", i, b, fill)
		}
	}
}

func TestSharedMemoryExportImportHandleRoundTrip(t *testing.T) {
	mem, err := FromBytes([]byte("portable"))
	require.NoError(t, err)
	defer mem.Close()

	descriptor, err := mem.IPCExportHandle()
	require.NoError(t, err)
	require.Equal(t, mem.Len(), descriptor.Len)

	var imported SharedMemory
	require.NoError(t, imported.IPCImportHandle(descriptor))
	defer imported.Close()

	require.Equal(t, "portable", string(imported.Bytes()))
	imported.Bytes()[0] = 'P'
	require.Equal(t, byte('P'), mem.Bytes()[0])
}
