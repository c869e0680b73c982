package core

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCreateMapUnmapSharedMemory(t *testing.T) {
	fd, err := CreateSharedMemory('x', 8)
	require.NoError(t, err)
	defer unix.Close(fd)

	data, err := MapSharedMemory(fd, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("xxxxxxxx"), data)

	data[0] = 'y'
	require.NoError(t, UnmapSharedMemory(data))

	remapped, err := MapSharedMemory(fd, 8)
	require.NoError(t, err)
	defer UnmapSharedMemory(remapped)
	require.Equal(t, byte('y'), remapped[0], "writes must be visible across independent mappings of the same fd")
}

func TestRefcountedFDReleasesAtZero(t *testing.T) {
	fd, err := CreateSharedMemory(0, 4)
	require.NoError(t, err)

	ref := NewRefcountedFD(fd)
	ref.Retain()
	require.NoError(t, ref.Release())
	// Second release drops the last reference and closes fd; a further
	// close attempt on the same fd should now fail.
	require.NoError(t, ref.Release())
	require.Error(t, unix.Close(fd))
}
