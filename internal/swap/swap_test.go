package swap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hermes-hpc/hermes/internal/core"
)

func TestBlobBufferIDRoundTrip(t *testing.T) {
	b := Blob{
		NodeID:   core.NodeID(3),
		Offset:   4096,
		Size:     128,
		BucketID: core.BucketIDFromParts(core.NodeID(3), 7),
	}
	ids := b.ToBufferIDs()

	got, ok := FromBufferIDs(ids[:])
	require.True(t, ok)
	require.Equal(t, b, got)
}

func TestFromBufferIDsRejectsWrongLength(t *testing.T) {
	_, ok := FromBufferIDs([]core.BufferID{{}})
	require.False(t, ok)
}

func TestGetFilename(t *testing.T) {
	name := GetFilename("/var/hermes/swap.", ".bin", core.NodeID(5))
	require.Equal(t, "/var/hermes/swap.5.bin", name)
}

func TestFileAppendAndReadAt(t *testing.T) {
	dir := t.TempDir()
	sf, err := Open(filepath.Join(dir, "swap.bin"))
	require.NoError(t, err)
	defer sf.Close()

	off1, err := sf.Append([]byte("hello"))
	require.NoError(t, err)
	require.EqualValues(t, 0, off1)

	off2, err := sf.Append([]byte("world!"))
	require.NoError(t, err)
	require.EqualValues(t, 5, off2)

	got, err := sf.ReadAt(off1, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got2, err := sf.ReadAt(off2, 6)
	require.NoError(t, err)
	require.Equal(t, "world!", string(got2))
}

func TestFileReopenPicksUpExistingSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swap.bin")

	sf, err := Open(path)
	require.NoError(t, err)
	_, err = sf.Append([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, sf.Close())

	sf2, err := Open(path)
	require.NoError(t, err)
	defer sf2.Close()

	off, err := sf2.Append([]byte("second"))
	require.NoError(t, err)
	require.EqualValues(t, 5, off)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 11, info.Size())
}
