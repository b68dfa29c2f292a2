package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/internal/sysview"
)

func ramPool(t *testing.T) *Pool {
	t.Helper()
	specs := []TierSpec{
		{
			Tier: core.Tier{ID: 0, Name: "ram", Capacity: 1 << 20, BlockSize: 4096, IsRAM: true},
			Slabs: []core.SlabSchema{
				{UnitSize: 1, DesiredPercentage: 0.5},
				{UnitSize: 4, DesiredPercentage: 0.5},
			},
		},
	}
	p, err := New(core.NodeID(1), specs, nil)
	require.NoError(t, err)
	return p
}

func TestGetBuffersSatisfiesSchema(t *testing.T) {
	p := ramPool(t)

	schema := core.TieredSchema{{Tier: 0, Bytes: 8192}}
	ids, err := p.GetBuffers(schema)
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	total, err := p.BlobSize(ids)
	require.NoError(t, err)
	_ = total // buffers are freshly allocated with Used == 0 until written
}

func TestGetBuffersFailsWhenPoolExhausted(t *testing.T) {
	p := ramPool(t)

	_, err := p.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 10 << 20}})
	require.Error(t, err)
}

func TestGetBuffersRollsBackOnPartialFailure(t *testing.T) {
	p := ramPool(t)

	// The first schema entry can be satisfied; the second one names an
	// unknown tier and fails, and the first entry's buffers must not leak.
	schema := core.TieredSchema{
		{Tier: 0, Bytes: 4096},
		{Tier: 99, Bytes: 4096},
	}
	_, err := p.GetBuffers(schema)
	require.Error(t, err)

	// The pool should still be able to satisfy a fresh request of the
	// same size that was rolled back.
	ids, err := p.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 4096}})
	require.NoError(t, err)
	require.NotEmpty(t, ids)
}

func TestWriteThenReadBlobRoundTrip(t *testing.T) {
	p := ramPool(t)

	data := []byte("the quick brown fox jumps over the lazy dog")
	ids, err := p.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: uint64(len(data))}})
	require.NoError(t, err)

	require.NoError(t, p.WriteBlobToBuffers(data, ids))

	got, err := p.ReadBlobFromBuffers(ids)
	require.NoError(t, err)
	require.Equal(t, data, got)

	size, err := p.BlobSize(ids)
	require.NoError(t, err)
	require.EqualValues(t, len(data), size)
}

func TestReleaseBuffersReturnsThemToTheFreeList(t *testing.T) {
	p := ramPool(t)

	ids, err := p.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 4096}})
	require.NoError(t, err)
	require.NoError(t, p.ReleaseBuffers(ids))

	// Should be able to allocate the same amount again immediately.
	ids2, err := p.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 4096}})
	require.NoError(t, err)
	require.NotEmpty(t, ids2)
}

func TestClaimAndReleaseRecordSysViewAdjustments(t *testing.T) {
	p := ramPool(t)
	pending := sysview.NewPendingAdjustments(1)
	p.SetPending(pending)

	ids, err := p.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 4096}})
	require.NoError(t, err)

	claimed := pending.DrainAll()
	require.Less(t, claimed[0], int64(0), "claiming buffers should record a negative pending adjustment")

	require.NoError(t, p.ReleaseBuffers(ids))
	released := pending.DrainAll()
	require.EqualValues(t, -claimed[0], released[0], "releasing buffers should record the matching positive adjustment")
}

func TestRecordAdjustmentIsNoOpWithoutPending(t *testing.T) {
	p := ramPool(t)
	require.Nil(t, p.Pending)

	ids, err := p.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 4096}})
	require.NoError(t, err)
	require.NoError(t, p.ReleaseBuffers(ids))
}

type fakeRemote struct {
	written map[core.BufferID][]byte
}

func (f *fakeRemote) GetBuffers(target core.NodeID, schema core.TieredSchema) ([]core.BufferID, error) {
	return []core.BufferID{core.BufferIDFromParts(target, 0, 0)}, nil
}
func (f *fakeRemote) ReleaseBuffers(target core.NodeID, ids []core.BufferID) error { return nil }
func (f *fakeRemote) WriteBuffer(id core.BufferID, data []byte) error {
	if f.written == nil {
		f.written = map[core.BufferID][]byte{}
	}
	f.written[id] = append([]byte{}, data...)
	return nil
}
func (f *fakeRemote) ReadBuffer(id core.BufferID) ([]byte, error) { return f.written[id], nil }
func (f *fakeRemote) GetBufferSize(id core.BufferID) (uint32, error) {
	return uint32(len(f.written[id])), nil
}

func TestRemoteTierDispatchesThroughRemoteClient(t *testing.T) {
	remote := &fakeRemote{}
	specs := []TierSpec{
		{Tier: core.Tier{ID: 1, Name: "remote-ram", IsRAM: true, IsRemote: true, RemoteNode: 2}},
	}
	p, err := New(core.NodeID(1), specs, remote)
	require.NoError(t, err)

	ids, err := p.GetBuffers(core.TieredSchema{{Tier: 1, Bytes: 128}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.EqualValues(t, 2, ids[0].NodeID)

	require.NoError(t, p.WriteBlobToBuffers([]byte("remote data"), ids))
	got, err := p.ReadBlobFromBuffers(ids)
	require.NoError(t, err)
	require.Equal(t, []byte("remote data"), got)
}
