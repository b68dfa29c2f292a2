// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hermes-hpc/hermes/internal/bufferpool"
	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/internal/mdstore"
)

func newTestManager(t *testing.T, nodeID core.NodeID, numNodes uint32, remote RemoteClient) *Manager {
	t.Helper()
	tier := core.Tier{ID: 0, Name: "ram", Capacity: 4096, BlockSize: 1, IsRAM: true}
	pool, err := bufferpool.New(nodeID, []bufferpool.TierSpec{
		{Tier: tier, Slabs: []core.SlabSchema{{UnitSize: 1024, DesiredPercentage: 1.0}}},
	}, nil)
	require.NoError(t, err)

	store := mdstore.New(nil, mdstore.Config{MaxBuckets: 8, MaxVBuckets: 8, MaxBlobs: 32})
	return NewManager(nodeID, numNodes, Config{MaxBuckets: 4, MaxVBuckets: 4}, store, pool, nil, nil, remote)
}

// fakeRemote routes RemoteClient calls directly to the Local* method of
// the target node's in-process Manager, standing in for a real
// pkg/hermesrpc.Client in tests that need multiple nodes without a
// network.
type fakeRemote struct {
	nodes map[core.NodeID]*Manager
}

func (f *fakeRemote) node(id core.NodeID) *Manager { return f.nodes[id] }

func (f *fakeRemote) Get(node core.NodeID, name string, mt core.MapType) (uint64, error) {
	return f.node(node).localGet(name, mt), nil
}
func (f *fakeRemote) Put(node core.NodeID, name string, id uint64, mt core.MapType) error {
	if !f.node(node).Store.Put(name, id, mt) {
		return core.ErrArenaExhausted.Error()
	}
	return nil
}
func (f *fakeRemote) Delete(node core.NodeID, name string, mt core.MapType) error {
	f.node(node).Store.Delete(name, mt)
	return nil
}
func (f *fakeRemote) GetOrCreateBucketID(node core.NodeID, name string) (core.BucketID, error) {
	return f.node(node).LocalGetOrCreateBucketID(name)
}
func (f *fakeRemote) GetOrCreateVBucketID(node core.NodeID, name string) (core.VBucketID, error) {
	return f.node(node).LocalGetOrCreateVBucketID(name)
}
func (f *fakeRemote) AllocateBufferIDList(node core.NodeID, ids []core.BufferID) (uint32, error) {
	return f.node(node).LocalAllocateBufferIDList(ids), nil
}
func (f *fakeRemote) GetBufferIDList(node core.NodeID, blob core.BlobID) ([]core.BufferID, error) {
	return f.node(node).LocalGetBufferIDList(blob), nil
}
func (f *fakeRemote) FreeBufferIDList(node core.NodeID, blob core.BlobID) error {
	f.node(node).LocalFreeBufferIDList(blob)
	return nil
}
func (f *fakeRemote) AddBlobIDToBucket(node core.NodeID, bucket core.BucketID, blob core.BlobID) error {
	f.node(node).LocalAddBlobIDToBucket(bucket, blob)
	return nil
}
func (f *fakeRemote) AddBlobIDToVBucket(node core.NodeID, vbucket core.VBucketID, blob core.BlobID) error {
	f.node(node).LocalAddBlobIDToVBucket(vbucket, blob)
	return nil
}
func (f *fakeRemote) DestroyBlobByName(node core.NodeID, name string, blob core.BlobID, bucket core.BucketID) error {
	return f.node(node).LocalDestroyBlobByName(name, blob, bucket)
}
func (f *fakeRemote) DestroyBlobByID(node core.NodeID, blob core.BlobID, bucket core.BucketID) error {
	return f.node(node).LocalDestroyBlobByID(blob, bucket)
}
func (f *fakeRemote) DestroyBucket(node core.NodeID, name string, bucket core.BucketID) (bool, error) {
	return f.node(node).LocalDestroyBucket(name, bucket)
}
func (f *fakeRemote) RenameBucket(node core.NodeID, id core.BucketID, oldName, newName string) error {
	return f.node(node).LocalRenameBucket(id, oldName, newName)
}
func (f *fakeRemote) ContainsBlob(node core.NodeID, bucket core.BucketID, blob core.BlobID) (bool, error) {
	return f.node(node).LocalContainsBlob(bucket, blob), nil
}
func (f *fakeRemote) RemoveBlobFromBucketInfo(node core.NodeID, bucket core.BucketID, blob core.BlobID) error {
	f.node(node).LocalRemoveBlobFromBucketInfo(bucket, blob)
	return nil
}
func (f *fakeRemote) GetBlobNameFromID(node core.NodeID, blob core.BlobID) (string, error) {
	return f.node(node).GetBlobNameFromID(blob)
}
func (f *fakeRemote) GetBucketIDFromBlobID(node core.NodeID, blob core.BlobID) (core.BucketID, error) {
	return f.node(node).GetBucketIDFromBlobID(blob)
}
func (f *fakeRemote) DecrementBucketRefcount(node core.NodeID, id core.BucketID) error {
	f.node(node).LocalDecrementRefcount(id)
	return nil
}
func (f *fakeRemote) DecrementVBucketRefcount(node core.NodeID, id core.VBucketID) error {
	f.node(node).LocalDecrementVBucketRefcount(id)
	return nil
}
func (f *fakeRemote) GetNodeTargets(node core.NodeID) ([]core.TargetID, error) {
	return f.node(node).LocalGetNodeTargets(), nil
}
func (f *fakeRemote) GetRemainingTargetCapacity(node core.NodeID, target core.TargetID) (uint64, error) {
	return f.node(node).LocalGetRemainingTargetCapacity(target), nil
}

func TestSingleNodePutGetBlob(t *testing.T) {
	m := newTestManager(t, 1, 1, nil)

	bucketID, err := m.GetOrCreateBucketID("b")
	require.NoError(t, err)

	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i)
	}

	ids, err := m.Pool.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: uint64(len(data))}})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	require.NoError(t, m.Pool.WriteBlobToBuffers(data, ids))
	require.NoError(t, m.AttachBlobToBucket("k", bucketID, ids, false))

	blobID, err := m.GetBlobID("k", bucketID)
	require.NoError(t, err)
	require.False(t, blobID.IsNull())

	gotIDs, err := m.GetBufferIDList(blobID)
	require.NoError(t, err)
	require.Equal(t, ids, gotIDs)

	size, err := m.Pool.BlobSize(gotIDs)
	require.NoError(t, err)
	require.Equal(t, uint64(3000), size)

	got, err := m.Pool.ReadBlobFromBuffers(gotIDs)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestGetOrCreateBucketIDIsIdempotentAndIncrementsRefcount(t *testing.T) {
	m := newTestManager(t, 1, 1, nil)

	id1, err := m.GetOrCreateBucketID("b")
	require.NoError(t, err)
	id2, err := m.GetOrCreateBucketID("b")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	info := m.localBucketInfo(id1)
	require.EqualValues(t, 2, info.RefCount)
}

func TestDestroyRespectsRefcount(t *testing.T) {
	m := newTestManager(t, 1, 1, nil)

	id, err := m.GetOrCreateBucketID("b")
	require.NoError(t, err)
	_, err = m.GetOrCreateBucketID("b") // second open, refcount=2
	require.NoError(t, err)

	_, err = m.DestroyBucket("b", id)
	require.ErrorIs(t, err, core.ErrBucketInUse.Error())

	require.NoError(t, m.DecrementRefcount(id)) // refcount=1
	_, err = m.DestroyBucket("b", id)
	require.ErrorIs(t, err, core.ErrBucketInUse.Error())

	require.NoError(t, m.DecrementRefcount(id)) // refcount=0
	destroyed, err := m.DestroyBucket("b", id)
	require.NoError(t, err)
	require.True(t, destroyed)

	require.EqualValues(t, 1, m.firstFreeB)
	got, err := m.GetBucketID("b")
	require.NoError(t, err)
	require.True(t, got.IsNull())
}

func TestRenameBucketPreservesBinding(t *testing.T) {
	m := newTestManager(t, 1, 1, nil)

	id, err := m.GetOrCreateBucketID("old")
	require.NoError(t, err)

	require.NoError(t, m.RenameBucket(id, "old", "new"))

	gotOld, err := m.GetBucketID("old")
	require.NoError(t, err)
	require.True(t, gotOld.IsNull())

	gotNew, err := m.GetBucketID("new")
	require.NoError(t, err)
	require.Equal(t, id, gotNew)
}

func TestRenameBlobPreservesBinding(t *testing.T) {
	m := newTestManager(t, 1, 1, nil)

	bucketID, err := m.GetOrCreateBucketID("b")
	require.NoError(t, err)

	ids, err := m.Pool.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 100}})
	require.NoError(t, err)
	require.NoError(t, m.AttachBlobToBucket("old", bucketID, ids, false))

	require.NoError(t, m.RenameBlob("old", "new", bucketID))

	contains, err := m.ContainsBlob(bucketID, "old")
	require.NoError(t, err)
	require.False(t, contains)

	blobID, err := m.GetBlobID("new", bucketID)
	require.NoError(t, err)
	require.False(t, blobID.IsNull())
}

func TestBucketNameTooLongFails(t *testing.T) {
	m := newTestManager(t, 1, 1, nil)

	longName := make([]byte, core.MaxBucketNameSize)
	for i := range longName {
		longName[i] = 'a'
	}
	_, err := m.GetOrCreateBucketID(string(longName))
	require.ErrorIs(t, err, core.ErrBucketNameTooLong.Error())
}

func TestGetOrCreateBucketIDFailsWhenSlotPoolExhausted(t *testing.T) {
	m := newTestManager(t, 1, 1, nil) // Config.MaxBuckets == 4

	for i := 0; i < 4; i++ {
		_, err := m.GetOrCreateBucketID(string(rune('a' + i)))
		require.NoError(t, err)
	}
	_, err := m.GetOrCreateBucketID("one-too-many")
	require.ErrorIs(t, err, core.ErrSlotExhausted.Error())
}

func TestDestroyBlobByNameReleasesBuffersAndRemovesFromBucket(t *testing.T) {
	m := newTestManager(t, 1, 1, nil)

	bucketID, err := m.GetOrCreateBucketID("b")
	require.NoError(t, err)

	ids, err := m.Pool.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 1024}})
	require.NoError(t, err)
	require.NoError(t, m.AttachBlobToBucket("k", bucketID, ids, false))

	require.NoError(t, m.DestroyBlobByName(bucketID, "k"))

	contains, err := m.ContainsBlob(bucketID, "k")
	require.NoError(t, err)
	require.False(t, contains)

	// The buffer should be back on the free list, reusable.
	again, err := m.Pool.GetBuffers(core.TieredSchema{{Tier: 0, Bytes: 1024}})
	require.NoError(t, err)
	require.Equal(t, ids, again)
}

// TestCrossShardCreateDispatchesToRemote is the two-node seed scenario:
// whichever node a name hashes to ends up with the local mapping, and
// the other node's local map does not.
func TestCrossShardCreateDispatchesToRemote(t *testing.T) {
	remote := &fakeRemote{nodes: map[core.NodeID]*Manager{}}
	m1 := newTestManager(t, 1, 2, remote)
	m2 := newTestManager(t, 2, 2, remote)
	remote.nodes[1] = m1
	remote.nodes[2] = m2

	const name = "alpha"
	owner := core.NodeID(mdstore.HashStringForStorage(name, 2))

	id, err := m1.GetOrCreateBucketID(name)
	require.NoError(t, err)
	require.Equal(t, owner, id.Node())

	ownerMgr := remote.nodes[owner]
	got, ok := ownerMgr.Store.Get(name, core.MapTypeBucket)
	require.True(t, ok)
	require.Equal(t, uint64(id), got)

	other := core.NodeID(1)
	if owner == 1 {
		other = 2
	}
	_, ok = remote.nodes[other].Store.Get(name, core.MapTypeBucket)
	require.False(t, ok)
}

func TestGetNeighborhoodTargetsCaseSplit(t *testing.T) {
	target := func(node core.NodeID, device core.DeviceID) core.TargetID {
		return core.TargetID{NodeID: node, DeviceID: device}
	}

	m1 := newTestManager(t, 1, 1, nil)
	none, err := m1.GetNeighborhoodTargets()
	require.NoError(t, err)
	require.Empty(t, none)

	remote := &fakeRemote{nodes: map[core.NodeID]*Manager{}}
	a := newTestManager(t, 1, 2, remote)
	b := newTestManager(t, 2, 2, remote)
	a.LocalTargets = []core.TargetID{target(1, 0)}
	b.LocalTargets = []core.TargetID{target(2, 0)}
	remote.nodes[1] = a
	remote.nodes[2] = b

	oneNeighbor, err := a.GetNeighborhoodTargets()
	require.NoError(t, err)
	require.Equal(t, []core.TargetID{target(2, 0)}, oneNeighbor)

	c := newTestManager(t, 3, 3, remote)
	remote.nodes[3] = c
	a.NumNodes, b.NumNodes, c.NumNodes = 3, 3, 3
	c.LocalTargets = []core.TargetID{target(3, 0)}

	twoNeighbors, err := a.GetNeighborhoodTargets()
	require.NoError(t, err)
	require.Equal(t, []core.TargetID{target(2, 0), target(3, 0)}, twoNeighbors)
}
