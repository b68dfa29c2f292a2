// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hermes-hpc/hermes/internal/bufferpool"
	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/pkg/hermesrpc"
)

// newTestNode builds a Node listening on an ephemeral loopback port.
// interval controls the system view reconciliation loop; pass 0 for
// tests that exercise the RPC path directly and don't need it ticking.
func newTestNode(t *testing.T, id core.NodeID, numNodes uint32, peers map[core.NodeID]string, interval time.Duration) *Node {
	t.Helper()
	tier := core.Tier{ID: 0, Name: "ram", Capacity: 1 << 20, BlockSize: 1, IsRAM: true}
	cfg := &Config{
		NodeID:   id,
		NumNodes: numNodes,
		Addr:     "127.0.0.1:0",
		Peers:    peers,
		Tiers: []bufferpool.TierSpec{
			{Tier: tier, Slabs: []core.SlabSchema{{UnitSize: 4096, DesiredPercentage: 1.0}}},
		},
		LocalTargets:             []core.TargetID{{NodeID: id, DeviceID: 0}},
		MaxBuckets:               8,
		MaxVBuckets:              8,
		MaxBlobs:                 32,
		LocalDeviceCapacities:    []uint64{1 << 20},
		GlobalDeviceCapacities:   []uint64{1 << 21},
		DialTimeout:              time.Second,
		RPCTimeout:               5 * time.Second,
		MaxConns:                 8,
		SystemViewUpdateInterval: interval,
	}
	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)
	return n
}

// twoNodeCluster wires n1 and n2's Peers maps to each other's actual
// bound addresses, since Addr: "127.0.0.1:0" only resolves to a real
// port after Start.
func twoNodeCluster(t *testing.T) (n1, n2 *Node) {
	t.Helper()
	n1 = newTestNode(t, 1, 2, nil, 0)
	n2 = newTestNode(t, 2, 2, nil, 0)
	n1.Config.Peers = map[core.NodeID]string{2: n2.Addr()}
	n2.Config.Peers = map[core.NodeID]string{1: n1.Addr()}
	n1.client.Book = hermesrpc.StaticAddressBook{1: n1.Addr(), 2: n2.Addr()}
	n2.client.Book = hermesrpc.StaticAddressBook{1: n1.Addr(), 2: n2.Addr()}
	return n1, n2
}

// TestTwoNodePutGetBlobCrossNode exercises the seed scenario of
// writing a blob whose bucket is homed by hash on the other node in
// the cluster, driving genuine HTTP RPC traffic over loopback rather
// than an in-process fake.
func TestTwoNodePutGetBlobCrossNode(t *testing.T) {
	n1, n2 := twoNodeCluster(t)
	_ = n2 // n2 only needed to keep the cluster's hash space at 2 nodes

	// Find a bucket name whose hash owner is node 2, so n1.Metadata
	// dispatches every directory op across the wire to n2.
	var bucketName string
	for i := 0; ; i++ {
		name := "bucket-" + string(rune('a'+i))
		bucketID, err := n1.Metadata.GetOrCreateBucketID(name)
		require.NoError(t, err)
		if bucketID.Node() == 2 {
			bucketName = name
			break
		}
		require.NoError(t, n1.Metadata.DecrementRefcount(bucketID))
		_, _ = n1.Metadata.DestroyBucket(name, bucketID)
		if i > 64 {
			t.Fatal("could not find a bucket name hashing to node 2")
		}
	}

	bucketID, err := n1.Metadata.GetOrCreateBucketID(bucketName)
	require.NoError(t, err)
	require.EqualValues(t, 2, bucketID.Node())
	// GetOrCreateBucketID above (both this call and the one that found
	// bucketName in the search loop) each bumped the ref-count once;
	// drop the extra one so a single DecrementRefcount below suffices.
	require.NoError(t, n1.Metadata.DecrementRefcount(bucketID))

	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}

	ids, err := n1.PutBufferIDs(data, core.TieredSchema{{Tier: 0, Bytes: uint64(len(data))}})
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	require.NoError(t, n1.Metadata.AttachBlobToBucket("blob-1", bucketID, ids, false))

	blobID, err := n1.Metadata.GetBlobID("blob-1", bucketID)
	require.NoError(t, err)
	require.False(t, blobID.IsNull())

	contains, err := n1.Metadata.ContainsBlob(bucketID, "blob-1")
	require.NoError(t, err)
	require.True(t, contains)

	gotIDs, err := n1.Metadata.GetBufferIDList(blobID)
	require.NoError(t, err)
	require.Equal(t, ids, gotIDs)

	// The buffer list points back at n1 (PutBufferIDs allocated
	// locally on n1), so the bytes are read from n1's own pool
	// whichever node holds the blob's directory entry.
	got, err := n1.Pool.ReadBlobFromBuffers(gotIDs)
	require.NoError(t, err)
	require.Equal(t, data, got)

	name, err := n1.Metadata.GetBlobNameFromID(blobID)
	require.NoError(t, err)
	require.Equal(t, "blob-1", name)

	gotBucket, err := n1.Metadata.GetBucketIDFromBlobID(blobID)
	require.NoError(t, err)
	require.Equal(t, bucketID, gotBucket)

	require.NoError(t, n1.Metadata.DestroyBlobByName(bucketID, "blob-1"))
	contains, err = n1.Metadata.ContainsBlob(bucketID, "blob-1")
	require.NoError(t, err)
	require.False(t, contains)

	require.NoError(t, n1.Metadata.DecrementRefcount(bucketID))
	destroyed, err := n1.Metadata.DestroyBucket(bucketName, bucketID)
	require.NoError(t, err)
	require.True(t, destroyed)
}

// TestTwoNodeSwapFallback checks the failure cases of the swap-spill
// path: a put larger than the RAM tier fails because GetBuffers can't
// satisfy the schema, and SpillToSwap then reports an error because
// the node has no swap file.
func TestTwoNodeSwapFallback(t *testing.T) {
	n1, n2 := twoNodeCluster(t)
	n1.Swap = nil // force SpillToSwap's nil-Swap error path

	bucketID, err := n1.Metadata.GetOrCreateBucketID("swap-bucket")
	require.NoError(t, err)

	data := make([]byte, 64<<20) // larger than the RAM tier's capacity
	_, err = n1.PutBufferIDs(data, core.TieredSchema{{Tier: 0, Bytes: uint64(len(data))}})
	require.Error(t, err)

	_, err = n1.SpillToSwap(bucketID, data)
	require.Error(t, err) // no swap dir configured on n1 in this test

	require.NoError(t, n1.Metadata.DecrementRefcount(bucketID))
	_, _ = n1.Metadata.DestroyBucket("swap-bucket", bucketID)
	_ = n2 // n2 only needed to keep the cluster's hash space at 2 nodes
}

// TestTwoNodeGetNeighborhoodTargets exercises the neighborhood-lookup
// seed scenario across the wire: node 1 asking node 2 (its only
// neighbor in a 2-node ring) for its local targets.
func TestTwoNodeGetNeighborhoodTargets(t *testing.T) {
	n1, _ := twoNodeCluster(t)

	targets, err := n1.Metadata.GetNeighborhoodTargets()
	require.NoError(t, err)
	require.NotEmpty(t, targets)
}

// TestPutGetDestroyBlob exercises the whole-blob convenience path
// cmd/hermesctl drives over RPC: PutBlob resolves/creates the bucket
// and places the data itself, GetBlob reads it back by name alone, and
// DestroyBlob removes it, all without the caller ever handling a
// BufferID.
func TestPutGetDestroyBlob(t *testing.T) {
	n1, _ := twoNodeCluster(t)

	data := []byte("the quick brown fox jumps over the lazy dog")
	schema := core.TieredSchema{{Tier: 0, Bytes: uint64(len(data))}}

	bucketID, blobID, err := n1.PutBlob("ctl-bucket", "ctl-blob", data, schema)
	require.NoError(t, err)
	require.False(t, blobID.IsNull())

	contains, err := n1.Metadata.ContainsBlob(bucketID, "ctl-blob")
	require.NoError(t, err)
	require.True(t, contains)

	got, err := n1.GetBlob("ctl-bucket", "ctl-blob")
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.NoError(t, n1.DestroyBlob("ctl-bucket", "ctl-blob"))
	contains, err = n1.Metadata.ContainsBlob(bucketID, "ctl-blob")
	require.NoError(t, err)
	require.False(t, contains)

	require.NoError(t, n1.Metadata.DecrementRefcount(bucketID))
	_, _ = n1.Metadata.DestroyBucket("ctl-bucket", bucketID)
}

// TestGlobalViewConvergence exercises the global view convergence seed
// scenario: allocating buffers on the non-owning node (node 2) is
// reflected in GlobalStateNode's (node 1) authoritative view within
// one reconciliation interval plus RTT, via Pool.claimLocal recording
// the claim into sysview's PendingAdjustments and node 2's
// ReconcileLoop draining and forwarding it.
func TestGlobalViewConvergence(t *testing.T) {
	n1 := newTestNode(t, 1, 2, nil, 10*time.Millisecond)
	n2 := newTestNode(t, 2, 2, nil, 10*time.Millisecond)
	n1.Config.Peers = map[core.NodeID]string{2: n2.Addr()}
	n2.Config.Peers = map[core.NodeID]string{1: n1.Addr()}
	n1.client.Book = hermesrpc.StaticAddressBook{1: n1.Addr(), 2: n2.Addr()}
	n2.client.Book = hermesrpc.StaticAddressBook{1: n1.Addr(), 2: n2.Addr()}

	before, err := n1.SysView.GetGlobalDeviceCapacities()
	require.NoError(t, err)
	require.Equal(t, []uint64{1 << 21}, before)

	data := make([]byte, 1<<20)
	ids, err := n2.PutBufferIDs(data, core.TieredSchema{{Tier: 0, Bytes: uint64(len(data))}})
	require.NoError(t, err)
	require.NotEmpty(t, ids)

	require.Eventually(t, func() bool {
		caps, err := n1.SysView.GetGlobalDeviceCapacities()
		return err == nil && caps[0] < before[0]
	}, 2*time.Second, 10*time.Millisecond, "global device capacity never reflected node 2's allocation")

	require.NoError(t, n2.Pool.ReleaseBuffers(ids))
}

// TestServiceRemoteBucketConveniences exercises the name-resolving
// RPC endpoints cmd/hermesctl uses in place of computing hash-owner
// routing itself: RemoteResolveBucket, RemoteRenameBucketByName, and
// RemoteDestroyBucketByName, called the way hermesctl would, straight
// through the Service receiver rather than through Manager.
func TestServiceRemoteBucketConveniences(t *testing.T) {
	n1, _ := twoNodeCluster(t)
	svc := &Service{n: n1}

	bucketID, err := n1.Metadata.GetOrCreateBucketID("resolve-me")
	require.NoError(t, err)
	require.NoError(t, n1.Metadata.DecrementRefcount(bucketID))

	var resolveReply core.ResolveBucketReply
	require.NoError(t, svc.RemoteResolveBucket(&core.ResolveBucketArgs{Name: "resolve-me"}, &resolveReply))
	require.Equal(t, bucketID, resolveReply.ID)

	require.NoError(t, svc.RemoteRenameBucketByName(&core.RenameBucketByNameArgs{OldName: "resolve-me", NewName: "resolved"}, &core.OKReply{}))

	var destroyReply core.DestroyBucketByNameReply
	require.NoError(t, svc.RemoteDestroyBucketByName(&core.DestroyBucketByNameArgs{Name: "resolved"}, &destroyReply))
	require.True(t, destroyReply.Destroyed)
}
