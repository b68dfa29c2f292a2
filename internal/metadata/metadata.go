// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package metadata implements the Metadata Manager: the public
// directory operations over Buckets, VBuckets, and Blobs, and the
// Local*/Remote* dispatch that lets any node act on any other node's
// state through a single uniform switch. It wires together
// internal/mdstore (the three name->id maps), internal/bufferpool (blob
// buffer lists), and internal/sysview (target capacity), and is the
// component internal/node exposes as the RPC surface every operation in
// this package has a matching Remote form for.
package metadata

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hermes-hpc/hermes/internal/bufferpool"
	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/internal/mdstore"
	"github.com/hermes-hpc/hermes/internal/sysview"
	"github.com/hermes-hpc/hermes/pkg/ticketmutex"
)

// operationsTotal counts directory operations processed on this node's
// shard of the namespace, by operation and outcome. Registered once at
// package scope: a process (or a test binary) may build more than one
// Manager, and a second promauto call under the same metric name would
// panic on duplicate registration.
var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hermes_metadata_operations_total",
	Help: "Directory operations processed by the Metadata Manager, by operation and result.",
}, []string{"op", "result"})

func recordOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}

// RemoteClient is implemented by whatever RPC client internal/node
// wires up: one method per public operation that must cross the wire
// when the hash owner of a name, or the home node of an id, isn't the
// local node. internal/node's adapter turns each of these into a
// pkg/hermesrpc.Client.Call against the matching Remote* service
// method named in the wire protocol.
type RemoteClient interface {
	Get(node core.NodeID, name string, mt core.MapType) (uint64, error)
	Put(node core.NodeID, name string, id uint64, mt core.MapType) error
	Delete(node core.NodeID, name string, mt core.MapType) error
	GetOrCreateBucketID(node core.NodeID, name string) (core.BucketID, error)
	GetOrCreateVBucketID(node core.NodeID, name string) (core.VBucketID, error)
	AllocateBufferIDList(node core.NodeID, ids []core.BufferID) (uint32, error)
	GetBufferIDList(node core.NodeID, blob core.BlobID) ([]core.BufferID, error)
	FreeBufferIDList(node core.NodeID, blob core.BlobID) error
	AddBlobIDToBucket(node core.NodeID, bucket core.BucketID, blob core.BlobID) error
	AddBlobIDToVBucket(node core.NodeID, vbucket core.VBucketID, blob core.BlobID) error
	DestroyBlobByName(node core.NodeID, name string, blob core.BlobID, bucket core.BucketID) error
	DestroyBlobByID(node core.NodeID, blob core.BlobID, bucket core.BucketID) error
	DestroyBucket(node core.NodeID, name string, bucket core.BucketID) (bool, error)
	RenameBucket(node core.NodeID, id core.BucketID, oldName, newName string) error
	ContainsBlob(node core.NodeID, bucket core.BucketID, blob core.BlobID) (bool, error)
	RemoveBlobFromBucketInfo(node core.NodeID, bucket core.BucketID, blob core.BlobID) error
	GetBlobNameFromID(node core.NodeID, blob core.BlobID) (string, error)
	GetBucketIDFromBlobID(node core.NodeID, blob core.BlobID) (core.BucketID, error)
	DecrementBucketRefcount(node core.NodeID, id core.BucketID) error
	DecrementVBucketRefcount(node core.NodeID, id core.VBucketID) error
	GetNodeTargets(node core.NodeID) ([]core.TargetID, error)
	GetRemainingTargetCapacity(node core.NodeID, target core.TargetID) (uint64, error)
}

// BucketInfo is one Bucket's live state: its blob list, its ref-count
// (open count), and the intrusive free-slot link used while the slot
// is not in use.
type BucketInfo struct {
	Blobs    []core.BlobID
	RefCount int32 // atomic
	Active   bool
	nextFree uint32 // 1-indexed slot link; 0 is null
}

// VBucketInfo is one VBucket's live state. The trait system is left
// unbuilt, so this holds only what AttachBlobToBucket-equivalent
// VBucket wiring needs.
type VBucketInfo struct {
	Blobs    []core.BlobID
	RefCount int32 // atomic
	Active   bool
	nextFree uint32
}

// Config bounds the per-node slot pools the Metadata Manager allocates
// Bucket/VBucket ids from.
type Config struct {
	MaxBuckets  int
	MaxVBuckets int
}

// Manager is one node's Metadata Manager: its slice of the sharded
// directory, its slot pools, and the handles to the components it
// delegates buffer and capacity work to.
type Manager struct {
	NodeID   core.NodeID
	NumNodes uint32

	Store   *mdstore.Store
	Pool    *bufferpool.Pool
	SysView *sysview.Manager
	Remote  RemoteClient

	// LocalTargets are this node's placement destinations, one per
	// local device, configured at startup.
	LocalTargets []core.TargetID

	bucketMu    ticketmutex.T
	buckets     []BucketInfo
	firstFreeB  uint32
	numBuckets  int
	maxBuckets  int

	vbucketMu   ticketmutex.T
	vbuckets    []VBucketInfo
	firstFreeVB uint32
	numVBuckets int
	maxVBuckets int

	listMu         sync.Mutex
	bufferIDLists  map[uint32][]core.BufferID
	nextListOffset uint32
}

// NewManager builds a Manager for nodeID within a numNodes-node
// cluster. localTargets are handed back verbatim by LocalGetNodeTargets.
func NewManager(nodeID core.NodeID, numNodes uint32, cfg Config, store *mdstore.Store, pool *bufferpool.Pool, sv *sysview.Manager, localTargets []core.TargetID, remote RemoteClient) *Manager {
	m := &Manager{
		NodeID:        nodeID,
		NumNodes:      numNodes,
		Store:         store,
		Pool:          pool,
		SysView:       sv,
		Remote:        remote,
		LocalTargets:  localTargets,
		buckets:       make([]BucketInfo, cfg.MaxBuckets),
		maxBuckets:    cfg.MaxBuckets,
		vbuckets:      make([]VBucketInfo, cfg.MaxVBuckets),
		maxVBuckets:   cfg.MaxVBuckets,
		bufferIDLists: make(map[uint32][]core.BufferID),
	}
	m.firstFreeB = initFreeList(cfg.MaxBuckets, func(i int, next uint32) { m.buckets[i].nextFree = next })
	m.firstFreeVB = initFreeList(cfg.MaxVBuckets, func(i int, next uint32) { m.vbuckets[i].nextFree = next })
	return m
}

// initFreeList threads slots 0..n-1 into a singly linked free list
// (1-indexed so 0 remains the null link) and returns its head.
func initFreeList(n int, setNext func(i int, next uint32)) uint32 {
	if n == 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		next := uint32(0)
		if i+1 < n {
			next = uint32(i + 2)
		}
		setNext(i, next)
	}
	return 1
}

func (m *Manager) hashOwner(name string) core.NodeID {
	return core.NodeID(mdstore.HashStringForStorage(name, m.NumNodes))
}

func checkNameLength(name string, max int, tooLong core.Error) error {
	if len(name)+1 > max {
		return tooLong.Error()
	}
	return nil
}

// ---- Get/Put/Delete: the three generic name->id primitives ----

func (m *Manager) localGet(name string, mt core.MapType) uint64 {
	id, _ := m.Store.Get(name, mt)
	return id
}

func (m *Manager) getID(name string, mt core.MapType) (uint64, error) {
	target := m.hashOwner(name)
	if target == m.NodeID {
		return m.localGet(name, mt), nil
	}
	return m.Remote.Get(target, name, mt)
}

func (m *Manager) putID(name string, id uint64, mt core.MapType) error {
	target := m.hashOwner(name)
	if target == m.NodeID {
		if !m.Store.Put(name, id, mt) {
			return core.ErrArenaExhausted.Error()
		}
		return nil
	}
	return m.Remote.Put(target, name, id, mt)
}

func (m *Manager) deleteID(name string, mt core.MapType) error {
	target := m.hashOwner(name)
	if target == m.NodeID {
		m.Store.Delete(name, mt)
		return nil
	}
	return m.Remote.Delete(target, name, mt)
}

// ---- Bucket lifecycle ----

// GetBucketID returns the id bound to name, or the null BucketID if
// none exists.
func (m *Manager) GetBucketID(name string) (core.BucketID, error) {
	id, err := m.getID(name, core.MapTypeBucket)
	return core.BucketID(id), err
}

func (m *Manager) localBucketInfo(id core.BucketID) *BucketInfo {
	idx := id.Index()
	if idx == 0 || int(idx) > len(m.buckets) {
		return nil
	}
	return &m.buckets[idx-1]
}

// LocalGetOrCreateBucketID resolves or allocates a BucketID for name on
// this node. Assumes name already hashes to this node.
func (m *Manager) LocalGetOrCreateBucketID(name string) (id core.BucketID, err error) {
	defer func() { recordOp("bucket_get_or_create", err) }()

	if err := checkNameLength(name, core.MaxBucketNameSize, core.ErrBucketNameTooLong); err != nil {
		return 0, err
	}

	m.bucketMu.Acquire()
	defer m.bucketMu.Release()

	if existing := m.localGet(name, core.MapTypeBucket); existing != 0 {
		id := core.BucketID(existing)
		info := m.localBucketInfo(id)
		atomic.AddInt32(&info.RefCount, 1)
		log.Infof("metadata: opening bucket %q (refcount now %d)", name, atomic.LoadInt32(&info.RefCount))
		return id, nil
	}

	if m.numBuckets >= m.maxBuckets || m.firstFreeB == 0 {
		return 0, core.ErrSlotExhausted.Error()
	}

	slot := m.firstFreeB
	info := &m.buckets[slot-1]
	m.firstFreeB = info.nextFree
	*info = BucketInfo{RefCount: 1, Active: true}
	m.numBuckets++

	id = core.BucketIDFromParts(m.NodeID, slot)
	if !m.Store.Put(name, uint64(id), core.MapTypeBucket) {
		return 0, core.ErrArenaExhausted.Error()
	}
	log.Infof("metadata: created bucket %q", name)
	return id, nil
}

// GetOrCreateBucketID dispatches to the hash owner of name.
func (m *Manager) GetOrCreateBucketID(name string) (core.BucketID, error) {
	target := m.hashOwner(name)
	if target == m.NodeID {
		return m.LocalGetOrCreateBucketID(name)
	}
	return m.Remote.GetOrCreateBucketID(target, name)
}

// LocalIncrementRefcount bumps the ref-count of a BucketID this node owns.
func (m *Manager) LocalIncrementRefcount(id core.BucketID) {
	info := m.localBucketInfo(id)
	if info != nil {
		atomic.AddInt32(&info.RefCount, 1)
	}
}

// LocalDecrementRefcount drops the ref-count of a BucketID this node owns.
func (m *Manager) LocalDecrementRefcount(id core.BucketID) {
	info := m.localBucketInfo(id)
	if info == nil {
		return
	}
	if atomic.AddInt32(&info.RefCount, -1) < 0 {
		log.Errorf("metadata: bucket %s ref-count went negative", id)
	}
}

// DecrementRefcount dispatches to the id's home node.
func (m *Manager) DecrementRefcount(id core.BucketID) error {
	if id.Node() == m.NodeID {
		m.LocalDecrementRefcount(id)
		return nil
	}
	return m.Remote.DecrementBucketRefcount(id.Node(), id)
}

// LocalDestroyBucket tears down a bucket this node owns once its
// ref-count has been fully released: frees every blob it holds,
// deletes its name mapping, and returns its slot to the free list.
// Refuses with ErrBucketInUse while the ref-count remains positive.
func (m *Manager) LocalDestroyBucket(name string, id core.BucketID) (destroyed bool, err error) {
	defer func() { recordOp("bucket_destroy", err) }()

	m.bucketMu.Acquire()
	info := m.localBucketInfo(id)
	if info == nil || !info.Active {
		m.bucketMu.Release()
		return false, core.ErrNoSuchBucket.Error()
	}
	if atomic.LoadInt32(&info.RefCount) > 0 {
		m.bucketMu.Release()
		return false, core.ErrBucketInUse.Error()
	}
	blobs := info.Blobs
	info.Blobs = nil
	m.bucketMu.Release()

	// DestroyBlobByID re-enters LocalRemoveBlobFromBucketInfo, which
	// takes bucketMu itself; it must not be held here (ticket mutexes
	// are not re-entrant).
	for _, blobID := range blobs {
		if err := m.DestroyBlobByID(blobID, id); err != nil {
			log.Errorf("metadata: destroying blob %s while destroying bucket %q: %v", blobID, name, err)
		}
	}

	if err := m.deleteID(name, core.MapTypeBucket); err != nil {
		log.Errorf("metadata: deleting name mapping of bucket %q: %v", name, err)
	}

	m.bucketMu.Acquire()
	*info = BucketInfo{nextFree: m.firstFreeB}
	m.firstFreeB = id.Index()
	m.numBuckets--
	m.bucketMu.Release()

	log.Infof("metadata: destroyed bucket %q", name)
	return true, nil
}

// DestroyBucket dispatches to the bucket's home node.
func (m *Manager) DestroyBucket(name string, id core.BucketID) (bool, error) {
	if id.Node() == m.NodeID {
		return m.LocalDestroyBucket(name, id)
	}
	return m.Remote.DestroyBucket(id.Node(), name, id)
}

// LocalRenameBucket moves a bucket's name mapping without touching its
// id or its blob list.
func (m *Manager) LocalRenameBucket(id core.BucketID, oldName, newName string) (err error) {
	defer func() { recordOp("bucket_rename", err) }()

	if err := checkNameLength(newName, core.MaxBucketNameSize, core.ErrBucketNameTooLong); err != nil {
		return err
	}
	if err := m.deleteID(oldName, core.MapTypeBucket); err != nil {
		return err
	}
	return m.putID(newName, uint64(id), core.MapTypeBucket)
}

// RenameBucket dispatches to the bucket's home node.
func (m *Manager) RenameBucket(id core.BucketID, oldName, newName string) error {
	if id.Node() == m.NodeID {
		return m.LocalRenameBucket(id, oldName, newName)
	}
	return m.Remote.RenameBucket(id.Node(), id, oldName, newName)
}

// ---- VBucket lifecycle (mirrors Bucket, minus the trait system) ----

func (m *Manager) GetVBucketID(name string) (core.VBucketID, error) {
	id, err := m.getID(name, core.MapTypeVBucket)
	return core.VBucketID(id), err
}

func (m *Manager) localVBucketInfo(id core.VBucketID) *VBucketInfo {
	idx := id.Index()
	if idx == 0 || int(idx) > len(m.vbuckets) {
		return nil
	}
	return &m.vbuckets[idx-1]
}

func (m *Manager) LocalGetOrCreateVBucketID(name string) (id core.VBucketID, err error) {
	defer func() { recordOp("vbucket_get_or_create", err) }()

	if err := checkNameLength(name, core.MaxVBucketNameSize, core.ErrVBucketNameTooLong); err != nil {
		return 0, err
	}

	m.vbucketMu.Acquire()
	defer m.vbucketMu.Release()

	if existing := m.localGet(name, core.MapTypeVBucket); existing != 0 {
		id := core.VBucketID(existing)
		info := m.localVBucketInfo(id)
		atomic.AddInt32(&info.RefCount, 1)
		return id, nil
	}

	if m.numVBuckets >= m.maxVBuckets || m.firstFreeVB == 0 {
		return 0, core.ErrSlotExhausted.Error()
	}

	slot := m.firstFreeVB
	info := &m.vbuckets[slot-1]
	m.firstFreeVB = info.nextFree
	*info = VBucketInfo{RefCount: 1, Active: true}
	m.numVBuckets++

	id = core.VBucketIDFromParts(m.NodeID, slot)
	if !m.Store.Put(name, uint64(id), core.MapTypeVBucket) {
		return 0, core.ErrArenaExhausted.Error()
	}
	return id, nil
}

func (m *Manager) GetOrCreateVBucketID(name string) (core.VBucketID, error) {
	target := m.hashOwner(name)
	if target == m.NodeID {
		return m.LocalGetOrCreateVBucketID(name)
	}
	return m.Remote.GetOrCreateVBucketID(target, name)
}

func (m *Manager) LocalDecrementVBucketRefcount(id core.VBucketID) {
	info := m.localVBucketInfo(id)
	if info == nil {
		return
	}
	if atomic.AddInt32(&info.RefCount, -1) < 0 {
		log.Errorf("metadata: vbucket %s ref-count went negative", id)
	}
}

func (m *Manager) DecrementVBucketRefcount(id core.VBucketID) error {
	if id.Node() == m.NodeID {
		m.LocalDecrementVBucketRefcount(id)
		return nil
	}
	return m.Remote.DecrementVBucketRefcount(id.Node(), id)
}

// ---- Blob-id-list allocation (the per-node pool AttachBlobToBucket draws from) ----

// LocalAllocateBufferIDList stores ids under a freshly minted offset on
// this node and returns that offset, matching the original's
// arena-pool allocation used as BlobID.BufferIdsOffset.
func (m *Manager) LocalAllocateBufferIDList(ids []core.BufferID) uint32 {
	m.listMu.Lock()
	defer m.listMu.Unlock()
	m.nextListOffset++
	offset := m.nextListOffset
	stored := make([]core.BufferID, len(ids))
	copy(stored, ids)
	m.bufferIDLists[offset] = stored
	return offset
}

// AllocateBufferIDList dispatches to targetNode.
func (m *Manager) AllocateBufferIDList(targetNode core.NodeID, ids []core.BufferID) (uint32, error) {
	if targetNode == m.NodeID {
		return m.LocalAllocateBufferIDList(ids), nil
	}
	return m.Remote.AllocateBufferIDList(targetNode, ids)
}

func (m *Manager) LocalGetBufferIDList(blobID core.BlobID) []core.BufferID {
	m.listMu.Lock()
	defer m.listMu.Unlock()
	ids := m.bufferIDLists[blobID.BufferIdsOffset]
	out := make([]core.BufferID, len(ids))
	copy(out, ids)
	return out
}

// GetBufferIDList dispatches to the blob's home node.
func (m *Manager) GetBufferIDList(blobID core.BlobID) ([]core.BufferID, error) {
	if blobID.HomeNode() == m.NodeID {
		return m.LocalGetBufferIDList(blobID), nil
	}
	return m.Remote.GetBufferIDList(blobID.HomeNode(), blobID)
}

func (m *Manager) LocalFreeBufferIDList(blobID core.BlobID) {
	m.listMu.Lock()
	delete(m.bufferIDLists, blobID.BufferIdsOffset)
	m.listMu.Unlock()
}

func (m *Manager) FreeBufferIDList(blobID core.BlobID) error {
	if blobID.HomeNode() == m.NodeID {
		m.LocalFreeBufferIDList(blobID)
		return nil
	}
	return m.Remote.FreeBufferIDList(blobID.HomeNode(), blobID)
}

// ---- Bucket/VBucket blob-list membership ----

func (m *Manager) LocalAddBlobIDToBucket(bucketID core.BucketID, blobID core.BlobID) {
	info := m.localBucketInfo(bucketID)
	if info == nil {
		return
	}
	m.bucketMu.Acquire()
	info.Blobs = append(info.Blobs, blobID)
	m.bucketMu.Release()
}

func (m *Manager) AddBlobIDToBucket(blobID core.BlobID, bucketID core.BucketID) error {
	if bucketID.Node() == m.NodeID {
		m.LocalAddBlobIDToBucket(bucketID, blobID)
		return nil
	}
	return m.Remote.AddBlobIDToBucket(bucketID.Node(), bucketID, blobID)
}

func (m *Manager) LocalAddBlobIDToVBucket(vbucketID core.VBucketID, blobID core.BlobID) {
	info := m.localVBucketInfo(vbucketID)
	if info == nil {
		return
	}
	m.vbucketMu.Acquire()
	info.Blobs = append(info.Blobs, blobID)
	m.vbucketMu.Release()
}

func (m *Manager) AddBlobIDToVBucket(blobID core.BlobID, vbucketID core.VBucketID) error {
	if vbucketID.Node() == m.NodeID {
		m.LocalAddBlobIDToVBucket(vbucketID, blobID)
		return nil
	}
	return m.Remote.AddBlobIDToVBucket(vbucketID.Node(), vbucketID, blobID)
}

func (m *Manager) LocalRemoveBlobFromBucketInfo(bucketID core.BucketID, blobID core.BlobID) {
	info := m.localBucketInfo(bucketID)
	if info == nil {
		return
	}
	m.bucketMu.Acquire()
	defer m.bucketMu.Release()
	for i, id := range info.Blobs {
		if id == blobID {
			info.Blobs = append(info.Blobs[:i], info.Blobs[i+1:]...)
			return
		}
	}
}

func (m *Manager) RemoveBlobFromBucketInfo(bucketID core.BucketID, blobID core.BlobID) error {
	if bucketID.Node() == m.NodeID {
		m.LocalRemoveBlobFromBucketInfo(bucketID, blobID)
		return nil
	}
	return m.Remote.RemoveBlobFromBucketInfo(bucketID.Node(), bucketID, blobID)
}

// LocalContainsBlob reports whether blobID is present in the given
// bucket's blob list; the caller must have already verified the id
// exists in the directory.
func (m *Manager) LocalContainsBlob(bucketID core.BucketID, blobID core.BlobID) bool {
	info := m.localBucketInfo(bucketID)
	if info == nil {
		return false
	}
	m.bucketMu.Acquire()
	defer m.bucketMu.Release()
	for _, id := range info.Blobs {
		if id == blobID {
			return true
		}
	}
	return false
}

// ---- Blob lifecycle ----

// GetBlobID resolves name (relative to bucketID) to a BlobID, or null.
func (m *Manager) GetBlobID(name string, bucketID core.BucketID) (core.BlobID, error) {
	internal := core.MakeInternalBlobName(name, bucketID)
	id, err := m.getID(internal, core.MapTypeBlob)
	if err != nil {
		return core.BlobID{}, err
	}
	return core.BlobIDFromUint64(id), nil
}

func (m *Manager) putBlobID(name string, id core.BlobID, bucketID core.BucketID) error {
	internal := core.MakeInternalBlobName(name, bucketID)
	return m.putID(internal, id.AsUint64(), core.MapTypeBlob)
}

func (m *Manager) deleteBlobID(name string, bucketID core.BucketID) error {
	internal := core.MakeInternalBlobName(name, bucketID)
	return m.deleteID(internal, core.MapTypeBlob)
}

// AttachBlobToBucket allocates a buffer-id-list on the hash owner of
// blobName's internal (bucket-prefixed) name, synthesizes a BlobID (negated node id for a swap blob),
// registers the name mapping, and appends the id to bucketID's blob
// list.
func (m *Manager) AttachBlobToBucket(blobName string, bucketID core.BucketID, bufferIDs []core.BufferID, isSwap bool) (err error) {
	defer func() { recordOp("blob_attach", err) }()

	if err := checkNameLength(blobName, core.MaxBlobNameSize, core.ErrBlobNameTooLong); err != nil {
		return err
	}

	internal := core.MakeInternalBlobName(blobName, bucketID)
	target := m.hashOwner(internal)

	offset, err := m.AllocateBufferIDList(target, bufferIDs)
	if err != nil {
		return err
	}

	nodeID := int32(target)
	if isSwap {
		nodeID = -nodeID
	}
	blobID := core.BlobIDFromParts(nodeID, offset)

	if err := m.putBlobID(blobName, blobID, bucketID); err != nil {
		return err
	}
	return m.AddBlobIDToBucket(blobID, bucketID)
}

func (m *Manager) releaseBlobBuffers(blobID core.BlobID) error {
	if blobID.IsSwap() {
		// TODO(chogan): invalidate the swap region once eviction exists.
		return nil
	}
	ids, err := m.GetBufferIDList(blobID)
	if err != nil {
		return err
	}
	return m.Pool.ReleaseBuffers(ids)
}

// LocalDestroyBlobByName tears down a blob this node's directory
// mapping is on, given its already-resolved BlobID.
func (m *Manager) LocalDestroyBlobByName(blobName string, blobID core.BlobID, bucketID core.BucketID) (err error) {
	defer func() { recordOp("blob_destroy_by_name", err) }()

	if err := m.releaseBlobBuffers(blobID); err != nil {
		log.Errorf("metadata: releasing buffers for blob %q: %v", blobName, err)
	}
	if err := m.FreeBufferIDList(blobID); err != nil {
		return err
	}
	return m.deleteBlobID(blobName, bucketID)
}

// DestroyBlobByName resolves the name through the hash owner of the
// blob's internal (bucket-prefixed) name, then dispatches to the
// blob-id's home node to tear it down, then
// unconditionally removes it from the bucket's blob list (which may be
// a third, different node).
func (m *Manager) DestroyBlobByName(bucketID core.BucketID, blobName string) error {
	blobID, err := m.GetBlobID(blobName, bucketID)
	if err != nil {
		return err
	}
	if blobID.IsNull() {
		return nil
	}

	if blobID.HomeNode() == m.NodeID {
		if err := m.LocalDestroyBlobByName(blobName, blobID, bucketID); err != nil {
			return err
		}
	} else {
		if err := m.Remote.DestroyBlobByName(blobID.HomeNode(), blobName, blobID, bucketID); err != nil {
			return err
		}
	}
	return m.RemoveBlobFromBucketInfo(bucketID, blobID)
}

// LocalDestroyBlobByID tears down a blob given its id, recovering its
// name from the reverse map to delete the directory entry.
func (m *Manager) LocalDestroyBlobByID(blobID core.BlobID, bucketID core.BucketID) (err error) {
	defer func() { recordOp("blob_destroy_by_id", err) }()

	if err := m.releaseBlobBuffers(blobID); err != nil {
		log.Errorf("metadata: releasing buffers for blob %s: %v", blobID, err)
	}
	m.LocalFreeBufferIDList(blobID)

	name, ok := m.Store.ReverseGet(blobID.AsUint64())
	if !ok {
		log.V(1).Infof("metadata: expected to find blob %s in directory but didn't", blobID)
		return nil
	}
	return m.deleteBlobID(name, bucketID)
}

// DestroyBlobByID dispatches to the blob's home node, then
// unconditionally removes it from the bucket's blob list.
func (m *Manager) DestroyBlobByID(blobID core.BlobID, bucketID core.BucketID) error {
	if blobID.HomeNode() == m.NodeID {
		if err := m.LocalDestroyBlobByID(blobID, bucketID); err != nil {
			return err
		}
	} else {
		if err := m.Remote.DestroyBlobByID(blobID.HomeNode(), blobID, bucketID); err != nil {
			return err
		}
	}
	return m.RemoveBlobFromBucketInfo(bucketID, blobID)
}

// ContainsBlob reports whether blobName both exists and is still
// listed in bucketID's blob list; those two facts live on different
// shards in general, so the id lookup and the membership check are
// separately dispatched.
func (m *Manager) ContainsBlob(bucketID core.BucketID, blobName string) (bool, error) {
	blobID, err := m.GetBlobID(blobName, bucketID)
	if err != nil {
		return false, err
	}
	if blobID.IsNull() {
		return false, nil
	}
	if bucketID.Node() == m.NodeID {
		return m.LocalContainsBlob(bucketID, blobID), nil
	}
	return m.Remote.ContainsBlob(bucketID.Node(), bucketID, blobID)
}

// RenameBlob moves a blob's name mapping within its bucket, keeping
// its BlobID unchanged. The internal key must be recomputed for both
// names since it is bucket-relative.
func (m *Manager) RenameBlob(oldName, newName string, bucketID core.BucketID) error {
	if err := checkNameLength(newName, core.MaxBlobNameSize, core.ErrBlobNameTooLong); err != nil {
		return err
	}
	blobID, err := m.GetBlobID(oldName, bucketID)
	if err != nil {
		return err
	}
	if blobID.IsNull() {
		return core.ErrNoSuchBlob.Error()
	}
	if err := m.deleteBlobID(oldName, bucketID); err != nil {
		return err
	}
	return m.putBlobID(newName, blobID, bucketID)
}

// GetBlobNameFromID recovers a blob's external name from its id,
// dispatching to the id's home node and stripping the internal
// bucket-id prefix.
func (m *Manager) GetBlobNameFromID(blobID core.BlobID) (string, error) {
	if blobID.HomeNode() != m.NodeID {
		return m.Remote.GetBlobNameFromID(blobID.HomeNode(), blobID)
	}
	internal, ok := m.Store.ReverseGet(blobID.AsUint64())
	if !ok {
		return "", nil
	}
	name, _, ok := core.SplitInternalBlobName(internal)
	if !ok {
		return "", nil
	}
	return name, nil
}

// GetBucketIDFromBlobID recovers a blob's owning BucketID from its id.
func (m *Manager) GetBucketIDFromBlobID(blobID core.BlobID) (core.BucketID, error) {
	if blobID.HomeNode() != m.NodeID {
		return m.Remote.GetBucketIDFromBlobID(blobID.HomeNode(), blobID)
	}
	internal, ok := m.Store.ReverseGet(blobID.AsUint64())
	if !ok {
		return 0, nil
	}
	_, bucketID, ok := core.SplitInternalBlobName(internal)
	if !ok {
		return 0, nil
	}
	return bucketID, nil
}

// ---- Target selection ----

// LocalGetNodeTargets returns this node's configured local Targets.
func (m *Manager) LocalGetNodeTargets() []core.TargetID {
	out := make([]core.TargetID, len(m.LocalTargets))
	copy(out, m.LocalTargets)
	return out
}

// GetNodeTargets dispatches to targetNode.
func (m *Manager) GetNodeTargets(targetNode core.NodeID) ([]core.TargetID, error) {
	if targetNode == m.NodeID {
		return m.LocalGetNodeTargets(), nil
	}
	return m.Remote.GetNodeTargets(targetNode)
}

func (m *Manager) nextNode() core.NodeID {
	return core.NodeID(uint32(m.NodeID)%m.NumNodes + 1)
}

func (m *Manager) previousNode() core.NodeID {
	if m.NodeID == 1 {
		return core.NodeID(m.NumNodes)
	}
	return m.NodeID - 1
}

// GetNeighborhoodTargets returns the Targets of this node's ring
// neighbors: none when there is only one node, the next node's Targets
// when there are two (they are the same neighbor from both directions),
// and next+previous otherwise. It does not include this node's own
// Targets. Ported case-for-case from the original implementation,
// which comments that a real network topology should replace this.
func (m *Manager) GetNeighborhoodTargets() ([]core.TargetID, error) {
	switch m.NumNodes {
	case 0, 1:
		return nil, nil
	case 2:
		return m.GetNodeTargets(m.nextNode())
	default:
		next, err := m.GetNodeTargets(m.nextNode())
		if err != nil {
			return nil, err
		}
		prev, err := m.GetNodeTargets(m.previousNode())
		if err != nil {
			return nil, err
		}
		out := make([]core.TargetID, 0, len(next)+len(prev))
		out = append(out, next...)
		out = append(out, prev...)
		return out, nil
	}
}

// LocalGetRemainingTargetCapacity reads one local device's remaining
// bytes from the System View State's Local view. targetID's DeviceID
// indexes that state directly.
func (m *Manager) LocalGetRemainingTargetCapacity(targetID core.TargetID) uint64 {
	if m.SysView == nil {
		return 0
	}
	i := int(targetID.DeviceID)
	if i >= m.SysView.Local.NumDevices() {
		return 0
	}
	return m.SysView.Local.BytesAvailable(i)
}

// GetRemainingTargetCapacity dispatches to the target's node.
func (m *Manager) GetRemainingTargetCapacity(targetID core.TargetID) (uint64, error) {
	if targetID.NodeID == m.NodeID {
		return m.LocalGetRemainingTargetCapacity(targetID), nil
	}
	return m.Remote.GetRemainingTargetCapacity(targetID.NodeID, targetID)
}

// GetRemainingTargetCapacities is the vectorized form of
// GetRemainingTargetCapacity, used by placement policies scoring a
// candidate target set in one pass.
func (m *Manager) GetRemainingTargetCapacities(targets []core.TargetID) ([]uint64, error) {
	out := make([]uint64, len(targets))
	for i, t := range targets {
		bytes, err := m.GetRemainingTargetCapacity(t)
		if err != nil {
			return nil, fmt.Errorf("metadata: capacity of target %s: %w", t, err)
		}
		out[i] = bytes
	}
	return out, nil
}

// GetGlobalDeviceCapacities returns the whole cluster's device
// capacities via the System View State manager.
func (m *Manager) GetGlobalDeviceCapacities() ([]uint64, error) {
	if m.SysView == nil {
		return nil, core.ErrNotSupported.Error()
	}
	return m.SysView.GetGlobalDeviceCapacities()
}
