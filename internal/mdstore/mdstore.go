// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package mdstore implements the Metadata Storage layer: the arena-
// resident hash maps that back the three logical name->id directories
// (bucket, vbucket, blob) plus the blob reverse map used to answer
// GetBlobNameFromId. Everything here is single-node local storage;
// sharding across nodes and the Local*/Remote* dispatch live one layer
// up, in internal/metadata.
package mdstore

import (
	"hash/fnv"
	"sync"

	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/pkg/arena"
)

// entry is one slot of an open-addressed hash table. A zero Hash with
// occupied == false marks an empty slot; tombstone marks a deleted one
// so probe chains stay intact.
type entry struct {
	hash      uint64
	key       string
	val       uint64
	occupied  bool
	tombstone bool
}

// table is a single fixed-capacity linear-probing hash map. Hermes's
// metadata maps never grow past the capacity fixed at MetadataManager
// initialization, matching the original implementation's arena-backed
// storage: once full, PutToStorage on a genuinely new key is a
// core.ErrArenaExhausted, not a resize.
type table struct {
	mu      sync.RWMutex
	slots   []entry
	count   int
	maxLoad int // resize... err, capacity limit; count must stay below this
}

func newTable(capacity int) *table {
	if capacity < 1 {
		capacity = 1
	}
	return &table{
		slots:   make([]entry, capacity),
		maxLoad: capacity * 3 / 4,
	}
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

func (t *table) put(key string, val uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := hashKey(key)
	n := len(t.slots)
	firstTombstone := -1

	for i := 0; i < n; i++ {
		idx := int((h + uint64(i)) % uint64(n))
		s := &t.slots[idx]
		if !s.occupied {
			if s.tombstone && firstTombstone == -1 {
				firstTombstone = idx
			}
			if !s.tombstone {
				if t.count >= t.maxLoad {
					return false
				}
				insertAt := idx
				if firstTombstone != -1 {
					insertAt = firstTombstone
				}
				t.slots[insertAt] = entry{hash: h, key: key, val: val, occupied: true}
				t.count++
				return true
			}
			continue
		}
		if s.hash == h && s.key == key {
			s.val = val
			return true
		}
	}
	return false
}

func (t *table) get(key string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h := hashKey(key)
	n := len(t.slots)
	for i := 0; i < n; i++ {
		idx := int((h + uint64(i)) % uint64(n))
		s := &t.slots[idx]
		if !s.occupied && !s.tombstone {
			return 0, false
		}
		if s.occupied && s.hash == h && s.key == key {
			return s.val, true
		}
	}
	return 0, false
}

func (t *table) delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := hashKey(key)
	n := len(t.slots)
	for i := 0; i < n; i++ {
		idx := int((h + uint64(i)) % uint64(n))
		s := &t.slots[idx]
		if !s.occupied && !s.tombstone {
			return
		}
		if s.occupied && s.hash == h && s.key == key {
			*s = entry{tombstone: true}
			t.count--
			return
		}
	}
}

// reverseTable maps a 64-bit id back to the string key it was created
// from, used only for blob ids (GetBlobNameFromId has no other way to
// recover a name from a BlobID).
type reverseTable struct {
	mu sync.RWMutex
	m  map[uint64]string
}

func newReverseTable() *reverseTable {
	return &reverseTable{m: make(map[uint64]string)}
}

func (r *reverseTable) put(id uint64, key string) {
	r.mu.Lock()
	r.m[id] = key
	r.mu.Unlock()
}

func (r *reverseTable) get(id uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[id]
	return s, ok
}

func (r *reverseTable) delete(id uint64) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

// Store holds the three logical name->id maps plus the blob reverse
// map. It is arena-resident only in the sense that its capacity is
// fixed at construction time from an arena.Arena's budget; the tables
// themselves are ordinary Go slices/maps rather than raw arena bytes,
// since nothing outside this process ever needs to interpret their
// layout (unlike the BufferPool's headers, which must be
// shared-memory-addressable across processes).
type Store struct {
	buckets  *table
	vbuckets *table
	blobs    *table
	reverse  *reverseTable
}

// Config bounds how many live entries each logical map may hold.
type Config struct {
	MaxBuckets  int
	MaxVBuckets int
	MaxBlobs    int
}

// New creates a Store sized per cfg. a is accepted so callers can size
// mdstore's tables in proportion to the node's metadata arena budget;
// mdstore does not allocate out of a directly (see Store doc comment).
func New(a *arena.Arena, cfg Config) *Store {
	_ = a
	return &Store{
		buckets:  newTable(cfg.MaxBuckets),
		vbuckets: newTable(cfg.MaxVBuckets),
		blobs:    newTable(cfg.MaxBlobs),
		reverse:  newReverseTable(),
	}
}

func (s *Store) tableFor(mt core.MapType) *table {
	switch mt {
	case core.MapTypeBucket:
		return s.buckets
	case core.MapTypeVBucket:
		return s.vbuckets
	case core.MapTypeBlob:
		return s.blobs
	default:
		panic("mdstore: unknown MapType")
	}
}

// Put binds key to val in the named logical map. ok is false if the
// map is full and key is not already present (core.ErrArenaExhausted
// at the caller).
func (s *Store) Put(key string, val uint64, mt core.MapType) bool {
	ok := s.tableFor(mt).put(key, val)
	if ok && mt == core.MapTypeBlob {
		s.reverse.put(val, key)
	}
	return ok
}

// Get looks up key in the named logical map.
func (s *Store) Get(key string, mt core.MapType) (uint64, bool) {
	return s.tableFor(mt).get(key)
}

// Delete removes key from the named logical map, and its reverse
// mapping if mt is the blob map.
func (s *Store) Delete(key string, mt core.MapType) {
	if mt == core.MapTypeBlob {
		if id, ok := s.tableFor(mt).get(key); ok {
			s.reverse.delete(id)
		}
	}
	s.tableFor(mt).delete(key)
}

// ReverseGet recovers the internal blob key that hashed to id, if any.
func (s *Store) ReverseGet(id uint64) (string, bool) {
	return s.reverse.get(id)
}

// HashStringForStorage hashes str into a node id in [1, numNodes] (0
// when numNodes is 0),
// used by internal/metadata to decide whether an operation on a name
// should be dispatched Local* or Remote*.
func HashStringForStorage(str string, numNodes uint32) uint32 {
	if numNodes == 0 {
		return 0
	}
	return uint32(hashKey(str)%uint64(numNodes)) + 1 // node ids start at 1
}
