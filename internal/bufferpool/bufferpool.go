// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package bufferpool implements the tiered Buffer Pool: per-tier,
// per-slab-class free lists of fixed-size buffers, and the
// GetBuffers/ReleaseBuffers/WriteBlobToBuffers/ReadBlobFromBuffers
// operations built on top of them.
package bufferpool

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/internal/sysview"
	"github.com/hermes-hpc/hermes/pkg/arena"
	"github.com/hermes-hpc/hermes/pkg/ticketmutex"
)

// BufferHeader is the metadata for one buffer: one per slab-class
// buffer on every tier, RAM and file-backed alike; the blocks inside a
// RAM buffer get no headers of their own. Buffers on the same (tier, slab class) chain
// together into a free list via NextFree.
type BufferHeader struct {
	ID       core.BufferID
	NextFree core.BufferID
	Tier     core.TierID
	Slab     core.SlabClass
	Capacity uint32
	Used     uint32
	InUse    bool

	// ramOffset is valid when the owning Tier IsRAM: the buffer's byte
	// range within that tier's arena.
	ramOffset arena.Offset

	// fileOffset/file are valid when the owning Tier is file-backed.
	fileOffset int64
	file       *os.File
}

// RemoteClient is implemented by whatever RPC client internal/node
// wires up, letting the Buffer Pool dispatch buffer traffic destined
// for another node without importing pkg/hermesrpc directly.
type RemoteClient interface {
	GetBuffers(target core.NodeID, schema core.TieredSchema) ([]core.BufferID, error)
	ReleaseBuffers(target core.NodeID, ids []core.BufferID) error
	WriteBuffer(id core.BufferID, data []byte) error
	ReadBuffer(id core.BufferID) ([]byte, error)
	GetBufferSize(id core.BufferID) (uint32, error)
}

type slab struct {
	unitSize   int // bytes
	freeHead   core.BufferID
	freeCount  int
	totalCount int
}

type tierState struct {
	tier    core.Tier
	slabs   []slab
	ram     *arena.Arena // non-nil when tier.IsRAM
	files   []*os.File   // one per slab class when tier is file-backed
}

// Pool is a single node's local Buffer Pool across all configured
// tiers. Free-list mutation is guarded by one pool-wide ticket mutex
// (see DESIGN.md's Open Question decision on free-list contention).
type Pool struct {
	NodeID core.NodeID
	Remote RemoteClient

	// Pending accumulates local capacity deltas as buffers are claimed
	// and released, for sysview's reconciliation loop to drain. Nil
	// until SetPending is called (tests that don't care about System
	// View State convergence may leave it unset).
	Pending *sysview.PendingAdjustments

	mu       ticketmutex.T
	tiers    []tierState
	headers  map[core.BufferID]*BufferHeader

	freeBytes *prometheus.GaugeVec
	usedBytes *prometheus.GaugeVec
}

// Metrics are registered once at package scope rather than per Pool,
// since a process (or a test binary hosting several simulated nodes)
// may construct more than one Pool and a second promauto call against
// the same metric name would panic on duplicate registration.
var (
	bufferpoolFreeBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermes_bufferpool_free_bytes",
		Help: "Free bytes remaining in a buffer pool tier.",
	}, []string{"tier"})
	bufferpoolUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermes_bufferpool_used_bytes",
		Help: "Used bytes in a buffer pool tier.",
	}, []string{"tier"})
)

// SetPending wires the pool's claim/release paths into a System View
// State accumulator. Tier index doubles as device index, matching
// Config's contract that LocalDeviceCapacities/LocalTargets are
// ordered the same way as Tiers.
func (p *Pool) SetPending(pending *sysview.PendingAdjustments) {
	p.Pending = pending
}

func (p *Pool) recordAdjustment(tierIdx int, delta int64) {
	if p.Pending == nil || delta == 0 {
		return
	}
	if tierIdx < 0 || tierIdx >= p.Pending.NumDevices() {
		return
	}
	p.Pending.Record(tierIdx, delta)
}

// TierSpec bundles a Tier descriptor with the slab schema used to
// carve it into free lists.
type TierSpec struct {
	Tier  core.Tier
	Slabs []core.SlabSchema
}

// New builds a Pool from specs. RAM tiers are backed by a freshly
// created arena.Arena sized to the tier's capacity; file tiers get one
// file per slab class under Tier.MountPoint, matching the original
// implementation's one-file-per-slab-per-tier layout.
func New(nodeID core.NodeID, specs []TierSpec, remote RemoteClient) (*Pool, error) {
	p := &Pool{
		NodeID:  nodeID,
		Remote:  remote,
		headers:   make(map[core.BufferID]*BufferHeader),
		freeBytes: bufferpoolFreeBytes,
		usedBytes: bufferpoolUsedBytes,
	}

	for _, spec := range specs {
		ts, err := p.buildTier(spec)
		if err != nil {
			return nil, err
		}
		p.tiers = append(p.tiers, ts)
	}
	return p, nil
}

func (p *Pool) buildTier(spec TierSpec) (tierState, error) {
	t := spec.Tier
	ts := tierState{tier: t}

	if t.IsRemote {
		// Remote tiers have no local headers; requests against them are
		// dispatched through p.Remote.
		return ts, nil
	}

	if t.IsRAM {
		ts.ram = arena.New(fmt.Sprintf("tier-%s", t.Name), int(t.Capacity))
	} else {
		ts.files = make([]*os.File, len(spec.Slabs))
	}

	for slabIdx, ss := range spec.Slabs {
		unitSize := ss.UnitSize * t.BlockSize
		if unitSize <= 0 {
			return tierState{}, fmt.Errorf("bufferpool: tier %s slab %d has non-positive unit size", t.Name, slabIdx)
		}
		budget := uint64(float32(t.Capacity) * ss.DesiredPercentage)
		count := int(budget / uint64(unitSize))

		s := slab{unitSize: unitSize, freeHead: core.BufferID{}, totalCount: count}

		if !t.IsRAM {
			path := filepath.Join(t.MountPoint, fmt.Sprintf("hermes.tier-%s.slab-%d.buf", t.Name, slabIdx))
			f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
			if err != nil {
				return tierState{}, fmt.Errorf("bufferpool: opening slab file %s: %w", path, err)
			}
			if t.HasFallocate {
				if err := f.Truncate(int64(count) * int64(unitSize)); err != nil {
					log.Warningf("bufferpool: fallocate-equivalent truncate failed for %s: %v", path, err)
				}
			}
			ts.files[slabIdx] = f
		}

		var prevID core.BufferID
		for i := 0; i < count; i++ {
			id := core.BufferIDFromParts(p.NodeID, core.SlabClass(slabIdx), uint32(i))
			hdr := &BufferHeader{
				ID:       id,
				Tier:     t.ID,
				Slab:     core.SlabClass(slabIdx),
				Capacity: uint32(unitSize),
			}
			if t.IsRAM {
				hdr.ramOffset = ts.ram.PushCleared(unitSize)
			} else {
				hdr.fileOffset = int64(i) * int64(unitSize)
				hdr.file = ts.files[slabIdx]
			}
			p.headers[id] = hdr

			if i == 0 {
				s.freeHead = id
			} else {
				p.headers[prevID].NextFree = id
			}
			prevID = id
		}
		s.freeCount = count
		ts.slabs = append(ts.slabs, s)
	}

	return ts, nil
}

// popFree removes and returns one free buffer from (tierIdx, slabIdx), or
// the null BufferID if none remain. Caller must hold p.mu.
func (p *Pool) popFree(tierIdx, slabIdx int) core.BufferID {
	s := &p.tiers[tierIdx].slabs[slabIdx]
	if s.freeHead.IsNull() {
		return core.BufferID{}
	}
	id := s.freeHead
	hdr := p.headers[id]
	s.freeHead = hdr.NextFree
	s.freeCount--
	hdr.NextFree = core.BufferID{}
	hdr.InUse = true
	return id
}

// pushFree returns id to its slab's free list. Caller must hold p.mu.
func (p *Pool) pushFree(id core.BufferID) {
	hdr, ok := p.headers[id]
	if !ok {
		return
	}
	hdr.InUse = false
	hdr.Used = 0
	tierIdx, slabIdx, ok := p.locate(hdr.Tier, hdr.Slab)
	if !ok {
		return
	}
	s := &p.tiers[tierIdx].slabs[slabIdx]
	hdr.NextFree = s.freeHead
	s.freeHead = id
	s.freeCount++
}

func (p *Pool) locate(tierID core.TierID, slab core.SlabClass) (tierIdx, slabIdx int, ok bool) {
	for i, ts := range p.tiers {
		if ts.tier.ID == tierID {
			if int(slab) < len(ts.slabs) {
				return i, int(slab), true
			}
			return 0, 0, false
		}
	}
	return 0, 0, false
}

func (p *Pool) tierIndex(tierID core.TierID) (int, bool) {
	for i, ts := range p.tiers {
		if ts.tier.ID == tierID {
			return i, true
		}
	}
	return 0, false
}

// GetBuffers satisfies schema against the pool's free lists, or
// against p.Remote when a request names a remote Tier. Allocation is
// all-or-nothing: on any failure, every buffer already claimed for
// this call is returned to its free list before the error is
// reported, mirroring the "pack, then roll back atomically on
// failure" idiom used to allocate replicas in this repo's ancestor
// tract-packing code.
func (p *Pool) GetBuffers(schema core.TieredSchema) ([]core.BufferID, error) {
	var claimed []core.BufferID

	rollback := func() {
		for _, id := range claimed {
			p.ReleaseBuffers([]core.BufferID{id})
		}
	}

	for _, req := range schema {
		tierIdx, ok := p.tierIndex(req.Tier)
		if !ok {
			rollback()
			return nil, core.ErrPoolExhausted.Error()
		}

		ts := &p.tiers[tierIdx]
		if ts.tier.IsRemote {
			if p.Remote == nil {
				rollback()
				return nil, core.ErrPoolExhausted.Error()
			}
			ids, err := p.Remote.GetBuffers(ts.tier.RemoteNode, core.TieredSchema{req})
			if err != nil {
				rollback()
				return nil, err
			}
			claimed = append(claimed, ids...)
			continue
		}

		ids, err := p.claimLocal(tierIdx, req.Bytes)
		if err != nil {
			rollback()
			return nil, err
		}
		claimed = append(claimed, ids...)
	}

	return claimed, nil
}

// claimLocal greedily takes buffers from the largest slab class down
// to the smallest, draining each class before moving to the next one
// until the remaining byte count is covered, within a single tier.
// Caller does not hold p.mu.
func (p *Pool) claimLocal(tierIdx int, bytes uint64) ([]core.BufferID, error) {
	p.mu.Acquire()
	defer p.mu.Release()

	ts := &p.tiers[tierIdx]
	remaining := bytes
	var out []core.BufferID
	var claimed uint64

	for slabIdx := len(ts.slabs) - 1; slabIdx >= 0 && remaining > 0; slabIdx-- {
		unit := uint64(ts.slabs[slabIdx].unitSize)
		for remaining > 0 {
			id := p.popFree(tierIdx, slabIdx)
			if id.IsNull() {
				break
			}
			out = append(out, id)
			claimed += unit
			if unit >= remaining {
				remaining = 0
			} else {
				remaining -= unit
			}
		}
	}

	if remaining > 0 {
		for _, id := range out {
			p.pushFree(id)
		}
		return nil, core.ErrPoolExhausted.Error()
	}

	p.updateGauges()
	p.recordAdjustment(tierIdx, -int64(claimed))
	return out, nil
}

func (p *Pool) updateGauges() {
	for _, ts := range p.tiers {
		if ts.tier.IsRemote {
			continue
		}
		var free, used uint64
		for _, s := range ts.slabs {
			free += uint64(s.freeCount) * uint64(s.unitSize)
			used += uint64(s.totalCount-s.freeCount) * uint64(s.unitSize)
		}
		p.freeBytes.WithLabelValues(ts.tier.Name).Set(float64(free))
		p.usedBytes.WithLabelValues(ts.tier.Name).Set(float64(used))
	}
}

// ReleaseBuffers returns ids to their owning free lists. Ids owned by
// another node are released via p.Remote.
func (p *Pool) ReleaseBuffers(ids []core.BufferID) error {
	var byRemote = map[core.NodeID][]core.BufferID{}
	freedByTier := map[int]uint64{}

	p.mu.Acquire()
	for _, id := range ids {
		if id.NodeID != p.NodeID {
			byRemote[id.NodeID] = append(byRemote[id.NodeID], id)
			continue
		}
		if hdr, ok := p.headers[id]; ok {
			if tierIdx, _, ok := p.locate(hdr.Tier, hdr.Slab); ok {
				freedByTier[tierIdx] += uint64(hdr.Capacity)
			}
		}
		p.pushFree(id)
	}
	p.updateGauges()
	for tierIdx, freed := range freedByTier {
		p.recordAdjustment(tierIdx, int64(freed))
	}
	p.mu.Release()

	for node, list := range byRemote {
		if p.Remote == nil {
			return core.ErrRPC.Error()
		}
		if err := p.Remote.ReleaseBuffers(node, list); err != nil {
			return err
		}
	}
	return nil
}

// GetBufferSize returns the number of bytes currently used within a
// single buffer, following remote dispatch when necessary.
func (p *Pool) GetBufferSize(id core.BufferID) (uint32, error) {
	if id.NodeID != p.NodeID {
		if p.Remote == nil {
			return 0, core.ErrRPC.Error()
		}
		return p.Remote.GetBufferSize(id)
	}
	hdr, ok := p.headers[id]
	if !ok {
		return 0, core.ErrNoSuchBlob.Error()
	}
	return hdr.Used, nil
}

// BlobSize sums the used bytes across every buffer in ids, following
// remote dispatch per id. Grounded on buffer_pool.h's GetBlobSize.
func (p *Pool) BlobSize(ids []core.BufferID) (uint64, error) {
	var total uint64
	for _, id := range ids {
		n, err := p.GetBufferSize(id)
		if err != nil {
			return 0, err
		}
		total += uint64(n)
	}
	return total, nil
}

// WriteBlobToBuffers writes blob across ids in order, splitting it at
// each buffer's capacity. It is the caller's responsibility to have
// obtained ids from GetBuffers with enough total capacity for blob.
func (p *Pool) WriteBlobToBuffers(blob []byte, ids []core.BufferID) error {
	offset := 0
	for _, id := range ids {
		if offset >= len(blob) {
			break
		}
		if id.NodeID != p.NodeID {
			// The local pool has no BufferHeader for a remotely-owned
			// buffer, so its capacity is unknown here; hand the owning
			// node everything left and let it report how much it used.
			if p.Remote == nil {
				return core.ErrRPC.Error()
			}
			chunk := blob[offset:]
			if err := p.Remote.WriteBuffer(id, chunk); err != nil {
				return err
			}
			offset += len(chunk)
			continue
		}

		hdr, ok := p.headers[id]
		if !ok {
			return core.ErrNoSuchBlob.Error()
		}
		end := offset + int(hdr.Capacity)
		chunk := sliceUpTo(blob, offset, end)

		if err := p.writeLocal(hdr, chunk); err != nil {
			return err
		}
		hdr.Used = uint32(len(chunk))
		offset += len(chunk)
	}
	return nil
}

func (p *Pool) writeLocal(hdr *BufferHeader, chunk []byte) error {
	tierIdx, _, ok := p.locate(hdr.Tier, hdr.Slab)
	if !ok {
		return core.ErrNoSuchBlob.Error()
	}
	ts := &p.tiers[tierIdx]
	if ts.tier.IsRAM {
		dst := ts.ram.Bytes(hdr.ramOffset, int(hdr.Capacity))
		copy(dst, chunk)
		return nil
	}
	_, err := hdr.file.WriteAt(chunk, hdr.fileOffset)
	return err
}

// ReadBlobFromBuffers reconstructs a blob from its ordered list of
// buffers, following remote dispatch per id.
func (p *Pool) ReadBlobFromBuffers(ids []core.BufferID) ([]byte, error) {
	var out []byte
	for _, id := range ids {
		if id.NodeID != p.NodeID {
			if p.Remote == nil {
				return nil, core.ErrRPC.Error()
			}
			chunk, err := p.Remote.ReadBuffer(id)
			if err != nil {
				return nil, err
			}
			out = append(out, chunk...)
			continue
		}

		hdr, ok := p.headers[id]
		if !ok {
			return nil, core.ErrNoSuchBlob.Error()
		}
		chunk, err := p.readLocal(hdr)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (p *Pool) readLocal(hdr *BufferHeader) ([]byte, error) {
	tierIdx, _, ok := p.locate(hdr.Tier, hdr.Slab)
	if !ok {
		return nil, core.ErrNoSuchBlob.Error()
	}
	ts := &p.tiers[tierIdx]
	if ts.tier.IsRAM {
		src := ts.ram.Bytes(hdr.ramOffset, int(hdr.Used))
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}
	buf := make([]byte, hdr.Used)
	_, err := hdr.file.ReadAt(buf, hdr.fileOffset)
	return buf, err
}

func sliceUpTo(b []byte, from, to int) []byte {
	if to > len(b) {
		to = len(b)
	}
	if from > to {
		from = to
	}
	return b[from:to]
}
