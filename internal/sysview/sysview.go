// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package sysview implements the System View State: each node's view
// of remaining device capacity, and the single authoritative Global
// System View State that lives on node 1. Local buffer allocation and
// release only ever touches per-device atomic counters; those changes
// are folded into the Global view periodically rather than on every
// operation, so the global picture is eventually, not immediately,
// consistent.
package sysview

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/golang/glog"
	sigar "github.com/cloudfoundry/gosigar"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hermes-hpc/hermes/internal/core"
)

// Capacity gauges are registered once at package scope: a test binary
// hosting several simulated nodes builds one Manager per node, and a
// second promauto call under the same metric name would panic on
// duplicate registration.
var (
	localDeviceBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermes_sysview_local_device_bytes_available",
		Help: "This node's local view of remaining bytes available per device.",
	}, []string{"device"})
	globalDeviceBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hermes_sysview_global_device_bytes_available",
		Help: "The authoritative cluster-wide remaining bytes available per device, as tracked on the Global System View State owner.",
	}, []string{"device"})
)

// GlobalStateNode is the node that owns the authoritative Global
// System View State. Grounded on the original implementation's "Only
// Node 1 has the Global SystemViewState" comment.
const GlobalStateNode = core.NodeID(1)

// State is one node's view of device capacities: local (this node's
// own devices, as configured or seeded at startup; allocations and
// releases are recorded in PendingAdjustments and do not change it) or global
// (every device in the cluster, updated only through reconciliation).
type State struct {
	bytesAvailable []int64 // atomic
}

// NewState creates a State with one counter per device, seeded from
// capacities.
func NewState(capacities []uint64) *State {
	s := &State{bytesAvailable: make([]int64, len(capacities))}
	for i, c := range capacities {
		s.bytesAvailable[i] = int64(c)
	}
	return s
}

// NumDevices returns the number of devices this State tracks.
func (s *State) NumDevices() int { return len(s.bytesAvailable) }

// BytesAvailable returns the current byte count for device i.
func (s *State) BytesAvailable(i int) uint64 {
	return uint64(atomic.LoadInt64(&s.bytesAvailable[i]))
}

// Adjust adds delta (positive or negative) to device i's counter.
func (s *State) Adjust(i int, delta int64) {
	atomic.AddInt64(&s.bytesAvailable[i], delta)
}

// Snapshot returns every device's current byte count.
func (s *State) Snapshot() []uint64 {
	out := make([]uint64, len(s.bytesAvailable))
	for i := range out {
		out[i] = s.BytesAvailable(i)
	}
	return out
}

// PendingAdjustments accumulates local capacity deltas between
// reconciliation rounds. GetBuffers/ReleaseBuffers call Record as
// they claim or free space; the reconciliation loop periodically
// drains everything with DrainAll (an atomic exchange-and-zero per
// device, matching the original's use of std::atomic::exchange).
type PendingAdjustments struct {
	deltas []int64 // atomic
}

// NewPendingAdjustments creates an accumulator for numDevices devices.
func NewPendingAdjustments(numDevices int) *PendingAdjustments {
	return &PendingAdjustments{deltas: make([]int64, numDevices)}
}

// NumDevices returns the number of devices this accumulator tracks.
func (p *PendingAdjustments) NumDevices() int { return len(p.deltas) }

// Record adds delta to device i's pending adjustment.
func (p *PendingAdjustments) Record(i int, delta int64) {
	atomic.AddInt64(&p.deltas[i], delta)
}

// DrainAll atomically exchanges every device's pending delta for 0
// and returns the drained values.
func (p *PendingAdjustments) DrainAll() []int64 {
	out := make([]int64, len(p.deltas))
	for i := range p.deltas {
		out[i] = atomic.SwapInt64(&p.deltas[i], 0)
	}
	return out
}

// RemoteApplier is implemented by whatever RPC client internal/node
// wires up, letting reconciliation forward adjustments to the Global
// System View State's owning node without importing pkg/hermesrpc.
type RemoteApplier interface {
	ApplyGlobalAdjustments(target core.NodeID, adjustments []int64) error
	FetchGlobalDeviceCapacities(target core.NodeID) ([]uint64, error)
}

// Manager owns a node's Local State, its pending adjustments, and (on
// GlobalStateNode) the one Global State for the whole cluster.
type Manager struct {
	NodeID core.NodeID
	Remote RemoteApplier

	Local   *State
	Pending *PendingAdjustments

	mu     sync.Mutex
	Global *State // non-nil only on GlobalStateNode
}

// NewManager builds a Manager for nodeID with local device capacities
// and, if nodeID is GlobalStateNode, an initialized Global State
// covering globalCapacities (the whole cluster's devices).
func NewManager(nodeID core.NodeID, localCapacities, globalCapacities []uint64, remote RemoteApplier) *Manager {
	m := &Manager{
		NodeID:  nodeID,
		Remote:  remote,
		Local:   NewState(localCapacities),
		Pending: NewPendingAdjustments(len(localCapacities)),
	}
	if nodeID == GlobalStateNode {
		m.Global = NewState(globalCapacities)
	}
	m.updateLocalGauges()
	m.updateGlobalGauges()
	return m
}

func (m *Manager) updateLocalGauges() {
	for i, bytes := range m.Local.Snapshot() {
		localDeviceBytes.WithLabelValues(strconv.Itoa(i)).Set(float64(bytes))
	}
}

func (m *Manager) updateGlobalGauges() {
	if m.Global == nil {
		return
	}
	for i, bytes := range m.Global.Snapshot() {
		globalDeviceBytes.WithLabelValues(strconv.Itoa(i)).Set(float64(bytes))
	}
}

// SeedLocalRAMFromHost overwrites device 0's local capacity with the
// host's actual available RAM, for deployments that don't pin a fixed
// RAM-tier size in configuration.
func SeedLocalRAMFromHost(m *Manager) {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		log.Errorf("sysview: failed to read host memory info: %v", err)
		return
	}
	if m.Local.NumDevices() == 0 {
		return
	}
	atomic.StoreInt64(&m.Local.bytesAvailable[0], int64(mem.ActualFree))
	m.updateLocalGauges()
}

// UpdateGlobalSystemViewState drains this node's pending adjustments
// and applies them to the Global System View State, locally if this
// node owns it, or over RPC otherwise. It is a no-op if nothing
// changed since the last call.
func (m *Manager) UpdateGlobalSystemViewState() error {
	adjustments := m.Pending.DrainAll()

	updateNeeded := false
	for _, a := range adjustments {
		if a != 0 {
			updateNeeded = true
			break
		}
	}
	if !updateNeeded {
		return nil
	}

	if m.NodeID == GlobalStateNode {
		m.applyGlobalAdjustments(adjustments)
		return nil
	}
	if m.Remote == nil {
		return core.ErrRPC.Error()
	}
	return m.Remote.ApplyGlobalAdjustments(GlobalStateNode, adjustments)
}

// ApplyGlobalAdjustments is the receiving side of a
// RemoteUpdateGlobalSystemViewState call: it applies adjustments
// (already drained by the caller) to this node's Global State.
func (m *Manager) ApplyGlobalAdjustments(adjustments []int64) error {
	if m.NodeID != GlobalStateNode {
		return core.ErrNotSupported.Error()
	}
	m.applyGlobalAdjustments(adjustments)
	return nil
}

func (m *Manager) applyGlobalAdjustments(adjustments []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range adjustments {
		if a != 0 && i < m.Global.NumDevices() {
			m.Global.Adjust(i, a)
			log.V(1).Infof("sysview: device %d adjusted by %d bytes", i, a)
		}
	}
	m.updateGlobalGauges()
}

// GetGlobalDeviceCapacities returns the whole cluster's device
// capacities, following remote dispatch when this node isn't
// GlobalStateNode.
func (m *Manager) GetGlobalDeviceCapacities() ([]uint64, error) {
	if m.NodeID == GlobalStateNode {
		return m.Global.Snapshot(), nil
	}
	if m.Remote == nil {
		return nil, core.ErrRPC.Error()
	}
	return m.Remote.FetchGlobalDeviceCapacities(GlobalStateNode)
}

// ReconcileLoop periodically calls UpdateGlobalSystemViewState until
// stop is closed.
func (m *Manager) ReconcileLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.UpdateGlobalSystemViewState(); err != nil {
				log.Warningf("sysview: reconciliation failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}
