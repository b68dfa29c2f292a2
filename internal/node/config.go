// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package node

import (
	"fmt"
	"time"

	"github.com/hermes-hpc/hermes/internal/bufferpool"
	"github.com/hermes-hpc/hermes/internal/core"
)

// Config bundles everything one Hermes node needs to construct its
// Buffer Pool, Metadata Manager, System View State, swap file, and RPC
// endpoint: a flat struct of primitives plus nested option groups, a
// Validate method, and a DefaultProdConfig package variable.
type Config struct {
	NodeID   core.NodeID
	NumNodes uint32

	// Addr is this node's own RPC listen address. Peers maps every
	// other node id in the cluster (this node's own entry is ignored)
	// to its dialable address, a static table standing in for cluster
	// membership discovery.
	Addr  string
	Peers map[core.NodeID]string

	Tiers        []bufferpool.TierSpec
	LocalTargets []core.TargetID

	MaxBuckets  int
	MaxVBuckets int
	MaxBlobs    int

	// LocalDeviceCapacities seeds this node's System View State Local
	// view, one entry per LocalTargets device. GlobalDeviceCapacities
	// only matters on sysview.GlobalStateNode.
	LocalDeviceCapacities  []uint64
	GlobalDeviceCapacities []uint64

	// SwapDir/SwapPrefix/SwapSuffix name this node's append-only spill
	// file: swap.GetFilename(SwapPrefix, SwapSuffix, NodeID) under
	// SwapDir.
	SwapDir    string
	SwapPrefix string
	SwapSuffix string

	DialTimeout time.Duration
	RPCTimeout  time.Duration
	MaxConns    int

	SystemViewUpdateInterval time.Duration
}

// Validate checks that Config has reasonable, non-obviously-wrong
// values.
func (c *Config) Validate() error {
	if !c.NodeID.IsValid() {
		return fmt.Errorf("node: NodeID must be nonzero")
	}
	if c.NumNodes == 0 {
		return fmt.Errorf("node: NumNodes must be positive")
	}
	if c.Addr == "" {
		return fmt.Errorf("node: Addr must not be empty")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("node: at least one tier must be configured")
	}
	if c.MaxBuckets <= 0 || c.MaxVBuckets <= 0 {
		return fmt.Errorf("node: MaxBuckets and MaxVBuckets must be positive")
	}
	return nil
}

// DefaultProdConfig specifies the default values for Config used in a
// production deployment. Cluster-specific fields (NodeID, Addr, Peers,
// Tiers) are intentionally left zero for the caller to fill in.
var DefaultProdConfig = Config{
	NumNodes:                 1,
	MaxBuckets:               1 << 16,
	MaxVBuckets:              1 << 12,
	MaxBlobs:                 1 << 20,
	SwapPrefix:               "hermes_swap_",
	SwapSuffix:               ".dat",
	DialTimeout:              5 * time.Second,
	RPCTimeout:               30 * time.Second,
	MaxConns:                 64,
	SystemViewUpdateInterval: time.Second,
}
