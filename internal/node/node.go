// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package node wires the Buffer Pool, Metadata Manager, System View
// State, swap file, and RPC transport into one running Hermes node.
package node

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	log "github.com/golang/glog"

	"github.com/hermes-hpc/hermes/internal/bufferpool"
	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/internal/mdstore"
	"github.com/hermes-hpc/hermes/internal/metadata"
	"github.com/hermes-hpc/hermes/internal/swap"
	"github.com/hermes-hpc/hermes/internal/sysview"
	"github.com/hermes-hpc/hermes/pkg/hermesrpc"
)

// Node is one Hermes node: its share of the Buffer Pool, its slice of
// the sharded directory, its System View State, its swap file, and
// the RPC server every other node in the cluster reaches it through.
type Node struct {
	Config *Config

	Pool     *bufferpool.Pool
	Store    *mdstore.Store
	Metadata *metadata.Manager
	SysView  *sysview.Manager
	Swap     *swap.File

	client  *hermesrpc.Client
	server  *hermesrpc.Server
	ln      net.Listener
	started time.Time

	stop chan struct{}
}

// New builds a Node from cfg without starting its RPC listener or
// reconciliation loop; call Start for that. Every owned component is
// built first, their cross-references wired, then the value handed
// back for the caller to start explicitly.
func New(cfg *Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	book := make(hermesrpc.StaticAddressBook, len(cfg.Peers))
	for id, addr := range cfg.Peers {
		book[id] = addr
	}
	book[cfg.NodeID] = cfg.Addr

	n := &Node{
		Config: cfg,
		client: hermesrpc.NewClient(book, cfg.DialTimeout, cfg.RPCTimeout, cfg.MaxConns),
		server: hermesrpc.NewServer(),
		stop:   make(chan struct{}),
	}
	remote := &remoteClient{client: n.client}

	pool, err := bufferpool.New(cfg.NodeID, cfg.Tiers, remote)
	if err != nil {
		return nil, fmt.Errorf("node: building buffer pool: %w", err)
	}
	n.Pool = pool

	n.Store = mdstore.New(nil, mdstore.Config{
		MaxBuckets:  cfg.MaxBuckets,
		MaxVBuckets: cfg.MaxVBuckets,
		MaxBlobs:    cfg.MaxBlobs,
	})

	localCaps := cfg.LocalDeviceCapacities
	if len(localCaps) == 0 {
		localCaps = []uint64{0} // device 0 (RAM), filled in from the host below
	}
	n.SysView = sysview.NewManager(cfg.NodeID, localCaps, cfg.GlobalDeviceCapacities, remote)
	if len(cfg.LocalDeviceCapacities) == 0 {
		sysview.SeedLocalRAMFromHost(n.SysView)
	}
	n.Pool.SetPending(n.SysView.Pending)

	if cfg.SwapDir != "" {
		path := filepath.Join(cfg.SwapDir, swap.GetFilename(cfg.SwapPrefix, cfg.SwapSuffix, cfg.NodeID))
		sf, err := swap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("node: opening swap file: %w", err)
		}
		n.Swap = sf
	}

	n.Metadata = metadata.NewManager(cfg.NodeID, cfg.NumNodes, metadata.Config{
		MaxBuckets:  cfg.MaxBuckets,
		MaxVBuckets: cfg.MaxVBuckets,
	}, n.Store, n.Pool, n.SysView, cfg.LocalTargets, remote)

	if err := n.server.RegisterName(serviceName, &Service{n: n}); err != nil {
		return nil, fmt.Errorf("node: registering RPC service: %w", err)
	}
	n.mountStatus()

	return n, nil
}

// Start begins serving RPC on Config.Addr and, unless interval is
// zero, runs the System View State reconciliation loop until Stop is
// called. The listener is served from a background goroutine, so
// Start returns as soon as it is bound.
func (n *Node) Start() error {
	ln, err := net.Listen("tcp", n.Config.Addr)
	if err != nil {
		return fmt.Errorf("node: listening on %s: %w", n.Config.Addr, err)
	}
	n.ln = ln
	n.started = time.Now()
	go func() {
		if err := n.server.Serve(ln); err != nil {
			log.Infof("node %d: RPC server stopped: %v", n.Config.NodeID, err)
		}
	}()

	if n.Config.SystemViewUpdateInterval > 0 {
		go n.SysView.ReconcileLoop(n.Config.SystemViewUpdateInterval, n.stop)
	}

	log.Infof("node %d: listening on %s", n.Config.NodeID, n.Config.Addr)
	return nil
}

// Stop signals background loops to exit, closes the listener started
// in Start, releases the client's RPC connections, and closes the swap
// file.
func (n *Node) Stop() {
	close(n.stop)
	if n.ln != nil {
		n.ln.Close()
	}
	n.client.Close()
	if n.Swap != nil {
		n.Swap.Close()
	}
}

// Addr returns the address Start actually bound, which may differ from
// Config.Addr when it named an ephemeral port ("host:0"), as tests
// hosting several in-process nodes do.
func (n *Node) Addr() string {
	if n.ln != nil {
		return n.ln.Addr().String()
	}
	return n.Config.Addr
}

// PutBufferIDs writes data across schema-selected buffers on behalf of
// a caller that has already decided placement (the Data Placement
// Engine is out of scope; the core contract is blob read/write onto a
// given buffer list). On core.ErrPoolExhausted the caller may fall
// back to swap via SpillToSwap.
func (n *Node) PutBufferIDs(data []byte, schema core.TieredSchema) ([]core.BufferID, error) {
	ids, err := n.Pool.GetBuffers(schema)
	if err != nil {
		return nil, err
	}
	if err := n.Pool.WriteBlobToBuffers(data, ids); err != nil {
		n.Pool.ReleaseBuffers(ids)
		return nil, err
	}
	return ids, nil
}

// SpillToSwap appends data to this node's swap file and returns the
// 4-entry BufferID list encoding of the resulting swap.Blob record,
// the shape AttachBlobToBucket expects when isSwap is true: the caller
// (Metadata Manager) may spill via the Swap Manager when the Buffer
// Pool can't satisfy a schema.
func (n *Node) SpillToSwap(bucketID core.BucketID, data []byte) ([]core.BufferID, error) {
	if n.Swap == nil {
		return nil, core.ErrPoolExhausted.Error()
	}
	offset, err := n.Swap.Append(data)
	if err != nil {
		return nil, err
	}
	blob := swap.Blob{NodeID: n.Config.NodeID, Offset: offset, Size: uint32(len(data)), BucketID: bucketID}
	ids := blob.ToBufferIDs()
	return ids[:], nil
}

// ReadSwap recovers the bytes a SpillToSwap-produced BufferID list
// points at.
func (n *Node) ReadSwap(ids []core.BufferID) ([]byte, error) {
	blob, ok := swap.FromBufferIDs(ids)
	if !ok {
		return nil, core.ErrInvalidBlob.Error()
	}
	if blob.NodeID != n.Config.NodeID {
		return nil, core.ErrNotSupported.Error()
	}
	return n.Swap.ReadAt(blob.Offset, blob.Size)
}

// PutBlob is the whole-blob convenience path for a caller with no
// Buffer Pool of its own to drive directly, such as an admin CLI
// process: it composes GetOrCreateBucketID, PutBufferIDs (falling back
// to SpillToSwap on ErrPoolExhausted), and AttachBlobToBucket the same
// way a colocated caller would, all against this node's own tiers.
func (n *Node) PutBlob(bucketName, blobName string, data []byte, schema core.TieredSchema) (core.BucketID, core.BlobID, error) {
	bucketID, err := n.Metadata.GetOrCreateBucketID(bucketName)
	if err != nil {
		return 0, core.BlobID{}, err
	}

	ids, err := n.PutBufferIDs(data, schema)
	isSwap := false
	if err == core.ErrPoolExhausted.Error() {
		ids, err = n.SpillToSwap(bucketID, data)
		isSwap = true
	}
	if err != nil {
		n.Metadata.DecrementRefcount(bucketID)
		return 0, core.BlobID{}, err
	}

	if err := n.Metadata.AttachBlobToBucket(blobName, bucketID, ids, isSwap); err != nil {
		return 0, core.BlobID{}, err
	}
	blobID, err := n.Metadata.GetBlobID(blobName, bucketID)
	return bucketID, blobID, err
}

// GetBlob is the inverse of PutBlob: resolve bucketName/blobName to a
// BlobID, fetch its buffer id list, and read the bytes back. Reading a
// blob that was spilled to swap on a different node than the one
// contacted isn't supported; PutBlob and GetBlob calls for a given
// blob should land on the same node when swap is in play.
func (n *Node) GetBlob(bucketName, blobName string) ([]byte, error) {
	bucketID, err := n.Metadata.GetBucketID(bucketName)
	if err != nil {
		return nil, err
	}
	if bucketID.IsNull() {
		return nil, core.ErrNoSuchBlob.Error()
	}

	blobID, err := n.Metadata.GetBlobID(blobName, bucketID)
	if err != nil {
		return nil, err
	}
	if blobID.IsNull() {
		return nil, core.ErrNoSuchBlob.Error()
	}

	ids, err := n.Metadata.GetBufferIDList(blobID)
	if err != nil {
		return nil, err
	}

	if blobID.IsSwap() {
		if blobID.HomeNode() != n.Config.NodeID {
			return nil, core.ErrNotSupported.Error()
		}
		return n.ReadSwap(ids)
	}
	return n.Pool.ReadBlobFromBuffers(ids)
}

// DestroyBlob resolves bucketName to a BucketID and tears down blobName
// within it, the name-only convenience form of DestroyBlobByName.
func (n *Node) DestroyBlob(bucketName, blobName string) error {
	bucketID, err := n.Metadata.GetBucketID(bucketName)
	if err != nil {
		return err
	}
	if bucketID.IsNull() {
		return core.ErrNoSuchBlob.Error()
	}
	return n.Metadata.DestroyBlobByName(bucketID, blobName)
}

