// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package swap implements the append-only spill path a Blob takes
// when no tier can hold it: an in-process record of where the bytes
// landed on a node's swap file, packed into a fixed 4-entry BufferID
// list that is stored wherever a normally-buffered Blob's BufferID
// list would go. The negated node id in the Blob's BlobID is what
// marks it as a swap blob.
package swap

import (
	"fmt"
	"os"
	"sync"

	"github.com/hermes-hpc/hermes/internal/core"
)

// Blob describes one spilled blob's location on a node's swap file.
// Grounded on metadata_management.cc's SwapBlob struct.
type Blob struct {
	NodeID   core.NodeID
	Offset   int64
	Size     uint32
	BucketID core.BucketID
}

// ToBufferIDs packs blob into the fixed 4-entry BufferID list
// convention (node, offset, size, bucket) used to store a SwapBlob
// wherever a normal BufferID list would go. Grounded on
// SwapBlobToVec.
func (b Blob) ToBufferIDs() [core.SwapBlobMembersCount]core.BufferID {
	var out [core.SwapBlobMembersCount]core.BufferID
	out[core.SwapBlobMemberNodeID] = core.BufferIDFromUint64(uint64(b.NodeID))
	out[core.SwapBlobMemberOffset] = core.BufferIDFromUint64(uint64(b.Offset))
	out[core.SwapBlobMemberSize] = core.BufferIDFromUint64(uint64(b.Size))
	out[core.SwapBlobMemberBucketID] = core.BufferIDFromUint64(uint64(b.BucketID))
	return out
}

// FromBufferIDs is the inverse of ToBufferIDs. ok is false if ids is
// not exactly core.SwapBlobMembersCount long. Grounded on
// VecToSwapBlob.
func FromBufferIDs(ids []core.BufferID) (Blob, bool) {
	if len(ids) != core.SwapBlobMembersCount {
		return Blob{}, false
	}
	return Blob{
		NodeID:   core.NodeID(ids[core.SwapBlobMemberNodeID].AsUint64()),
		Offset:   int64(ids[core.SwapBlobMemberOffset].AsUint64()),
		Size:     uint32(ids[core.SwapBlobMemberSize].AsUint64()),
		BucketID: core.BucketID(ids[core.SwapBlobMemberBucketID].AsUint64()),
	}, true
}

// GetFilename builds the swap file path for nodeID from a
// configured prefix/suffix, matching the original's
// prefix+node_id+suffix concatenation.
func GetFilename(prefix, suffix string, nodeID core.NodeID) string {
	return fmt.Sprintf("%s%d%s", prefix, nodeID, suffix)
}

// File is a single node's append-only swap spill file. Writes append
// and return the byte offset the caller should remember (typically
// inside a Blob); reads are plain pread-style random access. There is
// no reclamation: freed swap regions are never reused, leaving swap
// reclamation out of scope (see DESIGN.md).
type File struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

// Open opens (creating if necessary) the swap file at path.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("swap: opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, size: info.Size()}, nil
}

// Append writes data to the end of the file and returns the offset it
// was written at.
func (sf *File) Append(data []byte) (int64, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	offset := sf.size
	n, err := sf.f.WriteAt(data, offset)
	if err != nil {
		return 0, err
	}
	sf.size += int64(n)
	return offset, nil
}

// ReadAt reads size bytes starting at offset.
func (sf *File) ReadAt(offset int64, size uint32) ([]byte, error) {
	buf := make([]byte, size)
	_, err := sf.f.ReadAt(buf, offset)
	return buf, err
}

// Close closes the underlying file.
func (sf *File) Close() error { return sf.f.Close() }
