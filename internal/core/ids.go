// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package core holds the identifiers, tier/target model, wire message
// shapes, and error kinds shared by every Hermes component. Nothing in
// this package talks to shared memory, the network, or disk; it is the
// vocabulary the rest of the tree is built out of.
package core

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

/*

Every id in Hermes is a 64-bit value with a union view: the high 32
bits identify the owning node, the low 32 bits are an index or offset
within that owner's local state. The home node of any id is therefore
computable without consulting any directory.

  BucketID / VBucketID:

    +----------------------+----------------------+
    |   NodeID (4 bytes)   |   Index (4 bytes)     |
    +----------------------+----------------------+

  BufferID (the low 32 bits pack a slab class and a header index so
  that a BufferID names one BufferHeader within one Tier's slab
  arrays):

    +----------------------+------------+-----------------------+
    |   NodeID (4 bytes)   | Slab (1B)  |  HeaderIndex (3 bytes) |
    +----------------------+------------+-----------------------+

  BlobID (the node id is signed; negative means the blob lives in
  swap):

    +----------------------+----------------------+
    |  NodeID (4 bytes, ±) |  BufferIdsOffset (4B) |
    +----------------------+----------------------+

  TargetID:

    +----------------------+----------------------+
    |   NodeID (4 bytes)   |  DeviceID (4 bytes)   |
    +----------------------+----------------------+
*/

// ErrInvalidID is returned when a string representation of an id is malformed.
var ErrInvalidID = errors.New("hermes: invalid id format")

// NodeID identifies a Hermes node. Valid NodeIDs start from 1.
type NodeID uint32

// IsValid reports whether n is a usable node id.
func (n NodeID) IsValid() bool { return n != 0 }

// BucketID names a Bucket. The zero value is the null BucketID.
type BucketID uint64

// BucketIDFromParts packs a node id and slot index into a BucketID.
func BucketIDFromParts(node NodeID, index uint32) BucketID {
	return BucketID(uint64(node)<<32 | uint64(index))
}

// Node returns the owning node of b.
func (b BucketID) Node() NodeID { return NodeID(b >> 32) }

// Index returns the slot index of b within its owning node's bucket table.
func (b BucketID) Index() uint32 { return uint32(b) }

// IsNull reports whether b is the null BucketID.
func (b BucketID) IsNull() bool { return b == 0 }

// String returns a stable hex representation of b.
func (b BucketID) String() string { return fmt.Sprintf("%016x", uint64(b)) }

// VBucketID names a VBucket. The zero value is the null VBucketID.
type VBucketID uint64

// VBucketIDFromParts packs a node id and slot index into a VBucketID.
func VBucketIDFromParts(node NodeID, index uint32) VBucketID {
	return VBucketID(uint64(node)<<32 | uint64(index))
}

// Node returns the owning node of v.
func (v VBucketID) Node() NodeID { return NodeID(v >> 32) }

// Index returns the slot index of v within its owning node's vbucket table.
func (v VBucketID) Index() uint32 { return uint32(v) }

// IsNull reports whether v is the null VBucketID.
func (v VBucketID) IsNull() bool { return v == 0 }

// String returns a stable hex representation of v.
func (v VBucketID) String() string { return fmt.Sprintf("%016x", uint64(v)) }

// BlobID names a Blob's buffer-id-list. Its node id is signed: a
// negative node id denotes a blob that has been spilled to swap on the
// node whose id is the absolute value.
type BlobID struct {
	NodeID          int32
	BufferIdsOffset uint32
}

// BlobIDFromParts packs a (possibly negated, for swap) node id and a
// buffer-id-list offset into a BlobID.
func BlobIDFromParts(nodeID int32, offset uint32) BlobID {
	return BlobID{NodeID: nodeID, BufferIdsOffset: offset}
}

// IsNull reports whether id is the null BlobID.
func (id BlobID) IsNull() bool { return id.NodeID == 0 && id.BufferIdsOffset == 0 }

// IsSwap reports whether id refers to a blob spilled to swap storage.
func (id BlobID) IsSwap() bool { return id.NodeID < 0 }

// HomeNode returns the node that owns id's buffer-id-list, independent
// of whether the blob is in swap.
func (id BlobID) HomeNode() NodeID {
	if id.NodeID < 0 {
		return NodeID(-id.NodeID)
	}
	return NodeID(id.NodeID)
}

// AsUint64 packs id into the 64-bit wire representation used as a map
// value and as a BufferID-compatible entry when a BlobID needs to be
// stored alongside BufferIDs: both are 8 bytes wide.
func (id BlobID) AsUint64() uint64 {
	return uint64(uint32(id.NodeID))<<32 | uint64(id.BufferIdsOffset)
}

// BlobIDFromUint64 is the inverse of AsUint64.
func BlobIDFromUint64(v uint64) BlobID {
	return BlobID{NodeID: int32(uint32(v >> 32)), BufferIdsOffset: uint32(v)}
}

// String returns a stable hex representation of id.
func (id BlobID) String() string { return fmt.Sprintf("%016x", id.AsUint64()) }

// SlabClass identifies a size class within a Tier's set of slabs.
type SlabClass uint8

// BufferID names one BufferHeader within one node's tiers.
type BufferID struct {
	NodeID      NodeID
	Slab        SlabClass
	HeaderIndex uint32 // low 24 bits significant
}

const headerIndexBits = 24
const headerIndexMask = (1 << headerIndexBits) - 1

// BufferIDFromParts packs a node id, slab class, and header index into
// a BufferID. HeaderIndex must fit in 24 bits.
func BufferIDFromParts(node NodeID, slab SlabClass, headerIndex uint32) BufferID {
	if headerIndex > headerIndexMask {
		panic("core: header index overflows BufferID's 24-bit field")
	}
	return BufferID{NodeID: node, Slab: slab, HeaderIndex: headerIndex}
}

// IsNull reports whether id is the null BufferID.
func (id BufferID) IsNull() bool {
	return id.NodeID == 0 && id.Slab == 0 && id.HeaderIndex == 0
}

// AsUint64 packs id into its 64-bit wire representation.
func (id BufferID) AsUint64() uint64 {
	low := uint32(id.Slab)<<headerIndexBits | (id.HeaderIndex & headerIndexMask)
	return uint64(id.NodeID)<<32 | uint64(low)
}

// BufferIDFromUint64 is the inverse of AsUint64.
func BufferIDFromUint64(v uint64) BufferID {
	low := uint32(v)
	return BufferID{
		NodeID:      NodeID(v >> 32),
		Slab:        SlabClass(low >> headerIndexBits),
		HeaderIndex: low & headerIndexMask,
	}
}

// String returns a stable hex representation of id.
func (id BufferID) String() string { return fmt.Sprintf("%016x", id.AsUint64()) }

// DeviceID identifies a storage device (one per Tier, generally) within a node.
type DeviceID uint32

// TargetID names a placement destination: a (node, device) pair.
type TargetID struct {
	NodeID   NodeID
	DeviceID DeviceID
}

// IsNull reports whether t is the null TargetID.
func (t TargetID) IsNull() bool { return t.NodeID == 0 && t.DeviceID == 0 }

// AsUint64 packs t into its 64-bit wire representation.
func (t TargetID) AsUint64() uint64 { return uint64(t.NodeID)<<32 | uint64(t.DeviceID) }

// TargetIDFromUint64 is the inverse of AsUint64.
func TargetIDFromUint64(v uint64) TargetID {
	return TargetID{NodeID: NodeID(v >> 32), DeviceID: DeviceID(uint32(v))}
}

func (t TargetID) String() string {
	return fmt.Sprintf("(node=%d,device=%d)", t.NodeID, t.DeviceID)
}

// kBucketIdStringSize is the fixed width, in hex characters, of the
// BucketID prefix on an internal blob key: two hex characters per byte
// of a BucketID.
const kBucketIdStringSize = 2 * 8 // sizeof(BucketID) == 8 bytes

// MakeInternalBlobName builds the flat directory key for a blob: the
// hex encoding of its owning BucketID, followed by the blob's external
// name. Hex encoding is required (not raw bytes) because the internal
// name is used as a map key that, in other implementations, gets
// treated as a NUL-terminated string; hex guarantees no embedded NUL.
//
// Byte order is canonically big-endian (most significant byte of the
// BucketID first), matching the original Hermes implementation's
// iteration order.
func MakeInternalBlobName(name string, bucket BucketID) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(bucket))
	return hex.EncodeToString(buf[:]) + name
}

// SplitInternalBlobName is the inverse of MakeInternalBlobName: it
// recovers the (external name, BucketID) pair from a flat directory
// key. ok is false if internalName is too short to contain a bucket
// prefix.
func SplitInternalBlobName(internalName string) (name string, bucket BucketID, ok bool) {
	if len(internalName) < kBucketIdStringSize {
		return "", 0, false
	}
	raw, err := hex.DecodeString(internalName[:kBucketIdStringSize])
	if err != nil || len(raw) != 8 {
		return "", 0, false
	}
	bucket = BucketID(binary.BigEndian.Uint64(raw))
	return internalName[kBucketIdStringSize:], bucket, true
}
