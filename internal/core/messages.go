// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

// This file contains the request/reply shapes carried over the RPC
// layer for every public Metadata Manager operation. Each pairs with
// a Remote* method registered on the RPC server;
// the Local* Go method underneath takes the unwrapped arguments
// directly, so these structs exist purely as net/rpc's calling
// convention (one args value, one reply value) requires.

// MapType selects one of the Metadata Storage's three logical maps.
type MapType int

const (
	MapTypeBucket MapType = iota
	MapTypeVBucket
	MapTypeBlob
)

// GetArgs / GetReply carry a raw string -> id lookup in one of the
// three logical maps.
type GetArgs struct {
	Name    string
	MapType MapType
}

type GetReply struct {
	ID uint64
}

// PutArgs binds a raw string key to an id in one of the three logical maps.
type PutArgs struct {
	Name    string
	ID      uint64
	MapType MapType
}

// DeleteArgs removes a raw string key from one of the three logical maps.
type DeleteArgs struct {
	Name    string
	MapType MapType
}

// GetOrCreateIDArgs / Reply implement GetOrCreateBucketId / GetOrCreateVBucketId.
type GetOrCreateIDArgs struct {
	Name string
}

type GetOrCreateIDReply struct {
	ID uint64
}

// AllocateBufferIDListArgs / Reply implement AllocateBufferIdList.
type AllocateBufferIDListArgs struct {
	BufferIDs []BufferID
}

type AllocateBufferIDListReply struct {
	Offset uint32
}

// GetBufferIDListArgs / Reply implement GetBufferIdList.
type GetBufferIDListArgs struct {
	BlobID BlobID
}

type GetBufferIDListReply struct {
	BufferIDs []BufferID
}

// FreeBufferIDListArgs implements FreeBufferIdList.
type FreeBufferIDListArgs struct {
	BlobID BlobID
}

// AddBlobIDToBucketArgs implements AddBlobIdToBucket.
type AddBlobIDToBucketArgs struct {
	BucketID BucketID
	BlobID   BlobID
}

// AddBlobIDToVBucketArgs implements AddBlobIdToVBucket.
type AddBlobIDToVBucketArgs struct {
	VBucketID VBucketID
	BlobID    BlobID
}

// DestroyBlobByNameArgs implements DestroyBlobByName.
type DestroyBlobByNameArgs struct {
	BlobName string
	BlobID   BlobID
	BucketID BucketID
}

// DestroyBlobByIDArgs implements DestroyBlobById.
type DestroyBlobByIDArgs struct {
	BlobID   BlobID
	BucketID BucketID
}

// DestroyBucketArgs implements DestroyBucket.
type DestroyBucketArgs struct {
	Name     string
	BucketID BucketID
}

type DestroyBucketReply struct {
	Destroyed bool
}

// RenameBucketArgs implements RenameBucket.
type RenameBucketArgs struct {
	ID      BucketID
	OldName string
	NewName string
}

// ContainsBlobArgs / Reply implement ContainsBlob.
type ContainsBlobArgs struct {
	BucketID BucketID
	BlobID   BlobID
}

type ContainsBlobReply struct {
	Contains bool
}

// RemoveBlobFromBucketInfoArgs implements RemoveBlobFromBucketInfo.
type RemoveBlobFromBucketInfoArgs struct {
	BucketID BucketID
	BlobID   BlobID
}

// GetBufferSizeArgs / Reply implement GetBufferSize.
type GetBufferSizeArgs struct {
	BufferID BufferID
}

type GetBufferSizeReply struct {
	Size uint32
}

// GetNodeTargetsReply implements GetNodeTargets.
type GetNodeTargetsReply struct {
	Targets []TargetID
}

// GetRemainingTargetCapacityArgs / Reply implement GetRemainingTargetCapacity.
type GetRemainingTargetCapacityArgs struct {
	Target TargetID
}

type GetRemainingTargetCapacityReply struct {
	Bytes uint64
}

// GetGlobalDeviceCapacitiesReply implements GetGlobalDeviceCapacities.
type GetGlobalDeviceCapacitiesReply struct {
	BytesAvailable []uint64
}

// UpdateGlobalSystemViewStateArgs implements UpdateGlobalSystemViewState.
type UpdateGlobalSystemViewStateArgs struct {
	Adjustments []int64
}

// GetBlobNameFromIDArgs / Reply implement GetBlobNameFromId.
type GetBlobNameFromIDArgs struct {
	BlobID BlobID
}

type GetBlobNameFromIDReply struct {
	Name string
}

// GetBucketIDFromBlobIDArgs / Reply implement GetBucketIdFromBlobId.
type GetBucketIDFromBlobIDArgs struct {
	BlobID BlobID
}

type GetBucketIDFromBlobIDReply struct {
	BucketID BucketID
}

// DecrementRefcountArgs implements DecrementRefcount / DecrementRefcountVBucket.
type DecrementRefcountArgs struct {
	ID uint64
}

// WriteBufferArgs streams bytes to an owner node for a single remote buffer write.
type WriteBufferArgs struct {
	BufferID BufferID
	Data     []byte
}

// ReadBufferArgs / Reply streams bytes back from an owner node for a
// single remote buffer read.
type ReadBufferArgs struct {
	BufferID BufferID
}

type ReadBufferReply struct {
	Data []byte
}

// ReleaseBuffersArgs implements the remote form of ReleaseBuffers.
type ReleaseBuffersArgs struct {
	BufferIDs []BufferID
}

// GetBuffersArgs / Reply implement the remote form of GetBuffers for a
// single tier's slice of a TieredSchema.
type GetBuffersArgs struct {
	Schema TieredSchema
}

type GetBuffersReply struct {
	BufferIDs []BufferID
}

// EmptyArgs is used by RPCs that carry no arguments beyond what
// net/rpc's calling convention requires (exactly one args value per
// call), such as RemoteGetNodeTargets and RemoteGetGlobalDeviceCapacities.
type EmptyArgs struct{}

// OKReply is used by RPCs whose only meaningful result is success or
// failure, carried by the call's error return rather than any field.
type OKReply struct{}

// PutBlobArgs / Reply implement the whole-blob convenience path a
// client with no local Buffer Pool of its own drives: the contacted
// node claims buffers from its own tiers (falling back to its own swap
// file on ErrPoolExhausted), writes data into them, and registers the
// result under bucketName/blobName, exactly as a caller colocated with
// that node's package would by composing GetBuffers, WriteBlobToBuffers,
// and AttachBlobToBucket itself.
type PutBlobArgs struct {
	BucketName string
	BlobName   string
	Data       []byte
	Schema     TieredSchema
}

type PutBlobReply struct {
	BucketID BucketID
	BlobID   BlobID
}

// GetBlobArgs / Reply implement the inverse of PutBlobArgs: resolve
// bucketName/blobName to a BlobID, fetch its buffer id list, and read
// the bytes back out, following remote buffer ownership the same way
// Pool.ReadBlobFromBuffers does.
type GetBlobArgs struct {
	BucketName string
	BlobName   string
}

type GetBlobReply struct {
	Data []byte
}

// DestroyBlobArgs implements the name-only convenience path over
// DestroyBlobByName, resolving bucketName to a BucketID first.
type DestroyBlobArgs struct {
	BucketName string
	BlobName   string
}

// ResolveBucketArgs / Reply look a bucket name up without creating it,
// following Manager.GetBucketID's own hash-owner dispatch so the
// caller doesn't need to know it.
type ResolveBucketArgs struct {
	Name string
}

type ResolveBucketReply struct {
	ID BucketID
}

// DestroyBucketByNameArgs / Reply resolve name to a BucketID and
// destroy it, the name-only convenience form of DestroyBucket.
type DestroyBucketByNameArgs struct {
	Name string
}

type DestroyBucketByNameReply struct {
	Destroyed bool
}

// RenameBucketByNameArgs is the name-only convenience form of
// RenameBucket: it resolves oldName to a BucketID itself.
type RenameBucketByNameArgs struct {
	OldName string
	NewName string
}

// ContainsBlobByNameArgs / Reply resolve bucketName to a BucketID and
// check for blobName within it, the name-only convenience form of
// ContainsBlob.
type ContainsBlobByNameArgs struct {
	BucketName string
	BlobName   string
}

type ContainsBlobByNameReply struct {
	Contains bool
}
