// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

// Global constants that several components need to agree on are defined
// here. A constant only needed by a single component should live there
// instead.
const (
	// MaxTiers bounds the number of storage tiers a single BufferPool
	// can be configured with.
	MaxTiers = 8

	// MaxBufferPoolSlabs bounds the number of slab classes within a
	// single Tier.
	MaxBufferPoolSlabs = 8

	// MaxBucketNameSize is the maximum length, including the implicit
	// terminator budget, of a Bucket name.
	MaxBucketNameSize = 256

	// MaxVBucketNameSize is the maximum length of a VBucket name.
	MaxVBucketNameSize = 256

	// MaxBlobNameSize is the maximum length of a Blob's external name.
	MaxBlobNameSize = 256

	// MaxTraitsPerVBucket bounds the number of Traits attachable to one VBucket.
	MaxTraitsPerVBucket = 8

	// SwapBlobMembersCount is the fixed length of the BufferID list a
	// SwapBlob record is packed into: node, offset, size, bucket.
	SwapBlobMembersCount = 4
)

// SwapBlobMember indexes the fixed-size BufferID list that encodes a
// SwapBlob record.
type SwapBlobMember int

const (
	SwapBlobMemberNodeID SwapBlobMember = iota
	SwapBlobMemberOffset
	SwapBlobMemberSize
	SwapBlobMemberBucketID
)
