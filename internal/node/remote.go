// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package node

import (
	"context"

	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/pkg/hermesrpc"
)

// remoteClient is the single hermesrpc.Client-backed type that
// satisfies internal/metadata.RemoteClient, internal/bufferpool.RemoteClient,
// and internal/sysview.RemoteApplier: one Call per method, dialing the
// target node's Service under serviceName. None of internal/metadata,
// internal/bufferpool, or internal/sysview import pkg/hermesrpc
// directly; they reach it only through this type, keeping the wire
// transport swappable behind three small interfaces.
type remoteClient struct {
	client *hermesrpc.Client
}

func (r *remoteClient) call(node core.NodeID, method string, args, reply interface{}) error {
	return r.client.Call(context.Background(), node, serviceName+"."+method, args, reply)
}

// ---- internal/metadata.RemoteClient ----

func (r *remoteClient) Get(node core.NodeID, name string, mt core.MapType) (uint64, error) {
	var reply core.GetReply
	err := r.call(node, "RemoteGet", &core.GetArgs{Name: name, MapType: mt}, &reply)
	return reply.ID, err
}

func (r *remoteClient) Put(node core.NodeID, name string, id uint64, mt core.MapType) error {
	return r.call(node, "RemotePut", &core.PutArgs{Name: name, ID: id, MapType: mt}, &core.OKReply{})
}

func (r *remoteClient) Delete(node core.NodeID, name string, mt core.MapType) error {
	return r.call(node, "RemoteDelete", &core.DeleteArgs{Name: name, MapType: mt}, &core.OKReply{})
}

func (r *remoteClient) GetOrCreateBucketID(node core.NodeID, name string) (core.BucketID, error) {
	var reply core.GetOrCreateIDReply
	err := r.call(node, "RemoteGetOrCreateBucketId", &core.GetOrCreateIDArgs{Name: name}, &reply)
	return core.BucketID(reply.ID), err
}

func (r *remoteClient) GetOrCreateVBucketID(node core.NodeID, name string) (core.VBucketID, error) {
	var reply core.GetOrCreateIDReply
	err := r.call(node, "RemoteGetOrCreateVBucketId", &core.GetOrCreateIDArgs{Name: name}, &reply)
	return core.VBucketID(reply.ID), err
}

func (r *remoteClient) AllocateBufferIDList(node core.NodeID, ids []core.BufferID) (uint32, error) {
	var reply core.AllocateBufferIDListReply
	err := r.call(node, "RemoteAllocateBufferIdList", &core.AllocateBufferIDListArgs{BufferIDs: ids}, &reply)
	return reply.Offset, err
}

func (r *remoteClient) GetBufferIDList(node core.NodeID, blob core.BlobID) ([]core.BufferID, error) {
	var reply core.GetBufferIDListReply
	err := r.call(node, "RemoteGetBufferIdList", &core.GetBufferIDListArgs{BlobID: blob}, &reply)
	return reply.BufferIDs, err
}

func (r *remoteClient) FreeBufferIDList(node core.NodeID, blob core.BlobID) error {
	return r.call(node, "RemoteFreeBufferIdList", &core.FreeBufferIDListArgs{BlobID: blob}, &core.OKReply{})
}

func (r *remoteClient) AddBlobIDToBucket(node core.NodeID, bucket core.BucketID, blob core.BlobID) error {
	return r.call(node, "RemoteAddBlobIdToBucket", &core.AddBlobIDToBucketArgs{BucketID: bucket, BlobID: blob}, &core.OKReply{})
}

func (r *remoteClient) AddBlobIDToVBucket(node core.NodeID, vbucket core.VBucketID, blob core.BlobID) error {
	return r.call(node, "RemoteAddBlobIdToVBucket", &core.AddBlobIDToVBucketArgs{VBucketID: vbucket, BlobID: blob}, &core.OKReply{})
}

func (r *remoteClient) DestroyBlobByName(node core.NodeID, name string, blob core.BlobID, bucket core.BucketID) error {
	return r.call(node, "RemoteDestroyBlobByName", &core.DestroyBlobByNameArgs{BlobName: name, BlobID: blob, BucketID: bucket}, &core.OKReply{})
}

func (r *remoteClient) DestroyBlobByID(node core.NodeID, blob core.BlobID, bucket core.BucketID) error {
	return r.call(node, "RemoteDestroyBlobById", &core.DestroyBlobByIDArgs{BlobID: blob, BucketID: bucket}, &core.OKReply{})
}

func (r *remoteClient) DestroyBucket(node core.NodeID, name string, bucket core.BucketID) (bool, error) {
	var reply core.DestroyBucketReply
	err := r.call(node, "RemoteDestroyBucket", &core.DestroyBucketArgs{Name: name, BucketID: bucket}, &reply)
	return reply.Destroyed, err
}

func (r *remoteClient) RenameBucket(node core.NodeID, id core.BucketID, oldName, newName string) error {
	return r.call(node, "RemoteRenameBucket", &core.RenameBucketArgs{ID: id, OldName: oldName, NewName: newName}, &core.OKReply{})
}

func (r *remoteClient) ContainsBlob(node core.NodeID, bucket core.BucketID, blob core.BlobID) (bool, error) {
	var reply core.ContainsBlobReply
	err := r.call(node, "RemoteContainsBlob", &core.ContainsBlobArgs{BucketID: bucket, BlobID: blob}, &reply)
	return reply.Contains, err
}

func (r *remoteClient) RemoveBlobFromBucketInfo(node core.NodeID, bucket core.BucketID, blob core.BlobID) error {
	return r.call(node, "RemoteRemoveBlobFromBucketInfo", &core.RemoveBlobFromBucketInfoArgs{BucketID: bucket, BlobID: blob}, &core.OKReply{})
}

func (r *remoteClient) GetBlobNameFromID(node core.NodeID, blob core.BlobID) (string, error) {
	var reply core.GetBlobNameFromIDReply
	err := r.call(node, "RemoteGetBlobNameFromId", &core.GetBlobNameFromIDArgs{BlobID: blob}, &reply)
	return reply.Name, err
}

func (r *remoteClient) GetBucketIDFromBlobID(node core.NodeID, blob core.BlobID) (core.BucketID, error) {
	var reply core.GetBucketIDFromBlobIDReply
	err := r.call(node, "RemoteGetBucketIdFromBlobId", &core.GetBucketIDFromBlobIDArgs{BlobID: blob}, &reply)
	return reply.BucketID, err
}

func (r *remoteClient) DecrementBucketRefcount(node core.NodeID, id core.BucketID) error {
	return r.call(node, "RemoteDecrementRefcount", &core.DecrementRefcountArgs{ID: uint64(id)}, &core.OKReply{})
}

func (r *remoteClient) DecrementVBucketRefcount(node core.NodeID, id core.VBucketID) error {
	return r.call(node, "RemoteDecrementRefcountVBucket", &core.DecrementRefcountArgs{ID: uint64(id)}, &core.OKReply{})
}

func (r *remoteClient) GetNodeTargets(node core.NodeID) ([]core.TargetID, error) {
	var reply core.GetNodeTargetsReply
	err := r.call(node, "RemoteGetNodeTargets", &core.EmptyArgs{}, &reply)
	return reply.Targets, err
}

func (r *remoteClient) GetRemainingTargetCapacity(node core.NodeID, target core.TargetID) (uint64, error) {
	var reply core.GetRemainingTargetCapacityReply
	err := r.call(node, "RemoteGetRemainingTargetCapacity", &core.GetRemainingTargetCapacityArgs{Target: target}, &reply)
	return reply.Bytes, err
}

// ---- internal/bufferpool.RemoteClient ----

func (r *remoteClient) GetBuffers(target core.NodeID, schema core.TieredSchema) ([]core.BufferID, error) {
	var reply core.GetBuffersReply
	err := r.call(target, "RemoteGetBuffers", &core.GetBuffersArgs{Schema: schema}, &reply)
	return reply.BufferIDs, err
}

func (r *remoteClient) ReleaseBuffers(target core.NodeID, ids []core.BufferID) error {
	return r.call(target, "RemoteReleaseBuffers", &core.ReleaseBuffersArgs{BufferIDs: ids}, &core.OKReply{})
}

func (r *remoteClient) WriteBuffer(id core.BufferID, data []byte) error {
	return r.call(id.NodeID, "RemoteWriteBuffer", &core.WriteBufferArgs{BufferID: id, Data: data}, &core.OKReply{})
}

func (r *remoteClient) ReadBuffer(id core.BufferID) ([]byte, error) {
	var reply core.ReadBufferReply
	err := r.call(id.NodeID, "RemoteReadBuffer", &core.ReadBufferArgs{BufferID: id}, &reply)
	return reply.Data, err
}

func (r *remoteClient) GetBufferSize(id core.BufferID) (uint32, error) {
	var reply core.GetBufferSizeReply
	err := r.call(id.NodeID, "RemoteGetBufferSize", &core.GetBufferSizeArgs{BufferID: id}, &reply)
	return reply.Size, err
}

// ---- internal/sysview.RemoteApplier ----

func (r *remoteClient) ApplyGlobalAdjustments(target core.NodeID, adjustments []int64) error {
	return r.call(target, "RemoteUpdateGlobalSystemViewState", &core.UpdateGlobalSystemViewStateArgs{Adjustments: adjustments}, &core.OKReply{})
}

func (r *remoteClient) FetchGlobalDeviceCapacities(target core.NodeID) ([]uint64, error) {
	var reply core.GetGlobalDeviceCapacitiesReply
	err := r.call(target, "RemoteGetGlobalDeviceCapacities", &core.EmptyArgs{}, &reply)
	return reply.BytesAvailable, err
}
