// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package node

import (
	"github.com/hermes-hpc/hermes/internal/core"
)

// serviceName is the net/rpc service name every Remote* method is
// registered and dialed under.
const serviceName = "Node"

// Service is the RPC receiver a Node registers on its own
// hermesrpc.Server. Every exported method is one of the wire
// operations plus the Buffer Pool/System View State remote forms
// internal/bufferpool and internal/sysview declare their own
// RemoteClient/RemoteApplier interfaces for. Each of those methods
// unwraps its Args struct and calls straight through to the matching
// Local* method on the owning component, since by the time such a call
// reaches here the client has already resolved this node as the
// target. The by-name convenience methods (RemotePutBlob,
// RemoteGetBlob, RemoteResolveBucket and the like) instead call
// Manager/Node methods that do their own routing.
type Service struct {
	n *Node
}

// ---- Metadata Manager (internal/metadata) ----

// Get/Put/Delete operate directly on this node's mdstore.Store: they
// back the RemoteClient.Get/Put/Delete primitives internal/metadata
// dispatches to when a name's hash owner isn't the calling node,
// bypassing Manager's own hash routing since the owner is already
// known to be this node.

func (s *Service) RemoteGet(args *core.GetArgs, reply *core.GetReply) error {
	id, _ := s.n.Metadata.Store.Get(args.Name, args.MapType)
	reply.ID = id
	return nil
}

func (s *Service) RemotePut(args *core.PutArgs, reply *core.OKReply) error {
	if !s.n.Metadata.Store.Put(args.Name, args.ID, args.MapType) {
		return core.ErrArenaExhausted.Error()
	}
	return nil
}

func (s *Service) RemoteDelete(args *core.DeleteArgs, reply *core.OKReply) error {
	s.n.Metadata.Store.Delete(args.Name, args.MapType)
	return nil
}

func (s *Service) RemoteGetOrCreateBucketId(args *core.GetOrCreateIDArgs, reply *core.GetOrCreateIDReply) error {
	id, err := s.n.Metadata.LocalGetOrCreateBucketID(args.Name)
	reply.ID = uint64(id)
	return err
}

func (s *Service) RemoteGetOrCreateVBucketId(args *core.GetOrCreateIDArgs, reply *core.GetOrCreateIDReply) error {
	id, err := s.n.Metadata.LocalGetOrCreateVBucketID(args.Name)
	reply.ID = uint64(id)
	return err
}

func (s *Service) RemoteAllocateBufferIdList(args *core.AllocateBufferIDListArgs, reply *core.AllocateBufferIDListReply) error {
	reply.Offset = s.n.Metadata.LocalAllocateBufferIDList(args.BufferIDs)
	return nil
}

func (s *Service) RemoteGetBufferIdList(args *core.GetBufferIDListArgs, reply *core.GetBufferIDListReply) error {
	reply.BufferIDs = s.n.Metadata.LocalGetBufferIDList(args.BlobID)
	return nil
}

func (s *Service) RemoteFreeBufferIdList(args *core.FreeBufferIDListArgs, reply *core.OKReply) error {
	s.n.Metadata.LocalFreeBufferIDList(args.BlobID)
	return nil
}

func (s *Service) RemoteAddBlobIdToBucket(args *core.AddBlobIDToBucketArgs, reply *core.OKReply) error {
	s.n.Metadata.LocalAddBlobIDToBucket(args.BucketID, args.BlobID)
	return nil
}

func (s *Service) RemoteAddBlobIdToVBucket(args *core.AddBlobIDToVBucketArgs, reply *core.OKReply) error {
	s.n.Metadata.LocalAddBlobIDToVBucket(args.VBucketID, args.BlobID)
	return nil
}

func (s *Service) RemoteDestroyBlobByName(args *core.DestroyBlobByNameArgs, reply *core.OKReply) error {
	return s.n.Metadata.LocalDestroyBlobByName(args.BlobName, args.BlobID, args.BucketID)
}

func (s *Service) RemoteDestroyBlobById(args *core.DestroyBlobByIDArgs, reply *core.OKReply) error {
	return s.n.Metadata.LocalDestroyBlobByID(args.BlobID, args.BucketID)
}

func (s *Service) RemoteDestroyBucket(args *core.DestroyBucketArgs, reply *core.DestroyBucketReply) error {
	destroyed, err := s.n.Metadata.LocalDestroyBucket(args.Name, args.BucketID)
	reply.Destroyed = destroyed
	return err
}

func (s *Service) RemoteRenameBucket(args *core.RenameBucketArgs, reply *core.OKReply) error {
	return s.n.Metadata.LocalRenameBucket(args.ID, args.OldName, args.NewName)
}

func (s *Service) RemoteContainsBlob(args *core.ContainsBlobArgs, reply *core.ContainsBlobReply) error {
	reply.Contains = s.n.Metadata.LocalContainsBlob(args.BucketID, args.BlobID)
	return nil
}

func (s *Service) RemoteRemoveBlobFromBucketInfo(args *core.RemoveBlobFromBucketInfoArgs, reply *core.OKReply) error {
	s.n.Metadata.LocalRemoveBlobFromBucketInfo(args.BucketID, args.BlobID)
	return nil
}

func (s *Service) RemoteGetBlobNameFromId(args *core.GetBlobNameFromIDArgs, reply *core.GetBlobNameFromIDReply) error {
	name, err := s.n.Metadata.GetBlobNameFromID(args.BlobID)
	reply.Name = name
	return err
}

func (s *Service) RemoteGetBucketIdFromBlobId(args *core.GetBucketIDFromBlobIDArgs, reply *core.GetBucketIDFromBlobIDReply) error {
	bucketID, err := s.n.Metadata.GetBucketIDFromBlobID(args.BlobID)
	reply.BucketID = bucketID
	return err
}

func (s *Service) RemoteDecrementRefcount(args *core.DecrementRefcountArgs, reply *core.OKReply) error {
	s.n.Metadata.LocalDecrementRefcount(core.BucketID(args.ID))
	return nil
}

func (s *Service) RemoteDecrementRefcountVBucket(args *core.DecrementRefcountArgs, reply *core.OKReply) error {
	s.n.Metadata.LocalDecrementVBucketRefcount(core.VBucketID(args.ID))
	return nil
}

func (s *Service) RemoteGetNodeTargets(args *core.EmptyArgs, reply *core.GetNodeTargetsReply) error {
	reply.Targets = s.n.Metadata.LocalGetNodeTargets()
	return nil
}

func (s *Service) RemoteGetRemainingTargetCapacity(args *core.GetRemainingTargetCapacityArgs, reply *core.GetRemainingTargetCapacityReply) error {
	reply.Bytes = s.n.Metadata.LocalGetRemainingTargetCapacity(args.Target)
	return nil
}

// ---- Buffer Pool (internal/bufferpool) ----

func (s *Service) RemoteGetBuffers(args *core.GetBuffersArgs, reply *core.GetBuffersReply) error {
	ids, err := s.n.Pool.GetBuffers(args.Schema)
	reply.BufferIDs = ids
	return err
}

func (s *Service) RemoteReleaseBuffers(args *core.ReleaseBuffersArgs, reply *core.OKReply) error {
	return s.n.Pool.ReleaseBuffers(args.BufferIDs)
}

func (s *Service) RemoteWriteBuffer(args *core.WriteBufferArgs, reply *core.OKReply) error {
	return s.n.Pool.WriteBlobToBuffers(args.Data, []core.BufferID{args.BufferID})
}

func (s *Service) RemoteReadBuffer(args *core.ReadBufferArgs, reply *core.ReadBufferReply) error {
	data, err := s.n.Pool.ReadBlobFromBuffers([]core.BufferID{args.BufferID})
	reply.Data = data
	return err
}

func (s *Service) RemoteGetBufferSize(args *core.GetBufferSizeArgs, reply *core.GetBufferSizeReply) error {
	size, err := s.n.Pool.GetBufferSize(args.BufferID)
	reply.Size = size
	return err
}

// ---- System View State (internal/sysview) ----

func (s *Service) RemoteUpdateGlobalSystemViewState(args *core.UpdateGlobalSystemViewStateArgs, reply *core.OKReply) error {
	return s.n.SysView.ApplyGlobalAdjustments(args.Adjustments)
}

func (s *Service) RemoteGetGlobalDeviceCapacities(args *core.EmptyArgs, reply *core.GetGlobalDeviceCapacitiesReply) error {
	capacities, err := s.n.SysView.GetGlobalDeviceCapacities()
	reply.BytesAvailable = capacities
	return err
}

// ---- Whole-blob convenience path (cmd/hermesctl) ----

func (s *Service) RemotePutBlob(args *core.PutBlobArgs, reply *core.PutBlobReply) error {
	bucketID, blobID, err := s.n.PutBlob(args.BucketName, args.BlobName, args.Data, args.Schema)
	reply.BucketID = bucketID
	reply.BlobID = blobID
	return err
}

func (s *Service) RemoteGetBlob(args *core.GetBlobArgs, reply *core.GetBlobReply) error {
	data, err := s.n.GetBlob(args.BucketName, args.BlobName)
	reply.Data = data
	return err
}

func (s *Service) RemoteDestroyBlob(args *core.DestroyBlobArgs, reply *core.OKReply) error {
	return s.n.DestroyBlob(args.BucketName, args.BlobName)
}

func (s *Service) RemoteResolveBucket(args *core.ResolveBucketArgs, reply *core.ResolveBucketReply) error {
	id, err := s.n.Metadata.GetBucketID(args.Name)
	reply.ID = id
	return err
}

func (s *Service) RemoteDestroyBucketByName(args *core.DestroyBucketByNameArgs, reply *core.DestroyBucketByNameReply) error {
	id, err := s.n.Metadata.GetBucketID(args.Name)
	if err != nil {
		return err
	}
	if id.IsNull() {
		return core.ErrNoSuchBucket.Error()
	}
	destroyed, err := s.n.Metadata.DestroyBucket(args.Name, id)
	reply.Destroyed = destroyed
	return err
}

func (s *Service) RemoteRenameBucketByName(args *core.RenameBucketByNameArgs, reply *core.OKReply) error {
	id, err := s.n.Metadata.GetBucketID(args.OldName)
	if err != nil {
		return err
	}
	if id.IsNull() {
		return core.ErrNoSuchBucket.Error()
	}
	return s.n.Metadata.RenameBucket(id, args.OldName, args.NewName)
}

func (s *Service) RemoteContainsBlobByName(args *core.ContainsBlobByNameArgs, reply *core.ContainsBlobByNameReply) error {
	id, err := s.n.Metadata.GetBucketID(args.BucketName)
	if err != nil {
		return err
	}
	if id.IsNull() {
		return core.ErrNoSuchBucket.Error()
	}
	contains, err := s.n.Metadata.ContainsBlob(id, args.BlobName)
	reply.Contains = contains
	return err
}
