// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package core

// Error is our own defined error type for sending errors over an RPC layer.
type Error int

const (
	// NoError means no error.
	NoError = Error(iota)

	//------ Naming/validation errors ------//

	// ErrBucketNameTooLong is returned when a Bucket name exceeds MaxBucketNameSize.
	ErrBucketNameTooLong

	// ErrVBucketNameTooLong is returned when a VBucket name exceeds MaxVBucketNameSize.
	ErrVBucketNameTooLong

	// ErrBlobNameTooLong is returned when a Blob name exceeds MaxBlobNameSize.
	ErrBlobNameTooLong

	// ErrInvalidBlob is returned when blob data is nil but a non-zero size was requested.
	ErrInvalidBlob

	//------ Directory/lifecycle errors ------//

	// ErrBucketInUse is returned when DestroyBucket is called on a bucket
	// whose refcount is still non-zero.
	ErrBucketInUse

	// ErrVBucketInUse is returned when DestroyVBucket is called on a
	// vbucket whose refcount is still non-zero.
	ErrVBucketInUse

	// ErrNoSuchBucket is returned when an operation names a bucket that doesn't exist.
	ErrNoSuchBucket

	// ErrNoSuchVBucket is returned when an operation names a vbucket that doesn't exist.
	ErrNoSuchVBucket

	// ErrNoSuchBlob is returned when an operation names a blob that doesn't exist.
	ErrNoSuchBlob

	//------ Capacity errors ------//

	// ErrPoolExhausted is returned when GetBuffers cannot satisfy a
	// TieredSchema out of any tier's free lists.
	ErrPoolExhausted

	// ErrSlotExhausted is returned when a node has no free bucket or
	// vbucket slot left to hand out.
	ErrSlotExhausted

	// ErrArenaExhausted is returned when the shared metadata arena has no
	// room left to grow a hash map or allocate a new record. Fatal.
	ErrArenaExhausted

	//------ Transport errors ------//

	// ErrRPC is returned when the RPC layer errors during sending/receiving.
	ErrRPC

	// ErrRPCTimeout is returned when a remote call exceeded its deadline.
	ErrRPCTimeout

	//------ Meta-errors ------//

	// ErrNotSupported is returned for an operation this node cannot
	// serve, such as a Global System View State update on a node that
	// does not own it, or reading a swap blob spilled on another node.
	ErrNotSupported

	// ErrUnknown is an error that we're not really sure about.
	ErrUnknown
)

var description = map[Error]string{
	NoError: "no error",

	ErrBucketNameTooLong:  "bucket name exceeds the maximum allowed length",
	ErrVBucketNameTooLong: "vbucket name exceeds the maximum allowed length",
	ErrBlobNameTooLong:    "blob name exceeds the maximum allowed length",
	ErrInvalidBlob:        "blob data is nil but size is non-zero",

	ErrBucketInUse:   "bucket is still open, refcount > 0",
	ErrVBucketInUse:  "vbucket is still open, refcount > 0",
	ErrNoSuchBucket:  "bucket does not exist",
	ErrNoSuchVBucket: "vbucket does not exist",
	ErrNoSuchBlob:    "blob does not exist, cannot succeed without it",

	ErrPoolExhausted:  "no tier had enough free space to satisfy the schema",
	ErrSlotExhausted:  "no free bucket/vbucket slot remains on this node",
	ErrArenaExhausted: "metadata arena capacity exceeded",

	ErrRPC:        "RPC-level error",
	ErrRPCTimeout: "RPC call exceeded its deadline",

	ErrNotSupported: "operation not supported",
	ErrUnknown:      "unknown error!!!! contact a programming professional to diagnose",
}

// String returns a human readable error message.
func (e Error) String() string {
	if s, ok := description[e]; ok {
		return s
	}
	return "NO DESCRIPTION FOR ERROR FIX THIS"
}

// Error returns a golang error object with an error message corresponding to
// this core.Error.
func (e Error) Error() error {
	if e == NoError {
		return nil
	}
	return goError(e)
}

// Is checks whether the generic Go error 'g' is actually the receiver Hermes
// error underneath.
func (e Error) Is(g error) bool {
	b, ok := g.(goError)
	return ok && (Error)(b) == e
}

// goError is a wrapper type to make our Error act like Go's 'error'.
type goError Error

// Error implements the 'error' interface.
func (g goError) Error() string {
	return (Error)(g).String()
}

// HermesError gets the underlying core.Error from an error.
func HermesError(err error) (Error, bool) {
	e, ok := err.(goError)
	return Error(e), ok
}

// IsRetriableHermesError checks if this is 1) core.Error 2) retriable.
func IsRetriableHermesError(err error) bool {
	if goerr, ok := err.(goError); ok {
		return IsRetriableError(Error(goerr))
	}
	return false
}

// IsRetriableError checks if we should retry an operation that failed with
// this error, possibly against a different node or with a different
// TieredSchema. We consider errors that might be transient to be retriable.
func IsRetriableError(err Error) bool {
	switch err {
	case ErrRPC,
		ErrRPCTimeout,
		ErrPoolExhausted,
		ErrSlotExhausted:
		return true
	}
	return false
}
