// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package hermesrpc

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hermes-hpc/hermes/internal/core"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_rpc_calls_total",
		Help: "RPC calls issued by the client, by service method and result.",
	}, []string{"method", "result"})
	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "hermes_rpc_call_duration_seconds",
		Help: "RPC call latency as observed by the client, by service method.",
	}, []string{"method"})
)

// AddressBook resolves a NodeID to a dialable "host:port" address.
// internal/node supplies the concrete implementation, typically backed
// by static configuration.
type AddressBook interface {
	Address(node core.NodeID) (string, bool)
}

// StaticAddressBook is the simplest AddressBook: a fixed map handed to
// a node at startup from its Config.
type StaticAddressBook map[core.NodeID]string

// Address implements AddressBook.
func (a StaticAddressBook) Address(node core.NodeID) (string, bool) {
	addr, ok := a[node]
	return addr, ok
}

// Client is the node-addressable RPC client. internal/node wraps it in
// the adapter that the components talking cross-node
// (internal/bufferpool, internal/sysview, internal/metadata) are
// handed at construction time.
type Client struct {
	Book AddressBook
	cc   *ConnectionCache
}

// NewClient creates a Client whose ConnectionCache uses the given
// dial/RPC timeouts and connection cap.
func NewClient(book AddressBook, dialTimeout, rpcTimeout time.Duration, maxConns int) *Client {
	return &Client{Book: book, cc: NewConnectionCache(dialTimeout, rpcTimeout, maxConns)}
}

// Call issues one RPC named service.method to the given node.
func (c *Client) Call(ctx context.Context, node core.NodeID, method string, args, reply interface{}) error {
	start := time.Now()
	err := c.call(ctx, node, method, args, reply)
	callDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	callsTotal.WithLabelValues(method, result).Inc()
	return err
}

func (c *Client) call(ctx context.Context, node core.NodeID, method string, args, reply interface{}) error {
	addr, ok := c.Book.Address(node)
	if !ok {
		return fmt.Errorf("hermesrpc: no address known for node %d", node)
	}
	return c.cc.Call(ctx, addr, method, args, reply)
}

// Close releases every cached connection.
func (c *Client) Close() { c.cc.CloseAll() }
