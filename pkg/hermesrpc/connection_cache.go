// Copyright (c) 2016 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package hermesrpc

import (
	"context"
	"errors"
	"net/rpc"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	log "github.com/golang/glog"
)

// ErrConnect is returned if we can't connect to the RPC server.
var ErrConnect = errors.New("hermesrpc: could not connect")

// ConnectionCache creates and caches RPC connections to node
// addresses. It is thread-safe.
type ConnectionCache struct {
	lock sync.Mutex
	conns *lru.Cache

	dialTimeout time.Duration
	rpcTimeout  time.Duration
}

// NewConnectionCache makes a new ConnectionCache. maxConns bounds how
// many idle connections are kept; 0 means unbounded.
func NewConnectionCache(dialTimeout, rpcTimeout time.Duration, maxConns int) *ConnectionCache {
	if maxConns < 0 {
		log.Fatalf("hermesrpc: max connections cannot be negative")
	}
	conns := lru.New(maxConns)
	conns.OnEvicted = onConnEvicted
	return &ConnectionCache{conns: conns, dialTimeout: dialTimeout, rpcTimeout: rpcTimeout}
}

type refCntClient struct {
	count int
	clt   *rpc.Client
}

func (c *refCntClient) decAndMaybeClose() (closed bool) {
	c.count--
	if c.count == 0 {
		c.clt.Close()
		return true
	}
	return false
}

func onConnEvicted(key lru.Key, val interface{}) {
	log.V(10).Infof("hermesrpc: %v evicted from connection cache", key)
	val.(*refCntClient).decAndMaybeClose()
}

func (cc *ConnectionCache) get(ctx context.Context, addr string) *refCntClient {
	cc.lock.Lock()
	if v, ok := cc.conns.Get(addr); ok {
		rc := v.(*refCntClient)
		rc.count++
		cc.lock.Unlock()
		return rc
	}
	cc.lock.Unlock()

	nctx, cancel := context.WithTimeout(ctx, cc.dialTimeout)
	defer cancel()
	clt, err := dialHTTPContext(nctx, "tcp", addr)
	if err != nil {
		log.Infof("hermesrpc: error connecting to %s: %v", addr, err)
		return nil
	}

	cc.lock.Lock()
	if v, ok := cc.conns.Get(addr); ok {
		rc := v.(*refCntClient)
		rc.count++
		cc.lock.Unlock()
		clt.Close()
		return rc
	}
	rc := &refCntClient{count: 2, clt: clt}
	cc.conns.Add(addr, rc)
	cc.lock.Unlock()
	return rc
}

func (cc *ConnectionCache) done(addr string, oldConn *refCntClient, err error) {
	cc.lock.Lock()
	defer cc.lock.Unlock()
	if oldConn.decAndMaybeClose() {
		return
	}
	if err == nil {
		return
	}
	if newConn, ok := cc.conns.Get(addr); ok && newConn == oldConn {
		cc.conns.Remove(addr)
		log.Errorf("hermesrpc: connection to %s lost: %v", addr, err)
	}
}

// Call sends one RPC to addr and blocks for a reply or ctx expiring.
func (cc *ConnectionCache) Call(ctx context.Context, addr, method string, args, reply interface{}) error {
	rc := cc.get(ctx, addr)
	if rc == nil {
		return ErrConnect
	}

	nctx, cancel := context.WithTimeout(ctx, cc.rpcTimeout)
	defer cancel()

	call := rc.clt.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		cc.done(addr, rc, call.Error)
		if call.Error == rpc.ErrShutdown {
			return cc.Call(nctx, addr, method, args, reply)
		}
		return call.Error
	case <-nctx.Done():
		err := nctx.Err()
		log.Errorf("hermesrpc: call %q to %s: %v", method, addr, err)
		cc.done(addr, rc, nil)
		return err
	}
}

// Remove closes and evicts the cached connection to addr, if any.
func (cc *ConnectionCache) Remove(addr string) {
	cc.lock.Lock()
	cc.conns.Remove(addr)
	cc.lock.Unlock()
}

// CloseAll closes every cached connection.
func (cc *ConnectionCache) CloseAll() {
	cc.lock.Lock()
	defer cc.lock.Unlock()
	for cc.conns.Len() > 0 {
		cc.conns.RemoveOldest()
	}
}
