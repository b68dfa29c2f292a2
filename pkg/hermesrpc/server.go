// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package hermesrpc is the transport every Hermes node uses to talk
// to every other node: node-addressable Local*/Remote* dispatch is
// decided one layer up (internal/metadata, internal/bufferpool,
// internal/sysview); this package only gets a method call from one
// process to another and back.
//
// It is net/rpc wrapped in an HTTP CONNECT hijack, so that RPC traffic
// can share a port with each node's HTML status page.
package hermesrpc

import (
	"io"
	"net"
	"net/http"
	"net/rpc"
	"sync"

	log "github.com/golang/glog"
)

const (
	rpcPath         = "/_hermes_rpc_"
	connectedStatus = "200 Connected to Hermes RPC"
)

var handleHTTPOnce sync.Once

// RegisterName wraps rpc.RegisterName, which uses the default RPC
// server, and lazily wires up the HTTP CONNECT handler the first time
// anything is registered. It is the right choice for a daemon that
// hosts exactly one Hermes node per process.
func RegisterName(name string, rcvr interface{}) error {
	handleHTTPOnce.Do(func() {
		http.HandleFunc(rpcPath, func(w http.ResponseWriter, req *http.Request) {
			serveHTTP(rpc.DefaultServer, w, req)
		})
	})
	return rpc.RegisterName(name, rcvr)
}

// ListenAndServe starts an HTTP server on addr serving mux
// (http.DefaultServeMux when nil). Only the default mux answers RPC
// CONNECT requests at rpcPath, once RegisterName has been called; the
// caller may register additional handlers (e.g. a status page) on the
// same mux before calling this.
func ListenAndServe(addr string, mux *http.ServeMux) error {
	if mux == nil {
		mux = http.DefaultServeMux
	}
	return http.ListenAndServe(addr, mux)
}

func serveHTTP(srv *rpc.Server, w http.ResponseWriter, req *http.Request) {
	// Hermes's RPC payloads are small, bounded structs, not
	// multi-megabyte tract transfers, so the stdlib gob codec is used
	// directly rather than a checksummed bulk codec.
	if req.Method != "CONNECT" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusMethodNotAllowed)
		io.WriteString(w, "405 must CONNECT\n")
		return
	}
	conn, _, err := w.(http.Hijacker).Hijack()
	if err != nil {
		log.Errorf("hermesrpc: hijacking %s: %v", req.RemoteAddr, err)
		return
	}
	io.WriteString(conn, "HTTP/1.0 "+connectedStatus+"\n\n")
	srv.ServeConn(conn)
}

// Server is an independently addressable RPC endpoint backed by its
// own *rpc.Server rather than the package-level default one. internal/node
// uses one Server per Node so that a single test process can host
// several Hermes nodes without their registered method names
// colliding on a shared global registry, something RegisterName's
// package-level DefaultServer cannot do.
type Server struct {
	rpcServer *rpc.Server
	mux       *http.ServeMux
}

// NewServer creates an empty Server ready for RegisterName calls.
func NewServer() *Server {
	s := &Server{rpcServer: rpc.NewServer(), mux: http.NewServeMux()}
	s.mux.HandleFunc(rpcPath, func(w http.ResponseWriter, req *http.Request) {
		serveHTTP(s.rpcServer, w, req)
	})
	return s
}

// RegisterName registers rcvr's exported methods under name on this
// Server alone.
func (s *Server) RegisterName(name string, rcvr interface{}) error {
	return s.rpcServer.RegisterName(name, rcvr)
}

// Handler returns the http.Handler that answers RPC CONNECT requests,
// so a caller can mount additional handlers (a status page) alongside
// it on one listener.
func (s *Server) Handler() *http.ServeMux { return s.mux }

// Serve accepts connections on ln, answering RPC and any other
// handlers registered on s.Handler(), until ln is closed.
func (s *Server) Serve(ln net.Listener) error {
	return http.Serve(ln, s.mux)
}
