// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	sigar "github.com/cloudfoundry/gosigar"
	log "github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const statusTemplateStr = `
<!doctype html>
<html lang="en">
<head>
  <title>hermes node status</title>
  <style>
    table.status { border-collapse: collapse; }
    table.status td, table.status th {
      border: 1px solid #DDD;
      text-align: left;
      padding: 6px 10px;
    }
    table.status th { background-color: #339966; color: white; }
    table.status tr:nth-child(even) { background-color: #F2F2F2; }
  </style>
</head>
<body>
<h3>hermes node {{.NodeID}} — {{.Addr}}</h3>
<table class="status">
  <tr><th>Field</th><th>Value</th></tr>
  <tr><td>Node ID</td><td>{{.NodeID}}</td></tr>
  <tr><td>Cluster size</td><td>{{.NumNodes}}</td></tr>
  <tr><td>Listen address</td><td>{{.Addr}}</td></tr>
  <tr><td>Peers</td><td>{{range $id, $addr := .Peers}}{{$id}}=<a href="http://{{$addr}}">{{$addr}}</a>&nbsp;{{end}}</td></tr>
  <tr><td>Local targets</td><td>{{.NumLocalTargets}}</td></tr>
  <tr><td>Free memory</td><td>{{.FreeMemMB}} / {{.TotalMemMB}} MB</td></tr>
  <tr><td>Started</td><td>{{.Started}}</td></tr>
  <tr><td>Metrics</td><td><a href="/metrics">/metrics</a></td></tr>
</table>
</body>
</html>
`

var statusTemplate = template.Must(template.New("hermes_node_status").Parse(statusTemplateStr))

// StatusData is the shape served by Node's status page, plain enough
// to marshal directly to JSON for the Accept: application/json case.
type StatusData struct {
	NodeID          uint32
	NumNodes        uint32
	Addr            string
	Peers           map[uint32]string
	NumLocalTargets int
	FreeMemMB       uint64
	TotalMemMB      uint64
	Started         time.Time
}

const mb = 1024 * 1024

// genStatus snapshots the node's current status.
func (n *Node) genStatus() StatusData {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		log.Errorf("node: reading memory info: %v", err)
	}
	peers := make(map[uint32]string, len(n.Config.Peers))
	for id, addr := range n.Config.Peers {
		peers[uint32(id)] = addr
	}
	return StatusData{
		NodeID:          uint32(n.Config.NodeID),
		NumNodes:        n.Config.NumNodes,
		Addr:            n.Addr(),
		Peers:           peers,
		NumLocalTargets: len(n.Config.LocalTargets),
		FreeMemMB:       mem.ActualFree / mb,
		TotalMemMB:      mem.Total / mb,
		Started:         n.started,
	}
}

// mountStatus registers "/" (HTML, or JSON when the request's Accept
// header asks for it) and "/metrics" on the node's RPC server mux, so
// both RPC and the status page answer on the one listener Start binds.
func (n *Node) mountStatus() {
	mux := n.server.Handler()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Accept") == "application/json" {
			n.handleJSON(w)
			return
		}
		n.handleHTML(w)
	})
	mux.Handle("/metrics", promhttp.Handler())
}

func (n *Node) handleHTML(w http.ResponseWriter) {
	var b bytes.Buffer
	if err := statusTemplate.Execute(&b, n.genStatus()); err != nil {
		msg := fmt.Sprintf("node: rendering status page: %v", err)
		log.Errorf(msg)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write(b.Bytes())
}

func (n *Node) handleJSON(w http.ResponseWriter) {
	var b bytes.Buffer
	if err := json.NewEncoder(&b).Encode(n.genStatus()); err != nil {
		msg := fmt.Sprintf("node: encoding status json: %v", err)
		log.Errorf(msg)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b.Bytes())
}
