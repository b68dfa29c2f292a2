// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Command hermesnode runs one Hermes node: its share of the Buffer
// Pool, its slice of the sharded directory, and the RPC endpoint the
// rest of the cluster reaches it through.
package main

import (
	"encoding/json"
	"os"

	"github.com/codegangsta/cli"

	log "github.com/golang/glog"

	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/internal/node"
)

func main() {
	app := cli.NewApp()
	app.Name = "hermesnode"
	app.Usage = "run one node of a Hermes tiered buffering cluster"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "nodeCfg",
			Usage: "JSON file holding a full node.Config (tiers, peers, targets)",
		},
		cli.IntFlag{
			Name:  "id",
			Usage: "this node's NodeID, overrides nodeCfg",
		},
		cli.IntFlag{
			Name:  "numNodes",
			Usage: "cluster size, overrides nodeCfg",
		},
		cli.StringFlag{
			Name:  "addr",
			Usage: "this node's RPC listen address, overrides nodeCfg",
		},
		cli.StringFlag{
			Name:  "swapDir",
			Usage: "directory for this node's swap spill file, overrides nodeCfg",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("hermesnode: %v", err)
	}
}

func run(c *cli.Context) error {
	cfg := node.DefaultProdConfig

	if path := c.String("nodeCfg"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("hermesnode: opening %s: %v", path, err)
		}
		defer f.Close()
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			log.Fatalf("hermesnode: decoding %s: %v", path, err)
		}
	}

	if id := c.Int("id"); id != 0 {
		cfg.NodeID = core.NodeID(id)
	}
	if n := c.Int("numNodes"); n != 0 {
		cfg.NumNodes = uint32(n)
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	if dir := c.String("swapDir"); dir != "" {
		cfg.SwapDir = dir
	}

	n, err := node.New(&cfg)
	if err != nil {
		log.Fatalf("hermesnode: building node: %v", err)
	}
	if err := n.Start(); err != nil {
		log.Fatalf("hermesnode: starting node: %v", err)
	}

	log.Infof("hermesnode: node %d serving on %s", cfg.NodeID, n.Addr())
	select {}
}
