// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Command hermesctl is an admin tool for a running Hermes cluster: it
// puts, gets, and destroys blobs by name and manages bucket lifecycle,
// all through the whole-blob and name-resolving convenience RPCs a
// single contacted node exposes, so hermesctl never needs its own
// Buffer Pool or a full cluster address book.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/codegangsta/cli"
	shlex "github.com/flynn-archive/go-shlex"
	"github.com/peterh/liner"

	log "github.com/golang/glog"

	"github.com/hermes-hpc/hermes/internal/core"
	"github.com/hermes-hpc/hermes/pkg/hermesrpc"
)

const serviceName = "Node"

// hermesCtl holds the one thing every subcommand needs: an RPC client
// aimed at whatever node --addr names. There is no cluster-wide
// address book here; every command resolves and dispatches on the
// server side of that one connection.
type hermesCtl struct {
	app     *cli.App
	client  *hermesrpc.Client
	addr    string
	inShell bool
}

func newHermesCtl() *hermesCtl {
	h := &hermesCtl{}
	app := cli.NewApp()
	app.Name = "hermesctl"
	app.Usage = "put, get, and manage blobs in a running Hermes cluster"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr, a",
			Usage: "host:port of any reachable Hermes node",
			Value: "127.0.0.1:9910",
		},
		cli.IntFlag{
			Name:  "timeout",
			Usage: "RPC timeout in seconds",
			Value: 30,
		},
	}

	bucketFlag := cli.StringFlag{Name: "bucket, b", Usage: "bucket name"}
	blobFlag := cli.StringFlag{Name: "blob, n", Usage: "blob name"}
	fileFlag := cli.StringFlag{Name: "file, f", Usage: "file to read/write data from/to (default: stdin/stdout)"}
	tierFlag := cli.IntFlag{Name: "tier, t", Usage: "tier id to place the blob on"}

	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "prints the contacted node's status page as JSON",
			Action: h.cmdStatus,
		},
		{
			Name:   "put",
			Usage:  "writes a blob into a bucket",
			Flags:  []cli.Flag{bucketFlag, blobFlag, fileFlag, tierFlag},
			Action: h.cmdPut,
		},
		{
			Name:   "get",
			Usage:  "reads a blob out of a bucket",
			Flags:  []cli.Flag{bucketFlag, blobFlag, fileFlag},
			Action: h.cmdGet,
		},
		{
			Name:    "rm",
			Aliases: []string{"destroy"},
			Usage:   "destroys a blob within a bucket",
			Flags:   []cli.Flag{bucketFlag, blobFlag},
			Action:  h.cmdDestroyBlob,
		},
		{
			Name:   "contains",
			Usage:  "checks whether a blob exists in a bucket",
			Flags:  []cli.Flag{bucketFlag, blobFlag},
			Action: h.cmdContains,
		},
		{
			Name:   "bucket-id",
			Usage:  "resolves a bucket name to its BucketID",
			Flags:  []cli.Flag{bucketFlag},
			Action: h.cmdBucketID,
		},
		{
			Name:   "rmbucket",
			Usage:  "destroys a bucket by name",
			Flags:  []cli.Flag{bucketFlag},
			Action: h.cmdDestroyBucket,
		},
		{
			Name:  "renamebucket",
			Usage: "renames a bucket",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "old", Usage: "current bucket name"},
				cli.StringFlag{Name: "new", Usage: "new bucket name"},
			},
			Action: h.cmdRenameBucket,
		},
		{
			Name:   "targets",
			Usage:  "lists the contacted node's local storage targets",
			Action: h.cmdTargets,
		},
		{
			Name:  "capacity",
			Usage: "prints remaining capacity for a target on the contacted node",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "node", Usage: "target's NodeID"},
				cli.IntFlag{Name: "device", Usage: "target's DeviceID"},
			},
			Action: h.cmdCapacity,
		},
		{
			Name:   "global-capacity",
			Usage:  "prints the cluster-wide device capacity table",
			Action: h.cmdGlobalCapacity,
		},
		{
			Name:   "shell",
			Usage:  "starts an interactive command shell",
			Action: h.cmdShell,
		},
	}

	app.Before = func(c *cli.Context) error {
		h.addr = c.GlobalString("addr")
		timeout := time.Duration(c.GlobalInt("timeout")) * time.Second
		book := hermesrpc.StaticAddressBook{1: h.addr}
		h.client = hermesrpc.NewClient(book, timeout, timeout, 4)
		return nil
	}

	h.app = app
	return h
}

// call issues one RPC to the contacted node. Every hermesctl command
// dials node id 1 in its own private one-entry address book, since the
// wire target is always whatever --addr names regardless of that
// node's real cluster NodeID.
func (h *hermesCtl) call(method string, args, reply interface{}) error {
	return h.client.Call(context.Background(), 1, serviceName+"."+method, args, reply)
}

func (h *hermesCtl) cmdStatus(c *cli.Context) error {
	url := fmt.Sprintf("http://%s/", h.addr)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("hermesctl: fetching status: %w", err)
	}
	defer resp.Body.Close()

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("hermesctl: decoding status: %w", err)
	}
	pretty, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(pretty))
	return nil
}

func readInput(c *cli.Context) ([]byte, error) {
	if path := c.String("file"); path != "" {
		return ioutil.ReadFile(path)
	}
	return ioutil.ReadAll(os.Stdin)
}

func writeOutput(c *cli.Context, data []byte) error {
	if path := c.String("file"); path != "" {
		return ioutil.WriteFile(path, data, 0644)
	}
	_, err := os.Stdout.Write(data)
	return err
}

func requireFlags(c *cli.Context, names ...string) error {
	for _, name := range names {
		if c.String(name) == "" {
			return fmt.Errorf("hermesctl: missing required flag --%s", name)
		}
	}
	return nil
}

func (h *hermesCtl) cmdPut(c *cli.Context) error {
	if err := requireFlags(c, "bucket", "blob"); err != nil {
		return err
	}
	data, err := readInput(c)
	if err != nil {
		return fmt.Errorf("hermesctl: reading input: %w", err)
	}

	args := &core.PutBlobArgs{
		BucketName: c.String("bucket"),
		BlobName:   c.String("blob"),
		Data:       data,
		Schema:     core.TieredSchema{{Tier: core.TierID(c.Int("tier")), Bytes: uint64(len(data))}},
	}
	var reply core.PutBlobReply
	if err := h.call("RemotePutBlob", args, &reply); err != nil {
		return fmt.Errorf("hermesctl: put: %w", err)
	}
	log.Infof("hermesctl: wrote %d bytes, bucket=%s blob=%s", len(data), reply.BucketID, reply.BlobID)
	return nil
}

func (h *hermesCtl) cmdGet(c *cli.Context) error {
	if err := requireFlags(c, "bucket", "blob"); err != nil {
		return err
	}
	args := &core.GetBlobArgs{BucketName: c.String("bucket"), BlobName: c.String("blob")}
	var reply core.GetBlobReply
	if err := h.call("RemoteGetBlob", args, &reply); err != nil {
		return fmt.Errorf("hermesctl: get: %w", err)
	}
	return writeOutput(c, reply.Data)
}

func (h *hermesCtl) cmdDestroyBlob(c *cli.Context) error {
	if err := requireFlags(c, "bucket", "blob"); err != nil {
		return err
	}
	args := &core.DestroyBlobArgs{BucketName: c.String("bucket"), BlobName: c.String("blob")}
	if err := h.call("RemoteDestroyBlob", args, &core.OKReply{}); err != nil {
		return fmt.Errorf("hermesctl: rm: %w", err)
	}
	log.Infof("hermesctl: destroyed %s/%s", c.String("bucket"), c.String("blob"))
	return nil
}

func (h *hermesCtl) cmdContains(c *cli.Context) error {
	if err := requireFlags(c, "bucket", "blob"); err != nil {
		return err
	}
	args := &core.ContainsBlobByNameArgs{BucketName: c.String("bucket"), BlobName: c.String("blob")}
	var reply core.ContainsBlobByNameReply
	if err := h.call("RemoteContainsBlobByName", args, &reply); err != nil {
		return fmt.Errorf("hermesctl: contains: %w", err)
	}
	fmt.Println(reply.Contains)
	return nil
}

func (h *hermesCtl) cmdBucketID(c *cli.Context) error {
	if err := requireFlags(c, "bucket"); err != nil {
		return err
	}
	args := &core.ResolveBucketArgs{Name: c.String("bucket")}
	var reply core.ResolveBucketReply
	if err := h.call("RemoteResolveBucket", args, &reply); err != nil {
		return fmt.Errorf("hermesctl: bucket-id: %w", err)
	}
	fmt.Println(reply.ID)
	return nil
}

func (h *hermesCtl) cmdDestroyBucket(c *cli.Context) error {
	if err := requireFlags(c, "bucket"); err != nil {
		return err
	}
	args := &core.DestroyBucketByNameArgs{Name: c.String("bucket")}
	var reply core.DestroyBucketByNameReply
	if err := h.call("RemoteDestroyBucketByName", args, &reply); err != nil {
		return fmt.Errorf("hermesctl: rmbucket: %w", err)
	}
	log.Infof("hermesctl: bucket %s destroyed=%v", c.String("bucket"), reply.Destroyed)
	return nil
}

func (h *hermesCtl) cmdRenameBucket(c *cli.Context) error {
	if err := requireFlags(c, "old", "new"); err != nil {
		return err
	}
	args := &core.RenameBucketByNameArgs{OldName: c.String("old"), NewName: c.String("new")}
	if err := h.call("RemoteRenameBucketByName", args, &core.OKReply{}); err != nil {
		return fmt.Errorf("hermesctl: renamebucket: %w", err)
	}
	log.Infof("hermesctl: renamed %s -> %s", c.String("old"), c.String("new"))
	return nil
}

func (h *hermesCtl) cmdTargets(c *cli.Context) error {
	var reply core.GetNodeTargetsReply
	if err := h.call("RemoteGetNodeTargets", &core.EmptyArgs{}, &reply); err != nil {
		return fmt.Errorf("hermesctl: targets: %w", err)
	}
	for _, t := range reply.Targets {
		fmt.Println(t)
	}
	return nil
}

func (h *hermesCtl) cmdCapacity(c *cli.Context) error {
	target := core.TargetID{
		NodeID:   core.NodeID(c.Int("node")),
		DeviceID: core.DeviceID(c.Int("device")),
	}
	args := &core.GetRemainingTargetCapacityArgs{Target: target}
	var reply core.GetRemainingTargetCapacityReply
	if err := h.call("RemoteGetRemainingTargetCapacity", args, &reply); err != nil {
		return fmt.Errorf("hermesctl: capacity: %w", err)
	}
	fmt.Println(reply.Bytes)
	return nil
}

func (h *hermesCtl) cmdGlobalCapacity(c *cli.Context) error {
	var reply core.GetGlobalDeviceCapacitiesReply
	if err := h.call("RemoteGetGlobalDeviceCapacities", &core.EmptyArgs{}, &reply); err != nil {
		return fmt.Errorf("hermesctl: global-capacity: %w", err)
	}
	for i, bytes := range reply.BytesAvailable {
		fmt.Printf("device %d: %d bytes free\n", i, bytes)
	}
	return nil
}

// cmdShell starts an interactive REPL over the same command set,
// tokenizing each line with shell-style quoting rules and replaying it
// through the same cli.App the one-shot invocation uses.
func (h *hermesCtl) cmdShell(c *cli.Context) error {
	h.inShell = true
	defer func() { h.inShell = false }()
	cli.OsExiter = func(int) {}

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(func(line string) (c []string) {
		for _, cmd := range h.app.Commands {
			if strings.HasPrefix(cmd.Name, line) {
				c = append(c, cmd.Name)
			}
		}
		return
	})

	for {
		input, err := ln.Prompt("(hermesctl) ")
		if err != nil {
			return nil
		}
		args, err := shlex.Split(input)
		if err != nil {
			log.Errorf("hermesctl: %v", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return nil
		}

		full := append([]string{"hermesctl", "--addr", h.addr}, args...)
		if err := h.app.Run(full); err != nil {
			log.Errorf("hermesctl: %v", err)
			continue
		}
		ln.AppendHistory(input)
	}
}

func main() {
	h := newHermesCtl()
	if err := h.app.Run(os.Args); err != nil {
		log.Fatalf("hermesctl: %v", err)
	}
}
