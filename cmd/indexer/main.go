// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package main provides the CLI for running the lending protocol indexer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lendfi/indexer/api"
	"github.com/lendfi/indexer/chain"
	"github.com/lendfi/indexer/lending"
	"github.com/lendfi/indexer/store"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		rpcEndpoint = flag.String("rpc", "", "EVM JSON-RPC endpoint (overrides config)")
		dataDir     = flag.String("data", "", "Data directory for the entity store (overrides config)")
		httpPort    = flag.Int("port", 0, "HTTP server port (overrides config)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("lendfi-indexer %s\n", version)
		os.Exit(0)
	}

	cfg := &FileConfig{
		DataDir: "data",
		Indexer: lending.DefaultConfig(),
		API:     api.Config{HTTPPort: 8080, ListLimit: 100},
	}
	if *configPath != "" {
		var err error
		cfg, err = LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if *rpcEndpoint != "" {
		cfg.RPCEndpoint = *rpcEndpoint
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *httpPort != 0 {
		cfg.API.HTTPPort = *httpPort
	}
	if cfg.RPCEndpoint == "" {
		flag.Usage()
		log.Fatal("Missing RPC endpoint: set -rpc or rpc_endpoint in the config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutdown signal received")
		cancel()
	}()

	st, err := store.New(store.Config{Path: cfg.DataDir})
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	var mirror *store.Mirror
	if cfg.MirrorDriver != "" {
		mirror, err = store.OpenMirror(cfg.MirrorDriver, cfg.MirrorDSN)
		if err != nil {
			log.Fatalf("mirror: %v", err)
		}
		defer mirror.Close()
		if err := mirror.InitSchema(ctx); err != nil {
			log.Fatalf("mirror schema: %v", err)
		}
		log.Printf("[indexer] mirroring entities to %s", cfg.MirrorDriver)
	}

	reader := chain.NewRPCReader(cfg.RPCEndpoint)
	ix := lending.NewIndexer(st, reader, mirror, cfg.Indexer)

	cp, err := st.GetCheckpoint()
	if err != nil {
		log.Fatalf("checkpoint: %v", err)
	}
	log.Printf("[indexer] resuming from block %d log %d", cp.BlockNumber, cp.LogIndex)

	srv := api.New(cfg.API, ix)
	log.Printf("[indexer] starting on port %d", cfg.API.HTTPPort)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("server: %v", err)
	}
	log.Println("[indexer] stopped")
}
