// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lendfi/indexer/api"
	"github.com/lendfi/indexer/lending"
)

// FileConfig is the indexer's YAML configuration. Environment variables in
// the file are expanded before parsing, so secrets stay out of it.
type FileConfig struct {
	RPCEndpoint string `yaml:"rpc_endpoint"`
	DataDir     string `yaml:"data_dir"`

	// Optional SQL mirror of the entity store, for ad hoc queries.
	MirrorDriver string `yaml:"mirror_driver"` // postgres | sqlite3
	MirrorDSN    string `yaml:"mirror_dsn"`

	Indexer lending.Config `yaml:"indexer"`
	API     api.Config     `yaml:"api"`
}

// LoadConfig reads and expands a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	cfg := &FileConfig{
		DataDir: "data",
		Indexer: lending.DefaultConfig(),
		API:     api.Config{HTTPPort: 8080, ListLimit: 100},
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
