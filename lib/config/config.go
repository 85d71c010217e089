// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the dynamo service configuration: defaults
// first, then the operator's YAML file on top.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/ghodss/yaml"
)

// Config is the configuration consumed (not owned) by the web tier:
// dispatch algorithm, scaling thresholds, budget, and the simulated
// instance parameters handed to the tier factories.
type Config struct {
	// Listen is the address the management/request API binds to.
	Listen string
	// ManagementToken, if non-empty, is required as a Bearer token
	// on management API requests.
	ManagementToken string

	LogLevel  string
	LogFormat string

	// DistributionAlgorithm is "round_robin" or
	// "least_connections". Anything else is fatal at startup.
	DistributionAlgorithm string

	TotalBudget        float64
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	ScaleInterval      Duration

	// DatabaseScaleWeight is the probability a scale-up prefers a
	// database; WebRemovalWeight the probability a scale-down
	// prefers removing a web server.
	DatabaseScaleWeight float64
	WebRemovalWeight    float64

	// ServerCostThreshold and DBCostThreshold are the minimum
	// available budget required to consider adding an instance of
	// the respective tier.
	ServerCostThreshold float64
	DBCostThreshold     float64

	InitialWebServers int
	InitialDatabases  int

	WebServerCost     float64
	DatabaseCost      float64
	WebServerCapacity int
	DatabaseCapacity  int
}

// DefaultYAML mirrors the defaults of the original simulation: budget
// 100, thresholds 10/5, a 5s scaling period, web servers costing 10
// and databases 20.
var DefaultYAML = []byte(`
Listen: ":8080"
ManagementToken: ""
LogLevel: info
LogFormat: json
DistributionAlgorithm: round_robin
TotalBudget: 100
ScaleUpThreshold: 10
ScaleDownThreshold: 5
ScaleInterval: 5s
DatabaseScaleWeight: 0.3
WebRemovalWeight: 0.7
ServerCostThreshold: 10
DBCostThreshold: 20
InitialWebServers: 2
InitialDatabases: 1
WebServerCost: 10
DatabaseCost: 20
WebServerCapacity: 100
DatabaseCapacity: 50
`)

// Load reads configuration from rdr on top of the defaults.
func Load(rdr io.Reader) (*Config, error) {
	buf, err := io.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(DefaultYAML, &cfg); err != nil {
		return nil, fmt.Errorf("loading defaults: %s", err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads configuration from the named file on top of the
// defaults. An empty path returns the defaults.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load(nullReader{})
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

func (cfg *Config) check() error {
	switch {
	case cfg.TotalBudget < 0:
		return fmt.Errorf("TotalBudget must not be negative, got %v", cfg.TotalBudget)
	case cfg.ScaleUpThreshold < cfg.ScaleDownThreshold:
		return fmt.Errorf("ScaleUpThreshold (%v) must not be below ScaleDownThreshold (%v)", cfg.ScaleUpThreshold, cfg.ScaleDownThreshold)
	case cfg.DatabaseScaleWeight < 0 || cfg.DatabaseScaleWeight > 1:
		return fmt.Errorf("DatabaseScaleWeight must be within [0,1], got %v", cfg.DatabaseScaleWeight)
	case cfg.WebRemovalWeight < 0 || cfg.WebRemovalWeight > 1:
		return fmt.Errorf("WebRemovalWeight must be within [0,1], got %v", cfg.WebRemovalWeight)
	case cfg.WebServerCapacity < 1:
		return fmt.Errorf("WebServerCapacity must be positive, got %v", cfg.WebServerCapacity)
	case cfg.DatabaseCapacity < 1:
		return fmt.Errorf("DatabaseCapacity must be positive, got %v", cfg.DatabaseCapacity)
	case cfg.WebServerCost < 0 || cfg.DatabaseCost < 0:
		return fmt.Errorf("service costs must not be negative")
	case cfg.InitialWebServers < 0 || cfg.InitialDatabases < 0:
		return fmt.Errorf("initial service counts must not be negative")
	}
	return nil
}

type nullReader struct{}

func (nullReader) Read([]byte) (int, error) { return 0, io.EOF }
