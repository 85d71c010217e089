// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&LoadSuite{})

type LoadSuite struct{}

func (*LoadSuite) TestDefaults(c *check.C) {
	cfg, err := LoadFile("")
	c.Assert(err, check.IsNil)
	c.Check(cfg.Listen, check.Equals, ":8080")
	c.Check(cfg.DistributionAlgorithm, check.Equals, "round_robin")
	c.Check(cfg.TotalBudget, check.Equals, 100.0)
	c.Check(cfg.ScaleUpThreshold, check.Equals, 10.0)
	c.Check(cfg.ScaleDownThreshold, check.Equals, 5.0)
	c.Check(cfg.ScaleInterval.Duration(), check.Equals, 5*time.Second)
	c.Check(cfg.DatabaseScaleWeight, check.Equals, 0.3)
	c.Check(cfg.WebRemovalWeight, check.Equals, 0.7)
	c.Check(cfg.ServerCostThreshold, check.Equals, 10.0)
	c.Check(cfg.DBCostThreshold, check.Equals, 20.0)
	c.Check(cfg.InitialWebServers, check.Equals, 2)
	c.Check(cfg.InitialDatabases, check.Equals, 1)
	c.Check(cfg.WebServerCost, check.Equals, 10.0)
	c.Check(cfg.DatabaseCost, check.Equals, 20.0)
	c.Check(cfg.WebServerCapacity, check.Equals, 100)
	c.Check(cfg.DatabaseCapacity, check.Equals, 50)
}

// Operator values override defaults; everything left unspecified keeps
// its default.
func (*LoadSuite) TestOverlay(c *check.C) {
	cfg, err := Load(bytes.NewBufferString(`
DistributionAlgorithm: least_connections
TotalBudget: 250
ScaleInterval: 500ms
InitialWebServers: 4
`))
	c.Assert(err, check.IsNil)
	c.Check(cfg.DistributionAlgorithm, check.Equals, "least_connections")
	c.Check(cfg.TotalBudget, check.Equals, 250.0)
	c.Check(cfg.ScaleInterval.Duration(), check.Equals, 500*time.Millisecond)
	c.Check(cfg.InitialWebServers, check.Equals, 4)
	// untouched defaults survive the overlay
	c.Check(cfg.ScaleUpThreshold, check.Equals, 10.0)
	c.Check(cfg.WebServerCost, check.Equals, 10.0)
}

func (*LoadSuite) TestLoadFile(c *check.C) {
	path := filepath.Join(c.MkDir(), "dynamo.yml")
	c.Assert(os.WriteFile(path, []byte("TotalBudget: 42\n"), 0o644), check.IsNil)
	cfg, err := LoadFile(path)
	c.Assert(err, check.IsNil)
	c.Check(cfg.TotalBudget, check.Equals, 42.0)

	_, err = LoadFile(filepath.Join(c.MkDir(), "missing.yml"))
	c.Check(err, check.NotNil)
}

func (*LoadSuite) TestBadYAML(c *check.C) {
	_, err := Load(bytes.NewBufferString("TotalBudget: {nope"))
	c.Check(err, check.NotNil)
}

func (*LoadSuite) TestValidation(c *check.C) {
	for _, trial := range []struct {
		yaml string
		err  string
	}{
		{"TotalBudget: -1", `TotalBudget must not be negative.*`},
		{"ScaleUpThreshold: 2\nScaleDownThreshold: 5", `ScaleUpThreshold \(2\) must not be below ScaleDownThreshold \(5\)`},
		{"DatabaseScaleWeight: 1.5", `DatabaseScaleWeight must be within \[0,1\].*`},
		{"WebRemovalWeight: -0.1", `WebRemovalWeight must be within \[0,1\].*`},
		{"WebServerCapacity: 0", `WebServerCapacity must be positive.*`},
		{"DatabaseCapacity: -3", `DatabaseCapacity must be positive.*`},
		{"WebServerCost: -10", `service costs must not be negative`},
		{"InitialDatabases: -1", `initial service counts must not be negative`},
	} {
		_, err := Load(bytes.NewBufferString(trial.yaml))
		c.Check(err, check.ErrorMatches, trial.err, check.Commentf("yaml: %q", trial.yaml))
	}
}

func (*LoadSuite) TestDurationStrings(c *check.C) {
	cfg, err := Load(bytes.NewBufferString("ScaleInterval: 1m30s"))
	c.Assert(err, check.IsNil)
	c.Check(cfg.ScaleInterval.Duration(), check.Equals, 90*time.Second)
	c.Check(cfg.ScaleInterval.String(), check.Equals, "1m30s")

	_, err = Load(bytes.NewBufferString("ScaleInterval: fast"))
	c.Check(err, check.NotNil)
}
