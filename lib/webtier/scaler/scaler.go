// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package scaler adjusts the size of the web server and database pools
// under a budget constraint, based on the average load observed across
// both tiers.
package scaler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yash-srivastava19/dynamo/lib/webtier/pool"
	"github.com/yash-srivastava19/dynamo/sdk/go/ctxlog"
)

const (
	defaultTickInterval        = 5 * time.Second
	defaultServerCostThreshold = 10
	defaultDBCostThreshold     = 20
	defaultDatabaseScaleWeight = 0.3
	defaultWebRemovalWeight    = 0.7
)

// Policy is the immutable configuration a Scaler evaluates against,
// supplied at construction.
type Policy struct {
	// TotalBudget is the spend ceiling for all services combined.
	TotalBudget float64
	// ScaleUpThreshold: average load above this triggers scale-up.
	ScaleUpThreshold float64
	// ScaleDownThreshold: average load below this triggers
	// scale-down.
	ScaleDownThreshold float64
	// ServerCostThreshold is the minimum available budget required
	// to consider adding a web server (default 10).
	ServerCostThreshold float64
	// DBCostThreshold is the minimum available budget required to
	// consider adding a database (default 20).
	DBCostThreshold float64
	// DatabaseScaleWeight is the probability that a scale-up
	// prefers a database over a web server (default 0.3).
	DatabaseScaleWeight float64
	// WebRemovalWeight is the probability that a scale-down
	// prefers removing a web server over a database (default 0.7).
	WebRemovalWeight float64
	// TickInterval is the period of the run loop (default 5s).
	TickInterval time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.ServerCostThreshold == 0 {
		p.ServerCostThreshold = defaultServerCostThreshold
	}
	if p.DBCostThreshold == 0 {
		p.DBCostThreshold = defaultDBCostThreshold
	}
	if p.DatabaseScaleWeight == 0 {
		p.DatabaseScaleWeight = defaultDatabaseScaleWeight
	}
	if p.WebRemovalWeight == 0 {
		p.WebRemovalWeight = defaultWebRemovalWeight
	}
	if p.TickInterval <= 0 {
		p.TickInterval = defaultTickInterval
	}
	return p
}

// Factories construct new service instances when the scaler decides to
// scale up. Both are supplied externally and may fail, or return an
// instance whose cost disqualifies it.
type Factories struct {
	WebServer pool.Factory
	Database  pool.Factory
}

// Action is the outcome of one evaluation.
type Action int

const (
	NoAction Action = iota
	ScaleUp
	ScaleDown
)

var actionString = map[Action]string{
	NoAction:  "no_action",
	ScaleUp:   "scale_up",
	ScaleDown: "scale_down",
}

// String implements fmt.Stringer.
func (a Action) String() string { return actionString[a] }

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) { return []byte(actionString[a]), nil }

// A Record is the observability record emitted by every evaluation,
// regardless of outcome.
type Record struct {
	Time            time.Time `json:"time"`
	WebServers      int       `json:"web_servers"`
	Databases       int       `json:"databases"`
	AvgLoad         float64   `json:"avg_load"`
	AvailableBudget float64   `json:"available_budget"`
	Action          Action    `json:"action"`
}

// A Scaler periodically evaluates pool load and budget, and issues
// scale-up/scale-down mutations. Evaluations never overlap: a tick
// that arrives while one is still running is skipped, not queued.
// Failures inside a tick (factory errors, cost rejections) are
// contained in the tick and never reach the request-dispatch path.
type Scaler struct {
	logger    logrus.FieldLogger
	pools     TierPools
	factories Factories
	decide    DecisionSource
	policy    Policy

	tickMtx sync.Mutex // held for the duration of one evaluation

	mtx        sync.Mutex
	lastRecord Record
	ticked     bool

	runOnce sync.Once
	stop    chan struct{}
	stopped chan struct{}

	mWebServers      prometheus.Gauge
	mDatabases       prometheus.Gauge
	mAvgLoad         prometheus.Gauge
	mAvailableBudget prometheus.Gauge
	mScaleUps        prometheus.Counter
	mScaleDowns      prometheus.Counter
	mRejections      prometheus.Counter
}

// New returns a new unstarted Scaler. A nil decide falls back to the
// production weighted source. Any given TierPools should not be
// resized by more than one scaler at a time.
func New(ctx context.Context, pools TierPools, factories Factories, decide DecisionSource, reg *prometheus.Registry, policy Policy) *Scaler {
	if decide == nil {
		decide = NewWeightedSource()
	}
	sc := &Scaler{
		logger:    ctxlog.FromContext(ctx),
		pools:     pools,
		factories: factories,
		decide:    decide,
		policy:    policy.withDefaults(),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	sc.registerMetrics(reg)
	return sc
}

// Start starts the scaler's run loop.
func (sc *Scaler) Start() {
	go sc.runOnce.Do(sc.run)
}

// Stop stops the scaler after the current tick, if any, finishes. No
// other method should be called after Stop.
func (sc *Scaler) Stop() {
	close(sc.stop)
	<-sc.stopped
}

// LastRecord returns the observability record of the most recent
// evaluation. The second return value is false if no evaluation has
// run yet.
func (sc *Scaler) LastRecord() (Record, bool) {
	sc.mtx.Lock()
	defer sc.mtx.Unlock()
	return sc.lastRecord, sc.ticked
}

func (sc *Scaler) run() {
	defer close(sc.stopped)
	ticker := time.NewTicker(sc.policy.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sc.stop:
			return
		case <-ticker.C:
			sc.Tick()
		}
	}
}

func (sc *Scaler) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	sc.mWebServers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dynamo",
		Subsystem: "scaler",
		Name:      "web_servers",
		Help:      "Number of web servers at the last evaluation.",
	})
	reg.MustRegister(sc.mWebServers)
	sc.mDatabases = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dynamo",
		Subsystem: "scaler",
		Name:      "databases",
		Help:      "Number of databases at the last evaluation.",
	})
	reg.MustRegister(sc.mDatabases)
	sc.mAvgLoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dynamo",
		Subsystem: "scaler",
		Name:      "avg_load",
		Help:      "Average load across all services at the last evaluation.",
	})
	reg.MustRegister(sc.mAvgLoad)
	sc.mAvailableBudget = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dynamo",
		Subsystem: "scaler",
		Name:      "available_budget",
		Help:      "Total budget minus aggregate service cost at the last evaluation.",
	})
	reg.MustRegister(sc.mAvailableBudget)
	sc.mScaleUps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dynamo",
		Subsystem: "scaler",
		Name:      "scale_ups_total",
		Help:      "Number of evaluations that added a service.",
	})
	reg.MustRegister(sc.mScaleUps)
	sc.mScaleDowns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dynamo",
		Subsystem: "scaler",
		Name:      "scale_downs_total",
		Help:      "Number of evaluations that removed or drained a service.",
	})
	reg.MustRegister(sc.mScaleDowns)
	sc.mRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dynamo",
		Subsystem: "scaler",
		Name:      "factory_rejections_total",
		Help:      "Number of factory-produced instances rejected because their cost exceeded the available budget.",
	})
	reg.MustRegister(sc.mRejections)
}
