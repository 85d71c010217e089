// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package webtier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/yash-srivastava19/dynamo/lib/config"
	"github.com/yash-srivastava19/dynamo/lib/webtier/balancer"
	"github.com/yash-srivastava19/dynamo/lib/webtier/pool"
	"github.com/yash-srivastava19/dynamo/lib/webtier/scaler"
	"github.com/yash-srivastava19/dynamo/sdk/go/ctxlog"
)

// A WebTier manages a pool of web servers and a pool of databases:
// requests entering ProcessRequest are dispatched to one service of
// each tier, while the scaler resizes both pools under the configured
// budget. It also serves the management API.
type WebTier struct {
	Config   *config.Config
	Context  context.Context
	Registry *prometheus.Registry

	// Processor handles the simulated backend work for a
	// dispatched request. Leave nil for the built-in simulation.
	Processor RequestProcessor
	// Decisions overrides the scaler's weighted decision source.
	// Leave nil for the production weighted source.
	Decisions scaler.DecisionSource

	logger      logrus.FieldLogger
	tiers       *pool.Tiers
	webBalancer *balancer.Balancer
	dbBalancer  *balancer.Balancer
	scaler      *scaler.Scaler
	httpHandler http.Handler

	setupOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// Start brings up the pools and the scaling loop. Start can be called
// multiple times with no ill effect.
func (wt *WebTier) Start() {
	wt.setupOnce.Do(wt.setup)
}

// ServeHTTP implements http.Handler.
func (wt *WebTier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wt.Start()
	wt.httpHandler.ServeHTTP(w, r)
}

// CheckHealth reports an error when no service is left in either
// pool.
func (wt *WebTier) CheckHealth() error {
	wt.Start()
	snap := wt.tiers.Snapshot()
	if snap.WebServers+snap.Databases == 0 {
		return errors.New("no services available")
	}
	return nil
}

// Done returns a channel that closes when the web tier shuts down.
func (wt *WebTier) Done() <-chan struct{} {
	return wt.stopped
}

// Close stops the scaling loop and releases resources. Typically used
// in tests.
func (wt *WebTier) Close() {
	wt.Start()
	select {
	case wt.stop <- struct{}{}:
	default:
	}
	<-wt.stopped
}

// Scaler returns the scaling controller, so an external scheduler (or
// a test harness) can trigger evaluations itself via Tick.
func (wt *WebTier) Scaler() *scaler.Scaler {
	wt.Start()
	return wt.scaler
}

// Tiers returns the underlying pools.
func (wt *WebTier) Tiers() *pool.Tiers {
	wt.Start()
	return wt.tiers
}

func (wt *WebTier) setup() {
	wt.initialize()
	go wt.run()
}

func (wt *WebTier) initialize() {
	cfg := wt.Config
	wt.logger = ctxlog.FromContext(wt.Context)
	if wt.Registry == nil {
		wt.Registry = prometheus.NewRegistry()
	}
	if wt.Processor == nil {
		wt.Processor = simulatedProcessor{}
	}
	wt.stop = make(chan struct{}, 1)
	wt.stopped = make(chan struct{})

	algorithm, err := balancer.ParseAlgorithm(cfg.DistributionAlgorithm)
	if err != nil {
		wt.logger.Fatalf("error in configured DistributionAlgorithm: %s", err)
	}

	wt.tiers = pool.NewTiers(wt.logger, wt.Registry)
	webFactory := wt.newFactory(pool.TierWebServer)
	dbFactory := wt.newFactory(pool.TierDatabase)
	wt.populate(pool.TierWebServer, webFactory, cfg.InitialWebServers)
	wt.populate(pool.TierDatabase, dbFactory, cfg.InitialDatabases)
	if snap := wt.tiers.Snapshot(); snap.TotalCost > cfg.TotalBudget {
		wt.logger.Fatalf("initial services cost %v, exceeding TotalBudget %v", snap.TotalCost, cfg.TotalBudget)
	}

	wt.webBalancer, err = balancer.New(wt.logger, wt.Registry, wt.tiers.Pool(pool.TierWebServer), algorithm)
	if err != nil {
		wt.logger.Fatalf("error setting up web balancer: %s", err)
	}
	wt.dbBalancer, err = balancer.New(wt.logger, wt.Registry, wt.tiers.Pool(pool.TierDatabase), algorithm)
	if err != nil {
		wt.logger.Fatalf("error setting up database balancer: %s", err)
	}

	wt.scaler = scaler.New(wt.Context, wt.tiers, scaler.Factories{
		WebServer: webFactory,
		Database:  dbFactory,
	}, wt.Decisions, wt.Registry, scaler.Policy{
		TotalBudget:         cfg.TotalBudget,
		ScaleUpThreshold:    cfg.ScaleUpThreshold,
		ScaleDownThreshold:  cfg.ScaleDownThreshold,
		ServerCostThreshold: cfg.ServerCostThreshold,
		DBCostThreshold:     cfg.DBCostThreshold,
		DatabaseScaleWeight: cfg.DatabaseScaleWeight,
		WebRemovalWeight:    cfg.WebRemovalWeight,
		TickInterval:        cfg.ScaleInterval.Duration(),
	})

	mux := httprouter.New()
	mux.HandlerFunc("POST", "/process", wt.apiProcess)
	mux.HandlerFunc("GET", "/dynamo/v1/services", wt.apiServices)
	mux.HandlerFunc("GET", "/dynamo/v1/scaler/status", wt.apiScalerStatus)
	mux.HandlerFunc("POST", "/dynamo/v1/services/drain", wt.apiServiceDrain)
	metricsH := promhttp.HandlerFor(wt.Registry, promhttp.HandlerOpts{
		ErrorLog: wt.logger,
	})
	mux.Handler("GET", "/metrics", metricsH)
	wt.httpHandler = requireManagementToken(cfg.ManagementToken, mux)
}

func (wt *WebTier) run() {
	defer close(wt.stopped)
	wt.scaler.Start()
	defer wt.scaler.Stop()
	<-wt.stop
}

// populate fills a pool with its initial services.
func (wt *WebTier) populate(tier pool.Tier, factory pool.Factory, n int) {
	for i := 0; i < n; i++ {
		svc, err := factory()
		if err != nil {
			wt.logger.WithError(err).Fatalf("error creating initial %s instance", tier)
		}
		if err := svc.Start(); err != nil {
			wt.logger.WithError(err).Fatalf("error starting initial %s instance", tier)
		}
		if err := wt.tiers.Append(tier, svc); err != nil {
			wt.logger.WithError(err).Fatalf("error adding initial %s instance", tier)
		}
	}
}

// A Result describes where one request was dispatched and what the
// backends returned.
type Result struct {
	WebServer pool.ServiceID `json:"web_server"`
	Database  pool.ServiceID `json:"database"`
	Result    string         `json:"result"`
}

// ProcessRequest dispatches one request to a web server and a
// database, runs the (simulated) backend work, and releases the load
// accounted to both services when done.
//
// It fails with balancer.ErrNoServiceAvailable when either pool is
// empty; a failed dispatch never retries on the other pool.
func (wt *WebTier) ProcessRequest(ctx context.Context, payload string) (Result, error) {
	wt.Start()
	webID, err := wt.webBalancer.Distribute(ctx)
	if err != nil {
		return Result{}, err
	}
	defer wt.tiers.OnFinish(webID)
	dbID, err := wt.dbBalancer.Distribute(ctx)
	if err != nil {
		return Result{}, err
	}
	defer wt.tiers.OnFinish(dbID)

	webResult, err := wt.Processor.Process(ctx, pool.TierWebServer, webID, payload)
	if err != nil {
		return Result{}, err
	}
	dbResult, err := wt.Processor.Process(ctx, pool.TierDatabase, dbID, payload)
	if err != nil {
		return Result{}, err
	}
	return Result{
		WebServer: webID,
		Database:  dbID,
		Result:    webResult + " -> " + dbResult,
	}, nil
}

// Request API: dispatch one request.
func (wt *WebTier) apiProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Request string `json:"request"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	result, err := wt.ProcessRequest(r.Context(), req.Request)
	if errors.Is(err, balancer.ErrNoServiceAvailable) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(result)
}

// Management API: current snapshot of both tiers.
func (wt *WebTier) apiServices(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(wt.tiers.Snapshot())
}

// Management API: observability record of the last scaler evaluation.
func (wt *WebTier) apiScalerStatus(w http.ResponseWriter, r *http.Request) {
	var resp struct {
		Evaluated bool           `json:"evaluated"`
		Record    *scaler.Record `json:"record,omitempty"`
	}
	if rec, ok := wt.scaler.LastRecord(); ok {
		resp.Evaluated = true
		resp.Record = &rec
	}
	json.NewEncoder(w).Encode(resp)
}

// Management API: mark a service as draining.
func (wt *WebTier) apiServiceDrain(w http.ResponseWriter, r *http.Request) {
	id := pool.ServiceID(r.FormValue("service_id"))
	if id == "" {
		http.Error(w, "service_id parameter not provided", http.StatusBadRequest)
		return
	}
	if err := wt.tiers.Drain(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
}

// requireManagementToken guards /dynamo/v1/* routes with a literal
// bearer token when one is configured. The request path (/process) and
// /metrics stay open.
func requireManagementToken(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Path) >= len("/dynamo/") && r.URL.Path[:len("/dynamo/")] == "/dynamo/" &&
			r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "management API authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
