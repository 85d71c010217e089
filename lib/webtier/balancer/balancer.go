// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package balancer dispatches incoming requests to a service pool
// using a configurable selection algorithm.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yash-srivastava19/dynamo/lib/webtier/pool"
)

// Algorithm selects which service in a pool handles the next request.
type Algorithm string

const (
	// RoundRobin cycles through the pool in insertion order.
	RoundRobin Algorithm = "round_robin"
	// LeastConnections picks the service with the fewest
	// outstanding requests, breaking ties deterministically (see
	// lcLess).
	LeastConnections Algorithm = "least_connections"
)

var (
	// ErrNoServiceAvailable is returned by Distribute when the pool
	// has no dispatchable service. Callers can retry later or
	// surface a 503.
	ErrNoServiceAvailable = errors.New("no service available")
	// ErrUnknownAlgorithm indicates a configuration error; it is
	// fatal at startup, not a per-request condition.
	ErrUnknownAlgorithm = errors.New("unknown distribution algorithm")
)

// ParseAlgorithm converts a configuration value into an Algorithm,
// returning ErrUnknownAlgorithm for anything unrecognized.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch alg := Algorithm(s); alg {
	case RoundRobin, LeastConnections:
		return alg, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownAlgorithm, s)
	}
}

// A Balancer assigns incoming requests to services in one pool. Its
// round-robin cursor is scoped to the Balancer instance, so multiple
// independent balancers (one per tier, one per test) never interfere.
type Balancer struct {
	logger    logrus.FieldLogger
	pool      *pool.Pool
	algorithm Algorithm

	mtx        sync.Mutex
	lastIndex  int // round-robin cursor; -1 means "before the first service"
	pickSeq    uint64
	lastPicked map[pool.ServiceID]uint64

	mDistributions prometheus.Counter
	mUnavailable   prometheus.Counter
}

// New returns a Balancer dispatching to sp. It fails with
// ErrUnknownAlgorithm if algorithm is not recognized, so a
// misconfigured algorithm is caught at startup.
func New(logger logrus.FieldLogger, reg *prometheus.Registry, sp *pool.Pool, algorithm Algorithm) (*Balancer, error) {
	switch algorithm {
	case RoundRobin, LeastConnections:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAlgorithm, algorithm)
	}
	bal := &Balancer{
		logger: logger.WithFields(logrus.Fields{
			"Tier":      sp.Tier().String(),
			"Algorithm": string(algorithm),
		}),
		pool:       sp,
		algorithm:  algorithm,
		lastIndex:  -1,
		lastPicked: map[pool.ServiceID]uint64{},
	}
	bal.registerMetrics(reg)
	return bal, nil
}

// Distribute assigns one incoming request to a service and increments
// that service's load as part of the same atomic operation. Every
// successful call must be paired with a completion call
// (Pool.FinishRequest / Tiers.OnFinish) when the request is done, or
// the load accounting diverges.
//
// Distribute fails fast with ErrNoServiceAvailable on an empty pool;
// it never blocks waiting for capacity, and never mutates anything on
// failure.
func (bal *Balancer) Distribute(ctx context.Context) (pool.ServiceID, error) {
	bal.mtx.Lock()
	defer bal.mtx.Unlock()
	var picker func(svcs []pool.ServiceView) int
	switch bal.algorithm {
	case RoundRobin:
		picker = bal.pickRoundRobin
	case LeastConnections:
		picker = bal.pickLeastConnections
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownAlgorithm, bal.algorithm)
	}
	id, err := bal.pool.Choose(picker)
	if err != nil {
		// An empty pool resets the cursor, so dispatch starts
		// from the first service once the pool is repopulated.
		bal.lastIndex = -1
		bal.mUnavailable.Inc()
		return "", ErrNoServiceAvailable
	}
	bal.mDistributions.Inc()
	return id, nil
}

// Algorithm returns the balancer's selection algorithm.
func (bal *Balancer) Algorithm() Algorithm { return bal.algorithm }

// caller must have bal.mtx. Runs under the pool's lock via Choose.
func (bal *Balancer) pickRoundRobin(svcs []pool.ServiceView) int {
	// The modulus uses the current pool size, so a cursor computed
	// against a stale size re-clamps instead of going out of
	// bounds. The cursor advances exactly once per call, even when
	// the pointed-to service is at capacity and an alternative is
	// dispatched instead.
	i := (bal.lastIndex + 1) % len(svcs)
	bal.lastIndex = i
	if svcs[i].Load < svcs[i].Capacity {
		return i
	}
	for j := 1; j < len(svcs); j++ {
		k := (i + j) % len(svcs)
		if svcs[k].Load < svcs[k].Capacity {
			return k
		}
	}
	// Everything is at capacity; admission control is the caller's
	// problem, not ours.
	return i
}

// caller must have bal.mtx. Runs under the pool's lock via Choose.
func (bal *Balancer) pickLeastConnections(svcs []pool.ServiceView) int {
	best := -1
	bestFull := -1
	for i, svc := range svcs {
		if svc.Load < svc.Capacity {
			if best < 0 || bal.lcLess(svc, svcs[best]) {
				best = i
			}
		} else if bestFull < 0 || bal.lcLess(svc, svcs[bestFull]) {
			bestFull = i
		}
	}
	i := best
	if i < 0 {
		i = bestFull
	}
	if i >= 0 {
		bal.pickSeq++
		bal.lastPicked[svcs[i].ID] = bal.pickSeq
		if len(bal.lastPicked) > 2*len(svcs) {
			bal.pruneLastPicked(svcs)
		}
	}
	return i
}

// lcLess orders services by load, then by how long ago this balancer
// last picked them, then by ID -- so ties are deterministic, and the
// service whose load was just incremented does not win the next tie
// against an equally loaded peer.
func (bal *Balancer) lcLess(a, b pool.ServiceView) bool {
	if a.Load != b.Load {
		return a.Load < b.Load
	}
	if pa, pb := bal.lastPicked[a.ID], bal.lastPicked[b.ID]; pa != pb {
		return pa < pb
	}
	return a.ID < b.ID
}

// caller must have bal.mtx. Drops pick records for services no longer
// in the pool, so churn does not grow the map without bound.
func (bal *Balancer) pruneLastPicked(svcs []pool.ServiceView) {
	current := make(map[pool.ServiceID]bool, len(svcs))
	for _, svc := range svcs {
		current[svc.ID] = true
	}
	for id := range bal.lastPicked {
		if !current[id] {
			delete(bal.lastPicked, id)
		}
	}
}

func (bal *Balancer) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{
		"tier":      bal.pool.Tier().String(),
		"algorithm": string(bal.algorithm),
	}
	bal.mDistributions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "dynamo",
		Subsystem:   "webtier",
		Name:        "distributions_total",
		Help:        "Number of requests successfully assigned to a service.",
		ConstLabels: labels,
	})
	reg.MustRegister(bal.mDistributions)
	bal.mUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   "dynamo",
		Subsystem:   "webtier",
		Name:        "distributions_unavailable_total",
		Help:        "Number of dispatch attempts that failed because no service was available.",
		ConstLabels: labels,
	})
	reg.MustRegister(bal.mUnavailable)
}
