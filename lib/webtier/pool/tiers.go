// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Tiers owns the web server pool and the database pool, and provides
// the operations that need a consistent view across both: the scaler's
// snapshot and the by-ID request accounting used when a request's
// completion must find its service in whichever tier it lives.
type Tiers struct {
	web *Pool
	db  *Pool
}

// NewTiers returns a Tiers with one empty pool per tier.
func NewTiers(logger logrus.FieldLogger, reg *prometheus.Registry) *Tiers {
	return &Tiers{
		web: NewPool(logger, reg, TierWebServer),
		db:  NewPool(logger, reg, TierDatabase),
	}
}

// Pool returns the pool for the given tier.
func (t *Tiers) Pool(tier Tier) *Pool {
	if tier == TierDatabase {
		return t.db
	}
	return t.web
}

// Snapshot returns a point-in-time view of both pools. Both pool locks
// are held together (web first, then database -- the only place both
// are taken) so the counts, loads, and costs are mutually consistent.
func (t *Tiers) Snapshot() Snapshot {
	t.web.mtx.Lock()
	defer t.web.mtx.Unlock()
	t.db.mtx.Lock()
	defer t.db.mtx.Unlock()
	var snap Snapshot
	snap.WebServers = len(t.web.services)
	snap.Databases = len(t.db.services)
	for _, views := range [][]ServiceView{t.web.snapshotLocked(), t.db.snapshotLocked()} {
		for _, view := range views {
			snap.TotalLoad += view.Load
			snap.TotalCost += view.Cost
			snap.Services = append(snap.Services, view)
		}
	}
	return snap
}

// Append adds svc to the pool for the given tier.
func (t *Tiers) Append(tier Tier, svc *Service) error {
	return t.Pool(tier).Append(svc)
}

// RemoveLast removes (or drains) the most recently added active
// service of the given tier.
func (t *Tiers) RemoveLast(tier Tier) (ServiceView, error) {
	return t.Pool(tier).RemoveLast()
}

// OnStart accounts a request starting on the identified service,
// whichever tier it belongs to.
func (t *Tiers) OnStart(id ServiceID) {
	if t.web.StartRequest(id) {
		return
	}
	t.db.StartRequest(id)
}

// OnFinish accounts a request finishing on the identified service,
// whichever tier it belongs to. Finishing an unknown ID is a no-op:
// the service may have drained and been reaped while the request was
// in flight.
func (t *Tiers) OnFinish(id ServiceID) {
	if t.web.FinishRequest(id) {
		return
	}
	t.db.FinishRequest(id)
}

// Drain marks the identified service as draining in whichever pool
// holds it.
func (t *Tiers) Drain(id ServiceID) error {
	if err := t.web.Drain(id); err == nil {
		return nil
	}
	if err := t.db.Drain(id); err == nil {
		return nil
	}
	return fmt.Errorf("service %s not found in any tier", id)
}
