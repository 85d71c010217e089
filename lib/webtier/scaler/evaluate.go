// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package scaler

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yash-srivastava19/dynamo/lib/webtier/pool"
)

// Tick runs one evaluation. It is safe to call from an external
// scheduler (timer, CLI loop, test harness) as well as from the run
// loop; if an evaluation is already in progress the tick is skipped,
// not queued.
func (sc *Scaler) Tick() {
	if !sc.tickMtx.TryLock() {
		sc.logger.Debug("previous evaluation still running, skipping tick")
		return
	}
	defer sc.tickMtx.Unlock()
	sc.evaluate()
}

// evaluate runs the Idle -> Evaluating -> {ScaleUp, ScaleDown,
// NoAction} -> Idle procedure on one atomic snapshot. Only the scaler
// mutates pool membership and its ticks are serialized, so a decision
// admitted against this snapshot's available budget cannot overspend.
func (sc *Scaler) evaluate() {
	snap := sc.pools.Snapshot()
	avgLoad := snap.AverageLoad()
	availableBudget := snap.AvailableBudget(sc.policy.TotalBudget)

	action := NoAction
	switch {
	case avgLoad > sc.policy.ScaleUpThreshold && availableBudget > 0:
		action = sc.scaleUp(availableBudget)
	case avgLoad < sc.policy.ScaleDownThreshold && (snap.WebServers > 1 || snap.Databases > 1):
		action = sc.scaleDown(snap)
	}

	rec := Record{
		Time:            time.Now(),
		WebServers:      snap.WebServers,
		Databases:       snap.Databases,
		AvgLoad:         avgLoad,
		AvailableBudget: availableBudget,
		Action:          action,
	}
	sc.emit(rec)
}

// scaleUp tries to add one service within the available budget. A
// factory failure or a cost rejection downgrades to NoAction; budget
// depletion is a steady-state condition, not an error.
func (sc *Scaler) scaleUp(availableBudget float64) Action {
	if availableBudget >= sc.policy.DBCostThreshold && sc.decide.Decide(sc.policy.DatabaseScaleWeight) {
		if sc.admit(pool.TierDatabase, sc.factories.Database, availableBudget) {
			return ScaleUp
		}
		return NoAction
	}
	if availableBudget >= sc.policy.ServerCostThreshold {
		if sc.admit(pool.TierWebServer, sc.factories.WebServer, availableBudget) {
			return ScaleUp
		}
	}
	return NoAction
}

// admit constructs an instance via factory, starts it, and appends it
// to its pool -- in that order, so a pool never contains an unstarted
// service.
func (sc *Scaler) admit(tier pool.Tier, factory pool.Factory, availableBudget float64) bool {
	logger := sc.logger.WithField("Tier", tier.String())
	if factory == nil {
		logger.Warn("no factory configured for tier")
		return false
	}
	svc, err := factory()
	if err != nil {
		logger.WithError(err).Warn("factory failed to produce an instance")
		return false
	}
	if svc.Cost() > availableBudget {
		sc.mRejections.Inc()
		logger.WithFields(logrus.Fields{
			"ServiceID":       svc.ID(),
			"Cost":            svc.Cost(),
			"AvailableBudget": availableBudget,
		}).Info("rejecting instance, cost exceeds available budget")
		return false
	}
	if err := svc.Start(); err != nil {
		logger.WithError(err).WithField("ServiceID", svc.ID()).Warn("instance failed to start")
		return false
	}
	if err := sc.pools.Append(tier, svc); err != nil {
		logger.WithError(err).WithField("ServiceID", svc.ID()).Warn("could not admit instance to pool")
		return false
	}
	sc.mScaleUps.Inc()
	logger.WithField("ServiceID", svc.ID()).Info("scaling up, new instance added")
	return true
}

// scaleDown removes the most recently added service of one tier. The
// guard in evaluate() is an OR across tiers, not a per-tier floor: the
// last database may be removed while two web servers remain, and vice
// versa.
func (sc *Scaler) scaleDown(snap pool.Snapshot) Action {
	if snap.WebServers > 0 && (snap.Databases <= 1 || sc.decide.Decide(sc.policy.WebRemovalWeight)) {
		return sc.remove(pool.TierWebServer)
	}
	if snap.Databases > 0 {
		return sc.remove(pool.TierDatabase)
	}
	return NoAction
}

func (sc *Scaler) remove(tier pool.Tier) Action {
	view, err := sc.pools.RemoveLast(tier)
	if err != nil {
		// Nothing removable (e.g. everything already draining).
		sc.logger.WithError(err).WithField("Tier", tier.String()).Debug("scale-down found nothing to remove")
		return NoAction
	}
	sc.mScaleDowns.Inc()
	sc.logger.WithFields(logrus.Fields{
		"Tier":      tier.String(),
		"ServiceID": view.ID,
		"Status":    view.Status.String(),
	}).Info("scaling down, instance removed")
	return ScaleDown
}

func (sc *Scaler) emit(rec Record) {
	sc.mWebServers.Set(float64(rec.WebServers))
	sc.mDatabases.Set(float64(rec.Databases))
	sc.mAvgLoad.Set(rec.AvgLoad)
	sc.mAvailableBudget.Set(rec.AvailableBudget)
	sc.logger.WithFields(logrus.Fields{
		"WebServers":      rec.WebServers,
		"Databases":       rec.Databases,
		"AvgLoad":         rec.AvgLoad,
		"AvailableBudget": rec.AvailableBudget,
		"Action":          rec.Action.String(),
	}).Info("evaluation finished")
	sc.mtx.Lock()
	sc.lastRecord = rec
	sc.ticked = true
	sc.mtx.Unlock()
}
