// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

// A Snapshot is an immutable point-in-time view of both tiers, taken
// under a single consistent read so dispatch mutations concurrent with
// a scaler tick cannot produce torn reads.
type Snapshot struct {
	TotalLoad  int           `json:"total_load"`
	TotalCost  float64       `json:"total_cost"`
	WebServers int           `json:"web_servers"`
	Databases  int           `json:"databases"`
	Services   []ServiceView `json:"services"`
}

// AverageLoad returns the mean load across every service in both
// tiers, or 0 when both pools are empty.
func (snap Snapshot) AverageLoad() float64 {
	n := snap.WebServers + snap.Databases
	if n == 0 {
		return 0
	}
	return float64(snap.TotalLoad) / float64(n)
}

// CurrentCost returns the aggregate cost of all services.
func (snap Snapshot) CurrentCost() float64 {
	return snap.TotalCost
}

// AvailableBudget returns the budget remaining after the aggregate
// cost of all services. It can be negative if configuration shrank the
// budget under running services.
func (snap Snapshot) AvailableBudget(totalBudget float64) float64 {
	return totalBudget - snap.TotalCost
}
