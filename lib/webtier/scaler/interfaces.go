// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package scaler

import (
	"github.com/yash-srivastava19/dynamo/lib/webtier/pool"
)

// A TierPools is the scaler's view of the web server and database
// pools: one consistent cross-tier snapshot, plus the mutations a
// scaling decision issues. pool.Tiers implements it; tests substitute
// a stub.
type TierPools interface {
	Snapshot() pool.Snapshot
	Append(pool.Tier, *pool.Service) error
	RemoveLast(pool.Tier) (pool.ServiceView, error)
}
