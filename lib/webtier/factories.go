// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package webtier

import (
	"github.com/jmcvetta/randutil"

	"github.com/yash-srivastava19/dynamo/lib/webtier/pool"
)

// newFactory returns the production factory for a tier: it mints a
// unique service ID and builds a simulated instance with the
// configured capacity and cost. Real deployments would supply
// factories that provision actual backends; the scaler only cares
// about the Factory contract.
func (wt *WebTier) newFactory(tier pool.Tier) pool.Factory {
	cfg := wt.Config
	capacity, cost := cfg.WebServerCapacity, cfg.WebServerCost
	if tier == pool.TierDatabase {
		capacity, cost = cfg.DatabaseCapacity, cfg.DatabaseCost
	}
	return func() (*pool.Service, error) {
		rd, err := randutil.String(8, "abcdefghijklmnopqrstuvwxyz0123456789")
		if err != nil {
			return nil, err
		}
		id := pool.ServiceID(tier.String() + "-" + rd)
		logger := wt.logger.WithField("ServiceID", id)
		svc := pool.NewService(id, tier, capacity, cost)
		if tier == pool.TierWebServer {
			// Web servers are started before admission; the
			// simulated start is immediate.
			svc.WithStart(func() error {
				logger.Info("web server started")
				return nil
			})
		}
		return svc, nil
	}
}
