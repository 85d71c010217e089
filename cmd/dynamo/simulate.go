// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/yash-srivastava19/dynamo/lib/webtier"
	"github.com/yash-srivastava19/dynamo/sdk/go/ctxlog"
)

// simulateTraffic stands in for real clients: every second it fires a
// random number of concurrent requests (at most maxRPS) through the
// web tier, until the given duration has elapsed.
func simulateTraffic(ctx context.Context, wt *webtier.WebTier, duration time.Duration, maxRPS int) {
	logger := ctxlog.FromContext(ctx)
	if maxRPS < 1 {
		maxRPS = 1
	}
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var wg sync.WaitGroup
	var requests int
	for time.Now().Before(deadline) && ctx.Err() == nil {
		n := rand.Intn(maxRPS) + 1
		for i := 0; i < n; i++ {
			requests++
			payload := fmt.Sprintf("request-%d", requests)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := wt.ProcessRequest(ctx, payload); err != nil {
					logger.WithError(err).Debug("request not dispatched")
				}
			}()
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
		}
	}
	wg.Wait()
	logger.Infof("simulation complete, sent %d requests in %s", requests, duration)
}
