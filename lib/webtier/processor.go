// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package webtier

import (
	"context"
	"fmt"

	"github.com/yash-srivastava19/dynamo/lib/webtier/pool"
)

// A RequestProcessor performs the backend work for a request that has
// been dispatched to a service. It is an external collaborator: the
// web tier accounts the service's load around the call, but what
// "processing" means is up to the implementation.
type RequestProcessor interface {
	Process(ctx context.Context, tier pool.Tier, id pool.ServiceID, payload string) (string, error)
}

// simulatedProcessor stands in for real backends: it answers
// immediately with a canned response.
type simulatedProcessor struct{}

func (simulatedProcessor) Process(ctx context.Context, tier pool.Tier, id pool.ServiceID, payload string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if tier == pool.TierDatabase {
		return fmt.Sprintf("database query processed by %s: %s", id, payload), nil
	}
	return fmt.Sprintf("processed by web server %s: %s", id, payload), nil
}
