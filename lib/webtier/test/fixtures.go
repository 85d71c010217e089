// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package test provides fixtures shared by the webtier test suites.
package test

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yash-srivastava19/dynamo/lib/webtier/pool"
)

// Logger returns a logger for test output, at debug level when
// DYNAMO_DEBUG is set.
func Logger() logrus.FieldLogger {
	logger := logrus.StandardLogger()
	if os.Getenv("DYNAMO_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// Factory returns a pool.Factory that produces services named
// "<tier>-0", "<tier>-1", ... with the given capacity and cost.
func Factory(tier pool.Tier, capacity int, cost float64) pool.Factory {
	var mtx sync.Mutex
	var n int
	return func() (*pool.Service, error) {
		mtx.Lock()
		defer mtx.Unlock()
		svc := pool.NewService(pool.ServiceID(fmt.Sprintf("%s-%d", tier, n)), tier, capacity, cost)
		n++
		return svc, nil
	}
}

// FailingFactory returns a pool.Factory that always fails with err.
func FailingFactory(err error) pool.Factory {
	return func() (*pool.Service, error) {
		return nil, err
	}
}
