// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&PoolSuite{})

type PoolSuite struct{}

func testLogger() logrus.FieldLogger {
	logger := logrus.StandardLogger()
	if os.Getenv("DYNAMO_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func (*PoolSuite) TestAppendAndSnapshot(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	c.Check(sp.Size(), check.Equals, 0)
	for _, id := range []ServiceID{"ws-a", "ws-b", "ws-c"} {
		c.Check(sp.Append(NewService(id, TierWebServer, 10, 5)), check.IsNil)
	}
	c.Check(sp.Size(), check.Equals, 3)
	views := sp.Snapshot()
	c.Assert(views, check.HasLen, 3)
	// insertion order is preserved
	c.Check(views[0].ID, check.Equals, ServiceID("ws-a"))
	c.Check(views[1].ID, check.Equals, ServiceID("ws-b"))
	c.Check(views[2].ID, check.Equals, ServiceID("ws-c"))
	c.Check(views[0].Status, check.Equals, StatusActive)
	c.Check(views[0].Cost, check.Equals, 5.0)
}

func (*PoolSuite) TestAppendRejects(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	c.Check(sp.Append(nil), check.NotNil)
	c.Check(sp.Append(NewService("ws-a", TierWebServer, 0, 5)), check.ErrorMatches, `.*invalid capacity.*`)
	c.Check(sp.Append(NewService("db-a", TierDatabase, 10, 5)), check.ErrorMatches, `.*tier.*`)
	c.Check(sp.Append(NewService("ws-a", TierWebServer, 10, 5)), check.IsNil)
	c.Check(sp.Append(NewService("ws-a", TierWebServer, 10, 5)), check.ErrorMatches, `duplicate service ID ws-a`)
	c.Check(sp.Size(), check.Equals, 1)
}

func (*PoolSuite) TestRemoveLast(c *check.C) {
	sp := NewPool(testLogger(), nil, TierDatabase)
	_, err := sp.RemoveLast()
	c.Check(err, check.Equals, ErrEmptyPool)

	c.Check(sp.Append(NewService("db-a", TierDatabase, 10, 20)), check.IsNil)
	c.Check(sp.Append(NewService("db-b", TierDatabase, 10, 20)), check.IsNil)
	view, err := sp.RemoveLast()
	c.Assert(err, check.IsNil)
	c.Check(view.ID, check.Equals, ServiceID("db-b"))
	c.Check(sp.Size(), check.Equals, 1)
	view, err = sp.RemoveLast()
	c.Assert(err, check.IsNil)
	c.Check(view.ID, check.Equals, ServiceID("db-a"))
	_, err = sp.RemoveLast()
	c.Check(err, check.Equals, ErrEmptyPool)
}

func (*PoolSuite) TestRemoveLastDrainsLoadedService(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	c.Check(sp.Append(NewService("ws-a", TierWebServer, 10, 5)), check.IsNil)
	c.Check(sp.Append(NewService("ws-b", TierWebServer, 10, 5)), check.IsNil)
	c.Check(sp.StartRequest("ws-b"), check.Equals, true)

	// ws-b has outstanding load, so removal drains it instead
	view, err := sp.RemoveLast()
	c.Assert(err, check.IsNil)
	c.Check(view.ID, check.Equals, ServiceID("ws-b"))
	c.Check(view.Status, check.Equals, StatusDraining)
	c.Check(sp.Size(), check.Equals, 2)

	// a draining service no longer receives traffic
	for i := 0; i < 4; i++ {
		id, err := sp.Choose(func(svcs []ServiceView) int { return 0 })
		c.Assert(err, check.IsNil)
		c.Check(id, check.Equals, ServiceID("ws-a"))
		sp.FinishRequest(id)
	}

	// the last FinishRequest reaps it
	c.Check(sp.FinishRequest("ws-b"), check.Equals, true)
	c.Check(sp.Size(), check.Equals, 1)
	c.Check(sp.Snapshot()[0].ID, check.Equals, ServiceID("ws-a"))
}

func (*PoolSuite) TestDrain(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	c.Check(sp.Drain("ws-a"), check.ErrorMatches, `service ws-a not found`)
	c.Check(sp.Append(NewService("ws-a", TierWebServer, 10, 5)), check.IsNil)
	// no outstanding load: drained service is reaped immediately
	c.Check(sp.Drain("ws-a"), check.IsNil)
	c.Check(sp.Size(), check.Equals, 0)
}

func (*PoolSuite) TestChooseEmptyPool(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	called := false
	_, err := sp.Choose(func([]ServiceView) int { called = true; return 0 })
	c.Check(err, check.Equals, ErrEmptyPool)
	c.Check(called, check.Equals, false)
}

func (*PoolSuite) TestChooseIncrementsLoad(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	c.Check(sp.Append(NewService("ws-a", TierWebServer, 10, 5)), check.IsNil)
	id, err := sp.Choose(func(svcs []ServiceView) int { return 0 })
	c.Assert(err, check.IsNil)
	c.Check(id, check.Equals, ServiceID("ws-a"))
	c.Check(sp.Snapshot()[0].Load, check.Equals, 1)

	// out-of-range pick mutates nothing
	_, err = sp.Choose(func(svcs []ServiceView) int { return 5 })
	c.Check(err, check.Equals, ErrEmptyPool)
	c.Check(sp.Snapshot()[0].Load, check.Equals, 1)
}

func (*PoolSuite) TestFinishRequestFloor(c *check.C) {
	sp := NewPool(testLogger(), nil, TierDatabase)
	c.Check(sp.Append(NewService("db-a", TierDatabase, 10, 20)), check.IsNil)
	// finishing with no outstanding load is a no-op, not negative
	c.Check(sp.FinishRequest("db-a"), check.Equals, true)
	c.Check(sp.Snapshot()[0].Load, check.Equals, 0)
	c.Check(sp.FinishRequest("db-nope"), check.Equals, false)
}

func (*PoolSuite) TestLoadAccountingUnderContention(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	c.Check(sp.Append(NewService("ws-a", TierWebServer, 1000, 5)), check.IsNil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sp.StartRequest("ws-a")
				sp.FinishRequest("ws-a")
			}
		}()
	}
	wg.Wait()
	view := sp.Snapshot()[0]
	c.Check(view.Load, check.Equals, 0)
}

func (*PoolSuite) TestConcurrentChooseAndRemove(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	for _, id := range []ServiceID{"ws-a", "ws-b", "ws-c", "ws-d"} {
		c.Check(sp.Append(NewService(id, TierWebServer, 1000, 5)), check.IsNil)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id, err := sp.Choose(func(svcs []ServiceView) int { return j % len(svcs) })
				if err == nil {
					sp.FinishRequest(id)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 3; j++ {
			sp.RemoveLast()
		}
	}()
	wg.Wait()
	// every Choose was paired with a FinishRequest, so whatever
	// services remain carry no load
	for _, view := range sp.Snapshot() {
		c.Check(view.Load, check.Equals, 0)
	}
	c.Check(sp.Size(), check.Equals, 1)
}

func (*PoolSuite) TestSubscribe(c *check.C) {
	sp := NewPool(testLogger(), nil, TierWebServer)
	ch := sp.Subscribe()
	defer sp.Unsubscribe(ch)
	c.Check(sp.Append(NewService("ws-a", TierWebServer, 10, 5)), check.IsNil)
	<-ch
}
