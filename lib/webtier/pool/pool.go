// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package pool maintains the mutable collections of web server and
// database services that the balancer dispatches to and the scaler
// resizes.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	// ErrEmptyPool is returned by selection and removal operations
	// when the pool has no eligible service.
	ErrEmptyPool = errors.New("pool has no available services")
)

// A Pool is an ordered, mutable collection of services of one tier.
// Insertion order is significant: the balancer's round-robin cursor
// walks it, and the scaler removes the most recently added service
// first.
//
// One mutex guards every operation, so a choose+increment sequence, an
// append, and a removal are all atomic with respect to each other: a
// request never observes a service mid-removal, and a removal never
// silently drops load accounted against a service (services with
// outstanding load are drained, then reaped).
type Pool struct {
	logger logrus.FieldLogger
	tier   Tier

	mtx         sync.Mutex
	services    []*Service
	byID        map[ServiceID]*Service
	subscribers map[<-chan struct{}]chan<- struct{}

	mServices       prometheus.Gauge
	mServicesCost   prometheus.Gauge
	mRequestsActive prometheus.Gauge
}

// NewPool returns an empty pool for the given tier, registering its
// metrics with reg.
func NewPool(logger logrus.FieldLogger, reg *prometheus.Registry, tier Tier) *Pool {
	sp := &Pool{
		logger:      logger.WithField("Tier", tier.String()),
		tier:        tier,
		byID:        map[ServiceID]*Service{},
		subscribers: map[<-chan struct{}]chan<- struct{}{},
	}
	sp.registerMetrics(reg)
	return sp
}

// Tier returns the tier this pool holds services for.
func (sp *Pool) Tier() Tier { return sp.tier }

// Subscribe returns a buffered channel that becomes ready after any
// change to the pool's membership or load. Events that occur while the
// channel is already ready are dropped, so it is OK if the caller
// services the channel slowly.
func (sp *Pool) Subscribe() <-chan struct{} {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	ch := make(chan struct{}, 1)
	sp.subscribers[ch] = ch
	return ch
}

// Unsubscribe stops sending updates to the given channel.
func (sp *Pool) Unsubscribe(ch <-chan struct{}) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	delete(sp.subscribers, ch)
}

// Append adds svc to the end of the pool. It returns an error if svc
// is nil, has a non-positive capacity, belongs to a different tier, or
// duplicates the ID of a service already in the pool.
func (sp *Pool) Append(svc *Service) error {
	if svc == nil {
		return errors.New("cannot append nil service")
	}
	if svc.capacity < 1 {
		return fmt.Errorf("service %s has invalid capacity %d", svc.id, svc.capacity)
	}
	if svc.tier != sp.tier {
		return fmt.Errorf("service %s has tier %s, pool holds %s", svc.id, svc.tier, sp.tier)
	}
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	if _, ok := sp.byID[svc.id]; ok {
		return fmt.Errorf("duplicate service ID %s", svc.id)
	}
	svc.added = time.Now()
	svc.status = StatusActive
	sp.services = append(sp.services, svc)
	sp.byID[svc.id] = svc
	sp.updateMetrics()
	go sp.notify()
	return nil
}

// RemoveLast removes the most recently added active service. If that
// service still has outstanding load it is marked draining instead:
// it stops receiving traffic immediately and is reaped by
// FinishRequest when its load reaches zero. Either way the returned
// view describes the affected service.
//
// RemoveLast returns ErrEmptyPool when the pool has no active service
// left to remove.
func (sp *Pool) RemoveLast() (ServiceView, error) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	for i := len(sp.services) - 1; i >= 0; i-- {
		svc := sp.services[i]
		if svc.status != StatusActive {
			continue
		}
		if svc.load > 0 {
			svc.status = StatusDraining
			sp.logger.WithFields(logrus.Fields{
				"ServiceID": svc.id,
				"Load":      svc.load,
			}).Info("service has outstanding load, draining instead of removing")
		} else {
			sp.removeLocked(i)
		}
		sp.updateMetrics()
		go sp.notify()
		return svc.view(), nil
	}
	return ServiceView{}, ErrEmptyPool
}

// Drain marks the identified service as draining. It is reaped once
// its outstanding load reaches zero (immediately, if it has none).
func (sp *Pool) Drain(id ServiceID) error {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	svc, ok := sp.byID[id]
	if !ok {
		return fmt.Errorf("service %s not found", id)
	}
	svc.status = StatusDraining
	if svc.load == 0 {
		sp.reapLocked(svc)
	}
	sp.updateMetrics()
	go sp.notify()
	return nil
}

// Choose passes views of the pool's dispatchable services (active, in
// insertion order) to pick, and increments the load of the service at
// the index pick returns -- all under the pool's lock, so two
// concurrent callers cannot double-book the same service.
//
// Choose returns ErrEmptyPool if the pool has no dispatchable service,
// without calling pick and without mutating anything. A pick result
// outside [0,len) also leaves the pool unchanged.
func (sp *Pool) Choose(pick func(svcs []ServiceView) int) (ServiceID, error) {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	views := make([]ServiceView, 0, len(sp.services))
	active := make([]*Service, 0, len(sp.services))
	for _, svc := range sp.services {
		if svc.status != StatusActive {
			continue
		}
		views = append(views, svc.view())
		active = append(active, svc)
	}
	if len(views) == 0 {
		return "", ErrEmptyPool
	}
	i := pick(views)
	if i < 0 || i >= len(active) {
		return "", ErrEmptyPool
	}
	svc := active[i]
	svc.load++
	sp.updateMetrics()
	return svc.id, nil
}

// StartRequest accounts one request starting on the identified
// service. The balancer's Choose already does this as part of
// selection; StartRequest exists for callers that route by ID
// themselves. It reports whether the ID was found in this pool.
func (sp *Pool) StartRequest(id ServiceID) bool {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	svc, ok := sp.byID[id]
	if !ok {
		return false
	}
	svc.load++
	sp.updateMetrics()
	return true
}

// FinishRequest accounts one request finishing on the identified
// service. Load never goes below zero: a FinishRequest on a service
// with no outstanding load is a no-op. A draining service whose load
// reaches zero is reaped here.
//
// FinishRequest reports whether the ID was found in this pool.
func (sp *Pool) FinishRequest(id ServiceID) bool {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	svc, ok := sp.byID[id]
	if !ok {
		return false
	}
	if svc.load > 0 {
		svc.load--
	} else {
		sp.logger.WithField("ServiceID", id).Debug("FinishRequest with no outstanding load")
	}
	if svc.status == StatusDraining && svc.load == 0 {
		sp.reapLocked(svc)
		go sp.notify()
	}
	sp.updateMetrics()
	return true
}

// Snapshot returns views of all services in insertion order, including
// draining ones (they still incur cost and carry load).
func (sp *Pool) Snapshot() []ServiceView {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	return sp.snapshotLocked()
}

// Size returns the number of services in the pool, including draining
// ones.
func (sp *Pool) Size() int {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	return len(sp.services)
}

// caller must have lock.
func (sp *Pool) snapshotLocked() []ServiceView {
	views := make([]ServiceView, 0, len(sp.services))
	for _, svc := range sp.services {
		views = append(views, svc.view())
	}
	return views
}

// caller must have lock.
func (sp *Pool) removeLocked(i int) {
	svc := sp.services[i]
	copy(sp.services[i:], sp.services[i+1:])
	sp.services = sp.services[:len(sp.services)-1]
	delete(sp.byID, svc.id)
	sp.logger.WithField("ServiceID", svc.id).Info("service removed from pool")
}

// caller must have lock.
func (sp *Pool) reapLocked(svc *Service) {
	for i, s := range sp.services {
		if s == svc {
			sp.removeLocked(i)
			return
		}
	}
}

func (sp *Pool) notify() {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	for _, send := range sp.subscribers {
		select {
		case send <- struct{}{}:
		default:
		}
	}
}

func (sp *Pool) registerMetrics(reg *prometheus.Registry) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"tier": sp.tier.String()}
	sp.mServices = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "dynamo",
		Subsystem:   "webtier",
		Name:        "services",
		Help:        "Number of services in the pool, including draining ones.",
		ConstLabels: labels,
	})
	reg.MustRegister(sp.mServices)
	sp.mServicesCost = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "dynamo",
		Subsystem:   "webtier",
		Name:        "services_cost",
		Help:        "Sum of costs of all services in the pool.",
		ConstLabels: labels,
	})
	reg.MustRegister(sp.mServicesCost)
	sp.mRequestsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "dynamo",
		Subsystem:   "webtier",
		Name:        "requests_active",
		Help:        "Number of requests currently assigned to services in the pool.",
		ConstLabels: labels,
	})
	reg.MustRegister(sp.mRequestsActive)
}

// caller must have lock.
func (sp *Pool) updateMetrics() {
	var cost float64
	var load int
	for _, svc := range sp.services {
		cost += svc.cost
		load += svc.load
	}
	sp.mServices.Set(float64(len(sp.services)))
	sp.mServicesCost.Set(cost)
	sp.mRequestsActive.Set(float64(load))
}
