// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package pool

import (
	"fmt"
	"time"
)

// A ServiceID uniquely identifies a service within the tier it belongs
// to.
type ServiceID string

// Tier is the class of backend resource a service belongs to.
type Tier int

const (
	TierWebServer Tier = iota
	TierDatabase
)

var tierString = map[Tier]string{
	TierWebServer: "webserver",
	TierDatabase:  "database",
}

// String implements fmt.Stringer.
func (t Tier) String() string {
	return tierString[t]
}

// MarshalText implements encoding.TextMarshaler so a JSON encoding of
// a service view uses the tier's string representation.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(tierString[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	for tier, s := range tierString {
		if s == string(text) {
			*t = tier
			return nil
		}
	}
	return fmt.Errorf("invalid tier %q", text)
}

// Status indicates whether a service accepts new requests.
type Status int

const (
	// StatusActive services receive traffic and can be removed by
	// the scaler.
	StatusActive Status = iota
	// StatusDraining services are excluded from dispatch and are
	// reaped by their pool once their outstanding load reaches
	// zero.
	StatusDraining
)

var statusString = map[Status]string{
	StatusActive:   "active",
	StatusDraining: "draining",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return statusString[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(statusString[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for status, str := range statusString {
		if str == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("invalid service status %q", text)
}

// A Factory constructs a new service instance for its tier. A factory
// may fail, and may return a service whose cost disqualifies it from
// admission; the scaler treats both the same as "no action".
type Factory func() (*Service, error)

// A Service is one unit of simulated compute: a web server or database
// instance with identity, capacity, current load, and cost. A Service
// is owned exclusively by the Pool it is appended to; its mutable
// fields (load, status) are guarded by that pool's lock.
type Service struct {
	id       ServiceID
	tier     Tier
	capacity int
	cost     float64
	start    func() error

	// guarded by the owning pool's mtx
	load   int
	status Status
	added  time.Time
}

// NewService returns an unstarted Service that is not yet owned by any
// pool.
func NewService(id ServiceID, tier Tier, capacity int, cost float64) *Service {
	return &Service{
		id:       id,
		tier:     tier,
		capacity: capacity,
		cost:     cost,
	}
}

// WithStart attaches a startup hook, invoked by Start before the
// service is admitted to a pool. It returns svc for chaining in
// factories.
func (svc *Service) WithStart(fn func() error) *Service {
	svc.start = fn
	return svc
}

// ID returns the service's identifier.
func (svc *Service) ID() ServiceID { return svc.id }

// Tier returns the service's tier.
func (svc *Service) Tier() Tier { return svc.tier }

// Capacity returns the maximum number of concurrent requests the
// service is meant to carry.
func (svc *Service) Capacity() int { return svc.capacity }

// Cost returns the service's cost per accounting period.
func (svc *Service) Cost() float64 { return svc.cost }

// Start invokes the service's startup hook, if any. The scaler calls
// Start before appending a new instance to its pool.
func (svc *Service) Start() error {
	if svc.start == nil {
		return nil
	}
	return svc.start()
}

// A ServiceView is an immutable copy of a service's state, safe to use
// without holding the owning pool's lock.
type ServiceView struct {
	ID       ServiceID `json:"id"`
	Tier     Tier      `json:"tier"`
	Capacity int       `json:"capacity"`
	Load     int       `json:"load"`
	Cost     float64   `json:"cost"`
	Status   Status    `json:"status"`
	Added    time.Time `json:"added"`
}

// caller must have the owning pool's lock.
func (svc *Service) view() ServiceView {
	return ServiceView{
		ID:       svc.id,
		Tier:     svc.tier,
		Capacity: svc.capacity,
		Load:     svc.load,
		Cost:     svc.cost,
		Status:   svc.status,
		Added:    svc.added,
	}
}
