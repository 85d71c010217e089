// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package webtier runs a dynamically sized tier of simulated web
// servers and databases under a budget constraint.
//
// A WebTier owns one pool per tier. Incoming requests are dispatched
// by a balancer (round robin or least connections) which increments
// the chosen service's load atomically with the selection; the load is
// released when the request completes. A scaler periodically takes a
// consistent snapshot of both pools and adds or removes instances
// depending on average load, the configured thresholds, and the
// remaining budget.
//
// The pools are the only shared mutable state. Each pool has a single
// lock held across choose+increment and across append/remove; the
// scaler's cross-tier snapshot takes both locks together. Dispatch
// never blocks: an empty pool fails fast so the caller can retry or
// surface a 503.
package webtier
