// Copyright (C) The Dynamo Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package scaler

import (
	"github.com/jmcvetta/randutil"
)

// A DecisionSource answers the scaler's weighted yes/no questions
// (scale a database vs. a web server, remove a web server vs. a
// database). It is injectable so tests can force either branch
// deterministically instead of depending on uncontrolled randomness.
type DecisionSource interface {
	// Decide returns true with the given probability.
	Decide(probability float64) bool
}

// NewWeightedSource returns the production DecisionSource, a weighted
// coin flip.
func NewWeightedSource() DecisionSource {
	return weightedSource{}
}

type weightedSource struct{}

func (weightedSource) Decide(probability float64) bool {
	if probability <= 0 {
		return false
	}
	if probability >= 1 {
		return true
	}
	yes := int(probability * 1000)
	choice, err := randutil.WeightedChoice([]randutil.Choice{
		{Weight: yes, Item: true},
		{Weight: 1000 - yes, Item: false},
	})
	if err != nil {
		return false
	}
	return choice.Item.(bool)
}
