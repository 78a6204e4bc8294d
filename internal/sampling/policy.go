// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sampling implements the §4.E retention decision for a completed
// trace: systematic (bounded count, minimum inter-arrival gap) and
// simple_random (probabilistic, unbounded count).
package sampling

import (
	"context"
	"time"

	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/schema"
)

// Params carries everything a Policy needs to decide on one completed
// trace, so implementations take one value instead of a long parameter
// list.
type Params struct {
	OwnerSub      string
	BarName       string
	Version       int
	TraceUID      string
	CreatedAt     time.Time
	MaxCount      int   // sampling_max_count
	MaxAgeSeconds int64 // effective sampling_max_age_seconds (7-day default already applied)
}

// Decision is the outcome of a retention decision.
type Decision struct {
	Retain bool
	// Evicted lists trace_uids that fell out of the retained set as a
	// result of this retention (systematic only; always empty for
	// simple_random, which has no hard cap — §4.E, §9's open question).
	Evicted []string
}

// Policy decides whether to retain a completed trace.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the hot store they are
// given already serializes its own writes.
type Policy interface {
	Decide(ctx context.Context, store hotstore.Store, now time.Time, p Params) (Decision, error)
}

// For returns the Policy for a bar's configured sampling technique.
func For(technique schema.SamplingTechnique) Policy {
	switch technique {
	case schema.SamplingSystematic:
		return Systematic{}
	case schema.SamplingSimpleRandom:
		return NewSimpleRandom()
	default:
		return Systematic{}
	}
}
