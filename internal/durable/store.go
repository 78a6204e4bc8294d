// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package durable is the §6 durable relational store contract: the
// progress_bars / progress_bar_steps / progress_bar_traces /
// progress_bar_trace_steps tables this core writes retained traces to and
// scans to materialize predictor cells. The billing-adjacent tables
// (pricing_plans, user_usages, ...) named in §6 are read only by the
// external entitlement collaborator (pkg/extensions) and have no home
// here.
package durable

import (
	"context"
	"time"
)

// StepNotIterated is the sentinel for StepRecord.Iterations when the step
// spec is non-iterated.
const StepNotIterated = -1

// StepRecord is one row of progress_bar_trace_steps.
type StepRecord struct {
	Position   int
	StepName   string
	Iterations int // StepNotIterated if non-iterated
	StartedAt  time.Time
	FinishedAt time.Time
}

// TraceRecord is one retained trace: a progress_bar_traces row plus its
// progress_bar_trace_steps rows, inserted transactionally.
type TraceRecord struct {
	OwnerSub  string
	BarName   string
	BarID     string
	Version   int
	TraceUID  string
	CreatedAt time.Time
	Steps     []StepRecord
}

// StepSample is one retained trace's contribution to a single step
// position's fit: duration in seconds, and the iteration count for
// iterated steps (StepNotIterated otherwise).
type StepSample struct {
	Iterations      int
	DurationSeconds float64
}

// Store is the durable store's retained-trace surface.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// InsertTrace persists a retained trace and its steps in a single
	// transaction (§4.E retention writes, §5 "no partial state is left").
	InsertTrace(ctx context.Context, rec TraceRecord) error

	// GetTrace reads back a previously retained trace, used to recover its
	// per-step samples before reversing their contribution to a
	// PredictorCell on eviction (§4.E, §4.F).
	GetTrace(ctx context.Context, ownerSub, barName string, version int, traceUID string) (TraceRecord, bool, error)

	// DeleteTrace removes a previously retained trace, used when
	// systematic sampling evicts the oldest entries (§4.E eviction).
	DeleteTrace(ctx context.Context, ownerSub, barName string, version int, traceUID string) error

	// RetainedStepSamples scans every retained trace of (ownerSub,
	// barName, version) that touches position, returning one StepSample
	// per trace. Used to materialize a PredictorCell lazily on first
	// query (§4.F).
	RetainedStepSamples(ctx context.Context, ownerSub, barName string, version, position int) ([]StepSample, error)

	// RetainedTraceTotals scans every retained trace of (ownerSub,
	// barName, version), returning each trace's total duration (the sum
	// of its own steps' durations). Used to materialize the direct
	// whole-trace cell keyed by the bar's default spec (§4.F).
	RetainedTraceTotals(ctx context.Context, ownerSub, barName string, version int) ([]float64, error)
}
