// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package predictor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/pbartrace/internal/durable"
	"github.com/AleutianAI/pbartrace/internal/schema"
)

// wholePosition is the pseudo-position used to key the §4.F "direct"
// whole-trace cell, fed from each retained trace's total duration and
// estimated with the bar's position-0 default spec's technique.
const wholePosition = -1

// Engine owns every materialized PredictorCell for every (owner, bar,
// version). Cold cells are built lazily from durable.Store on first
// access; concurrent first accesses for the same key are coalesced with
// singleflight so a burst of queries against a cold bar triggers exactly
// one scan (§4.F, §9: "recompute is coalesced").
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	store durable.Store

	mu    sync.RWMutex
	cells map[string]*Cell

	group singleflight.Group
}

// NewEngine constructs an Engine backed by store.
func NewEngine(store durable.Store) *Engine {
	return &Engine{store: store, cells: make(map[string]*Cell)}
}

func cellKey(ownerSub, barName string, version, position int, technique schema.Technique, percentile int) string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%s", ownerSub, barName, version, position, schema.TechniqueKey(technique, percentile))
}

// cellFor returns the cell for the given key, materializing it from
// durable.Store on first access. load is called, under singleflight
// coalescing, to bulk-feed a freshly constructed cell when it does not yet
// exist.
func (e *Engine) cellFor(ctx context.Context, key string, technique schema.Technique, percentile int, load func(ctx context.Context, c *Cell) error) (*Cell, error) {
	e.mu.RLock()
	c, ok := e.cells[key]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	result, err, _ := e.group.Do(key, func() (any, error) {
		e.mu.RLock()
		existing, ok := e.cells[key]
		e.mu.RUnlock()
		if ok {
			return existing, nil
		}
		fresh := NewCell(technique, percentile)
		if err := load(ctx, fresh); err != nil {
			return nil, err
		}
		e.mu.Lock()
		e.cells[key] = fresh
		e.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Cell), nil
}

func (e *Engine) stepCell(ctx context.Context, ownerSub, barName string, version int, step schema.StepSpec) (*Cell, error) {
	key := cellKey(ownerSub, barName, version, step.Position, step.ActiveTechnique(), step.ActivePercentile())
	return e.cellFor(ctx, key, step.ActiveTechnique(), step.ActivePercentile(), func(ctx context.Context, c *Cell) error {
		samples, err := e.store.RetainedStepSamples(ctx, ownerSub, barName, version, step.Position)
		if err != nil {
			return err
		}
		for _, s := range samples {
			c.Add(Sample{Iterations: s.Iterations, DurationSeconds: s.DurationSeconds})
		}
		return nil
	})
}

func (e *Engine) wholeCell(ctx context.Context, ownerSub, barName string, version int, defaultSpec schema.StepSpec) (*Cell, error) {
	key := cellKey(ownerSub, barName, version, wholePosition, defaultSpec.ActiveTechnique(), defaultSpec.ActivePercentile())
	return e.cellFor(ctx, key, defaultSpec.ActiveTechnique(), defaultSpec.ActivePercentile(), func(ctx context.Context, c *Cell) error {
		totals, err := e.store.RetainedTraceTotals(ctx, ownerSub, barName, version)
		if err != nil {
			return err
		}
		for _, total := range totals {
			c.Add(Sample{Iterations: durable.StepNotIterated, DurationSeconds: total})
		}
		return nil
	})
}

// Retain folds a newly retained trace into every step cell it touches and
// into the whole-trace direct cell keyed by the bar's default spec.
func (e *Engine) Retain(ctx context.Context, bar schema.BarSchema, rec durable.TraceRecord) error {
	var total float64
	for _, step := range rec.Steps {
		spec, ok := bar.StepAt(step.Position)
		if !ok {
			continue
		}
		c, err := e.stepCell(ctx, rec.OwnerSub, rec.BarName, rec.Version, spec)
		if err != nil {
			return err
		}
		duration := step.FinishedAt.Sub(step.StartedAt).Seconds()
		c.Add(Sample{Iterations: step.Iterations, DurationSeconds: duration})
		total += duration
	}

	if defaultSpec, ok := bar.DefaultSpec(); ok {
		c, err := e.wholeCell(ctx, rec.OwnerSub, rec.BarName, rec.Version, defaultSpec)
		if err != nil {
			return err
		}
		c.Add(Sample{Iterations: durable.StepNotIterated, DurationSeconds: total})
	}
	return nil
}

// Evict reverses a trace previously folded in by Retain, used when
// systematic sampling trims the retained set past sampling_max_count.
func (e *Engine) Evict(ctx context.Context, bar schema.BarSchema, rec durable.TraceRecord) error {
	var total float64
	for _, step := range rec.Steps {
		spec, ok := bar.StepAt(step.Position)
		if !ok {
			continue
		}
		c, err := e.stepCell(ctx, rec.OwnerSub, rec.BarName, rec.Version, spec)
		if err != nil {
			return err
		}
		duration := step.FinishedAt.Sub(step.StartedAt).Seconds()
		c.Remove(Sample{Iterations: step.Iterations, DurationSeconds: duration})
		total += duration
	}

	if defaultSpec, ok := bar.DefaultSpec(); ok {
		c, err := e.wholeCell(ctx, rec.OwnerSub, rec.BarName, rec.Version, defaultSpec)
		if err != nil {
			return err
		}
		c.Remove(Sample{Iterations: durable.StepNotIterated, DurationSeconds: total})
	}
	return nil
}

// PredictStep returns the estimated duration of one step position, given
// the iteration count the caller expects to run it with (ignored for
// non-iterated steps).
func (e *Engine) PredictStep(ctx context.Context, bar schema.BarSchema, ownerSub, barName string, version, position, iterations int) (float64, bool, error) {
	spec, ok := bar.StepAt(position)
	if !ok {
		return 0, false, nil
	}
	c, err := e.stepCell(ctx, ownerSub, barName, version, spec)
	if err != nil {
		return 0, false, err
	}
	if !spec.Iterated {
		iterations = 0
	}
	v, ok := c.Predict(iterations)
	return v, ok, nil
}

// DirectWholeEstimate returns the whole-trace estimate computed by fitting
// the bar's default spec's technique directly against each retained
// trace's total duration.
func (e *Engine) DirectWholeEstimate(ctx context.Context, bar schema.BarSchema) (float64, bool, error) {
	defaultSpec, ok := bar.DefaultSpec()
	if !ok {
		return 0, false, nil
	}
	c, err := e.wholeCell(ctx, bar.Bar.OwnerSub, bar.Bar.Name, bar.Bar.Version, defaultSpec)
	if err != nil {
		return 0, false, err
	}
	v, ok := c.Predict(0)
	return v, ok, nil
}

// Invalidate drops every materialized cell for a bar version, used when a
// schema change bumps the version and the old version's cells become
// unreachable dead weight.
func (e *Engine) Invalidate(ownerSub, barName string, version int) {
	prefix := fmt.Sprintf("%s\x00%s\x00%d\x00", ownerSub, barName, version)
	e.mu.Lock()
	defer e.mu.Unlock()
	for key := range e.cells {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(e.cells, key)
		}
	}
}
