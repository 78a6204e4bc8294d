// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package predictor is the §4.F cell materialization and estimation
// engine: one PredictorCell per (bar, version, position-or-whole,
// technique-key), lazily built from durable.Store.RetainedStepSamples and
// kept current by exact incremental add/remove as traces are retained or
// evicted.
package predictor

import (
	"sync"

	"github.com/AleutianAI/pbartrace/internal/schema"
)

// Sample is one retained trace's contribution to a step position: the
// measured duration, and the iteration count (durable.StepNotIterated for
// non-iterated steps).
type Sample struct {
	Iterations      int
	DurationSeconds float64
}

// Cell is a single materialized predictor cell. Its technique and
// percentile are fixed at construction (they come from the owning
// StepSpec and never change without a schema version bump, which simply
// produces a new cell key).
//
// # Thread Safety
//
// Safe for concurrent use.
type Cell struct {
	mu         sync.RWMutex
	technique  schema.Technique
	percentile int

	mean   *meanAccumulator
	pct    *percentileAccumulator
	linear *linearAccumulator

	iterations *percentileAccumulator // observed iteration counts, for MedianIterations
}

// NewCell constructs an empty Cell for the given technique/percentile.
func NewCell(technique schema.Technique, percentile int) *Cell {
	c := &Cell{technique: technique, percentile: percentile, iterations: newPercentileAccumulator()}
	switch technique {
	case schema.TechniqueGeometricMean:
		c.mean = newMeanAccumulator(meanGeometric)
	case schema.TechniqueHarmonicMean:
		c.mean = newMeanAccumulator(meanHarmonic)
	case schema.TechniquePercentile:
		c.pct = newPercentileAccumulator()
	case schema.TechniqueBestFitLinear:
		c.linear = newLinearAccumulator()
	default:
		c.mean = newMeanAccumulator(meanArithmetic)
	}
	return c
}

// normalize converts a raw Sample into the value a mean or percentile
// accumulator folds in: the raw duration for non-iterated steps, or
// duration-per-iteration for iterated steps whose technique is not
// best_fit.linear (§4.F: "linear fit treats n as the independent
// variable directly; every other technique normalizes to a per-iteration
// rate first").
func normalize(s Sample) float64 {
	if s.Iterations > 0 {
		return s.DurationSeconds / float64(s.Iterations)
	}
	return s.DurationSeconds
}

// Add folds a retained trace's sample into the cell.
func (c *Cell) Add(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Iterations > 0 {
		c.iterations.add(float64(s.Iterations))
	}
	if c.linear != nil {
		n := float64(s.Iterations)
		if s.Iterations <= 0 {
			n = 1
		}
		c.linear.add(n, s.DurationSeconds)
		return
	}
	v := normalize(s)
	if c.pct != nil {
		c.pct.add(v)
		return
	}
	c.mean.add(v)
}

// Remove reverses a prior Add, used when systematic sampling evicts a
// retained trace.
func (c *Cell) Remove(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Iterations > 0 {
		c.iterations.remove(float64(s.Iterations))
	}
	if c.linear != nil {
		n := float64(s.Iterations)
		if s.Iterations <= 0 {
			n = 1
		}
		c.linear.remove(n, s.DurationSeconds)
		return
	}
	v := normalize(s)
	if c.pct != nil {
		c.pct.remove(v)
		return
	}
	c.mean.remove(v)
}

// Fit returns the cell's current (slope, intercept): for every technique
// except best_fit.linear, slope is always 0 and intercept is the
// technique's estimate of the per-iteration (or whole-step) value.
func (c *Cell) Fit() (slope, intercept float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.linear != nil:
		return c.linear.fit()
	case c.pct != nil:
		v, ok := c.pct.estimate(c.percentile)
		return 0, v, ok
	default:
		v, ok := c.mean.estimate()
		return 0, v, ok
	}
}

// MedianIterations returns the median iteration count observed among
// retained samples for an iterated step, used as the fallback n in
// PredictWhole when the caller supplies no per-trace iteration count
// (§4.F: "median-of-retained for iterated steps when no per-trace
// iterations count is supplied").
func (c *Cell) MedianIterations() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.iterations.estimate(50)
	return int(v), ok
}

// Predict returns the estimated duration in seconds for a step invoked
// with the given iteration count (0 or negative for non-iterated steps).
func (c *Cell) Predict(iterations int) (float64, bool) {
	slope, intercept, ok := c.Fit()
	if !ok {
		return 0, false
	}
	if c.technique == schema.TechniqueBestFitLinear {
		n := float64(iterations)
		if iterations <= 0 {
			n = 1
		}
		return slope*n + intercept, true
	}
	if iterations > 0 {
		return intercept * float64(iterations), true
	}
	return intercept, true
}
