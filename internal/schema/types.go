// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema resolves (owner, bar name) pairs to the current BarSchema
// and owns the cache-invalidation contract with the durable store.
package schema

import "strconv"

// DefaultStepName is the reserved name for position 0, the default spec
// that supplies the whole-trace estimate's technique.
const DefaultStepName = "default"

// Technique names a per-step statistical estimator.
type Technique string

const (
	TechniqueArithmeticMean Technique = "arithmetic_mean"
	TechniqueGeometricMean  Technique = "geometric_mean"
	TechniqueHarmonicMean   Technique = "harmonic_mean"
	TechniquePercentile     Technique = "percentile"
	TechniqueBestFitLinear  Technique = "best_fit.linear"
)

// SamplingTechnique names the retention policy a ProgressBar uses.
type SamplingTechnique string

const (
	SamplingSystematic   SamplingTechnique = "systematic"
	SamplingSimpleRandom SamplingTechnique = "simple_random"
)

// UnboundedAgeSeconds represents sampling_max_age_seconds = ∞.
const UnboundedAgeSeconds = 0

// DefaultIdleExpirySeconds is the idle bound applied when a ProgressBar
// does not override it (§4.D: "default 1 hour").
const DefaultIdleExpirySeconds = 3600

// DefaultSamplingWindowSeconds is the fallback window (§4.E: "7 days")
// used by both sampling techniques when sampling_max_age_seconds is unbounded.
const DefaultSamplingWindowSeconds = 7 * 24 * 3600

// ProgressBar is the §3 ProgressBar entity.
type ProgressBar struct {
	ID                    string
	OwnerSub              string
	Name                  string
	SamplingMaxCount      int
	SamplingMaxAgeSeconds int64 // 0 means unbounded (∞)
	SamplingTechnique     SamplingTechnique
	Version               int
	IdleExpirySeconds      int64
}

// EffectiveSamplingWindowSeconds returns sampling_max_age_seconds, or the
// 7-day default when it is unbounded.
func (b ProgressBar) EffectiveSamplingWindowSeconds() int64 {
	if b.SamplingMaxAgeSeconds == UnboundedAgeSeconds {
		return DefaultSamplingWindowSeconds
	}
	return b.SamplingMaxAgeSeconds
}

// EffectiveIdleExpirySeconds returns the bar's idle bound, or the default.
func (b ProgressBar) EffectiveIdleExpirySeconds() int64 {
	if b.IdleExpirySeconds <= 0 {
		return DefaultIdleExpirySeconds
	}
	return b.IdleExpirySeconds
}

// StepSpec is the §3 StepSpec entity. Position 0 is the reserved default
// spec; positions 1..K are the real, contiguous sequence.
type StepSpec struct {
	ID       string
	BarID    string
	Position int
	Name     string
	Iterated bool

	// OneOffTechnique/OneOffPercentile apply when Iterated is false.
	OneOffTechnique  Technique
	OneOffPercentile int

	// IteratedTechnique/IteratedPercentile apply when Iterated is true.
	IteratedTechnique  Technique
	IteratedPercentile int
}

// ActiveTechnique returns the technique this step actually uses, given its
// Iterated flag.
func (s StepSpec) ActiveTechnique() Technique {
	if s.Iterated {
		return s.IteratedTechnique
	}
	return s.OneOffTechnique
}

// ActivePercentile returns the configured percentile, meaningful only when
// ActiveTechnique() == TechniquePercentile.
func (s StepSpec) ActivePercentile() int {
	if s.Iterated {
		return s.IteratedPercentile
	}
	return s.OneOffPercentile
}

// TechniqueKey renders the grammar from §6:
// arithmetic_mean | geometric_mean | harmonic_mean | best_fit.linear | percentile_{P}
func TechniqueKey(technique Technique, percentile int) string {
	if technique == TechniquePercentile {
		return "percentile_" + strconv.Itoa(percentile)
	}
	return string(technique)
}

// BarSchema is the resolved view §4.B promises: the bar plus its step
// specs in position order, position 0 first.
type BarSchema struct {
	Bar   ProgressBar
	Steps []StepSpec // index 0 is position 0 (the default spec)
}

// StepAt returns the StepSpec at the given position, or false if absent.
func (s BarSchema) StepAt(position int) (StepSpec, bool) {
	for _, step := range s.Steps {
		if step.Position == position {
			return step, true
		}
	}
	return StepSpec{}, false
}

// DefaultSpec returns the position-0 spec.
func (s BarSchema) DefaultSpec() (StepSpec, bool) {
	return s.StepAt(0)
}

// LastPosition returns K, the highest real step position (excluding the
// position-0 default spec).
func (s BarSchema) LastPosition() int {
	max := 0
	for _, step := range s.Steps {
		if step.Position > max {
			max = step.Position
		}
	}
	return max
}
