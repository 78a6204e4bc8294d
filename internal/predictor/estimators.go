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

import "math"

// meanKind selects which of the three §4.F mean techniques an accumulator
// folds a sample into.
type meanKind int

const (
	meanArithmetic meanKind = iota
	meanGeometric
	meanHarmonic
)

// meanAccumulator is a running arithmetic, geometric, or harmonic mean.
// Geometric and harmonic means are themselves sums (of logs, of
// reciprocals), so add and remove are both O(1) and exactly reversible.
type meanAccumulator struct {
	kind  meanKind
	sum   float64
	count int
}

func newMeanAccumulator(kind meanKind) *meanAccumulator {
	return &meanAccumulator{kind: kind}
}

func (m *meanAccumulator) term(v float64) float64 {
	switch m.kind {
	case meanGeometric:
		return math.Log(v)
	case meanHarmonic:
		return 1 / v
	default:
		return v
	}
}

// add folds v into the running mean. Geometric and harmonic means skip a
// v that is zero or negative, since its log or reciprocal is undefined.
func (m *meanAccumulator) add(v float64) {
	if m.kind != meanArithmetic && v <= 0 {
		return
	}
	m.sum += m.term(v)
	m.count++
}

// remove reverses a prior add(v), used when systematic sampling evicts a
// retained trace. It skips the same values add skips.
func (m *meanAccumulator) remove(v float64) {
	if m.kind != meanArithmetic && v <= 0 {
		return
	}
	m.sum -= m.term(v)
	m.count--
}

func (m *meanAccumulator) estimate() (float64, bool) {
	if m.count <= 0 {
		return 0, false
	}
	mean := m.sum / float64(m.count)
	switch m.kind {
	case meanGeometric:
		return math.Exp(mean), true
	case meanHarmonic:
		return float64(m.count) / m.sum, true
	default:
		return mean, true
	}
}

// percentileAccumulator keeps every contributing value in sorted order so
// that percentile(p) is exact rather than approximated, and so a prior add
// can be reversed exactly on eviction.
type percentileAccumulator struct {
	sorted []float64
}

func newPercentileAccumulator() *percentileAccumulator {
	return &percentileAccumulator{}
}

func (p *percentileAccumulator) add(v float64) {
	i := sortSearch(p.sorted, v)
	p.sorted = append(p.sorted, 0)
	copy(p.sorted[i+1:], p.sorted[i:])
	p.sorted[i] = v
}

// remove deletes one instance of v, if present. It is a no-op if v was
// already removed or never added (defensive against a caller replaying an
// eviction twice).
func (p *percentileAccumulator) remove(v float64) {
	i := sortSearch(p.sorted, v)
	if i >= len(p.sorted) || p.sorted[i] != v {
		return
	}
	p.sorted = append(p.sorted[:i], p.sorted[i+1:]...)
}

// estimate returns the smallest retained value whose cumulative fraction is
// >= pct/100 (§4.F's definition of percentile(p)).
func (p *percentileAccumulator) estimate(pct int) (float64, bool) {
	m := len(p.sorted)
	if m == 0 {
		return 0, false
	}
	rank := int(math.Ceil(float64(pct) / 100 * float64(m)))
	if rank < 1 {
		rank = 1
	}
	if rank > m {
		rank = m
	}
	return p.sorted[rank-1], true
}

func sortSearch(sorted []float64, v float64) int {
	lo, hi := 0, len(sorted)
	for lo < hi {
		mid := (lo + hi) / 2
		if sorted[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// linearAccumulator fits t = a*n + b by ordinary least squares, fed purely
// from the sums of n, t, n^2 and n*t — so, like the means, eviction is an
// exact reversal rather than a recompute. best_fit.linear degenerates to
// the arithmetic mean of t when fewer than two distinct n values have been
// observed (§4.F boundary condition).
type linearAccumulator struct {
	count        int
	sumN, sumT   float64
	sumNN, sumNT float64
	distinctN    map[float64]int
	fallback     *meanAccumulator
}

func newLinearAccumulator() *linearAccumulator {
	return &linearAccumulator{
		distinctN: make(map[float64]int),
		fallback:  newMeanAccumulator(meanArithmetic),
	}
}

func (l *linearAccumulator) add(n, t float64) {
	l.count++
	l.sumN += n
	l.sumT += t
	l.sumNN += n * n
	l.sumNT += n * t
	l.distinctN[n]++
	l.fallback.add(t)
}

func (l *linearAccumulator) remove(n, t float64) {
	l.count--
	l.sumN -= n
	l.sumT -= t
	l.sumNN -= n * n
	l.sumNT -= n * t
	l.distinctN[n]--
	if l.distinctN[n] <= 0 {
		delete(l.distinctN, n)
	}
	l.fallback.remove(t)
}

// fit returns (slope, intercept, ok). When the fit degenerates (fewer than
// two distinct n, or the n values happen to coincide) it returns slope=0
// and intercept equal to the arithmetic mean of t, so Predict(n) still
// answers with the best available constant estimate.
func (l *linearAccumulator) fit() (slope, intercept float64, ok bool) {
	if l.count <= 0 {
		return 0, 0, false
	}
	if len(l.distinctN) < 2 {
		mean, ok := l.fallback.estimate()
		return 0, mean, ok
	}
	n := float64(l.count)
	denom := n*l.sumNN - l.sumN*l.sumN
	if denom == 0 {
		mean, ok := l.fallback.estimate()
		return 0, mean, ok
	}
	slope = (n*l.sumNT - l.sumN*l.sumT) / denom
	intercept = (l.sumT - slope*l.sumN) / n
	return slope, intercept, true
}
