// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intake

import (
	"context"
	"time"

	"github.com/AleutianAI/pbartrace/internal/clockid"
	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/schema"
)

// defaultSweepInterval bounds how often the idle-expiry sweep runs; it is
// independent of any one bar's configured idle bound.
const defaultSweepInterval = time.Minute

// IdleSweeper implements §4.D's idle expiry: traces whose hot state has
// not been touched within their bar's idle bound are deleted from the hot
// store and never submitted to sampling; no aborted status is recorded for
// them. It polls the hot store's global stale-key
// index on a ticker and filters candidates against each one's own bar's
// effective idle bound, since that bound is configurable per bar while the
// hot store's own index only tracks a single global floor.
type IdleSweeper struct {
	Hot      hotstore.Store
	Registry *schema.Registry
	Clock    clockid.Clock
	Interval time.Duration

	done chan struct{}
}

// NewIdleSweeper constructs an IdleSweeper with the package default sweep
// interval.
func NewIdleSweeper(hot hotstore.Store, registry *schema.Registry, clock clockid.Clock) *IdleSweeper {
	return &IdleSweeper{Hot: hot, Registry: registry, Clock: clock, Interval: defaultSweepInterval}
}

func (s *IdleSweeper) interval() time.Duration {
	if s.Interval <= 0 {
		return defaultSweepInterval
	}
	return s.Interval
}

// Start runs the sweep loop in a new goroutine until Stop is called.
func (s *IdleSweeper) Start(ctx context.Context) {
	s.done = make(chan struct{})
	ticker := time.NewTicker(s.interval())
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.sweepOnce(ctx)
			}
		}
	}()
}

// Stop ends the sweep loop. It is safe to call at most once after Start.
func (s *IdleSweeper) Stop() {
	if s.done != nil {
		close(s.done)
	}
}

// sweepOnce lists every in-flight trace (ListStaleTraces with cutoff=now
// matches everything not updated in the future) and aborts those that are,
// per their own bar's configured idle bound, genuinely idle. Filtering by
// bound happens per-trace in maybeAbort rather than in the ListStaleTraces
// cutoff, since each bar can configure a different bound and the hot
// store's index has no per-bar floor.
func (s *IdleSweeper) sweepOnce(ctx context.Context) {
	now := s.Clock.Now()
	candidates, err := s.Hot.ListStaleTraces(ctx, now)
	if err != nil {
		return
	}
	for _, key := range candidates {
		s.maybeAbort(ctx, now, key)
	}
}

func (s *IdleSweeper) maybeAbort(ctx context.Context, now time.Time, key hotstore.TraceKey) {
	trace, ok, err := s.Hot.GetTrace(ctx, key.OwnerSub, key.BarName, key.TraceUID)
	if err != nil || !ok || trace.Done {
		return
	}

	bar, err := s.Registry.Resolve(ctx, key.OwnerSub, key.BarName)
	if err != nil {
		return
	}

	bound := time.Duration(bar.Bar.EffectiveIdleExpirySeconds()) * time.Second
	if now.Sub(trace.LastUpdatedAt) < bound {
		return
	}

	// Best-effort: an idle-expiry abort racing a live writer's CAS simply
	// loses or wins independently; either outcome is safe since DeleteTrace
	// is not gated on the trace's current version.
	_ = s.Hot.DeleteTrace(ctx, key.OwnerSub, key.BarName, key.TraceUID)
}
