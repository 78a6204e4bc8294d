// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions holds the external collaborators §1 places out of
// scope for the core: entitlement/rate-limit checks and usage accounting.
// The core only ever depends on the narrow interfaces it declares for
// these (internal/intake.EntitlementChecker); this package supplies the
// no-op default and a local stand-in suitable for single-node deployments
// without a real billing backend.
package extensions

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// NopEntitlementChecker allows every request. It satisfies
// intake.EntitlementChecker structurally.
type NopEntitlementChecker struct{}

// Allow always returns true.
func (NopEntitlementChecker) Allow(context.Context, string) (bool, error) { return true, nil }

// LocalRateLimiter is a process-local entitlement stand-in backed by a
// per-owner token bucket (golang.org/x/time/rate), for deployments that
// have not wired a real billing/entitlement service yet. It is not a
// substitute for the durable store's pricing_plans/user_usages tables
// (§6) — those are read by whatever real entitlement service is deployed
// in front of this core.
type LocalRateLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter constructs a limiter allowing rps requests per
// second per owner, with the given burst.
func NewLocalRateLimiter(rps float64, burst int) *LocalRateLimiter {
	return &LocalRateLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) limiterFor(ownerSub string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ownerSub]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ownerSub] = lim
	}
	return lim
}

// Allow consults (and consumes from) the owner's token bucket.
func (l *LocalRateLimiter) Allow(_ context.Context, ownerSub string) (bool, error) {
	return l.limiterFor(ownerSub).Allow(), nil
}
