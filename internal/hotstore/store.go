// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hotstore is the §4.C hot-state adapter: hash get/set, atomic
// compare-and-set, sorted sets, TTL expiry, and pub/sub, addressed by the
// keyspace in §6. Two implementations satisfy Store: an in-memory adapter
// (memory.go) for tests and single-process deployment, and an embedded-KV
// adapter (badger.go) with native per-key TTL for a persisted single-node
// deployment. Pub/sub always runs through the in-process hub (pubsub.go)
// since neither backend has native fan-out.
package hotstore

import (
	"context"
	"time"
)

// TraceHash is the §6 `trace:{owner_sub}:{bar_name}:{trace_uid}` value.
type TraceHash struct {
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	CurrentStep   int
	Done          bool
}

// StepHash is the §6 `trace:...:step:{position}` value. Iterations is -1
// when the step spec is non-iterated (the ⊥ of §3's TraceStep.iterations).
type StepHash struct {
	StepName   string
	Iteration  int
	Iterations int
	StartedAt  time.Time
	FinishedAt time.Time // zero value means "in progress"
}

// ScoredMember is one entry of a sorted set, e.g. a trace_uid scored by
// created_at in the `tcount:{owner_sub}:{bar_name}:{version}` set.
type ScoredMember struct {
	Member string
	Score  time.Time
}

// Store is the full hot-state adapter contract of §4.C and the keyspace of
// §6. CASTrace and PutStep each publish exactly one notification on the
// trace's channel. LastUpdatedAt is stored as the caller sets it in the
// TraceHash passed to CASTrace; PutStep does not touch the trace hash, and
// ExpireTrace and DeleteTrace publish no notification.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by many goroutines.
type Store interface {
	// GetTrace reads the trace hash, or ok=false if absent.
	GetTrace(ctx context.Context, ownerSub, barName, traceUID string) (TraceHash, bool, error)

	// CASTrace performs the §4.D tie-break: it writes next only if the
	// currently stored LastUpdatedAt equals expectedLastUpdated (the zero
	// time when the caller believes no record exists yet — i.e.
	// set-if-not-exists). Returns ok=false on a lost race; the caller must
	// re-read and retry up to its bounded budget before surfacing Conflict.
	// On success, publishes exactly one notification.
	CASTrace(ctx context.Context, ownerSub, barName, traceUID string, expectedLastUpdated time.Time, next TraceHash) (ok bool, err error)

	// GetStep reads one step hash, or ok=false if absent.
	GetStep(ctx context.Context, ownerSub, barName, traceUID string, position int) (StepHash, bool, error)

	// PutStep writes a step hash unconditionally (already serialized by the
	// caller having won CASTrace for the same mutation) and publishes one
	// notification.
	PutStep(ctx context.Context, ownerSub, barName, traceUID string, position int, step StepHash) error

	// ExpireTrace applies ttl to the trace hash and every step hash
	// belonging to it, per §4.D's "finite TTL (default 5 minutes) to allow
	// late readers" on completion.
	ExpireTrace(ctx context.Context, ownerSub, barName, traceUID string, ttl time.Duration) error

	// DeleteTrace removes the trace hash and all step hashes immediately,
	// used on idle-expiry abort (§4.D: "it is never submitted to sampling").
	DeleteTrace(ctx context.Context, ownerSub, barName, traceUID string) error

	// ListStaleTraces returns (ownerSub, barName, traceUID) triples whose
	// LastUpdatedAt is at or before cutoff, for the idle-expiry sweep.
	ListStaleTraces(ctx context.Context, cutoff time.Time) ([]TraceKey, error)

	// Publish fires a single fire-and-forget notification on
	// `ps:trace:{owner_sub}:{bar_name}:{trace_uid}`.
	Publish(ctx context.Context, ownerSub, barName, traceUID string) error

	// Subscribe registers interest in a single trace's channel. The
	// returned Subscription must be closed by the caller.
	Subscribe(ctx context.Context, ownerSub, barName, traceUID string) (*Subscription, error)

	// AddToTraceCountSet inserts traceUID scored by createdAt into
	// `tcount:{owner_sub}:{bar_name}:{version}`, then trims every member
	// scored below trimBefore.
	AddToTraceCountSet(ctx context.Context, ownerSub, barName string, version int, traceUID string, createdAt, trimBefore time.Time) error

	// TraceCountSetMembers returns every member of the sorted set in
	// ascending score order (oldest first).
	TraceCountSetMembers(ctx context.Context, ownerSub, barName string, version int) ([]ScoredMember, error)

	// TrimTraceCountSetToCount evicts members beyond the keep most-recent
	// entries (systematic's eviction rule, §4.E) and returns the evicted
	// trace_uids.
	TrimTraceCountSetToCount(ctx context.Context, ownerSub, barName string, version int, keep int) ([]string, error)

	// IncrMonthlyCounter atomically increments
	// `tcount:{utc_year}:{utc_month}` for ownerSub and returns the new
	// value.
	IncrMonthlyCounter(ctx context.Context, year, month int, ownerSub string) (int64, error)

	// Close releases backend resources.
	Close() error
}

// TraceKey addresses one trace within the hot store's keyspace.
type TraceKey struct {
	OwnerSub string
	BarName  string
	TraceUID string
}
