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
	"github.com/AleutianAI/pbartrace/internal/durable"
	"github.com/AleutianAI/pbartrace/internal/hotstore"
	"github.com/AleutianAI/pbartrace/internal/pberrors"
	"github.com/AleutianAI/pbartrace/internal/predictor"
	"github.com/AleutianAI/pbartrace/internal/sampling"
	"github.com/AleutianAI/pbartrace/internal/schema"
)

// defaultCompletionTTL is the "finite TTL (default 5 minutes)" §4.D applies
// to hot-state entries on completion, to allow late readers.
const defaultCompletionTTL = 5 * time.Minute

// defaultRetryBudget bounds the CAS tie-break retries of §4.D before the
// machine surfaces Conflict.
const defaultRetryBudget = 5

// EntitlementChecker gates step events behind the external rate/usage
// collaborator (§1's "billing and usage accounting" is out of scope for
// this core; this is the narrow seam it is consulted through).
type EntitlementChecker interface {
	Allow(ctx context.Context, ownerSub string) (bool, error)
}

// nopEntitlementChecker never denies, the default when a Machine is built
// without one.
type nopEntitlementChecker struct{}

func (nopEntitlementChecker) Allow(context.Context, string) (bool, error) { return true, nil }

// UsageReporter is notified of every completed trace, retained or not, for
// external billing reconciliation (§6's user_usages table, read by a
// collaborator outside this core). The hot store's monthly counter is
// always updated regardless of whether a UsageReporter is wired.
type UsageReporter interface {
	Report(ctx context.Context, ownerSub, barName, traceUID string, retained bool) error
}

type nopUsageReporter struct{}

func (nopUsageReporter) Report(context.Context, string, string, string, bool) error { return nil }

// Machine is the §4.D trace intake state machine. One Machine serves every
// (owner, bar, trace) in a process; per-trace serialization comes from the
// hot store's compare-and-set, not from any lock here.
//
// # Thread Safety
//
// Safe for concurrent use across traces; concurrent events for the *same*
// trace race at the hot-store CAS and are resolved by retry.
type Machine struct {
	Registry    *schema.Registry
	Hot         hotstore.Store
	Durable     durable.Store
	Predictor   *predictor.Engine
	Clock       clockid.Clock
	Entitlement EntitlementChecker
	Usage       UsageReporter

	CompletionTTL time.Duration
	RetryBudget   int
}

// NewMachine constructs a Machine with the spec's defaults for completion
// TTL and CAS retry budget, and permissive entitlement/usage collaborators.
func NewMachine(registry *schema.Registry, hot hotstore.Store, durableStore durable.Store, engine *predictor.Engine, clock clockid.Clock) *Machine {
	return &Machine{
		Registry:      registry,
		Hot:           hot,
		Durable:       durableStore,
		Predictor:     engine,
		Clock:         clock,
		Entitlement:   nopEntitlementChecker{},
		Usage:         nopUsageReporter{},
		CompletionTTL: defaultCompletionTTL,
		RetryBudget:   defaultRetryBudget,
	}
}

func (m *Machine) usage() UsageReporter {
	if m.Usage != nil {
		return m.Usage
	}
	return nopUsageReporter{}
}

func (m *Machine) entitlement() EntitlementChecker {
	if m.Entitlement != nil {
		return m.Entitlement
	}
	return nopEntitlementChecker{}
}

func (m *Machine) checkEntitlement(ctx context.Context, ownerSub string) error {
	allowed, err := m.entitlement().Allow(ctx, ownerSub)
	if err != nil {
		return err
	}
	if !allowed {
		return pberrors.New(pberrors.KindRateLimited, "entitlement denied for owner %s", ownerSub)
	}
	return nil
}

// matchesSchema checks validation rule 1: the event's declared shape must
// match the BarSchema at the event's position — same step name, and
// iterations-presence agreeing with whether the spec is iterated.
func matchesSchema(spec schema.StepSpec, stepName string, hasIterations bool) bool {
	return spec.Name == stepName && spec.Iterated == hasIterations
}

// Begin handles StepStart. Position 1 starts a fresh trace; later
// positions advance one already in flight.
func (m *Machine) Begin(ctx context.Context, ownerSub, barName, traceUID string, ev StepStartEvent) error {
	if err := m.checkEntitlement(ctx, ownerSub); err != nil {
		return err
	}

	bar, err := m.Registry.Resolve(ctx, ownerSub, barName)
	if err != nil {
		return err
	}

	spec, ok := bar.StepAt(ev.Position)
	if !ok || !matchesSchema(spec, ev.StepName, ev.HasIterations) {
		return m.driftAbort(ctx, ownerSub, barName, traceUID, ev.Position, ev.StepName)
	}

	for attempt := 0; ; attempt++ {
		trace, exists, err := m.Hot.GetTrace(ctx, ownerSub, barName, traceUID)
		if err != nil {
			return err
		}

		if ev.Position == 1 {
			if exists {
				return pberrors.New(pberrors.KindValidationError, "trace %s already has a position-1 step", traceUID)
			}
		} else {
			if !exists {
				return pberrors.New(pberrors.KindValidationError, "trace %s: first event must be position 1, got %d", traceUID, ev.Position)
			}
			if ev.Position != trace.CurrentStep+1 {
				return pberrors.New(pberrors.KindValidationError, "trace %s: expected position %d, got %d", traceUID, trace.CurrentStep+1, ev.Position)
			}
			prevStep, ok, err := m.Hot.GetStep(ctx, ownerSub, barName, traceUID, trace.CurrentStep)
			if err != nil {
				return err
			}
			if !ok || prevStep.FinishedAt.IsZero() {
				return pberrors.New(pberrors.KindValidationError, "trace %s: position %d must finish before position %d starts", traceUID, trace.CurrentStep, ev.Position)
			}
			if ev.At.Before(trace.LastUpdatedAt) {
				return pberrors.New(pberrors.KindValidationError, "trace %s: timestamps must be non-decreasing", traceUID)
			}
		}

		expected := time.Time{}
		if exists {
			expected = trace.LastUpdatedAt
		}
		next := hotstore.TraceHash{
			CreatedAt:     ev.At,
			LastUpdatedAt: ev.At,
			CurrentStep:   ev.Position,
			Done:          false,
		}
		if exists {
			next.CreatedAt = trace.CreatedAt
		}

		ok2, err := m.Hot.CASTrace(ctx, ownerSub, barName, traceUID, expected, next)
		if err != nil {
			return err
		}
		if !ok2 {
			if attempt >= m.retryBudget() {
				return pberrors.New(pberrors.KindConflict, "trace %s: exhausted CAS retry budget at position %d", traceUID, ev.Position)
			}
			continue
		}

		iterations := NotIterated
		if spec.Iterated && ev.HasIterations {
			iterations = ev.Iterations
		}
		return m.Hot.PutStep(ctx, ownerSub, barName, traceUID, ev.Position, hotstore.StepHash{
			StepName:   ev.StepName,
			Iteration:  0,
			Iterations: iterations,
			StartedAt:  ev.At,
		})
	}
}

func (m *Machine) retryBudget() int {
	if m.RetryBudget <= 0 {
		return defaultRetryBudget
	}
	return m.RetryBudget
}

func (m *Machine) completionTTL() time.Duration {
	if m.CompletionTTL <= 0 {
		return defaultCompletionTTL
	}
	return m.CompletionTTL
}

// driftAbort implements the §4.D drift policy: the trace is aborted with
// SchemaDrift and no TraceStep is persisted. Hot state for the trace, if
// any, is deleted so a retried client starts clean.
func (m *Machine) driftAbort(ctx context.Context, ownerSub, barName, traceUID string, position int, stepName string) error {
	if err := m.Hot.DeleteTrace(ctx, ownerSub, barName, traceUID); err != nil {
		return err
	}
	return pberrors.New(pberrors.KindSchemaDrift, "trace %s: position %d declares %q, disagreeing with the current schema", traceUID, position, stepName)
}

// Progress handles StepProgress: rule 3.
func (m *Machine) Progress(ctx context.Context, ownerSub, barName, traceUID string, ev StepProgressEvent) error {
	if err := m.checkEntitlement(ctx, ownerSub); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		trace, exists, err := m.Hot.GetTrace(ctx, ownerSub, barName, traceUID)
		if err != nil {
			return err
		}
		if !exists || trace.CurrentStep != ev.Position {
			return pberrors.New(pberrors.KindValidationError, "trace %s: position %d is not the active step", traceUID, ev.Position)
		}
		if ev.At.Before(trace.LastUpdatedAt) {
			return pberrors.New(pberrors.KindValidationError, "trace %s: timestamps must be non-decreasing", traceUID)
		}

		step, ok, err := m.Hot.GetStep(ctx, ownerSub, barName, traceUID, ev.Position)
		if err != nil {
			return err
		}
		if !ok || !step.FinishedAt.IsZero() {
			return pberrors.New(pberrors.KindValidationError, "trace %s: position %d is not an active step", traceUID, ev.Position)
		}
		if step.Iterations == NotIterated {
			return pberrors.New(pberrors.KindValidationError, "trace %s: position %d is not iterated", traceUID, ev.Position)
		}
		if ev.Iteration <= step.Iteration || ev.Iteration > step.Iterations {
			return pberrors.New(pberrors.KindValidationError, "trace %s: iteration %d out of range (%d, %d]", traceUID, ev.Iteration, step.Iteration, step.Iterations)
		}

		ok2, err := m.Hot.CASTrace(ctx, ownerSub, barName, traceUID, trace.LastUpdatedAt, hotstore.TraceHash{
			CreatedAt: trace.CreatedAt, LastUpdatedAt: ev.At, CurrentStep: trace.CurrentStep, Done: trace.Done,
		})
		if err != nil {
			return err
		}
		if !ok2 {
			if attempt >= m.retryBudget() {
				return pberrors.New(pberrors.KindConflict, "trace %s: exhausted CAS retry budget progressing position %d", traceUID, ev.Position)
			}
			continue
		}

		step.Iteration = ev.Iteration
		return m.Hot.PutStep(ctx, ownerSub, barName, traceUID, ev.Position, step)
	}
}

// Finish handles StepFinish: rule 4. On the final position it marks the
// trace done, hands it to the sampling policy, and on retention updates
// the predictor engine.
func (m *Machine) Finish(ctx context.Context, ownerSub, barName, traceUID string, ev StepFinishEvent) error {
	if err := m.checkEntitlement(ctx, ownerSub); err != nil {
		return err
	}

	bar, err := m.Registry.Resolve(ctx, ownerSub, barName)
	if err != nil {
		return err
	}

	var step hotstore.StepHash
	var trace hotstore.TraceHash
	for attempt := 0; ; attempt++ {
		var exists bool
		trace, exists, err = m.Hot.GetTrace(ctx, ownerSub, barName, traceUID)
		if err != nil {
			return err
		}
		if !exists || trace.CurrentStep != ev.Position {
			return pberrors.New(pberrors.KindValidationError, "trace %s: position %d is not the active step", traceUID, ev.Position)
		}
		if ev.At.Before(trace.LastUpdatedAt) {
			return pberrors.New(pberrors.KindValidationError, "trace %s: timestamps must be non-decreasing", traceUID)
		}

		var ok bool
		step, ok, err = m.Hot.GetStep(ctx, ownerSub, barName, traceUID, ev.Position)
		if err != nil {
			return err
		}
		if !ok || !step.FinishedAt.IsZero() {
			return pberrors.New(pberrors.KindValidationError, "trace %s: position %d is not an active step", traceUID, ev.Position)
		}
		// StepFinish implicitly completes an iterated step's count (§4.D
		// rule 4's parenthetical) rather than requiring every iteration to
		// have been explicitly reported first.
		if step.Iterations != NotIterated {
			step.Iteration = step.Iterations
		}
		step.FinishedAt = ev.At

		done := ev.Position == bar.LastPosition()
		ok2, err := m.Hot.CASTrace(ctx, ownerSub, barName, traceUID, trace.LastUpdatedAt, hotstore.TraceHash{
			CreatedAt: trace.CreatedAt, LastUpdatedAt: ev.At, CurrentStep: trace.CurrentStep, Done: done,
		})
		if err != nil {
			return err
		}
		if !ok2 {
			if attempt >= m.retryBudget() {
				return pberrors.New(pberrors.KindConflict, "trace %s: exhausted CAS retry budget finishing position %d", traceUID, ev.Position)
			}
			continue
		}
		trace.Done = done
		break
	}

	if err := m.Hot.PutStep(ctx, ownerSub, barName, traceUID, ev.Position, step); err != nil {
		return err
	}
	if !trace.Done {
		return nil
	}

	return m.complete(ctx, bar, ownerSub, barName, traceUID, trace)
}

// complete assembles the CompletedTrace projection, expires the hot state,
// and runs it through sampling and (on retention) the predictor engine.
func (m *Machine) complete(ctx context.Context, bar schema.BarSchema, ownerSub, barName, traceUID string, trace hotstore.TraceHash) error {
	steps := make([]TraceStep, 0, bar.LastPosition())
	for position := 1; position <= bar.LastPosition(); position++ {
		step, ok, err := m.Hot.GetStep(ctx, ownerSub, barName, traceUID, position)
		if err != nil {
			return err
		}
		if !ok {
			return pberrors.New(pberrors.KindInternal, "trace %s: missing step hash at position %d on completion", traceUID, position)
		}
		steps = append(steps, TraceStep{
			Position: position, StepName: step.StepName, Iterations: step.Iterations,
			StartedAt: step.StartedAt, FinishedAt: step.FinishedAt,
		})
	}

	completed := CompletedTrace{
		OwnerSub: ownerSub, BarName: barName, BarID: bar.Bar.ID, Version: bar.Bar.Version,
		TraceUID: traceUID, CreatedAt: trace.CreatedAt, Steps: steps,
	}

	if err := m.Hot.ExpireTrace(ctx, ownerSub, barName, traceUID, m.completionTTL()); err != nil {
		return err
	}

	year, month, _ := completed.CreatedAt.UTC().Date()
	if _, err := m.Hot.IncrMonthlyCounter(ctx, year, int(month), ownerSub); err != nil {
		return err
	}

	policy := sampling.For(bar.Bar.SamplingTechnique)
	decision, err := policy.Decide(ctx, m.Hot, m.Clock.Now(), sampling.Params{
		OwnerSub: ownerSub, BarName: barName, Version: bar.Bar.Version, TraceUID: traceUID,
		CreatedAt: completed.CreatedAt,
		MaxCount:  bar.Bar.SamplingMaxCount, MaxAgeSeconds: bar.Bar.EffectiveSamplingWindowSeconds(),
	})
	if err != nil {
		return err
	}

	if err := m.usage().Report(ctx, ownerSub, barName, traceUID, decision.Retain); err != nil {
		return err
	}

	if !decision.Retain {
		return nil
	}

	rec := toTraceRecord(completed)
	if err := m.Durable.InsertTrace(ctx, rec); err != nil {
		return err
	}
	if err := m.Predictor.Retain(ctx, bar, rec); err != nil {
		return err
	}

	for _, evictedUID := range decision.Evicted {
		evictedRec, ok, err := m.Durable.GetTrace(ctx, ownerSub, barName, bar.Bar.Version, evictedUID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := m.Predictor.Evict(ctx, bar, evictedRec); err != nil {
			return err
		}
		if err := m.Durable.DeleteTrace(ctx, ownerSub, barName, bar.Bar.Version, evictedUID); err != nil {
			return err
		}
	}
	return nil
}

func toTraceRecord(t CompletedTrace) durable.TraceRecord {
	steps := make([]durable.StepRecord, 0, len(t.Steps))
	for _, s := range t.Steps {
		steps = append(steps, durable.StepRecord{
			Position: s.Position, StepName: s.StepName, Iterations: s.Iterations,
			StartedAt: s.StartedAt, FinishedAt: s.FinishedAt,
		})
	}
	return durable.TraceRecord{
		OwnerSub: t.OwnerSub, BarName: t.BarName, BarID: t.BarID, Version: t.Version,
		TraceUID: t.TraceUID, CreatedAt: t.CreatedAt, Steps: steps,
	}
}
