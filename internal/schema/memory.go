// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"context"
	"sync"

	"github.com/AleutianAI/pbartrace/internal/clockid"
	"github.com/AleutianAI/pbartrace/internal/pberrors"
)

// MemoryStore is an in-memory Store, standing in for the external
// bar/step CRUD surface (§1 places its own write path out of scope) so a
// single-node deployment has somewhere to register bars without a real
// relational store. PutBar/PutSteps are this package's own minimal admin
// surface, not a substitute for that external system.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	bars  map[string]ProgressBar // key: ownerSub + "\x00" + name
	steps map[string][]StepSpec  // key: barID
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bars: make(map[string]ProgressBar), steps: make(map[string][]StepSpec)}
}

func barKey(ownerSub, name string) string {
	return ownerSub + "\x00" + name
}

// LookupBar implements Store.
func (m *MemoryStore) LookupBar(_ context.Context, ownerSub, name string) (ProgressBar, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bar, ok := m.bars[barKey(ownerSub, name)]
	return bar, ok, nil
}

// StepSpecs implements Store.
func (m *MemoryStore) StepSpecs(_ context.Context, barID string) ([]StepSpec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]StepSpec(nil), m.steps[barID]...), nil
}

// PutBar creates a new bar at version 1, or — if one already exists for
// (ownerSub, name) — bumps its version and replaces its steps, mirroring
// the §4.D "rotates the bar" drift-recovery path once a caller has
// registered the new schema out of band. Returns the stored ProgressBar.
func (m *MemoryStore) PutBar(_ context.Context, bar ProgressBar, steps []StepSpec) (ProgressBar, error) {
	if bar.OwnerSub == "" || bar.Name == "" {
		return ProgressBar{}, pberrors.New(pberrors.KindValidationError, "owner_sub and name are required")
	}
	if !hasDefaultSpec(steps) {
		return ProgressBar{}, pberrors.New(pberrors.KindValidationError, "steps must include a position-0 default spec")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := barKey(bar.OwnerSub, bar.Name)
	existing, ok := m.bars[key]
	if ok {
		bar.ID = existing.ID
		bar.Version = existing.Version + 1
	} else {
		bar.ID = clockid.NewBarID()
		bar.Version = 1
	}
	m.bars[key] = bar
	m.steps[bar.ID] = append([]StepSpec(nil), steps...)
	return bar, nil
}

func hasDefaultSpec(steps []StepSpec) bool {
	for _, s := range steps {
		if s.Position == 0 {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
