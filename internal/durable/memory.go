package durable

import (
	"context"
	"strconv"
	"sync"

	"github.com/AleutianAI/pbartrace/internal/pberrors"
)

// MemoryStore is the in-memory Store fake used in tests and local runs,
// standing in for the abstract relational store (§1, §6 treat it as an
// external collaborator).
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	traces map[string]TraceRecord // key: owner\x00bar\x00version\x00uid
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{traces: make(map[string]TraceRecord)}
}

func recordKey(ownerSub, barName string, version int, traceUID string) string {
	return ownerSub + "\x00" + barName + "\x00" + strconv.Itoa(version) + "\x00" + traceUID
}

func (m *MemoryStore) InsertTrace(_ context.Context, rec TraceRecord) error {
	if len(rec.Steps) == 0 {
		return pberrors.New(pberrors.KindInternal, "cannot insert a retained trace with no steps")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces[recordKey(rec.OwnerSub, rec.BarName, rec.Version, rec.TraceUID)] = rec
	return nil
}

func (m *MemoryStore) GetTrace(_ context.Context, ownerSub, barName string, version int, traceUID string) (TraceRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.traces[recordKey(ownerSub, barName, version, traceUID)]
	return rec, ok, nil
}

func (m *MemoryStore) DeleteTrace(_ context.Context, ownerSub, barName string, version int, traceUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.traces, recordKey(ownerSub, barName, version, traceUID))
	return nil
}

func (m *MemoryStore) RetainedStepSamples(_ context.Context, ownerSub, barName string, version, position int) ([]StepSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := ownerSub + "\x00" + barName + "\x00" + strconv.Itoa(version) + "\x00"
	var samples []StepSample
	for key, rec := range m.traces {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		for _, step := range rec.Steps {
			if step.Position != position || step.FinishedAt.IsZero() {
				continue
			}
			samples = append(samples, StepSample{
				Iterations:      step.Iterations,
				DurationSeconds: step.FinishedAt.Sub(step.StartedAt).Seconds(),
			})
		}
	}
	return samples, nil
}

func (m *MemoryStore) RetainedTraceTotals(_ context.Context, ownerSub, barName string, version int) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := ownerSub + "\x00" + barName + "\x00" + strconv.Itoa(version) + "\x00"
	var totals []float64
	for key, rec := range m.traces {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		var total float64
		for _, step := range rec.Steps {
			if step.FinishedAt.IsZero() {
				continue
			}
			total += step.FinishedAt.Sub(step.StartedAt).Seconds()
		}
		totals = append(totals, total)
	}
	return totals, nil
}

var _ Store = (*MemoryStore)(nil)
