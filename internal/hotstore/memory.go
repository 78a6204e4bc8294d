package hotstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

type traceRecord struct {
	hash      TraceHash
	steps     map[int]StepHash
	expiresAt time.Time // zero means no TTL
}

func (r *traceRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

// MemoryStore is the in-memory Store implementation used in tests and
// single-process deployments. All state lives in process memory and is
// lost on restart.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	hub *hub

	mu      sync.Mutex
	traces  map[string]*traceRecord     // key: owner\x00bar\x00uid
	sets    map[string][]ScoredMember   // key: owner\x00bar\x00version
	monthly map[string]int64            // key: year\x00month\x00owner
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hub:     newHub(),
		traces:  make(map[string]*traceRecord),
		sets:    make(map[string][]ScoredMember),
		monthly: make(map[string]int64),
	}
}

func traceKey(ownerSub, barName, traceUID string) string {
	return ownerSub + "\x00" + barName + "\x00" + traceUID
}

func setKey(ownerSub, barName string, version int) string {
	return ownerSub + "\x00" + barName + "\x00" + strconv.Itoa(version)
}

func monthlyKey(year, month int, ownerSub string) string {
	return strconv.Itoa(year) + "\x00" + strconv.Itoa(month) + "\x00" + ownerSub
}

func (m *MemoryStore) GetTrace(_ context.Context, ownerSub, barName, traceUID string) (TraceHash, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.traces[traceKey(ownerSub, barName, traceUID)]
	if !ok || rec.expired(time.Now()) {
		return TraceHash{}, false, nil
	}
	return rec.hash, true, nil
}

func (m *MemoryStore) CASTrace(ctx context.Context, ownerSub, barName, traceUID string, expectedLastUpdated time.Time, next TraceHash) (bool, error) {
	m.mu.Lock()
	key := traceKey(ownerSub, barName, traceUID)
	rec, exists := m.traces[key]

	if expectedLastUpdated.IsZero() {
		if exists && !rec.expired(time.Now()) {
			m.mu.Unlock()
			return false, nil
		}
		m.traces[key] = &traceRecord{hash: next, steps: make(map[int]StepHash)}
	} else {
		if !exists || rec.expired(time.Now()) || !rec.hash.LastUpdatedAt.Equal(expectedLastUpdated) {
			m.mu.Unlock()
			return false, nil
		}
		rec.hash = next
	}
	m.mu.Unlock()

	return true, m.Publish(ctx, ownerSub, barName, traceUID)
}

func (m *MemoryStore) GetStep(_ context.Context, ownerSub, barName, traceUID string, position int) (StepHash, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.traces[traceKey(ownerSub, barName, traceUID)]
	if !ok || rec.expired(time.Now()) {
		return StepHash{}, false, nil
	}
	step, ok := rec.steps[position]
	return step, ok, nil
}

func (m *MemoryStore) PutStep(ctx context.Context, ownerSub, barName, traceUID string, position int, step StepHash) error {
	m.mu.Lock()
	rec, ok := m.traces[traceKey(ownerSub, barName, traceUID)]
	if !ok {
		rec = &traceRecord{steps: make(map[int]StepHash)}
		m.traces[traceKey(ownerSub, barName, traceUID)] = rec
	}
	rec.steps[position] = step
	m.mu.Unlock()

	return m.Publish(ctx, ownerSub, barName, traceUID)
}

func (m *MemoryStore) ExpireTrace(_ context.Context, ownerSub, barName, traceUID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.traces[traceKey(ownerSub, barName, traceUID)]
	if !ok {
		return nil
	}
	rec.expiresAt = time.Now().Add(ttl)
	return nil
}

func (m *MemoryStore) DeleteTrace(_ context.Context, ownerSub, barName, traceUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.traces, traceKey(ownerSub, barName, traceUID))
	return nil
}

func (m *MemoryStore) ListStaleTraces(_ context.Context, cutoff time.Time) ([]TraceKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []TraceKey
	for key, rec := range m.traces {
		if rec.hash.Done || rec.expired(time.Now()) {
			continue
		}
		if !rec.hash.LastUpdatedAt.After(cutoff) {
			owner, bar, uid := splitTraceKey(key)
			stale = append(stale, TraceKey{OwnerSub: owner, BarName: bar, TraceUID: uid})
		}
	}
	return stale, nil
}

func splitTraceKey(key string) (owner, bar, uid string) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '\x00' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	if len(parts) != 3 {
		return "", "", ""
	}
	return parts[0], parts[1], parts[2]
}

func (m *MemoryStore) Publish(_ context.Context, ownerSub, barName, traceUID string) error {
	m.hub.publish(traceChannelKey(ownerSub, barName, traceUID))
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, ownerSub, barName, traceUID string) (*Subscription, error) {
	return m.hub.subscribe(ctx, traceChannelKey(ownerSub, barName, traceUID)), nil
}

func (m *MemoryStore) AddToTraceCountSet(_ context.Context, ownerSub, barName string, version int, traceUID string, createdAt, trimBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := setKey(ownerSub, barName, version)
	members := append(m.sets[key], ScoredMember{Member: traceUID, Score: createdAt})

	kept := members[:0]
	for _, mem := range members {
		if !mem.Score.Before(trimBefore) {
			kept = append(kept, mem)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Score.Before(kept[j].Score) })
	m.sets[key] = kept
	return nil
}

func (m *MemoryStore) TraceCountSetMembers(_ context.Context, ownerSub, barName string, version int) ([]ScoredMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.sets[setKey(ownerSub, barName, version)]
	out := make([]ScoredMember, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryStore) TrimTraceCountSetToCount(_ context.Context, ownerSub, barName string, version int, keep int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := setKey(ownerSub, barName, version)
	members := m.sets[key]
	if len(members) <= keep {
		return nil, nil
	}

	overflow := len(members) - keep
	evicted := make([]string, overflow)
	for i := 0; i < overflow; i++ {
		evicted[i] = members[i].Member
	}
	m.sets[key] = append([]ScoredMember{}, members[overflow:]...)
	return evicted, nil
}

func (m *MemoryStore) IncrMonthlyCounter(_ context.Context, year, month int, ownerSub string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := monthlyKey(year, month, ownerSub)
	m.monthly[key]++
	return m.monthly[key], nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
