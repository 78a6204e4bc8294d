package schema

import (
	"context"
	"sort"
	"sync"

	"github.com/AleutianAI/pbartrace/internal/pberrors"
)

// Registry resolves (owner, bar name) pairs to a BarSchema, caching results
// until explicitly invalidated.
//
// # Description
//
// Lookups are cached with explicit invalidation on writes to the durable
// store (§4.B). The cache itself never talks to the store on a hit; a miss
// populates the cache from Store. Registry mutations (creating bars/steps)
// happen outside this core, but whoever performs them must call Invalidate
// atomically with the write, or callers will observe a stale schema.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	store Store

	mu    sync.RWMutex
	cache map[string]BarSchema // key: ownerSub + "\x00" + barName
}

// NewRegistry constructs a Registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store: store,
		cache: make(map[string]BarSchema),
	}
}

func cacheKey(ownerSub, barName string) string {
	return ownerSub + "\x00" + barName
}

// Resolve returns the current BarSchema for (ownerSub, barName).
//
// Returns a *pberrors.Error with KindNoSuchBar when the registry has no
// record of the bar.
func (r *Registry) Resolve(ctx context.Context, ownerSub, barName string) (BarSchema, error) {
	key := cacheKey(ownerSub, barName)

	r.mu.RLock()
	if cached, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	bar, ok, err := r.store.LookupBar(ctx, ownerSub, barName)
	if err != nil {
		return BarSchema{}, pberrors.Wrap(pberrors.KindStoreUnavailable, err, "looking up bar %q", barName)
	}
	if !ok {
		return BarSchema{}, pberrors.New(pberrors.KindNoSuchBar, "no progress bar named %q for owner %q", barName, ownerSub)
	}

	steps, err := r.store.StepSpecs(ctx, bar.ID)
	if err != nil {
		return BarSchema{}, pberrors.Wrap(pberrors.KindStoreUnavailable, err, "loading step specs for bar %q", barName)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })

	resolved := BarSchema{Bar: bar, Steps: steps}

	r.mu.Lock()
	r.cache[key] = resolved
	r.mu.Unlock()

	return resolved, nil
}

// Invalidate drops the cached schema for (ownerSub, barName), forcing the
// next Resolve to re-read the durable store. Callers performing a bar or
// step mutation must call this atomically with that write.
func (r *Registry) Invalidate(ownerSub, barName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey(ownerSub, barName))
}

// InvalidateAll drops the entire cache. Useful on startup or after a bulk
// administrative change to the durable store.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]BarSchema)
}
