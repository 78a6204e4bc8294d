package sampling

import (
	"context"
	"math/rand"
	"time"

	"github.com/AleutianAI/pbartrace/internal/hotstore"
)

// SimpleRandom is the §4.E simple_random technique. The hot-store sorted
// set for (owner, bar, version) tracks every trace completion within the
// rolling window of width MaxAgeSeconds — not just retained ones — so n can
// be estimated; retention is then an independent Bernoulli draw with
// probability min(1, MaxCount/n). There is no hard retained-count ceiling
// (§9's resolved open question), so SimpleRandom never evicts.
type SimpleRandom struct {
	rng *rand.Rand
}

// NewSimpleRandom returns a SimpleRandom policy seeded from the wall clock.
func NewSimpleRandom() SimpleRandom {
	return SimpleRandom{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSimpleRandomWithRand returns a SimpleRandom policy using the given
// source, for deterministic tests.
func NewSimpleRandomWithRand(rng *rand.Rand) SimpleRandom {
	return SimpleRandom{rng: rng}
}

func (s SimpleRandom) Decide(ctx context.Context, store hotstore.Store, now time.Time, p Params) (Decision, error) {
	trimBefore := now.Add(-time.Duration(p.MaxAgeSeconds) * time.Second)
	if err := store.AddToTraceCountSet(ctx, p.OwnerSub, p.BarName, p.Version, p.TraceUID, p.CreatedAt, trimBefore); err != nil {
		return Decision{}, err
	}

	members, err := store.TraceCountSetMembers(ctx, p.OwnerSub, p.BarName, p.Version)
	if err != nil {
		return Decision{}, err
	}
	n := len(members)

	if n <= p.MaxCount || p.MaxCount <= 0 {
		return Decision{Retain: true}, nil
	}

	prob := float64(p.MaxCount) / float64(n)
	return Decision{Retain: s.rng.Float64() < prob}, nil
}
