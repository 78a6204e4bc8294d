package sampling

import (
	"context"
	"time"

	"github.com/AleutianAI/pbartrace/internal/hotstore"
)

// Systematic is the §4.E systematic technique. The hot-store sorted set for
// (owner, bar, version) holds exactly the retained traces, capped at
// MaxCount; the minimum gap between retained traces is MaxAgeSeconds /
// MaxCount.
type Systematic struct{}

func (Systematic) Decide(ctx context.Context, store hotstore.Store, now time.Time, p Params) (Decision, error) {
	members, err := store.TraceCountSetMembers(ctx, p.OwnerSub, p.BarName, p.Version)
	if err != nil {
		return Decision{}, err
	}

	if p.MaxCount <= 0 {
		return Decision{Retain: false}, nil
	}
	interval := time.Duration(p.MaxAgeSeconds) * time.Second / time.Duration(p.MaxCount)

	if len(members) > 0 {
		mostRecent := members[len(members)-1].Score
		if p.CreatedAt.Sub(mostRecent) < interval {
			return Decision{Retain: false}, nil
		}
	}

	trimBefore := now.Add(-time.Duration(p.MaxAgeSeconds) * time.Second)
	if err := store.AddToTraceCountSet(ctx, p.OwnerSub, p.BarName, p.Version, p.TraceUID, p.CreatedAt, trimBefore); err != nil {
		return Decision{}, err
	}

	evicted, err := store.TrimTraceCountSetToCount(ctx, p.OwnerSub, p.BarName, p.Version, p.MaxCount)
	if err != nil {
		return Decision{}, err
	}

	return Decision{Retain: true, Evicted: evicted}, nil
}
