package hotstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is the embedded-KV Store implementation. It persists the
// §6 keyspace to an on-disk badger database and uses badger's native
// per-key TTL for the completion grace window (§4.D). Sorted sets have no
// direct badger equivalent, so members are stored as
// `{setKey}:{scoreNanos:020d}:{member}` with an empty value — badger
// iterates keys in byte order, so zero-padded scores sort correctly.
//
// Pub/sub runs entirely through the in-process hub (pubsub.go); badger has
// no native fan-out and this adapter is meant for a single process.
//
// # Thread Safety
//
// Safe for concurrent use; badger.DB itself is.
type BadgerStore struct {
	db  *badger.DB
	hub *hub
}

// OpenBadgerStore opens (or creates) a badger database at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store at %q: %w", dir, err)
	}
	return &BadgerStore{db: db, hub: newHub()}, nil
}

func badgerTraceHashKey(ownerSub, barName, traceUID string) []byte {
	return []byte(fmt.Sprintf("trace:%s:%s:%s", ownerSub, barName, traceUID))
}

func badgerStepHashKey(ownerSub, barName, traceUID string, position int) []byte {
	return []byte(fmt.Sprintf("trace:%s:%s:%s:step:%d", ownerSub, barName, traceUID, position))
}

func badgerStepPrefix(ownerSub, barName, traceUID string) []byte {
	return []byte(fmt.Sprintf("trace:%s:%s:%s:step:", ownerSub, barName, traceUID))
}

func badgerSetPrefix(ownerSub, barName string, version int) []byte {
	return []byte(fmt.Sprintf("tcount:%s:%s:%d:", ownerSub, barName, version))
}

func badgerSetMemberKey(ownerSub, barName string, version int, score time.Time, member string) []byte {
	return []byte(fmt.Sprintf("tcount:%s:%s:%d:%020d:%s", ownerSub, barName, version, score.UnixNano(), member))
}

func badgerMonthlyKey(year, month int, ownerSub string) []byte {
	return []byte(fmt.Sprintf("tcount:%04d:%02d:%s", year, month, ownerSub))
}

func (b *BadgerStore) GetTrace(_ context.Context, ownerSub, barName, traceUID string) (TraceHash, bool, error) {
	var out TraceHash
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerTraceHashKey(ownerSub, barName, traceUID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	return out, found, err
}

func (b *BadgerStore) CASTrace(ctx context.Context, ownerSub, barName, traceUID string, expectedLastUpdated time.Time, next TraceHash) (bool, error) {
	ok := false
	err := b.db.Update(func(txn *badger.Txn) error {
		key := badgerTraceHashKey(ownerSub, barName, traceUID)
		item, err := txn.Get(key)

		switch {
		case err == badger.ErrKeyNotFound:
			if !expectedLastUpdated.IsZero() {
				return nil // caller expected an existing record; lost the race
			}
		case err != nil:
			return err
		default:
			var current TraceHash
			if unmarshalErr := item.Value(func(val []byte) error { return json.Unmarshal(val, &current) }); unmarshalErr != nil {
				return unmarshalErr
			}
			if expectedLastUpdated.IsZero() || !current.LastUpdatedAt.Equal(expectedLastUpdated) {
				return nil
			}
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := txn.Set(key, encoded); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, b.Publish(ctx, ownerSub, barName, traceUID)
}

func (b *BadgerStore) GetStep(_ context.Context, ownerSub, barName, traceUID string, position int) (StepHash, bool, error) {
	var out StepHash
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerStepHashKey(ownerSub, barName, traceUID, position))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &out) })
	})
	return out, found, err
}

func (b *BadgerStore) PutStep(ctx context.Context, ownerSub, barName, traceUID string, position int, step StepHash) error {
	encoded, err := json.Marshal(step)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerStepHashKey(ownerSub, barName, traceUID, position), encoded)
	}); err != nil {
		return err
	}
	return b.Publish(ctx, ownerSub, barName, traceUID)
}

func (b *BadgerStore) ExpireTrace(_ context.Context, ownerSub, barName, traceUID string, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := badgerTraceHashKey(ownerSub, barName, traceUID)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var val []byte
		if err := item.Value(func(v []byte) error {
			val = append([]byte(nil), v...)
			return nil
		}); err != nil {
			return err
		}
		entry := badger.NewEntry(key, val).WithTTL(ttl)
		if err := txn.SetEntry(entry); err != nil {
			return err
		}

		prefix := badgerStepPrefix(ownerSub, barName, traceUID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stepItem := it.Item()
			stepKey := append([]byte(nil), stepItem.Key()...)
			var stepVal []byte
			if err := stepItem.Value(func(v []byte) error {
				stepVal = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			if err := txn.SetEntry(badger.NewEntry(stepKey, stepVal).WithTTL(ttl)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) DeleteTrace(_ context.Context, ownerSub, barName, traceUID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(badgerTraceHashKey(ownerSub, barName, traceUID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		prefix := badgerStepPrefix(ownerSub, barName, traceUID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, append([]byte(nil), it.Item().Key()...))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) ListStaleTraces(_ context.Context, cutoff time.Time) ([]TraceKey, error) {
	var stale []TraceKey
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte("trace:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if stepKeyHasStepSuffix(item.Key()) {
				continue
			}
			var hash TraceHash
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &hash) }); err != nil {
				return err
			}
			if hash.Done || hash.LastUpdatedAt.After(cutoff) {
				continue
			}
			owner, bar, uid, ok := parseTraceHashKey(item.Key())
			if ok {
				stale = append(stale, TraceKey{OwnerSub: owner, BarName: bar, TraceUID: uid})
			}
		}
		return nil
	})
	return stale, err
}

func stepKeyHasStepSuffix(key []byte) bool {
	const marker = ":step:"
	return contains(key, []byte(marker))
}

func contains(haystack, needle []byte) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return len(needle) == 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func parseTraceHashKey(key []byte) (owner, bar, uid string, ok bool) {
	parts := splitBytes(key, ':')
	if len(parts) != 4 || parts[0] != "trace" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

func splitBytes(b []byte, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(b); i++ {
		if b[i] == sep {
			parts = append(parts, string(b[start:i]))
			start = i + 1
		}
	}
	parts = append(parts, string(b[start:]))
	return parts
}

func (b *BadgerStore) Publish(_ context.Context, ownerSub, barName, traceUID string) error {
	b.hub.publish(traceChannelKey(ownerSub, barName, traceUID))
	return nil
}

func (b *BadgerStore) Subscribe(ctx context.Context, ownerSub, barName, traceUID string) (*Subscription, error) {
	return b.hub.subscribe(ctx, traceChannelKey(ownerSub, barName, traceUID)), nil
}

func (b *BadgerStore) AddToTraceCountSet(_ context.Context, ownerSub, barName string, version int, traceUID string, createdAt, trimBefore time.Time) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(badgerSetMemberKey(ownerSub, barName, version, createdAt, traceUID), nil); err != nil {
			return err
		}

		prefix := badgerSetPrefix(ownerSub, barName, version)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			score, _, ok := parseSetMemberKey(it.Item().Key(), prefix)
			if ok && score.Before(trimBefore) {
				toDelete = append(toDelete, append([]byte(nil), it.Item().Key()...))
			}
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func parseSetMemberKey(key, prefix []byte) (score time.Time, member string, ok bool) {
	if len(key) <= len(prefix) {
		return time.Time{}, "", false
	}
	rest := string(key[len(prefix):])
	if len(rest) < 20 {
		return time.Time{}, "", false
	}
	var nanos int64
	for i := 0; i < 20; i++ {
		c := rest[i]
		if c < '0' || c > '9' {
			return time.Time{}, "", false
		}
		nanos = nanos*10 + int64(c-'0')
	}
	if len(rest) < 21 {
		return time.Unix(0, nanos), "", true
	}
	return time.Unix(0, nanos), rest[21:], true
}

func (b *BadgerStore) TraceCountSetMembers(_ context.Context, ownerSub, barName string, version int) ([]ScoredMember, error) {
	var members []ScoredMember
	prefix := badgerSetPrefix(ownerSub, barName, version)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			score, member, ok := parseSetMemberKey(it.Item().Key(), prefix)
			if ok {
				members = append(members, ScoredMember{Member: member, Score: score})
			}
		}
		return nil
	})
	return members, err
}

func (b *BadgerStore) TrimTraceCountSetToCount(ctx context.Context, ownerSub, barName string, version int, keep int) ([]string, error) {
	members, err := b.TraceCountSetMembers(ctx, ownerSub, barName, version)
	if err != nil {
		return nil, err
	}
	if len(members) <= keep {
		return nil, nil
	}
	overflow := len(members) - keep
	evicted := make([]string, overflow)

	err = b.db.Update(func(txn *badger.Txn) error {
		for i := 0; i < overflow; i++ {
			evicted[i] = members[i].Member
			key := badgerSetMemberKey(ownerSub, barName, version, members[i].Score, members[i].Member)
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

func (b *BadgerStore) IncrMonthlyCounter(_ context.Context, year, month int, ownerSub string) (int64, error) {
	var result int64
	err := b.db.Update(func(txn *badger.Txn) error {
		key := badgerMonthlyKey(year, month, ownerSub)
		var current int64
		item, err := txn.Get(key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &current)
			}); err != nil {
				return err
			}
		}
		current++
		result = current
		encoded, err := json.Marshal(current)
		if err != nil {
			return err
		}
		return txn.Set(key, encoded)
	})
	return result, err
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

var _ Store = (*BadgerStore)(nil)
