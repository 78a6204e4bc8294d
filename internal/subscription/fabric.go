// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package subscription is the §4.G live-update fabric: it layers the
// reader-facing bounded queue, lagged-on-overflow marking, and idle
// teardown on top of the hot store's raw pub/sub channel (internal/hotstore).
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/pbartrace/internal/hotstore"
)

// defaultQueueDepth is the reader-facing bounded queue size, independent of
// the hot store hub's own internal buffer.
const defaultQueueDepth = 16

// defaultIdleTimeout tears a Watch down if its reader stops calling Next
// (§4.G: "idle timeout (default 30s)").
const defaultIdleTimeout = 30 * time.Second

// Fabric constructs Watches over the hot store's pub/sub channels.
type Fabric struct {
	Hot         hotstore.Store
	QueueDepth  int
	IdleTimeout time.Duration
}

// NewFabric constructs a Fabric with the package defaults.
func NewFabric(hot hotstore.Store) *Fabric {
	return &Fabric{Hot: hot, QueueDepth: defaultQueueDepth, IdleTimeout: defaultIdleTimeout}
}

func (f *Fabric) queueDepth() int {
	if f.QueueDepth <= 0 {
		return defaultQueueDepth
	}
	return f.QueueDepth
}

func (f *Fabric) idleTimeout() time.Duration {
	if f.IdleTimeout <= 0 {
		return defaultIdleTimeout
	}
	return f.IdleTimeout
}

// Watch subscribes to one trace's mutation channel and multiplexes it
// through a reader-owned bounded queue.
func (f *Fabric) Watch(ctx context.Context, ownerSub, barName, traceUID string) (*Watch, error) {
	sub, err := f.Hot.Subscribe(ctx, ownerSub, barName, traceUID)
	if err != nil {
		return nil, err
	}

	w := &Watch{
		sub:         sub,
		out:         make(chan struct{}, f.queueDepth()),
		done:        make(chan struct{}),
		resetIdle:   make(chan struct{}, 1),
		idleTimeout: f.idleTimeout(),
	}
	go w.pump()
	go w.watchIdle()
	return w, nil
}

// Watch is one reader's handle on a trace's mutation stream.
//
// # Thread Safety
//
// Next, Lagged, and Close may be called concurrently with each other, but
// Next is intended to be called by a single reader goroutine.
type Watch struct {
	sub  *hotstore.Subscription
	out  chan struct{}
	done chan struct{}

	resetIdle   chan struct{}
	idleTimeout time.Duration

	mu        sync.Mutex
	lagged    bool
	closeOnce sync.Once
}

// pump relays hub notifications into the reader-facing bounded queue.
// Overflow drops the notification (the reader only needs to know "at least
// one mutation happened since you last checked," not a count) and marks
// the Watch lagged so the reader knows to re-snapshot via the hot store.
func (w *Watch) pump() {
	for {
		select {
		case _, open := <-w.sub.C():
			if !open {
				close(w.out)
				return
			}
			select {
			case w.out <- struct{}{}:
			default:
				w.mu.Lock()
				w.lagged = true
				w.mu.Unlock()
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watch) watchIdle() {
	timer := time.NewTimer(w.idleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			w.Close()
			return
		case <-w.done:
			return
		case <-w.resetIdle:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.idleTimeout)
		}
	}
}

// Next blocks until a mutation notification arrives, the Watch is closed
// (explicitly, by idle timeout, or because the hot store tore down the
// channel), or ctx is done. Each call resets the idle timeout.
func (w *Watch) Next(ctx context.Context) (ok bool, err error) {
	select {
	case w.resetIdle <- struct{}{}:
	default:
	}

	select {
	case _, open := <-w.out:
		return open, nil
	case <-w.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Lagged reports whether this Watch has ever dropped a notification. It is
// sticky: the only way to clear it is to re-snapshot and establish a fresh
// Watch.
func (w *Watch) Lagged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lagged
}

// Close tears the Watch down, releasing the underlying hot-store
// subscription. Safe to call more than once.
func (w *Watch) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.sub.Close()
	})
	return err
}
