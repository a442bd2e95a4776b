/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/skuld/internal/telemetry"
)

// resourceLocks hands out one mutual-exclusion token per resource ID.
// Tokens are capacity-1 channels created lazily on first use; distinct
// resources never contend with each other.
type resourceLocks struct {
	mu    sync.Mutex
	byKey map[string]chan struct{}
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{byKey: make(map[string]chan struct{})}
}

func (l *resourceLocks) get(resourceID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.byKey[resourceID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.byKey[resourceID] = ch
	}
	return ch
}

// acquire takes the resource's token, waiting up to wait. Timeout and
// context cancellation both report ErrLockWait, so callers see one
// transient failure mode; the context's error stays in the chain.
func (l *resourceLocks) acquire(ctx context.Context, resourceID string, wait time.Duration) error {
	ch := l.get(resourceID)
	start := time.Now()

	select {
	case ch <- struct{}{}:
		telemetry.LockWaitDuration.Observe(time.Since(start).Seconds())
		return nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		telemetry.LockWaitDuration.Observe(time.Since(start).Seconds())
		return nil
	case <-timer.C:
		telemetry.LockTimeoutsTotal.Inc()
		return ErrLockWait
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLockWait, ctx.Err())
	}
}

// release returns the resource's token. Must only be called by the
// holder.
func (l *resourceLocks) release(resourceID string) {
	<-l.get(resourceID)
}
