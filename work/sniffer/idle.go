package sniffer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	idleMaxInflight = 2
	idleWindow      = 500 * time.Millisecond
	idlePoll        = 100 * time.Millisecond
)

// idleTracker counts in-flight page requests so navigation can wait for the
// network to go quiet.
type idleTracker struct {
	mu         sync.Mutex
	clock      clock.Clock
	inflight   map[string]struct{}
	quietSince time.Time
}

func newIdleTracker(clk clock.Clock) *idleTracker {
	return &idleTracker{
		clock:      clk,
		inflight:   make(map[string]struct{}),
		quietSince: clk.Now(),
	}
}

func (t *idleTracker) started(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasQuiet := len(t.inflight) <= idleMaxInflight
	t.inflight[id] = struct{}{}
	if wasQuiet && len(t.inflight) > idleMaxInflight {
		t.quietSince = time.Time{}
	}
}

func (t *idleTracker) finished(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	if len(t.inflight) <= idleMaxInflight && t.quietSince.IsZero() {
		t.quietSince = t.clock.Now()
	}
}

func (t *idleTracker) idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return isIdle(len(t.inflight), t.quietSince, t.clock.Now(), idleMaxInflight, idleWindow)
}

// wait blocks until the tracker has been idle for the window or ctx ends
func (t *idleTracker) wait(ctx context.Context) error {
	ticker := t.clock.Ticker(idlePoll)
	defer ticker.Stop()
	for {
		if t.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// isIdle reports whether at most maxInflight requests have been pending for
// at least window. A zero quietSince means the limit is currently exceeded.
func isIdle(inflight int, quietSince, now time.Time, maxInflight int, window time.Duration) bool {
	if inflight > maxInflight || quietSince.IsZero() {
		return false
	}
	return now.Sub(quietSince) >= window
}
