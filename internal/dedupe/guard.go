// Package dedupe remembers recently processed event fingerprints so that
// retried chat deliveries and redelivered webhooks are handled once.
package dedupe

import (
	"sync"
	"time"
)

const (
	// DefaultRetention bounds how long a fingerprint is remembered.
	DefaultRetention = 30 * time.Minute
	// DefaultCapacity bounds how many fingerprints are kept; the oldest
	// are evicted first.
	DefaultCapacity = 5000
)

// Guard is a bounded insert-if-absent fingerprint set. Safe for concurrent
// use; retention is both time- and count-based so the set never grows
// without limit.
type Guard struct {
	mu        sync.Mutex
	retention time.Duration
	capacity  int
	now       func() time.Time
	seen      map[string]time.Time
	order     []string // insertion order for capacity eviction
}

// New creates a Guard. Non-positive arguments fall back to the defaults.
func New(retention time.Duration, capacity int) *Guard {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		retention: retention,
		capacity:  capacity,
		now:       time.Now,
		seen:      make(map[string]time.Time),
	}
}

// Remember records the fingerprint and reports whether it was new. A false
// return means the event was already processed within the retention window.
// Empty fingerprints are never deduplicated.
func (g *Guard) Remember(fp string) bool {
	if fp == "" {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.seen[fp]; ok {
		if now.Sub(at) < g.retention {
			return false
		}
		// Expired entry refreshed in place; it already sits in order.
		g.seen[fp] = now
		return true
	}
	g.seen[fp] = now
	g.order = append(g.order, fp)
	g.evictLocked(now)
	return true
}

// Forget removes a fingerprint, allowing the event to be processed again.
// Used when handling failed terminally and the sender is expected to retry.
func (g *Guard) Forget(fp string) {
	if fp == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, fp)
}

func (g *Guard) evictLocked(now time.Time) {
	// Expired entries first, then overflow beyond capacity.
	keep := g.order[:0]
	for _, fp := range g.order {
		at, ok := g.seen[fp]
		if !ok {
			continue
		}
		if now.Sub(at) >= g.retention {
			delete(g.seen, fp)
			continue
		}
		keep = append(keep, fp)
	}
	g.order = keep
	for len(g.order) > g.capacity {
		delete(g.seen, g.order[0])
		g.order = g.order[1:]
	}
}

// SetNowFunc overrides the clock, for tests.
func (g *Guard) SetNowFunc(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}
