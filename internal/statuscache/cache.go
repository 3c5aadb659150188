// Package statuscache holds the last observed helpdesk status per ticket,
// bounded by a TTL. The cache is advisory: it short-circuits remote status
// reads and duplicate-webhook detection, but the ticket store remains the
// source of truth and the cache can be discarded at any time.
package statuscache

import (
	"sync"
	"time"
)

// DefaultTTL bounds how stale a cached status may be before a caller is
// forced back to the store or the remote API.
const DefaultTTL = 5 * time.Minute

type entry struct {
	statusID   int
	observedAt time.Time
}

// Cache is a TTL-bounded map of ticket ID to last observed status ID.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// New creates a Cache. A non-positive ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// Get returns the cached status for a ticket. Entries older than the TTL
// behave as absent; expiry never silently extends.
func (c *Cache) Get(ticketID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ticketID]
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.observedAt) >= c.ttl {
		delete(c.entries, ticketID)
		return 0, false
	}
	return e.statusID, true
}

// Put records a status unconditionally. Last write wins; a racing stale
// write is acceptable because the cache is not authoritative.
func (c *Cache) Put(ticketID string, statusID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ticketID] = entry{statusID: statusID, observedAt: c.now()}
}

// Invalidate drops the entry for a ticket, forcing the next read to refetch.
func (c *Cache) Invalidate(ticketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, ticketID)
}

// SetNowFunc overrides the clock, for tests.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
