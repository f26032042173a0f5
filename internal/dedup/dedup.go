// Package dedup caches finished responses for a short window, keyed by a
// fingerprint of the request tail. The voice platform occasionally replays a
// completed turn after a transient disconnect; serving the cached text avoids
// a duplicate model call that would speak over itself.
package dedup

import (
	"sync"
	"time"
)

type entry struct {
	text       string
	insertedAt time.Time
}

// Cache is a concurrency-safe fingerprint->response map with a freshness
// window. Entries older than twice the window are evicted on each store, so
// the cache never outgrows the set of fingerprints seen recently.
type Cache struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]entry

	now func() time.Time
}

// New returns a cache serving lookups for window after each store.
func New(window time.Duration) *Cache {
	return &Cache{
		window:  window,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Lookup returns the cached response for key while it is still fresh.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.insertedAt) >= c.window {
		return "", false
	}
	return e.text, true
}

// Store records text under key and drops entries older than twice the
// window.
func (c *Cache) Store(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.insertedAt) > 2*c.window {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry{text: text, insertedAt: now}
}

// Len reports the number of entries currently held, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
