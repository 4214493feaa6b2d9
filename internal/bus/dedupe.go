package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen event IDs so ingress can drop
// duplicate webhook deliveries before they reach the queue.
// Entries expire after a TTL; the map is hard-capped to bound memory
// against an attacker rotating event IDs. Safe for concurrent use.
type DedupeCache struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewDedupeCache creates a bounded dedupe cache.
func NewDedupeCache(ttl time.Duration, maxEntries int) *DedupeCache {
	return &DedupeCache{
		entries:    make(map[string]time.Time),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Seen records the key and reports whether it was already present and
// still fresh. The first call for a key returns false; subsequent calls
// within the TTL return true.
func (c *DedupeCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.entries[key]; ok && now.Sub(at) < c.ttl {
		return true
	}

	if len(c.entries) >= c.maxEntries {
		c.prune(now)
	}
	c.entries[key] = now
	return false
}

// Forget removes the key so a later delivery of the same event is
// treated as new. Used when downstream handling of the first delivery
// failed and the sender's retry must get through.
func (c *DedupeCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// prune drops expired entries; if everything is fresh it evicts
// arbitrary entries until under the cap.
func (c *DedupeCache) prune(now time.Time) {
	for k, at := range c.entries {
		if now.Sub(at) >= c.ttl {
			delete(c.entries, k)
		}
	}
	for len(c.entries) >= c.maxEntries {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
}

// Len returns the number of tracked keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
