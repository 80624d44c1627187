package engine

import (
	"sync"
	"time"
)

// DedupCache suppresses repeated alert creation for the same detector and
// dimension value within a rolling TTL window. Entries older than the TTL are
// treated as absent even before Sweep evicts them. Safe for concurrent use
// by parallel detectors.
type DedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

// NewDedupCache creates a cache with the given entry TTL.
func NewDedupCache(ttl time.Duration) *DedupCache {
	return &DedupCache{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// DedupKey builds the cache key for a detector and the dimension value it
// fired on, e.g. "failed_logins_by_ip_203.0.113.1".
func DedupKey(detector, dimension string) string {
	return detector + "_" + dimension
}

// Seen reports whether key has a non-expired entry.
func (c *DedupCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	inserted, ok := c.entries[key]
	if !ok {
		return false
	}
	return time.Since(inserted) < c.ttl
}

// Insert records key with the current timestamp.
func (c *DedupCache) Insert(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = time.Now()
}

// Sweep evicts expired entries and returns how many were removed.
func (c *DedupCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	evicted := 0
	for key, inserted := range c.entries {
		if inserted.Before(cutoff) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of entries, expired ones included.
func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
