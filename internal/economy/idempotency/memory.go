// Package idempotency holds replay caches for top-up deduplication. The
// receipt table stays authoritative; a cache only answers replays early.
package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-local replay cache. It backs single-instance
// runs and serves as the fallback while Redis is unreachable.
type MemoryCache struct {
	mu            sync.Mutex
	entries       map[string]memoryEntry
	now           func() time.Time
	sweepInterval time.Duration
	lastSweep     time.Time
}

// DefaultSweepInterval bounds how often writes scan for expired entries.
const DefaultSweepInterval = time.Minute

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:       make(map[string]memoryEntry),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
	}
}

func (c *MemoryCache) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.entries[key] = memoryEntry{value: []byte("1"), expires: c.now().Add(ttl)}
	return true, nil
}

func (c *MemoryCache) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Remember(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep()
	c.entries[key] = memoryEntry{value: append([]byte(nil), value...), expires: c.now().Add(ttl)}
	return nil
}

// live returns the entry for key, evicting it when expired. Caller holds mu.
func (c *MemoryCache) live(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expires.After(c.now()) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// sweep drops every expired entry at most once per sweepInterval. Keys that
// are written once and never read again would otherwise stay forever.
// Caller holds mu.
func (c *MemoryCache) sweep() {
	now := c.now()
	if now.Sub(c.lastSweep) < c.sweepInterval {
		return
	}
	for key, e := range c.entries {
		if !e.expires.After(now) {
			delete(c.entries, key)
		}
	}
	c.lastSweep = now
}

// Len reports the number of entries held, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
