// Package cache implements the two-level (source name -> identity -> value)
// mapping the runner consults before dispatching a fetch and grows after one
// completes. Keys are never removed during a run; a Cache is safe to share
// across concurrently-running Execute calls (see the runner package's
// Options.Cache), though doing so is outside what the core spec itself
// requires.
package cache

import "sync"

// Cache is a mutex-guarded two-level map. The zero value is not usable; call
// New or Seed.
type Cache struct {
	mu   sync.RWMutex
	data map[string]map[any]any
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{data: make(map[string]map[any]any)}
}

// Seed constructs a Cache from a user-provided mapping, typically built with
// source.ResourceName/CacheID. The provided map is copied; later mutation of
// entries by the caller does not affect the returned Cache.
func Seed(entries map[string]map[any]any) *Cache {
	c := New()
	for name, byIdentity := range entries {
		inner := make(map[any]any, len(byIdentity))
		for id, v := range byIdentity {
			inner[id] = v
		}
		c.data[name] = inner
	}
	return c
}

// Lookup reports whether (sourceName, identity) has a cached value.
func (c *Cache) Lookup(sourceName string, identity any) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	byIdentity, ok := c.data[sourceName]
	if !ok {
		return nil, false
	}
	v, ok := byIdentity[identity]
	return v, ok
}

// Insert records value for (sourceName, identity). Existing entries are
// overwritten; the spec does not require idempotent-fetch detection here.
func (c *Cache) Insert(sourceName string, identity any, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byIdentity, ok := c.data[sourceName]
	if !ok {
		byIdentity = make(map[any]any)
		c.data[sourceName] = byIdentity
	}
	byIdentity[identity] = value
}

// Snapshot returns a deep copy of the cache contents, safe for the caller to
// retain or mutate independently of further Cache activity. Runner.Execute
// returns a Cache, not a Snapshot, so that a caller wanting a point-in-time
// view should call Snapshot explicitly.
func (c *Cache) Snapshot() map[string]map[any]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]map[any]any, len(c.data))
	for name, byIdentity := range c.data {
		inner := make(map[any]any, len(byIdentity))
		for id, v := range byIdentity {
			inner[id] = v
		}
		out[name] = inner
	}
	return out
}
