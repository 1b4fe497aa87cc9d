package modelstore

import (
	"slices"
	"sync"
	"time"
)

type cacheEntry struct {
	decoded  *Decoded
	cachedAt time.Time
}

// InMemoryCache is a DecodedCache held in a map.
// Thread-safe for concurrent access.
type InMemoryCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryCache creates a new in-memory decoded model cache
func NewInMemoryCache(config CacheConfig) *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

func (c *InMemoryCache) expired(e cacheEntry) bool {
	return c.config.TTL > 0 && c.now().Sub(e.cachedAt) > c.config.TTL
}

// Get retrieves a cached entry. Expired entries are misses.
func (c *InMemoryCache) Get(id string) (*Decoded, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok || c.expired(e) {
		return nil, false
	}

	// Return copy to prevent external modifications
	d := *e.decoded
	d.Groups = slices.Clone(d.Groups)
	d.Diagnostics = slices.Clone(d.Diagnostics)
	return &d, true
}

// Set stores an entry
func (c *InMemoryCache) Set(id string, d *Decoded) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *d
	cp.Groups = slices.Clone(d.Groups)
	cp.Diagnostics = slices.Clone(d.Diagnostics)
	c.entries[id] = cacheEntry{decoded: &cp, cachedAt: c.now()}
}

// Invalidate drops the entry for id
func (c *InMemoryCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// Len returns the number of entries that have not expired
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries {
		if !c.expired(e) {
			n++
		}
	}
	return n
}
