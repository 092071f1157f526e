package feeconfig

import (
	"context"
	"sync"
)

// Cache is a read-through cache over the fee config store. Every admin
// write bumps the version counter; readers holding an older version
// refetch on the next Get. Safe for concurrent use.
type Cache struct {
	store Store

	mu        sync.Mutex
	cfg       *Config
	version   uint64
	loadedVer uint64
}

// NewCache creates a cache over the given store.
func NewCache(store Store) *Cache {
	return &Cache{store: store, version: 1}
}

// Get returns the current configuration, fetching from the store when
// the cached copy is missing or stale.
func (c *Cache) Get(ctx context.Context) (*Config, error) {
	c.mu.Lock()
	if c.cfg != nil && c.loadedVer == c.version {
		cfg := *c.cfg
		c.mu.Unlock()
		return &cfg, nil
	}
	ver := c.version
	c.mu.Unlock()

	cfg, err := c.store.Get(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// A write may have invalidated again while we were fetching; only
	// record the load against the version we started from.
	if c.version == ver {
		c.cfg = cfg
		c.loadedVer = ver
	}
	c.mu.Unlock()

	out := *cfg
	return &out, nil
}

// Update writes through the store and invalidates the cached copy.
func (c *Cache) Update(ctx context.Context, patch Patch) (*Config, error) {
	cfg, err := c.store.Update(ctx, patch)
	if err != nil {
		return nil, err
	}
	c.Invalidate()
	return cfg, nil
}

// Invalidate forces the next Get to refetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.version++
	c.mu.Unlock()
}
