package callcache

import (
	"context"
	"slices"
	"sync"
	"time"

	"voiceai-dashboard/pkg/metrics"
)

type MemoryConfig struct {
	TTL time.Duration
	// MaxTenants bounds the number of entries; the oldest entry is evicted
	// first. 1 gives a single-slot cache.
	MaxTenants int
	Clock      func() time.Time
	Metrics    *metrics.Metrics
}

func (c MemoryConfig) withDefaults() MemoryConfig {
	out := c
	if out.TTL <= 0 {
		out.TTL = DefaultTTL
	}
	if out.MaxTenants <= 0 {
		out.MaxTenants = 1024
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}

type memEntry struct {
	entry     Entry
	fetchedAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	cfg     MemoryConfig
	entries map[string]memEntry
}

func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	return &MemoryCache{cfg: cfg.withDefaults(), entries: map[string]memEntry{}}
}

func (c *MemoryCache) Get(ctx context.Context, tenantID string) (Entry, bool, error) {
	if tenantID == "" {
		return Entry{}, false, ErrTenantRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[tenantID]
	if !ok {
		c.cfg.Metrics.CacheLookup("memory", resultMiss)
		return Entry{}, false, nil
	}
	valid, stale := classify(c.cfg.Clock().Sub(e.fetchedAt), c.cfg.TTL)
	if !valid {
		delete(c.entries, tenantID)
		c.cfg.Metrics.CacheLookup("memory", resultMiss)
		return Entry{}, false, nil
	}
	if stale {
		c.cfg.Metrics.CacheLookup("memory", resultStale)
	} else {
		c.cfg.Metrics.CacheLookup("memory", resultHit)
	}
	return cloneEntry(e.entry), true, nil
}

func (c *MemoryCache) Set(ctx context.Context, tenantID string, e Entry) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(tenantID, e, c.cfg.Clock())
	return nil
}

func (c *MemoryCache) SetAt(ctx context.Context, tenantID string, e Entry, fetchedAt time.Time) (bool, error) {
	if tenantID == "" {
		return false, ErrTenantRequired
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[tenantID]; ok && cur.fetchedAt.After(fetchedAt) {
		return false, nil
	}
	c.put(tenantID, e, fetchedAt)
	return true, nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
	return nil
}

func (c *MemoryCache) IsStale(ctx context.Context, tenantID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[tenantID]
	if !ok {
		return true, nil
	}
	_, stale := classify(c.cfg.Clock().Sub(e.fetchedAt), c.cfg.TTL)
	return stale, nil
}

// put must be called with mu held.
func (c *MemoryCache) put(tenantID string, e Entry, fetchedAt time.Time) {
	if _, exists := c.entries[tenantID]; !exists {
		for len(c.entries) >= c.cfg.MaxTenants {
			c.evictOldest()
		}
	}
	c.entries[tenantID] = memEntry{entry: cloneEntry(e), fetchedAt: fetchedAt}
}

func cloneEntry(e Entry) Entry {
	return Entry{Records: slices.Clone(e.Records), NextCursor: e.NextCursor}
}

func (c *MemoryCache) evictOldest() {
	var (
		oldestID string
		oldestAt time.Time
		found    bool
	)
	for id, e := range c.entries {
		if !found || e.fetchedAt.Before(oldestAt) {
			oldestID, oldestAt, found = id, e.fetchedAt, true
		}
	}
	delete(c.entries, oldestID)
}
