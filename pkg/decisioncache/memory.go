package decisioncache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/gatehouse/pkg/access"
)

// DefaultMaxEntries bounds a MemoryCache created without a size
const DefaultMaxEntries = 100_000

type memoryEntry struct {
	decision  access.Decision
	expiresAt time.Time
}

// MemoryCache is a bounded in-process LRU of decisions. Entries expire after
// the TTL passed to Set, capped by the cache-wide TTL. It is only coherent
// within one process; deployments with several instances should share a
// RedisCache.
type MemoryCache struct {
	cache *lru.LRU[access.Key, memoryEntry]
	now   func() time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries decisions for at
// most ttl each
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = access.DefaultCacheTTL
	}
	return &MemoryCache{
		cache: lru.NewLRU[access.Key, memoryEntry](maxEntries, nil, ttl),
		now:   time.Now,
	}
}

// Get implements access.DecisionCache
func (c *MemoryCache) Get(_ context.Context, key access.Key) (access.Decision, bool, error) {
	entry, ok := c.cache.Get(key)
	if !ok {
		return access.Decision{}, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.cache.Remove(key)
		return access.Decision{}, false, nil
	}
	return entry.decision, true, nil
}

// Set implements access.DecisionCache
func (c *MemoryCache) Set(_ context.Context, key access.Key, decision access.Decision, ttl time.Duration) error {
	entry := memoryEntry{decision: decision}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.cache.Add(key, entry)
	return nil
}

// Invalidate implements access.DecisionCache by scanning the keys
func (c *MemoryCache) Invalidate(_ context.Context, pattern access.KeyPattern) error {
	if pattern == (access.KeyPattern{}) {
		c.cache.Purge()
		return nil
	}
	for _, key := range c.cache.Keys() {
		if pattern.Matches(key) {
			c.cache.Remove(key)
		}
	}
	return nil
}

// Len returns the number of cached decisions, including expired ones not yet evicted
func (c *MemoryCache) Len() int {
	return c.cache.Len()
}

// Close releases the cached entries
func (c *MemoryCache) Close() error {
	c.cache.Purge()
	return nil
}
