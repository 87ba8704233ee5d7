// Package cache is a small in-process TTL cache used when redis is not configured.
package cache

import (
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	value     V
	expiresAt int64
	storedAt  int64
}

func (it item[V]) expired(now int64) bool {
	return it.expiresAt != 0 && now > it.expiresAt
}

// Cache is a thread-safe in-memory cache with expiration and a size cap
type Cache[V any] struct {
	mu                sync.RWMutex
	items             map[string]item[V]
	defaultExpiration time.Duration
	maxItems          int
}

// New creates a cache. ttl <= 0 keeps items until evicted; maxItems <= 0 is unbounded.
func New[V any](ttl time.Duration, maxItems int) *Cache[V] {
	return &Cache[V]{
		items:             make(map[string]item[V]),
		defaultExpiration: ttl,
		maxItems:          maxItems,
	}
}

// Set adds an item with the default expiration
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithExpiration(key, value, c.defaultExpiration)
}

// SetWithExpiration adds an item with a specific expiration
func (c *Cache[V]) SetWithExpiration(key string, value V, d time.Duration) {
	now := time.Now().UnixNano()
	var exp int64
	if d > 0 {
		exp = now + int64(d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}

	c.items[key] = item[V]{value: value, expiresAt: exp, storedAt: now}
}

// Get retrieves an unexpired item
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, found := c.items[key]
	if !found || it.expired(time.Now().UnixNano()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Delete removes an item from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// RunCleanup purges expired items every interval until ctx is done
func (c *Cache[V]) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.deleteExpired()
		}
	}
}

func (c *Cache[V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for k, v := range c.items {
		if v.expired(now) {
			delete(c.items, k)
		}
	}
}

// evictOldest drops the least recently stored item; caller holds the lock
func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldest    int64
		first     = true
	)
	for k, v := range c.items {
		if first || v.storedAt < oldest {
			oldestKey, oldest, first = k, v.storedAt, false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
