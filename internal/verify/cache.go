package verify

import (
	"sync"
	"time"
)

type cacheItem struct {
	value     NormalizedVerification
	expiresAt time.Time
}

// ttlCache is a small expiring cache for verification verdicts, so repeated
// lookups of the same reference don't hammer the upstream.
type ttlCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]cacheItem
	now   func() time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, items: make(map[string]cacheItem), now: time.Now}
}

func (c *ttlCache) Get(key string) (NormalizedVerification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return NormalizedVerification{}, false
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return NormalizedVerification{}, false
	}
	return item.value, true
}

func (c *ttlCache) Set(key string, value NormalizedVerification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{value: value, expiresAt: c.now().Add(c.ttl)}
}
