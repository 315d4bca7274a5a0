package credentials

import (
	"fmt"
	"sync"
	"time"

	"github.com/auroraops/aurora/pkg/models"
)

const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	bundle    *Bundle
	expiresAt time.Time
}

// bundleCache is a read-mostly TTL cache. Entries are invalidated explicitly
// on connect/disconnect and expire on their own after the TTL.
type bundleCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newBundleCache(ttl time.Duration) *bundleCache {
	return &bundleCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func cacheKey(req Request) string {
	return fmt.Sprintf("%s|%s|%s|%s", req.Principal, req.Provider, req.Account, req.Mode)
}

func (c *bundleCache) get(key string) (*Bundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.bundle, true
}

func (c *bundleCache) put(key string, bundle *Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{bundle: bundle, expiresAt: time.Now().Add(c.ttl)}
}

func (c *bundleCache) invalidate(principal string, provider models.Provider) {
	prefix := fmt.Sprintf("%s|%s|", principal, provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
}
