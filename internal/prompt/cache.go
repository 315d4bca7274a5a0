package prompt

import (
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/auroraops/aurora/pkg/models"
)

// cacheEntryTTL bounds how long an assembled prefix is considered fresh.
// Vendor-side prompt caches expire on their own schedule; this only limits
// how long we reuse the local assembly.
const cacheEntryTTL = 30 * time.Minute

type cacheKey struct {
	provider models.Provider
	tenant   string
	// stable digests the inputs the cached prefix was rendered from. A
	// changed tool manifest or provider set keys a fresh entry, so MCP
	// tool refreshes and credential changes reach the prompt on the next
	// turn instead of waiting out the TTL.
	stable uint64
}

type cacheEntry struct {
	segments []Segment
	builtAt  time.Time
}

// Cache memoises the stable prompt prefix per (provider, tenant) so repeated
// turns hand the vendor an identical cacheable prefix.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	now     func() time.Time
}

func NewCache() *Cache {
	return &Cache{
		entries: make(map[cacheKey]cacheEntry),
		now:     time.Now,
	}
}

// Segments returns the prompt segments for the request, reusing the stable
// prefix when the (provider, tenant, inputs) triple has a fresh entry. The
// ephemeral segment is always rebuilt.
func (c *Cache) Segments(provider models.Provider, tenant string, opts Options) []Segment {
	key := cacheKey{provider: provider, tenant: tenant, stable: stableDigest(opts)}

	c.mu.Lock()
	entry, ok := c.entries[key]
	fresh := ok && c.now().Sub(entry.builtAt) < cacheEntryTTL
	c.mu.Unlock()

	if fresh {
		segments := make([]Segment, len(entry.segments), len(entry.segments)+1)
		copy(segments, entry.segments)
		return append(segments, Segment{Name: "ephemeral_rules", Content: ephemeralRules(opts)})
	}

	segments := Build(opts)
	stable := make([]Segment, len(segments)-1)
	copy(stable, segments[:len(segments)-1])

	c.mu.Lock()
	c.pruneLocked()
	c.entries[key] = cacheEntry{segments: stable, builtAt: c.now()}
	c.mu.Unlock()

	return segments
}

// stableDigest hashes the inputs the stable prefix depends on.
func stableDigest(opts Options) uint64 {
	h := fnv.New64a()
	io.WriteString(h, opts.ToolsManifest)
	for _, p := range opts.Providers {
		io.WriteString(h, "\x00")
		io.WriteString(h, string(p))
	}
	return h.Sum64()
}

// pruneLocked drops expired entries; superseded digests age out here.
func (c *Cache) pruneLocked() {
	cutoff := c.now().Add(-cacheEntryTTL)
	for key, entry := range c.entries {
		if entry.builtAt.Before(cutoff) {
			delete(c.entries, key)
		}
	}
}
