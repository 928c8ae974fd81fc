package registry

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// idempotencyKey computes a stable hash of (runID, tool, args).
// encoding/json writes map keys in sorted order, which keeps the hash
// stable for equal argument maps.
func idempotencyKey(runID, tool string, args map[string]any) string {
	h := fnv.New64a()
	h.Write([]byte(runID))
	h.Write([]byte{0})
	h.Write([]byte(tool))
	h.Write([]byte{0})
	raw, _ := json.Marshal(args)
	h.Write(raw)
	return fmt.Sprintf("%016x", h.Sum64())
}

type cacheEntry struct {
	result   map[string]any
	cachedAt time.Time
}

// idempotencyCache is a time-boxed result cache guaranteeing at most one
// side effect per (run, tool, args) within the TTL. Best-effort only: the
// cache is process-local and does not survive restarts.
type idempotencyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	return &idempotencyCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

func (c *idempotencyCache) get(key string, now time.Time) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.Sub(entry.cachedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.result, true
}

func (c *idempotencyCache) put(key string, result map[string]any, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, cachedAt: now}
}
