package sidebar

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opencode-studio/gateway/internal/cache"
)

// responseCacheMaxEntries bounds the in-process LRU tier independently of
// whatever TTL a caller asks for, so a misbehaving caller can't grow the
// process's memory without limit.
const responseCacheMaxEntries = 512

type cacheEntry struct {
	key     string
	value   []byte
	expires time.Time
	elem    *list.Element
}

// ResponseCache is a two-tier TTL cache for rendered directory-session pages
// and recent/running index payloads: an in-process LRU fronting a shared Redis cache (the same
// client the rest of the gateway uses), so a single instance still serves
// fast reads and multiple instances still share state when Redis is
// reachable. Per-entry TTL; Redis absence degrades to LRU-only operation.
type ResponseCache struct {
	shared *cache.Cache

	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List
}

// NewResponseCache wraps shared (which may be a disabled client) with a
// bounded in-process LRU.
func NewResponseCache(shared *cache.Cache) *ResponseCache {
	return &ResponseCache{
		shared:  shared,
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
	}
}

// Get returns the cached bytes for key, checking the local LRU first and
// falling back to the shared cache (if enabled) on a miss.
func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.getLocal(key); ok {
		return v, true
	}
	if c.shared == nil || !c.shared.IsEnabled() {
		return nil, false
	}

	var raw []byte
	if err := c.shared.Get(ctx, key, &raw); err != nil {
		return nil, false
	}
	return raw, true
}

func (c *ResponseCache) getLocal(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.evictLocked(e)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Set stores value under key in both tiers with the given TTL.
func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.setLocal(key, value, ttl)
	if c.shared != nil && c.shared.IsEnabled() {
		_ = c.shared.Set(ctx, key, value, ttl)
	}
}

func (c *ResponseCache) setLocal(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = time.Now().Add(ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	e := &cacheEntry{key: key, value: value, expires: time.Now().Add(ttl)}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	for c.order.Len() > responseCacheMaxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.evictLocked(oldest.Value.(*cacheEntry))
	}
}

func (c *ResponseCache) evictLocked(e *cacheEntry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// Invalidate removes key from both tiers, used when a write makes a cached
// response stale ahead of its TTL.
func (c *ResponseCache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.evictLocked(e)
	}
	c.mu.Unlock()

	if c.shared != nil && c.shared.IsEnabled() {
		_ = c.shared.Delete(ctx, key)
	}
}
