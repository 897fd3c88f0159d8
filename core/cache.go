package core

import (
	"net/http"
	"sync"
	"time"

	"fetchbridge/models"
)

const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	response  models.Response
	expiresAt time.Time
}

// ResponseCache holds response snapshots for opted-in GET requests. An
// expired entry is removed by the lookup that finds it.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[string]cacheEntry), now: time.Now}
}

func (c *ResponseCache) Get(key string) (models.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return models.Response{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return models.Response{}, false
	}
	return e.response.Clone(), true
}

func (c *ResponseCache) Put(key string, resp models.Response, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{response: resp.Clone(), expiresAt: c.now().Add(ttl)}
}

func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResponseCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// CacheKey reports the cache key for req, or false when req is not cacheable.
func CacheKey(req *CanonicalRequest) (string, bool) {
	if req.Method != http.MethodGet || req.Options.Cache == nil {
		return "", false
	}
	if req.Options.Cache.Key != "" {
		return req.Options.Cache.Key, true
	}
	return "GET:" + req.URL.String(), true
}

func cacheTTL(opts *models.CacheOptions) time.Duration {
	if opts == nil || opts.TTLMs <= 0 {
		return DefaultCacheTTL
	}
	return time.Duration(opts.TTLMs) * time.Millisecond
}
