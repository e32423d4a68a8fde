package spatial

import (
	"fmt"
	"sync"
	"time"
)

// DefaultRouteTTL is how long a fetched route is reused
const DefaultRouteTTL = 20 * time.Second

// CacheEntry holds a cached route with expiration
type CacheEntry struct {
	Path      []GeoPoint
	ExpiresAt time.Time
}

// RouteCache is an in-memory cache of routes keyed by rounded endpoints
type RouteCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	ttl     time.Duration
	now     func() time.Time
	stats   CacheStats
}

// NewRouteCache returns an empty cache with the given ttl
func NewRouteCache(ttl time.Duration) *RouteCache {
	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}
	return &RouteCache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// RouteKey rounds both endpoints to 6 decimal places (~0.1m)
func RouteKey(start, end GeoPoint) string {
	return fmt.Sprintf("%.6f,%.6f;%.6f,%.6f", start.Lat, start.Lon, end.Lat, end.Lon)
}

// Get retrieves a route if present and not expired
func (c *RouteCache) Get(key string) ([]GeoPoint, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.ExpiresAt) {
		c.stats.RecordMiss()
		return nil, false
	}
	c.stats.RecordHit()
	return entry.Path, true
}

// Set stores a route for the cache ttl
func (c *RouteCache) Set(key string, path []GeoPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = CacheEntry{
		Path:      path,
		ExpiresAt: c.now().Add(c.ttl),
	}
}

// Purge drops expired entries and returns how many were removed
func (c *RouteCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired or not
func (c *RouteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit/miss counters
func (c *RouteCache) Stats() map[string]interface{} {
	return c.stats.Snapshot()
}
