package identity

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	person  Person
	expires time.Time
}

// CacheMetrics receives cache hit/miss counts. May be nil.
type CacheMetrics interface {
	RecordDirectoryCacheHit()
	RecordDirectoryCacheMiss()
}

// CachedDirectory wraps a Directory with an in-memory TTL cache. Negative
// results are not cached so a freshly added identity resolves immediately.
type CachedDirectory struct {
	inner   Directory
	ttl     time.Duration
	metrics CacheMetrics
	mu      sync.RWMutex
	cache   map[string]cacheEntry
}

// NewCachedDirectory creates a caching wrapper with the given TTL.
func NewCachedDirectory(inner Directory, ttl time.Duration, metrics CacheMetrics) *CachedDirectory {
	return &CachedDirectory{
		inner:   inner,
		ttl:     ttl,
		metrics: metrics,
		cache:   make(map[string]cacheEntry),
	}
}

// Lookup resolves an identity, serving from cache when fresh.
func (d *CachedDirectory) Lookup(ctx context.Context, identityID string) (Person, error) {
	d.mu.RLock()
	if entry, ok := d.cache[identityID]; ok && time.Now().Before(entry.expires) {
		d.mu.RUnlock()
		if d.metrics != nil {
			d.metrics.RecordDirectoryCacheHit()
		}
		return entry.person, nil
	}
	d.mu.RUnlock()

	if d.metrics != nil {
		d.metrics.RecordDirectoryCacheMiss()
	}

	p, err := d.inner.Lookup(ctx, identityID)
	if err != nil {
		return Person{}, err
	}

	d.mu.Lock()
	d.cache[identityID] = cacheEntry{person: p, expires: time.Now().Add(d.ttl)}
	d.mu.Unlock()

	return p, nil
}

// Invalidate clears a cached identity.
func (d *CachedDirectory) Invalidate(identityID string) {
	d.mu.Lock()
	delete(d.cache, identityID)
	d.mu.Unlock()
}
