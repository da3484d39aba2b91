package serving

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/exporthaven/forecaster/internal/domain/forecast"
	"github.com/exporthaven/forecaster/internal/metrics"
)

// bundleEntry is a decoded bundle held in memory
type bundleEntry struct {
	bundle   *forecast.Bundle
	loadedAt time.Time
}

// BundleCache keeps decoded bundles warm between requests. Concurrent loads
// of the same country share a single decode.
type BundleCache struct {
	loader  Loader
	ttl     time.Duration
	metrics *metrics.Registry

	entries map[string]*bundleEntry
	mu      sync.RWMutex
	group   singleflight.Group
	now     func() time.Time
}

// CacheStats reports bundle cache contents
type CacheStats struct {
	Entries int           `json:"entries"`
	TTL     time.Duration `json:"ttl"`
}

// NewBundleCache wraps loader. A ttl of zero disables caching entirely.
func NewBundleCache(loader Loader, ttl time.Duration, m *metrics.Registry) *BundleCache {
	return &BundleCache{
		loader:  loader,
		ttl:     ttl,
		metrics: m,
		entries: make(map[string]*bundleEntry),
		now:     time.Now,
	}
}

// Load returns the bundle at path for country, decoding it at most once per TTL
func (c *BundleCache) Load(ctx context.Context, country, path string) (*forecast.Bundle, error) {
	if c.ttl <= 0 {
		return c.loader.Load(ctx, country, path)
	}

	key := path
	if b, ok := c.get(key); ok {
		c.metrics.RecordCacheHit(metrics.TierBundle)
		return b, nil
	}
	c.metrics.RecordCacheMiss(metrics.TierBundle)

	// The shared load must outlive any single caller, so it drops the
	// caller's cancellation. Each caller still stops waiting on its own ctx.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if b, ok := c.get(key); ok {
			return b, nil
		}
		b, err := c.loader.Load(loadCtx, country, path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = &bundleEntry{bundle: b, loadedAt: c.now()}
		c.mu.Unlock()
		return b, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*forecast.Bundle), nil
	}
}

func (c *BundleCache) get(key string) (*forecast.Bundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if c.now().Sub(entry.loadedAt) > c.ttl {
		return nil, false
	}
	return entry.bundle, true
}

// CleanExpired removes expired bundles and returns how many were dropped
func (c *BundleCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleaned := 0
	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.loadedAt) > c.ttl {
			delete(c.entries, key)
			cleaned++
		}
	}
	return cleaned
}

// Stats returns cache statistics
func (c *BundleCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Entries: len(c.entries), TTL: c.ttl}
}
