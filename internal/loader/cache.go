package loader

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"
)

// Cache is a Loader that keeps loaded results in memory for a fixed time, so
// that repeated runs over the same directory do not decode unchanged files
// again. It is safe for concurrent use.
type Cache struct {
	loader  Loader
	results *ttlcache.Cache[string, *model.TestResults]
}

// NewCache returns a Cache in front of loader. Entries expire ttl after
// they are loaded; hits do not extend their lifetime.
func NewCache(loader Loader, ttl time.Duration) *Cache {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *model.TestResults](ttl),
		ttlcache.WithDisableTouchOnHit[string, *model.TestResults](),
	)
	cache.OnEviction(func(ctx context.Context,
		er ttlcache.EvictionReason,
		i *ttlcache.Item[string, *model.TestResults]) {
		log.Debug("Results evicted from cache", "path", i.Key(), "reason", er)
	})
	go cache.Start()
	return &Cache{
		loader:  loader,
		results: cache,
	}
}

// Load returns the cached results for path, loading them on a miss. Errors
// are never cached.
func (c *Cache) Load(ctx context.Context, path string) (*model.TestResults, error) {
	if item := c.results.Get(path); item != nil {
		return item.Value(), nil
	}
	results, err := c.loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	c.results.Set(path, results, ttlcache.DefaultTTL)
	return results, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.results.Len()
}

// Stop stops the expiration goroutine.
func (c *Cache) Stop() {
	c.results.Stop()
}
