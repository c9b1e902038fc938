package metrics

import (
	"context"
	"time"

	"github.com/bucketfs/bucketfs/internal/blockcache"
)

// CacheStatsSource reports block cache statistics.
type CacheStatsSource interface {
	CacheStats() blockcache.Stats
}

// LenSource reports the number of entries in a cache.
type LenSource interface {
	Len() int
}

// CollectorConfig holds the components to collect metrics from.
type CollectorConfig struct {
	Cache     CacheStatsSource
	SizeCache LenSource // May be nil
}

// Collector periodically copies component statistics into gauges.
type Collector struct {
	metrics   *Metrics
	cache     CacheStatsSource
	sizeCache LenSource
}

// NewCollector creates a new metrics collector.
func NewCollector(m *Metrics, cfg CollectorConfig) *Collector {
	return &Collector{
		metrics:   m,
		cache:     cfg.Cache,
		sizeCache: cfg.SizeCache,
	}
}

// Collect gathers metrics from all components.
func (c *Collector) Collect() {
	if c.metrics == nil {
		return
	}
	c.collectCacheStats()
	c.collectSizeCacheStats()
}

func (c *Collector) collectCacheStats() {
	if c.cache == nil {
		return
	}
	stats := c.cache.CacheStats()
	c.metrics.CacheCapacity.Set(float64(stats.Capacity))
	c.metrics.CacheBlockSize.Set(float64(stats.BlockSize))

	lookups := stats.Hits + stats.Misses
	if lookups > 0 {
		c.metrics.CacheHitRatio.Set(float64(stats.Hits) / float64(lookups))
	}
}

func (c *Collector) collectSizeCacheStats() {
	if c.sizeCache == nil {
		return
	}
	c.metrics.SizeCacheLength.Set(float64(c.sizeCache.Len()))
}

// Run starts periodic metric collection.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}
