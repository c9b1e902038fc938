// Package metrics provides the Prometheus registry and endpoint for bucketfs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bucketfs/bucketfs/internal/blockcache"
	"github.com/bucketfs/bucketfs/internal/objstore"
)

// Registry is the Prometheus registry for all bucketfs metrics.
var Registry = prometheus.NewRegistry()

// Metrics holds all Prometheus metrics for a bucketfs process.
type Metrics struct {
	// Component metrics handed to the cache and the remote store.
	Cache  *blockcache.Metrics
	Remote *objstore.RemoteMetrics

	// Cache shape, refreshed by the Collector.
	CacheCapacity   prometheus.Gauge // bucketfs_cache_capacity_blocks
	CacheBlockSize  prometheus.Gauge // bucketfs_cache_block_size_bytes
	CacheHitRatio   prometheus.Gauge // bucketfs_cache_hit_ratio
	SizeCacheLength prometheus.Gauge // bucketfs_size_cache_entries

	// Process info (constant labels exposed as a gauge)
	Info *prometheus.GaugeVec // labels: version, store
}

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// InitMetrics initializes all metrics on Registry.
func InitMetrics(version, storeKind string) *Metrics {
	m := &Metrics{
		Cache:  blockcache.NewMetrics(Registry),
		Remote: objstore.NewRemoteMetrics(Registry),

		CacheCapacity: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "bucketfs_cache_capacity_blocks",
			Help: "Maximum number of resident blocks",
		}),
		CacheBlockSize: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "bucketfs_cache_block_size_bytes",
			Help: "Size of one cache block in bytes",
		}),
		CacheHitRatio: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "bucketfs_cache_hit_ratio",
			Help: "Fraction of block lookups served from resident blocks since start",
		}),
		SizeCacheLength: promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
			Name: "bucketfs_size_cache_entries",
			Help: "Object sizes currently held by the metadata cache",
		}),

		Info: promauto.With(Registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "bucketfs_info",
			Help: "bucketfs build information (value is always 1)",
		}, []string{"version", "store"}),
	}

	m.Info.WithLabelValues(version, storeKind).Set(1)

	return m
}

// Handler returns an HTTP handler serving Registry in the Prometheus text
// or OpenMetrics format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
