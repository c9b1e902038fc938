package blockcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for a block cache.
type Metrics struct {
	Hits         prometheus.Counter // bucketfs_cache_hits_total
	Misses       prometheus.Counter // bucketfs_cache_misses_total
	Fetches      prometheus.Counter // bucketfs_cache_fetches_total
	FetchErrors  prometheus.Counter // bucketfs_cache_fetch_errors_total
	Evictions    prometheus.Counter // bucketfs_cache_evictions_total
	FetchedBytes prometheus.Counter // bucketfs_cache_fetched_bytes_total
	Resident     prometheus.Gauge   // bucketfs_cache_resident_blocks
}

// NewMetrics creates block cache metrics registered with registry.
// A nil registry creates unregistered metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		Hits: factory.NewCounter(prometheus.CounterOpts{
			Name: "bucketfs_cache_hits_total",
			Help: "Block lookups served from resident blocks",
		}),
		Misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "bucketfs_cache_misses_total",
			Help: "Block lookups that had to wait for a remote fetch",
		}),
		Fetches: factory.NewCounter(prometheus.CounterOpts{
			Name: "bucketfs_cache_fetches_total",
			Help: "Remote block fetches issued",
		}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "bucketfs_cache_fetch_errors_total",
			Help: "Remote block fetches that failed",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "bucketfs_cache_evictions_total",
			Help: "Blocks evicted to stay within capacity",
		}),
		FetchedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bucketfs_cache_fetched_bytes_total",
			Help: "Bytes fetched from the remote store into the cache",
		}),
		Resident: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bucketfs_cache_resident_blocks",
			Help: "Blocks currently resident in the cache",
		}),
	}
}

func (m *Metrics) recordLookup(hits, misses int) {
	if m == nil {
		return
	}
	m.Hits.Add(float64(hits))
	m.Misses.Add(float64(misses))
}

func (m *Metrics) recordFetch(bytes int, err error) {
	if m == nil {
		return
	}
	m.Fetches.Inc()
	if err != nil {
		m.FetchErrors.Inc()
		return
	}
	m.FetchedBytes.Add(float64(bytes))
}

func (m *Metrics) recordEviction() {
	if m == nil {
		return
	}
	m.Evictions.Inc()
}

func (m *Metrics) setResident(n int) {
	if m == nil {
		return
	}
	m.Resident.Set(float64(n))
}
