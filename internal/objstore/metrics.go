package objstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RemoteMetrics holds Prometheus metrics for requests issued to the remote store.
type RemoteMetrics struct {
	RequestsTotal   *prometheus.CounterVec   // bucketfs_remote_requests_total{operation,status}
	RequestDuration *prometheus.HistogramVec // bucketfs_remote_request_duration_seconds{operation}
	BytesFetched    prometheus.Counter       // bucketfs_remote_bytes_fetched_total
}

// NewRemoteMetrics creates remote store metrics registered with registry.
// A nil registry creates unregistered metrics.
func NewRemoteMetrics(registry prometheus.Registerer) *RemoteMetrics {
	factory := promauto.With(registry)
	return &RemoteMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bucketfs_remote_requests_total",
			Help: "Total remote store requests by operation and status",
		}, []string{"operation", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bucketfs_remote_request_duration_seconds",
			Help:    "Remote store request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		BytesFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "bucketfs_remote_bytes_fetched_total",
			Help: "Total object bytes fetched from the remote store",
		}),
	}
}

// RecordRequest records a request metric.
func (m *RemoteMetrics) RecordRequest(operation, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
	m.RequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordFetch records bytes fetched.
func (m *RemoteMetrics) RecordFetch(bytes int) {
	if m == nil {
		return
	}
	m.BytesFetched.Add(float64(bytes))
}

// classifyStatus maps an HTTP status to a coarse label, like the S3
// server's request accounting.
func classifyStatus(httpStatus int, err error) string {
	switch {
	case err != nil && httpStatus == 0:
		return "transport_error"
	case httpStatus >= 200 && httpStatus < 300:
		return "success"
	case httpStatus == 404:
		return "not_found"
	case httpStatus == 403 || httpStatus == 401:
		return "denied"
	case httpStatus >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}
