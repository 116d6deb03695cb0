package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics counts API requests by route template, so /api/v1/albums/7
// and /api/v1/albums/8 share one series.
type HTTPMetrics struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	size         *prometheus.HistogramVec
	serverErrors *prometheus.CounterVec
}

// NewHTTPMetrics registers the API request collectors on registry.
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "API requests by method, route template and status code",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor4, 8), // 1ms to ~16s
		}, []string{"method", "route"}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "API response body size; artwork variants dominate the upper buckets",
			// 64B to 16MB; the largest variant is capped at 10MB
			Buckets: prometheus.ExponentialBuckets(64, BucketFactor4, 10),
		}, []string{"route"}),
		serverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_server_errors_total",
			Help: "API requests answered with a 5xx status",
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.latency, m.size, m.serverErrors} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveRequest records one finished request.
func (m *HTTPMetrics) ObserveRequest(method, route string, status int, elapsed time.Duration, size int64) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(elapsed.Seconds())
	if size > 0 {
		m.size.WithLabelValues(route).Observe(float64(size))
	}
	if status >= 500 {
		m.serverErrors.WithLabelValues(route).Inc()
	}
}
