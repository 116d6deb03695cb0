package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// ArtworkMetrics contains Prometheus metrics for the artwork pipeline:
// lookups, downloads, transcoding, file writes and the hot cache.
type ArtworkMetrics struct {
	registry *prometheus.Registry

	lookupsTotal        *prometheus.CounterVec
	operationsTotal     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	errorsTotal         *prometheus.CounterVec
	bytesWrittenTotal   *prometheus.CounterVec
	upstreamResponses   *prometheus.CounterVec
	hotCacheEntries     prometheus.Gauge
	hotCacheEvictions   prometheus.Counter
	builtErrorsTotal    *prometheus.CounterVec
	downloadSizeBytes   prometheus.Histogram
	inFlightFetchGauge  prometheus.Gauge
	deduplicatedFetches prometheus.Counter
}

// NewArtworkMetrics creates and registers artwork pipeline metrics.
func NewArtworkMetrics(registry *prometheus.Registry) (*ArtworkMetrics, error) {
	m := &ArtworkMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register artwork metrics: %w", err)
	}
	return m, nil
}

func (m *ArtworkMetrics) initMetrics() {
	m.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artwork_lookups_total",
			Help: "Artwork URL lookups by the tier that answered them",
		},
		[]string{"tier"}, // memory, ledger, miss
	)

	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artwork_operations_total",
			Help: "Artwork pipeline operations by outcome",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artwork_operation_duration_seconds",
			Help:    "Time taken by artwork pipeline operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artwork_errors_total",
			Help: "Artwork pipeline errors by type",
		},
		[]string{"operation", "error_type"},
	)

	m.bytesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artwork_bytes_written_total",
			Help: "Bytes written to the artwork cache per variant",
		},
		[]string{"variant"},
	)

	m.upstreamResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artwork_upstream_responses_total",
			Help: "Responses received from upstream artwork hosts",
		},
		[]string{"host", "status_code"},
	)

	m.hotCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "artwork_hot_cache_entries",
		Help: "Entries currently held in the in-memory URL cache",
	})

	m.hotCacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artwork_hot_cache_evictions_total",
		Help: "Entries evicted from the in-memory URL cache",
	})

	m.builtErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklist_errors_total",
			Help: "Structured errors built, by component and category",
		},
		[]string{"component", "category"},
	)

	m.downloadSizeBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "artwork_download_size_bytes",
		Help:    "Size of downloaded source images",
		Buckets: prometheus.ExponentialBuckets(BucketStart1KB, BucketFactor4, BucketCount10), // 1KB to ~256MB
	})

	m.inFlightFetchGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "artwork_fetches_in_flight",
		Help: "Cold-path artwork fetches currently running",
	})

	m.deduplicatedFetches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "artwork_deduplicated_fetches_total",
		Help: "CacheArtwork calls that joined an in-flight fetch for the same key",
	})
}

func (m *ArtworkMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.lookupsTotal,
		m.operationsTotal,
		m.operationDuration,
		m.errorsTotal,
		m.bytesWrittenTotal,
		m.upstreamResponses,
		m.hotCacheEntries,
		m.hotCacheEvictions,
		m.builtErrorsTotal,
		m.downloadSizeBytes,
		m.inFlightFetchGauge,
		m.deduplicatedFetches,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ArtworkMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *ArtworkMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// RecordOperation implements Recorder.
func (m *ArtworkMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *ArtworkMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder. The operation is also counted as failed.
func (m *ArtworkMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
	m.operationsTotal.WithLabelValues(operation, StatusError).Inc()
}

// RecordLookup counts a URL lookup answered by tier.
func (m *ArtworkMetrics) RecordLookup(tier string) {
	m.lookupsTotal.WithLabelValues(tier).Inc()
}

// RecordBytesWritten adds to the per-variant byte counter.
func (m *ArtworkMetrics) RecordBytesWritten(variant string, n int) {
	m.bytesWrittenTotal.WithLabelValues(variant).Add(float64(n))
}

// RecordUpstreamResponse counts a response from an upstream host.
// statusCode 0 means the request failed before a response arrived.
func (m *ArtworkMetrics) RecordUpstreamResponse(host string, statusCode int) {
	code := "none"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	m.upstreamResponses.WithLabelValues(host, code).Inc()
}

// RecordDownloadSize observes the size of a downloaded source image.
func (m *ArtworkMetrics) RecordDownloadSize(n int) {
	m.downloadSizeBytes.Observe(float64(n))
}

// SetHotCacheEntries sets the current hot cache entry count.
func (m *ArtworkMetrics) SetHotCacheEntries(n int) {
	m.hotCacheEntries.Set(float64(n))
}

// RecordHotCacheEviction counts one hot cache eviction.
func (m *ArtworkMetrics) RecordHotCacheEviction() {
	m.hotCacheEvictions.Inc()
}

// RecordBuiltError counts a structured error by component and category.
func (m *ArtworkMetrics) RecordBuiltError(component, category string) {
	m.builtErrorsTotal.WithLabelValues(component, category).Inc()
}

// FetchStarted marks a cold-path fetch as in flight.
func (m *ArtworkMetrics) FetchStarted() { m.inFlightFetchGauge.Inc() }

// FetchFinished marks a cold-path fetch as done.
func (m *ArtworkMetrics) FetchFinished() { m.inFlightFetchGauge.Dec() }

// RecordDeduplicatedFetch counts a call that shared another call's result.
func (m *ArtworkMetrics) RecordDeduplicatedFetch() {
	m.deduplicatedFetches.Inc()
}
