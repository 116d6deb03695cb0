package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MaintenanceMetrics contains Prometheus metrics for cleanup, integrity
// audits, batch backfills and scheduled jobs.
type MaintenanceMetrics struct {
	registry *prometheus.Registry

	// Cache size
	cacheSizeBytes prometheus.Gauge
	cacheFiles     prometheus.Gauge

	// Cleanup
	cleanupRunsTotal   *prometheus.CounterVec
	filesDeletedTotal  *prometheus.CounterVec
	bytesFreedTotal    *prometheus.CounterVec
	cleanupDuration    *prometheus.HistogramVec
	cleanupErrorsTotal *prometheus.CounterVec

	// Integrity
	integrityScore       prometheus.Gauge
	integrityIssuesTotal *prometheus.CounterVec
	integrityRepairs     *prometheus.CounterVec

	// Batch
	batchAlbumsTotal *prometheus.CounterVec

	// Scheduler
	jobRunsTotal *prometheus.CounterVec
	jobLastRun   *prometheus.GaugeVec
}

// NewMaintenanceMetrics creates and registers maintenance metrics.
func NewMaintenanceMetrics(registry *prometheus.Registry) (*MaintenanceMetrics, error) {
	m := &MaintenanceMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register maintenance metrics: %w", err)
	}
	return m, nil
}

func (m *MaintenanceMetrics) initMetrics() {
	m.cacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "artwork_cache_size_bytes",
		Help: "Total size of cached artwork files on disk",
	})

	m.cacheFiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "artwork_cache_files",
		Help: "Number of cached artwork files on disk",
	})

	m.cleanupRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_runs_total",
			Help: "Cleanup runs performed",
		},
		[]string{"policy", "status"}, // policy: age, size, orphans, invalid
	)

	m.filesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_files_deleted_total",
			Help: "Files deleted by cleanup",
		},
		[]string{"policy"},
	)

	m.bytesFreedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_bytes_freed_total",
			Help: "Bytes freed by cleanup",
		},
		[]string{"policy"},
	)

	m.cleanupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanup_duration_seconds",
			Help:    "Time taken by cleanup runs",
			Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount10), // 100ms to ~100s
		},
		[]string{"policy"},
	)

	m.cleanupErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_errors_total",
			Help: "Errors encountered by cleanup",
		},
		[]string{"policy", "error_type"},
	)

	m.integrityScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "integrity_score",
		Help: "Percentage of ledger rows that passed the last audit",
	})

	m.integrityIssuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_issues_found_total",
			Help: "Integrity issues found by audits",
		},
		[]string{"issue"}, // missing_file, orphaned_file, corrupted_file, size_mismatch, missing_variant
	)

	m.integrityRepairs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_repairs_total",
			Help: "Repair actions taken after audits",
		},
		[]string{"action"},
	)

	m.batchAlbumsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_albums_total",
			Help: "Albums handled by batch backfill by outcome",
		},
		[]string{"status"}, // success, error, skipped
	)

	m.jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduled maintenance job runs",
		},
		[]string{"job", "status"},
	)

	m.jobLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_job_last_run_timestamp_seconds",
			Help: "Unix time of the last run of each scheduled job",
		},
		[]string{"job"},
	)
}

func (m *MaintenanceMetrics) getCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.cacheSizeBytes,
		m.cacheFiles,
		m.cleanupRunsTotal,
		m.filesDeletedTotal,
		m.bytesFreedTotal,
		m.cleanupDuration,
		m.cleanupErrorsTotal,
		m.integrityScore,
		m.integrityIssuesTotal,
		m.integrityRepairs,
		m.batchAlbumsTotal,
		m.jobRunsTotal,
		m.jobLastRun,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *MaintenanceMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.getCollectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *MaintenanceMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.getCollectors() {
		c.Collect(ch)
	}
}

// UpdateCacheSize sets the on-disk cache size gauges.
func (m *MaintenanceMetrics) UpdateCacheSize(bytes int64, files int) {
	m.cacheSizeBytes.Set(float64(bytes))
	m.cacheFiles.Set(float64(files))
}

// RecordCleanup records the outcome of one cleanup policy run.
func (m *MaintenanceMetrics) RecordCleanup(policy, status string, filesDeleted int, bytesFreed int64, duration time.Duration) {
	m.cleanupRunsTotal.WithLabelValues(policy, status).Inc()
	m.filesDeletedTotal.WithLabelValues(policy).Add(float64(filesDeleted))
	m.bytesFreedTotal.WithLabelValues(policy).Add(float64(bytesFreed))
	m.cleanupDuration.WithLabelValues(policy).Observe(duration.Seconds())
}

// RecordCleanupError counts a cleanup error.
func (m *MaintenanceMetrics) RecordCleanupError(policy, errorType string) {
	m.cleanupErrorsTotal.WithLabelValues(policy, errorType).Inc()
}

// RecordIntegrityAudit sets the score and counts the issues of one audit.
func (m *MaintenanceMetrics) RecordIntegrityAudit(score float64, issues map[string]int) {
	m.integrityScore.Set(score)
	for issue, n := range issues {
		if n > 0 {
			m.integrityIssuesTotal.WithLabelValues(issue).Add(float64(n))
		}
	}
}

// RecordRepair counts repair actions of one kind.
func (m *MaintenanceMetrics) RecordRepair(action string, n int) {
	if n > 0 {
		m.integrityRepairs.WithLabelValues(action).Add(float64(n))
	}
}

// RecordBatchAlbum counts one album handled by a backfill.
func (m *MaintenanceMetrics) RecordBatchAlbum(status string) {
	m.batchAlbumsTotal.WithLabelValues(status).Inc()
}

// RecordJobRun records a scheduled job run and its completion time.
func (m *MaintenanceMetrics) RecordJobRun(job, status string, at time.Time) {
	m.jobRunsTotal.WithLabelValues(job, status).Inc()
	m.jobLastRun.WithLabelValues(job).Set(float64(at.Unix()))
}

// IntegrityScore returns the score recorded by the last audit.
func (m *MaintenanceMetrics) IntegrityScore() float64 {
	return gaugeValue(m.integrityScore)
}

// gaugeValue reads the current value of a gauge.
func gaugeValue(g prometheus.Gauge) float64 {
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		GetLogger().Debug("failed to read gauge")
		return 0
	}
	return metric.GetGauge().GetValue()
}
