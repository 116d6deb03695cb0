package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics covers the artwork ledger: per-statement counts and
// latency, transactions, the connection pool and table sizes.
//
// As a Recorder it takes operation names of the form "op:table", for
// example "db_upsert:artwork_cache". Names without a table are labelled
// TableUnknown.
type DatastoreMetrics struct {
	statements   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	failures     *prometheus.CounterVec
	transactions *prometheus.CounterVec
	pool         *prometheus.GaugeVec
	rows         *prometheus.GaugeVec
}

var _ Recorder = (*DatastoreMetrics)(nil)

// NewDatastoreMetrics registers the ledger collectors on registry.
func NewDatastoreMetrics(registry prometheus.Registerer) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{
		statements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_statements_total",
			Help: "Ledger statements by operation, table and outcome",
		}, []string{"operation", "table", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_statement_duration_seconds",
			Help:    "Ledger statement latency",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms/2, BucketFactor2, BucketCount12), // 0.5ms to ~1s
		}, []string{"operation", "table"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_statement_failures_total",
			Help: "Failed ledger statements by error type",
		}, []string{"operation", "table", "error_type"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger transactions by outcome",
		}, []string{"status"}),
		pool: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_connections",
			Help: "Database connection pool: in_use, idle and max",
		}, []string{"state"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_table_rows",
			Help: "Rows per ledger table, sampled by the datastore monitor",
		}, []string{"table"}),
	}

	for _, c := range []prometheus.Collector{m.statements, m.latency, m.failures, m.transactions, m.pool, m.rows} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
		}
	}
	return m, nil
}

// UpdateConnectionMetrics publishes a connection pool sample.
func (m *DatastoreMetrics) UpdateConnectionMetrics(inUse, idle, maxOpen int) {
	m.pool.WithLabelValues("in_use").Set(float64(inUse))
	m.pool.WithLabelValues("idle").Set(float64(idle))
	m.pool.WithLabelValues("max").Set(float64(maxOpen))
}

// UpdateTableRowCount publishes a row count sample for table.
func (m *DatastoreMetrics) UpdateTableRowCount(table string, rows int64) {
	m.rows.WithLabelValues(table).Set(float64(rows))
}

func splitOperation(name string) (op, table string) {
	op, table, ok := strings.Cut(name, ":")
	if !ok || table == "" {
		return name, TableUnknown
	}
	return op, table
}

func (m *DatastoreMetrics) RecordOperation(name, status string) {
	op, table := splitOperation(name)
	if op == OpTransaction {
		m.transactions.WithLabelValues(status).Inc()
		return
	}
	m.statements.WithLabelValues(op, table, status).Inc()
}

func (m *DatastoreMetrics) RecordDuration(name string, seconds float64) {
	op, table := splitOperation(name)
	m.latency.WithLabelValues(op, table).Observe(seconds)
}

// RecordError counts a failure and a statement with status error.
func (m *DatastoreMetrics) RecordError(name, errorType string) {
	op, table := splitOperation(name)
	if op == OpTransaction {
		m.transactions.WithLabelValues(StatusError).Inc()
		return
	}
	m.failures.WithLabelValues(op, table, errorType).Inc()
	m.statements.WithLabelValues(op, table, StatusError).Inc()
}
