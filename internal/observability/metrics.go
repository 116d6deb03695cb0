// Package observability assembles the Prometheus registry for Tracklist and
// bridges structured errors and upstream HTTP responses into it.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracklist/tracklist/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry    *prometheus.Registry
	Artwork     *metrics.ArtworkMetrics
	Maintenance *metrics.MaintenanceMetrics
	Datastore   *metrics.DatastoreMetrics
	HTTP        *metrics.HTTPMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors plus
// all Tracklist collectors. Each call returns an independent registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	artworkMetrics, err := metrics.NewArtworkMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create artwork metrics: %w", err)
	}

	maintenanceMetrics, err := metrics.NewMaintenanceMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create maintenance metrics: %w", err)
	}

	datastoreMetrics, err := metrics.NewDatastoreMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry:    registry,
		Artwork:     artworkMetrics,
		Maintenance: maintenanceMetrics,
		Datastore:   datastoreMetrics,
		HTTP:        httpMetrics,
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the registry in exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promErrorLogger routes promhttp errors to the module logger.
type promErrorLogger struct{}

func (promErrorLogger) Println(v ...any) {
	GetLogger().Warn(fmt.Sprint(v...))
}
