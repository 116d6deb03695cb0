// Package app wires the Tracklist components from settings and runs them.
package app

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tracklist/tracklist/internal/api"
	"github.com/tracklist/tracklist/internal/artcache"
	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/batch"
	"github.com/tracklist/tracklist/internal/buildinfo"
	"github.com/tracklist/tracklist/internal/cleanup"
	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/coverart"
	"github.com/tracklist/tracklist/internal/datastore"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/fetcher"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/hotcache"
	"github.com/tracklist/tracklist/internal/httpclient"
	"github.com/tracklist/tracklist/internal/integrity"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability"
	"github.com/tracklist/tracklist/internal/ratelimit"
	"github.com/tracklist/tracklist/internal/scheduler"
	"github.com/tracklist/tracklist/internal/telemetry"
	"github.com/tracklist/tracklist/internal/transcode"
)

const datastoreMonitorInterval = 30 * time.Second

// App holds the wired components. Optional components are nil when disabled.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Metrics  *observability.Metrics

	DB      datastore.Manager
	Ledger  repository.Ledger
	Store   *filestore.Store
	Artwork *artcache.Service
	Batch   *batch.Processor

	Auditor   *integrity.Auditor      // nil unless integrity is enabled
	Cleaner   *cleanup.Cleaner        // nil unless cleanup is enabled
	CoverArt  *coverart.Client        // nil unless the lookup is enabled
	Scheduler *scheduler.Scheduler
	Server    *api.Server // nil unless the web server is enabled

	log        logger.Logger
	httpClient *httpclient.Client
	cancel     context.CancelFunc
}

type options struct {
	log       logger.Logger
	transport http.RoundTripper
	build     *buildinfo.Context
}

// Option adjusts how New wires the application.
type Option func(*options)

// WithLogger replaces the app logger.
func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithTransport replaces the outbound HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithBuildInfo sets the version reported by telemetry.
func WithBuildInfo(b *buildinfo.Context) Option {
	return func(o *options) { o.build = b }
}

// GetLogger returns the app package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// New opens the ledger and builds every component selected by settings.
// The returned App must be closed.
func New(settings *conf.Settings, opts ...Option) (_ *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = GetLogger()
	}
	if o.build == nil {
		o.build = buildinfo.NewContext("", "")
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Settings: settings, Build: o.build, log: o.log, cancel: cancel}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := telemetry.Init(&settings.Telemetry, o.build.GetVersion()); err != nil {
		o.log.Warn("error telemetry unavailable", logger.Error(err))
	}

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, wrap(err, "metrics")
	}
	if settings.Metrics.Enabled {
		a.Metrics.InstallErrorHook()
	}

	if a.DB, err = datastore.New(&settings.Database, nil); err != nil {
		return nil, wrap(err, "open_database")
	}
	if err = a.DB.Initialize(); err != nil {
		return nil, wrap(err, "initialize_database")
	}
	a.Ledger = repository.NewLedger(a.DB.DB(), a.DB.IsMySQL(), a.Metrics.Datastore)
	datastore.StartMonitoring(ctx, a.DB, a.Metrics.Datastore, datastoreMonitorInterval, nil)

	if a.Store, err = filestore.New(settings.Artwork.CacheDir, settings.Artwork.URLPrefix, nil); err != nil {
		return nil, wrap(err, "open_file_store")
	}

	a.httpClient = httpclient.New(&httpclient.Config{
		Timeout:   settings.Fetcher.Timeout,
		UserAgent: settings.Fetcher.UserAgent,
		Transport: o.transport,
	})
	a.Metrics.InstrumentClient(a.httpClient)
	limiter := ratelimit.New(settings.RateLimit.DefaultRate, hostRates(settings.RateLimit.Hosts), nil)

	dl := fetcher.New(a.httpClient, limiter, fetcher.Config{
		Timeout:      settings.Fetcher.Timeout,
		MaxAttempts:  settings.Fetcher.MaxAttempts,
		Backoff:      backoff(settings.Fetcher.InitialBackoff, settings.Fetcher.MaxAttempts),
		MaxSizeBytes: settings.Fetcher.MaxSizeBytes,
		MinDimension: settings.Fetcher.MinDimension,
		MaxDimension: settings.Fetcher.MaxDimension,
	}, nil, a.Metrics.Artwork)

	tc := transcode.New(transcode.Config{
		Workers:            settings.Transcode.Workers,
		MaxSourceDimension: settings.Transcode.MaxSourceDimension,
	}, nil, a.Metrics.Artwork)

	hot := hotcache.New(settings.Artwork.MemoryCacheSize,
		hotcache.WithEvictionHook(a.Metrics.Artwork.RecordHotCacheEviction))

	deps := artcache.Deps{
		Store:      a.Store,
		Ledger:     a.Ledger,
		Fetcher:    dl,
		Transcoder: tc,
		Hot:        hot,
		Metrics:    a.Metrics.Artwork,
	}
	if settings.CoverArt.Enabled {
		a.CoverArt = coverart.New(a.httpClient, limiter, coverart.Config{
			BaseURL:     settings.CoverArt.BaseURL,
			Timeout:     settings.CoverArt.Timeout,
			NegativeTTL: settings.CoverArt.NegativeTTL,
		}, nil, a.Metrics.Artwork)
		deps.Resolver = a.CoverArt
	}
	a.Artwork, err = artcache.New(deps, artcache.Config{
		PlaceholderPath: settings.Artwork.PlaceholderPath,
		Deduplicate:     settings.Artwork.Deduplicate,
	})
	if err != nil {
		return nil, err
	}

	a.Batch = batch.New(a.Artwork, a.Store, a.Ledger, batch.Config{
		BatchSize:   settings.Batch.BatchSize,
		Concurrency: settings.Batch.Concurrency,
		MaxRetries:  settings.Batch.MaxRetries,
		RetryDelay:  settings.Batch.RetryDelay,
	}, a.Metrics.Maintenance, nil)

	if settings.Integrity.Enabled {
		a.Auditor = integrity.New(a.Store, a.Ledger, a.Artwork, tc, integrity.Config{
			SampleSize:      settings.Integrity.SampleSize,
			QuickSampleSize: settings.Integrity.QuickSampleSize,
			ReportDir:       settings.Integrity.ReportDir,
		}, a.Metrics.Maintenance, nil)
	}
	if settings.Cleanup.Enabled {
		a.Cleaner = cleanup.New(a.Store, a.Ledger, a.Artwork,
			cleanup.ConfigFromSettings(&settings.Cleanup), a.Metrics.Maintenance, nil)
	}

	a.Scheduler = scheduler.New(settings.Scheduler, a.schedulerDeps(), a.Store, a.Metrics.Maintenance, nil)

	if settings.WebServer.Enabled {
		if a.Server, err = api.New(settings, a.serverOptions()...); err != nil {
			return nil, err
		}
	}

	o.log.Info("tracklist initialized",
		logger.String("version", o.build.GetVersion()),
		logger.String("database", a.DB.Path()),
		logger.String("cache_dir", a.Store.Root()),
		logger.Bool("coverart", a.CoverArt != nil),
		logger.Bool("integrity", a.Auditor != nil),
		logger.Bool("cleanup", a.Cleaner != nil),
		logger.Bool("webserver", a.Server != nil))
	return a, nil
}

// schedulerDeps leaves disabled components as untyped nil interfaces.
func (a *App) schedulerDeps() scheduler.Deps {
	deps := scheduler.Deps{Backfiller: a.Batch, Memory: a.Artwork}
	if a.Auditor != nil {
		deps.Auditor = a.Auditor
	}
	if a.Cleaner != nil {
		deps.Cleaner = a.Cleaner
	}
	return deps
}

func (a *App) serverOptions() []api.ServerOption {
	opts := []api.ServerOption{
		api.WithArtwork(a.Artwork, a.Ledger.Albums()),
		api.WithBackfiller(a.Batch),
		api.WithLocker(a.Store),
		api.WithJobs(a.Scheduler),
		api.WithMetrics(a.Metrics.Handler(), a.Metrics.HTTP),
	}
	if a.Auditor != nil {
		opts = append(opts, api.WithAuditor(a.Auditor))
	}
	if a.Cleaner != nil {
		opts = append(opts, api.WithCleaner(a.Cleaner))
	}
	return opts
}

// Serve starts the scheduler and the web server and blocks until ctx ends
// or SIGINT or SIGTERM arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	if a.Server != nil {
		if err := a.Server.Start(); err != nil {
			return err
		}
	}

	a.log.Info("tracklist running")
	<-ctx.Done()
	a.log.Info("shutting down")

	if a.Server != nil {
		if err := a.Server.Shutdown(context.Background()); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every component. It is safe to call on a partially
// constructed App.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.CoverArt != nil {
		a.CoverArt.Close()
	}
	if a.httpClient != nil {
		a.httpClient.Close()
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.Warn("failed to close database", logger.Error(err))
		}
	}
	telemetry.Close()
}

// hostRates converts the configured host budgets to the limiter's map.
func hostRates(hosts []conf.HostRate) map[string]float64 {
	if len(hosts) == 0 {
		return nil
	}
	m := make(map[string]float64, len(hosts))
	for _, h := range hosts {
		m[h.Host] = h.Rate
	}
	return m
}

// backoff doubles initial for each retry. A zero initial keeps the
// fetcher's default schedule.
func backoff(initial time.Duration, attempts int) []time.Duration {
	if initial <= 0 || attempts <= 1 {
		return nil
	}
	out := make([]time.Duration, attempts-1)
	d := initial
	for i := range out {
		out[i] = d
		d *= 2
	}
	return out
}

func wrap(err error, operation string) error {
	return errors.New(err).
		Component("app").
		Category(errors.CategorySystem).
		Context("operation", operation).
		Build()
}

var _ artwork.URLResolver = (*coverart.Client)(nil)
