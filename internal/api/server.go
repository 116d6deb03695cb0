package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	mw "github.com/tracklist/tracklist/internal/api/middleware"
	"github.com/tracklist/tracklist/internal/artcache"
	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/batch"
	"github.com/tracklist/tracklist/internal/cleanup"
	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/integrity"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/scheduler"
)

// ArtworkService is the artwork cache as seen by the HTTP handlers.
type ArtworkService interface {
	Resolve(ctx context.Context, album artwork.Album, v artwork.Variant) string
	Cache(ctx context.Context, album artwork.Album, url string) error
	ResolveArtworkURL(ctx context.Context, album artwork.Album) (string, error)
	ClearAlbumCache(ctx context.Context, album artwork.Album) bool
	Statistics(ctx context.Context) (*artcache.Statistics, error)
}

// AlbumLookup loads albums by id.
type AlbumLookup interface {
	Get(ctx context.Context, id int64) (*entities.Album, error)
}

// Auditor runs integrity audits.
type Auditor interface {
	Verify(ctx context.Context, repair bool) (*integrity.Report, error)
	QuickCheck(ctx context.Context) (*integrity.QuickReport, error)
}

// Backfiller bulk caches artwork.
type Backfiller interface {
	ProcessAll(ctx context.Context, force bool) (*batch.Report, error)
	ProcessMissingVariants(ctx context.Context) (*batch.Report, error)
}

// Cleaner runs one cleanup pass.
type Cleaner interface {
	Run(ctx context.Context) (*cleanup.Result, error)
}

// Locker probes the maintenance lock so busy maintenance requests fail fast.
type Locker interface {
	TryLock() (func(), error)
}

// JobLister reports scheduled maintenance jobs.
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// Server is the HTTP server for Tracklist.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	artwork   ArtworkService
	albums    AlbumLookup
	auditor   Auditor
	backfill  Backfiller
	cleaner   func(dryRun bool) Cleaner
	locker    Locker
	jobs      JobLister
	metrics   http.Handler
	recorder  mw.RequestRecorder
	statCache *cache.Cache

	mu        sync.Mutex
	listener  net.Listener
	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithArtwork sets the artwork cache and the album source used to resolve ids.
func WithArtwork(svc ArtworkService, albums AlbumLookup) ServerOption {
	return func(s *Server) {
		s.artwork = svc
		s.albums = albums
	}
}

// WithAuditor enables the audit and quick check endpoints.
func WithAuditor(a Auditor) ServerOption {
	return func(s *Server) {
		s.auditor = a
	}
}

// WithBackfiller enables the backfill endpoint.
func WithBackfiller(b Backfiller) ServerOption {
	return func(s *Server) {
		s.backfill = b
	}
}

// WithCleaner enables the cleanup endpoint.
func WithCleaner(c *cleanup.Cleaner) ServerOption {
	return WithCleanupRunner(func(dryRun bool) Cleaner { return c.WithDryRun(dryRun) })
}

// WithCleanupRunner enables the cleanup endpoint with a Cleaner chosen per
// request by its dry run flag.
func WithCleanupRunner(fn func(dryRun bool) Cleaner) ServerOption {
	return func(s *Server) {
		s.cleaner = fn
	}
}

// WithLocker makes maintenance endpoints answer 409 while the lock is held.
func WithLocker(l Locker) ServerOption {
	return func(s *Server) {
		s.locker = l
	}
}

// WithJobs enables the scheduled job listing.
func WithJobs(j JobLister) ServerOption {
	return func(s *Server) {
		s.jobs = j
	}
}

// WithMetrics sets the metrics handler and the request recorder.
func WithMetrics(h http.Handler, rec mw.RequestRecorder) ServerOption {
	return func(s *Server) {
		s.metrics = h
		s.recorder = rec
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	return NewWithConfig(ConfigFromSettings(settings), opts...)
}

// NewWithConfig creates a server from an explicit Config.
func NewWithConfig(config *Config, opts ...ServerOption) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryConfiguration).
			Context("operation", "validate_server_config").
			Build()
	}

	s := &Server{
		config:    config,
		startTime: time.Now(),
		// No janitor: expired entries are simply never returned.
		statCache: cache.New(config.StatsCacheTTL, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("listen", config.Listen),
		logger.Bool("metrics", s.metrics != nil && config.MetricsEnabled),
		logger.String("url_prefix", config.URLPrefix))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, s.recorder, func(c echo.Context) bool {
		return c.Path() == s.config.MetricsPath
	}))

	policy := mw.DefaultPolicy()
	policy.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(policy))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip(s.config.MetricsPath, s.config.URLPrefix))
	s.echo.Use(mw.NewSecureHeaders(policy))
	s.echo.Use(mw.NewArtworkCacheControl(s.config.URLPrefix, policy))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	v1 := s.echo.Group("/api/v1")
	if s.artwork != nil && s.albums != nil {
		v1.GET("/albums/:id/artwork/:variant", s.getArtwork)
		v1.POST("/albums/:id/artwork", s.cacheArtwork)
		v1.DELETE("/albums/:id/artwork", s.clearArtwork)
		v1.GET("/artwork/stats", s.getStats)
	}
	if s.auditor != nil {
		v1.POST("/artwork/audit", s.runAudit)
		v1.GET("/artwork/quickcheck", s.runQuickCheck)
	}
	if s.backfill != nil {
		v1.POST("/artwork/backfill", s.runBackfill)
	}
	if s.cleaner != nil {
		v1.POST("/artwork/cleanup", s.runCleanup)
	}
	if s.jobs != nil {
		v1.GET("/maintenance/jobs", s.listJobs)
	}

	if s.metrics != nil && s.config.MetricsEnabled {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics))
	}
	if s.config.URLPrefix != "" {
		s.echo.Static(s.config.URLPrefix, s.config.CacheDir)
	}
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start listens on the configured address and serves in the background.
// It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "listen").
			Context("address", s.config.Listen).
			Build()
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.echo.Listener = ln

	s.wg.Go(func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error", logger.Error(err))
		}
	})
	s.log.Info("HTTP server started", logger.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.wg.Wait()
	s.statCache.Flush()

	s.log.Info("HTTP server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
