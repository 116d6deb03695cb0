// Package api provides the Tracklist HTTP server: artwork lookup and
// management endpoints, maintenance triggers, the metrics endpoint and the
// static file route for cached artwork.
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultStatsCacheTTL   = 30 * time.Second
	DefaultBodyLimit       = "1M"
	DefaultMetricsPath     = "/metrics"
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit      string
	AllowedOrigins []string

	// StatsCacheTTL bounds how stale the statistics endpoint may be.
	StatsCacheTTL time.Duration

	// URLPrefix is the web path the cache root is served under. Empty
	// disables the static route.
	URLPrefix string
	CacheDir  string

	MetricsEnabled bool
	MetricsPath    string

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		AllowedOrigins:  []string{"*"},
		StatsCacheTTL:   DefaultStatsCacheTTL,
		MetricsPath:     DefaultMetricsPath,
	}
}

// ConfigFromSettings creates a Config from the application settings. Zero
// values keep their defaults.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	ws := &settings.WebServer

	if ws.Listen != "" {
		cfg.Listen = ws.Listen
	}
	if ws.ReadTimeout > 0 {
		cfg.ReadTimeout = ws.ReadTimeout
	}
	if ws.WriteTimeout > 0 {
		cfg.WriteTimeout = ws.WriteTimeout
	}
	if ws.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = ws.ShutdownTimeout
	}
	if ws.StatsCacheTTL > 0 {
		cfg.StatsCacheTTL = ws.StatsCacheTTL
	}

	cfg.URLPrefix = settings.Artwork.URLPrefix
	cfg.CacheDir = settings.Artwork.CacheDir

	cfg.MetricsEnabled = settings.Metrics.Enabled
	if settings.Metrics.Path != "" {
		cfg.MetricsPath = settings.Metrics.Path
	}

	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.URLPrefix != "" {
		if !strings.HasPrefix(c.URLPrefix, "/") {
			return fmt.Errorf("url prefix must start with /: %q", c.URLPrefix)
		}
		if c.CacheDir == "" {
			return fmt.Errorf("cache directory is required when url prefix is set")
		}
		if strings.HasPrefix(c.URLPrefix, "/api/") {
			return fmt.Errorf("url prefix %q collides with the API routes", c.URLPrefix)
		}
	}
	if c.MetricsEnabled && !strings.HasPrefix(c.MetricsPath, "/") {
		return fmt.Errorf("metrics path must start with /: %q", c.MetricsPath)
	}
	return nil
}
