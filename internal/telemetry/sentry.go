// Package telemetry provides opt-in, privacy-filtered error reporting to
// Sentry. Structured errors built by the errors package are forwarded once
// Init succeeds.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/privacy"
)

const flushTimeout = 2 * time.Second

var (
	mu          sync.Mutex
	initialized bool
)

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// Option adjusts the Sentry client options before Init.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the Sentry transport.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) {
		o.Transport = t
	}
}

// Init initializes Sentry when telemetry is enabled and a DSN is set, and
// installs the errors package reporter. It is a no-op otherwise.
func Init(settings *conf.TelemetrySettings, release string, opts ...Option) error {
	log := GetLogger()
	if !settings.Enabled || settings.SentryDSN == "" {
		log.Info("error telemetry disabled")
		return nil
	}

	sampleRate := settings.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1
	}
	env := settings.Environment
	if env == "" {
		env = "production"
	}

	options := sentry.ClientOptions{
		Dsn:              settings.SentryDSN,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		Environment:      env,
		ServerName:       "",
		Release:          fmt.Sprintf("tracklist@%s", release),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	mu.Lock()
	initialized = true
	mu.Unlock()

	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	log.Info("error telemetry enabled",
		logger.String("environment", env),
		logger.Float64("sample_rate", sampleRate))
	return nil
}

// Enabled reports whether Init configured Sentry.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return initialized
}

// Close detaches the reporter and flushes buffered events.
func Close() {
	mu.Lock()
	wasInitialized := initialized
	initialized = false
	mu.Unlock()
	if !wasInitialized {
		return
	}

	errors.SetTelemetryReporter(nil)
	errors.SetPrivacyScrubber(nil)
	if !sentry.Flush(flushTimeout) {
		GetLogger().Warn("telemetry flush timed out", logger.Duration("timeout", flushTimeout))
	}
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	for _, key := range []string{"device", "os", "runtime"} {
		delete(event.Contexts, key)
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	delete(event.Tags, "server_name")
	delete(event.Tags, "hostname")
	return event
}
