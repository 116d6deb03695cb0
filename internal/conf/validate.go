// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct and normalizes
// values that have a single sensible correction.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateDatabaseSettings(&s.Database) },
		func(s *Settings) error { return validateArtworkSettings(&s.Artwork) },
		func(s *Settings) error { return validateFetcherSettings(&s.Fetcher) },
		func(s *Settings) error { return validateRateLimitSettings(&s.RateLimit) },
		func(s *Settings) error { return validateBatchSettings(&s.Batch) },
		func(s *Settings) error { return validateCleanupSettings(&s.Cleanup) },
		func(s *Settings) error { return validateSchedulerSettings(&s.Scheduler) },
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
		func(s *Settings) error { return validateTelemetrySettings(&s.Telemetry) },
	}

	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(settings *DatabaseSettings) error {
	settings.Type = strings.ToLower(strings.TrimSpace(settings.Type))
	switch settings.Type {
	case DatabaseSQLite:
		if settings.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for sqlite")
		}
	case DatabaseMySQL:
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			return fmt.Errorf("database.mysql.host and database.mysql.database are required for mysql")
		}
	default:
		return fmt.Errorf("database.type must be %q or %q, got %q", DatabaseSQLite, DatabaseMySQL, settings.Type)
	}
	return nil
}

func validateArtworkSettings(settings *ArtworkSettings) error {
	if settings.CacheDir == "" {
		return fmt.Errorf("artwork.cache_dir is required")
	}
	if settings.MemoryCacheSize <= 0 {
		return fmt.Errorf("artwork.memory_cache_size must be positive, got %d", settings.MemoryCacheSize)
	}
	settings.URLPrefix = "/" + strings.Trim(settings.URLPrefix, "/")
	return nil
}

func validateFetcherSettings(settings *FetcherSettings) error {
	var errs []string
	if settings.Timeout <= 0 {
		errs = append(errs, "fetcher.timeout must be positive")
	}
	if settings.MaxAttempts < 1 {
		errs = append(errs, "fetcher.max_attempts must be at least 1")
	}
	if settings.MaxSizeBytes <= 0 {
		errs = append(errs, "fetcher.max_size_bytes must be positive")
	}
	if settings.MinDimension < 1 || settings.MaxDimension < settings.MinDimension {
		errs = append(errs, fmt.Sprintf("fetcher dimensions must satisfy 1 <= min <= max, got %d..%d",
			settings.MinDimension, settings.MaxDimension))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRateLimitSettings(settings *RateLimitSettings) error {
	if settings.DefaultRate <= 0 {
		return fmt.Errorf("ratelimit.default_rate must be positive, got %g", settings.DefaultRate)
	}
	for _, h := range settings.Hosts {
		if strings.TrimSpace(h.Host) == "" {
			return fmt.Errorf("ratelimit.hosts entries need a host")
		}
		if h.Rate <= 0 {
			return fmt.Errorf("ratelimit rate for %s must be positive, got %g", h.Host, h.Rate)
		}
	}
	return nil
}

func validateBatchSettings(settings *BatchSettings) error {
	if settings.BatchSize < 1 || settings.Concurrency < 1 {
		return fmt.Errorf("batch.batch_size and batch.concurrency must be at least 1")
	}
	if settings.MaxRetries < 0 {
		return fmt.Errorf("batch.max_retries must not be negative")
	}
	return nil
}

func validateCleanupSettings(settings *CleanupSettings) error {
	if settings.RetentionDays < settings.MinimumRetentionDays {
		GetLogger().Warn("cleanup retention below minimum, using minimum")
		settings.RetentionDays = settings.MinimumRetentionDays
	}
	if settings.BatchSize < 1 {
		return fmt.Errorf("cleanup.batch_size must be at least 1")
	}
	if settings.MaxCacheSizeMB < 0 || settings.TargetSizeMB < 0 {
		return fmt.Errorf("cleanup size limits must not be negative")
	}
	if settings.TargetSizeMB > 0 && settings.MaxCacheSizeMB > 0 && settings.TargetSizeMB > settings.MaxCacheSizeMB {
		return fmt.Errorf("cleanup.target_size_mb (%d) exceeds cleanup.max_cache_size_mb (%d)",
			settings.TargetSizeMB, settings.MaxCacheSizeMB)
	}
	return nil
}

func validateSchedulerSettings(settings *SchedulerSettings) error {
	if !settings.Enabled {
		return nil
	}
	intervals := map[string]time.Duration{
		"cleanup_interval":         settings.CleanupInterval,
		"integrity_interval":       settings.IntegrityInterval,
		"quick_check_interval":     settings.QuickCheckInterval,
		"flag_validation_interval": settings.FlagValidationInterval,
		"memory_clear_interval":    settings.MemoryClearInterval,
	}
	for name, d := range intervals {
		if d < time.Minute {
			return fmt.Errorf("scheduler.%s must be at least 1m, got %s", name, d)
		}
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("webserver.listen must be host:port: %w", err)
	}
	return nil
}

func validateTelemetrySettings(settings *TelemetrySettings) error {
	if settings.Enabled && settings.SentryDSN == "" {
		return fmt.Errorf("telemetry.sentry_dsn is required when telemetry is enabled")
	}
	if settings.SampleRate < 0 || settings.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %g", settings.SampleRate)
	}
	return nil
}
