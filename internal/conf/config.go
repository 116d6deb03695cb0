// config.go: Settings model and loading for Tracklist
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings holds the complete runtime configuration.
type Settings struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`

	Logging   logger.LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Database  DatabaseSettings     `mapstructure:"database" yaml:"database"`
	Artwork   ArtworkSettings      `mapstructure:"artwork" yaml:"artwork"`
	Fetcher   FetcherSettings      `mapstructure:"fetcher" yaml:"fetcher"`
	RateLimit RateLimitSettings    `mapstructure:"ratelimit" yaml:"ratelimit"`
	CoverArt  CoverArtSettings     `mapstructure:"coverart" yaml:"coverart"`
	Transcode TranscodeSettings    `mapstructure:"transcode" yaml:"transcode"`
	Batch     BatchSettings        `mapstructure:"batch" yaml:"batch"`
	Integrity IntegritySettings    `mapstructure:"integrity" yaml:"integrity"`
	Cleanup   CleanupSettings      `mapstructure:"cleanup" yaml:"cleanup"`
	Scheduler SchedulerSettings    `mapstructure:"scheduler" yaml:"scheduler"`
	WebServer WebServerSettings    `mapstructure:"webserver" yaml:"webserver"`
	Metrics   MetricsSettings      `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetrySettings    `mapstructure:"telemetry" yaml:"telemetry"`
}

// DatabaseSettings selects and configures the ledger backend.
type DatabaseSettings struct {
	Type               string         `mapstructure:"type" yaml:"type"` // sqlite or mysql
	SQLite             SQLiteSettings `mapstructure:"sqlite" yaml:"sqlite"`
	MySQL              MySQLSettings  `mapstructure:"mysql" yaml:"mysql"`
	SlowQueryThreshold time.Duration  `mapstructure:"slow_query_threshold" yaml:"slow_query_threshold"`
}

// SQLiteSettings contains settings for the SQLite ledger.
type SQLiteSettings struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// MySQLSettings contains settings for the MySQL ledger.
type MySQLSettings struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// ArtworkSettings configures the cache root and the read path.
type ArtworkSettings struct {
	CacheDir        string `mapstructure:"cache_dir" yaml:"cache_dir"`               // root of the five variant directories
	URLPrefix       string `mapstructure:"url_prefix" yaml:"url_prefix"`             // web path the cache root is served under
	PlaceholderPath string `mapstructure:"placeholder_path" yaml:"placeholder_path"` // returned when nothing better is known
	MemoryCacheSize int    `mapstructure:"memory_cache_size" yaml:"memory_cache_size"`
	Deduplicate     bool   `mapstructure:"deduplicate" yaml:"deduplicate"` // collapse concurrent cold fetches per cache key
}

// FetcherSettings configures artwork downloads.
type FetcherSettings struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"` // per attempt
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"` // doubled per retry
	MaxSizeBytes   int64         `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
	MinDimension   int           `mapstructure:"min_dimension" yaml:"min_dimension"`
	MaxDimension   int           `mapstructure:"max_dimension" yaml:"max_dimension"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// HostRate is a per-host request budget.
type HostRate struct {
	Host string  `mapstructure:"host" yaml:"host"`
	Rate float64 `mapstructure:"rate" yaml:"rate"` // requests per second
}

// RateLimitSettings configures outbound throttling.
type RateLimitSettings struct {
	DefaultRate float64    `mapstructure:"default_rate" yaml:"default_rate"`
	Hosts       []HostRate `mapstructure:"hosts" yaml:"hosts"`
}

// CoverArtSettings configures the Cover Art Archive lookup.
type CoverArtSettings struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl" yaml:"negative_ttl"`
}

// TranscodeSettings configures variant generation.
type TranscodeSettings struct {
	Workers            int `mapstructure:"workers" yaml:"workers"` // 0 = number of CPUs
	MaxSourceDimension int `mapstructure:"max_source_dimension" yaml:"max_source_dimension"`
}

// BatchSettings configures bulk backfill.
type BatchSettings struct {
	BatchSize   int           `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"` // multiplied by the attempt number
}

// IntegritySettings configures the auditor.
type IntegritySettings struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	SampleSize      int    `mapstructure:"sample_size" yaml:"sample_size"`
	QuickSampleSize int    `mapstructure:"quick_sample_size" yaml:"quick_sample_size"`
	ReportDir       string `mapstructure:"report_dir" yaml:"report_dir"`
}

// CleanupSettings configures retention cleanup.
type CleanupSettings struct {
	Enabled                bool `mapstructure:"enabled" yaml:"enabled"`
	DryRun                 bool `mapstructure:"dry_run" yaml:"dry_run"`
	RetentionDays          int  `mapstructure:"retention_days" yaml:"retention_days"`
	MinimumRetentionDays   int  `mapstructure:"minimum_retention_days" yaml:"minimum_retention_days"`
	RecentlyAddedGraceDays int  `mapstructure:"recently_added_grace_days" yaml:"recently_added_grace_days"`
	BatchSize              int  `mapstructure:"batch_size" yaml:"batch_size"`
	MaxDeletionsPerRun     int  `mapstructure:"max_deletions_per_run" yaml:"max_deletions_per_run"`
	MaxCacheSizeMB         int  `mapstructure:"max_cache_size_mb" yaml:"max_cache_size_mb"`
	TargetSizeMB           int  `mapstructure:"target_size_mb" yaml:"target_size_mb"` // 0 = 80% of max
	DeleteOrphanedFiles    bool `mapstructure:"delete_orphaned_files" yaml:"delete_orphaned_files"`
	DeleteInvalidRecords   bool `mapstructure:"delete_invalid_records" yaml:"delete_invalid_records"`
}

// EffectiveRetentionDays returns the retention window never shorter than the minimum.
func (c *CleanupSettings) EffectiveRetentionDays() int {
	return max(c.RetentionDays, c.MinimumRetentionDays)
}

// EffectiveTargetSizeMB returns the size cleanup shrinks the cache to.
func (c *CleanupSettings) EffectiveTargetSizeMB() int {
	if c.TargetSizeMB > 0 {
		return c.TargetSizeMB
	}
	return c.MaxCacheSizeMB * 80 / 100
}

// SchedulerSettings configures periodic maintenance.
type SchedulerSettings struct {
	Enabled                bool          `mapstructure:"enabled" yaml:"enabled"`
	CleanupInterval        time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
	IntegrityInterval      time.Duration `mapstructure:"integrity_interval" yaml:"integrity_interval"`
	QuickCheckInterval     time.Duration `mapstructure:"quick_check_interval" yaml:"quick_check_interval"`
	FlagValidationInterval time.Duration `mapstructure:"flag_validation_interval" yaml:"flag_validation_interval"`
	MemoryClearInterval    time.Duration `mapstructure:"memory_clear_interval" yaml:"memory_clear_interval"`
	RepairOnAudit          bool          `mapstructure:"repair_on_audit" yaml:"repair_on_audit"`
	BackfillOnStart        bool          `mapstructure:"backfill_on_start" yaml:"backfill_on_start"`
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	StatsCacheTTL   time.Duration `mapstructure:"stats_cache_ttl" yaml:"stats_cache_ttl"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TelemetrySettings configures optional Sentry error reporting.
type TelemetrySettings struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	SentryDSN   string  `mapstructure:"sentry_dsn" yaml:"sentry_dsn"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Load reads defaults, the configuration file and environment variables.
// An empty configFile searches the default config paths; when no file is
// found the embedded default config is written to the first path.
func Load(configFile string) (*Settings, error) {
	v := viper.New()

	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets defaults, binds the environment and reads the config file.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	// Environment problems are reported but do not abort startup
	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}
	applyRetentionOverride(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			if err := writeDefaultConfig(configFile); err != nil {
				return err
			}
		}
		return v.ReadInConfig()
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := SearchPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(v, configPaths)
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config to the first search path and reads it.
func createDefaultConfig(v *viper.Viper, configPaths []string) error {
	if len(configPaths) == 0 {
		return errors.Newf("no config path available").
			Category(errors.CategoryConfiguration).
			Build()
	}

	configPath := filepath.Join(configPaths[0], configFileName)
	if err := writeDefaultConfig(configPath); err != nil {
		return err
	}
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// writeDefaultConfig writes the embedded default config.yaml to path.
func writeDefaultConfig(path string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config is not secret by default
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", path))
	return nil
}

// SaveYAMLConfig writes settings to configPath atomically.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	// The temp file shares the target directory, so the rename is atomic.
	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}
