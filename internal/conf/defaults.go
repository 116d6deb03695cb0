// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", true)
	v.SetDefault("logging.file_output.path", "logs/tracklist.log")
	v.SetDefault("logging.file_output.level", "info")
	v.SetDefault("logging.file_output.max_size", 100)
	v.SetDefault("logging.file_output.max_rotated_files", 10)

	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.sqlite.path", "tracklist.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")
	v.SetDefault("database.mysql.username", "tracklist")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "tracklist")
	v.SetDefault("database.slow_query_threshold", 200*time.Millisecond)

	v.SetDefault("artwork.cache_dir", "static/artwork_cache")
	v.SetDefault("artwork.url_prefix", "/static/artwork_cache")
	v.SetDefault("artwork.placeholder_path", "/static/img/album-placeholder.svg")
	v.SetDefault("artwork.memory_cache_size", 200)
	v.SetDefault("artwork.deduplicate", true)

	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.max_attempts", 3)
	v.SetDefault("fetcher.initial_backoff", time.Second)
	v.SetDefault("fetcher.max_size_bytes", 10*1024*1024)
	v.SetDefault("fetcher.min_dimension", 10)
	v.SetDefault("fetcher.max_dimension", 5000)
	v.SetDefault("fetcher.user_agent", "Tracklist/1.0 (+https://github.com/tracklist/tracklist)")

	v.SetDefault("ratelimit.default_rate", 10.0)
	v.SetDefault("ratelimit.hosts", []HostRate{
		{Host: "coverartarchive.org", Rate: 1.0},
		{Host: "archive.org", Rate: 1.0},
		{Host: "musicbrainz.org", Rate: 1.0},
	})

	v.SetDefault("coverart.enabled", true)
	v.SetDefault("coverart.base_url", "https://coverartarchive.org")
	v.SetDefault("coverart.timeout", 10*time.Second)
	v.SetDefault("coverart.negative_ttl", 24*time.Hour)

	v.SetDefault("transcode.workers", 0)
	v.SetDefault("transcode.max_source_dimension", 4096)

	v.SetDefault("batch.batch_size", 10)
	v.SetDefault("batch.concurrency", 3)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.retry_delay", 2*time.Second)

	v.SetDefault("integrity.enabled", true)
	v.SetDefault("integrity.sample_size", 100)
	v.SetDefault("integrity.quick_sample_size", 50)
	v.SetDefault("integrity.report_dir", "reports/integrity")

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.dry_run", false)
	v.SetDefault("cleanup.retention_days", 365)
	v.SetDefault("cleanup.minimum_retention_days", 30)
	v.SetDefault("cleanup.recently_added_grace_days", 7)
	v.SetDefault("cleanup.batch_size", 100)
	v.SetDefault("cleanup.max_deletions_per_run", 1000)
	v.SetDefault("cleanup.max_cache_size_mb", 5000)
	v.SetDefault("cleanup.target_size_mb", 0)
	v.SetDefault("cleanup.delete_orphaned_files", true)
	v.SetDefault("cleanup.delete_invalid_records", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cleanup_interval", 24*time.Hour)
	v.SetDefault("scheduler.integrity_interval", 168*time.Hour)
	v.SetDefault("scheduler.quick_check_interval", 6*time.Hour)
	v.SetDefault("scheduler.flag_validation_interval", 24*time.Hour)
	v.SetDefault("scheduler.memory_clear_interval", 168*time.Hour)
	v.SetDefault("scheduler.repair_on_audit", true)
	v.SetDefault("scheduler.backfill_on_start", false)

	v.SetDefault("webserver.enabled", true)
	v.SetDefault("webserver.listen", ":8080")
	v.SetDefault("webserver.read_timeout", 15*time.Second)
	v.SetDefault("webserver.write_timeout", 60*time.Second)
	v.SetDefault("webserver.shutdown_timeout", 10*time.Second)
	v.SetDefault("webserver.stats_cache_ttl", 30*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sentry_dsn", "")
	v.SetDefault("telemetry.environment", "production")
	v.SetDefault("telemetry.sample_rate", 1.0)
}
