// env.go - Environment variable configuration and validation for Tracklist
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all explicit environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Cache location and ledger
		{"artwork.cache_dir", "TRACKLIST_CACHE_DIR", validateEnvNonEmpty},
		{"database.type", "TRACKLIST_DB_TYPE", validateEnvDatabaseType},
		{"database.sqlite.path", "TRACKLIST_DB_PATH", validateEnvNonEmpty},
		{"database.mysql.host", "TRACKLIST_MYSQL_HOST", validateEnvNonEmpty},
		{"database.mysql.port", "TRACKLIST_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", "TRACKLIST_MYSQL_USERNAME", nil},
		{"database.mysql.password", "TRACKLIST_MYSQL_PASSWORD", nil},
		{"database.mysql.database", "TRACKLIST_MYSQL_DATABASE", validateEnvNonEmpty},

		// Surfaces
		{"webserver.listen", "TRACKLIST_LISTEN", validateEnvListen},
		{"logging.default_level", "TRACKLIST_LOG_LEVEL", validateEnvLogLevel},
		{"telemetry.sentry_dsn", "TRACKLIST_SENTRY_DSN", nil},

		// Maintenance
		{"cleanup.retention_days", "CACHE_RETENTION_DAYS", validateEnvPositiveInt},
		{"cleanup.max_cache_size_mb", "CACHE_MAX_SIZE_MB", validateEnvPositiveInt},
		{"cleanup.dry_run", "CACHE_CLEANUP_DRY_RUN", validateEnvBool},
		{"cleanup.enabled", "CACHE_CLEANUP_ENABLED", validateEnvBool},
		{"integrity.enabled", "INTEGRITY_CHECK_ENABLED", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvNonEmpty(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("value must not be blank")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("listen address must be host:port: %w", err)
	}
	return nil
}

func validateEnvDatabaseType(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case DatabaseSQLite, DatabaseMySQL:
		return nil
	}
	return fmt.Errorf("must be one of: %s, %s", DatabaseSQLite, DatabaseMySQL)
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("must be one of: trace, debug, info, warn, error")
}

// configureEnvironmentVariables sets up environment variable support for Viper.
// Any key can be overridden as TRACKLIST_<SECTION>_<KEY>; the explicit
// bindings above add validation and the legacy CACHE_* names.
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return bindEnvVars(v)
}
