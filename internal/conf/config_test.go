package conf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WritesDefaultConfigWhenMissing(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	settings, err := Load(configPath)
	require.NoError(t, err)

	assert.FileExists(t, configPath, "embedded default config should be written")
	assert.Equal(t, DatabaseSQLite, settings.Database.Type)
	assert.Equal(t, "static/artwork_cache", settings.Artwork.CacheDir)
	assert.Equal(t, "/static/artwork_cache", settings.Artwork.URLPrefix)
	assert.Equal(t, 200, settings.Artwork.MemoryCacheSize)
	assert.Equal(t, 30*time.Second, settings.Fetcher.Timeout)
	assert.Equal(t, int64(10*1024*1024), settings.Fetcher.MaxSizeBytes)
	assert.Equal(t, 2*time.Second, settings.Batch.RetryDelay)
	assert.Equal(t, 168*time.Hour, settings.Scheduler.IntegrityInterval)
	assert.InDelta(t, 10.0, settings.RateLimit.DefaultRate, 0.0001)

	require.Len(t, settings.RateLimit.Hosts, 3)
	assert.Equal(t, "coverartarchive.org", settings.RateLimit.Hosts[0].Host)
	assert.InDelta(t, 1.0, settings.RateLimit.Hosts[0].Rate, 0.0001)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
artwork:
  cache_dir: /var/cache/tracklist
  url_prefix: media/covers/
batch:
  concurrency: 5
cleanup:
  retention_days: 10
  minimum_retention_days: 30
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	settings, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/var/cache/tracklist", settings.Artwork.CacheDir)
	assert.Equal(t, "/media/covers", settings.Artwork.URLPrefix, "url prefix is normalized")
	assert.Equal(t, 5, settings.Batch.Concurrency)
	assert.Equal(t, 10, settings.Batch.BatchSize, "unset keys keep defaults")
	assert.Equal(t, 30, settings.Cleanup.RetentionDays, "retention is raised to the minimum")
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TRACKLIST_CACHE_DIR", "/srv/artwork")
	t.Setenv("CACHE_CLEANUP_DRY_RUN", "true")
	t.Setenv("CACHE_MAX_SIZE_MB", "1234")
	t.Setenv("TRACKLIST_BATCH_MAX_RETRIES", "7")

	settings, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/srv/artwork", settings.Artwork.CacheDir)
	assert.True(t, settings.Cleanup.DryRun)
	assert.Equal(t, 1234, settings.Cleanup.MaxCacheSizeMB)
	assert.Equal(t, 7, settings.Batch.MaxRetries, "generic prefixed keys are honoured")
}

func TestLoad_InvalidSettings(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("database:\n  type: postgres\n"), 0o600))

	_, err := Load(configPath)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Error(), "database.type")
}

func TestSetDefaultConfig_MatchesEmbeddedConfig(t *testing.T) {
	t.Parallel()

	fromDefaults := viper.New()
	setDefaultConfig(fromDefaults)
	var a Settings
	require.NoError(t, fromDefaults.Unmarshal(&a))

	fromFile := viper.New()
	fromFile.SetConfigType("yaml")
	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)
	require.NoError(t, fromFile.ReadConfig(bytes.NewReader(data)))
	var b Settings
	require.NoError(t, fromFile.Unmarshal(&b))

	assert.Equal(t, a.Artwork, b.Artwork)
	assert.Equal(t, a.Fetcher.Timeout, b.Fetcher.Timeout)
	assert.Equal(t, a.Batch, b.Batch)
	assert.Equal(t, a.Cleanup, b.Cleanup)
	assert.Equal(t, a.Scheduler, b.Scheduler)
	assert.Equal(t, a.RateLimit, b.RateLimit)
}

func TestSaveYAMLConfig_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	settings, err := Load(configPath)
	require.NoError(t, err)
	settings.Batch.Concurrency = 9
	settings.Cleanup.DryRun = true

	require.NoError(t, SaveYAMLConfig(configPath, settings))

	reloaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9, reloaded.Batch.Concurrency)
	assert.True(t, reloaded.Cleanup.DryRun)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestCleanupSettings_Effective(t *testing.T) {
	t.Parallel()

	c := CleanupSettings{RetentionDays: 5, MinimumRetentionDays: 30, MaxCacheSizeMB: 5000}
	assert.Equal(t, 30, c.EffectiveRetentionDays())
	assert.Equal(t, 4000, c.EffectiveTargetSizeMB())

	c.TargetSizeMB = 100
	assert.Equal(t, 100, c.EffectiveTargetSizeMB())
}

func TestParseRetentionPeriod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"30", 30, false},
		{"30d", 30, false},
		{"2w", 14, false},
		{"3m", 90, false},
		{"1y", 365, false},
		{"", 0, true},
		{"5x", 0, true},
		{"abcd", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseRetentionPeriod(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_RetentionPeriodEnv(t *testing.T) {
	t.Setenv("CACHE_RETENTION", "12w")

	settings, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 84, settings.Cleanup.RetentionDays)
}

func TestLoad_InvalidRetentionPeriodIgnored(t *testing.T) {
	t.Setenv("CACHE_RETENTION", "forever")

	settings, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 365, settings.Cleanup.RetentionDays)
}

func TestSearchPaths(t *testing.T) {
	t.Run("explicit directory", func(t *testing.T) {
		t.Setenv("TRACKLIST_CONFIG_DIR", "/opt/tracklist")
		paths, err := SearchPaths()
		require.NoError(t, err)
		assert.Equal(t, []string{"/opt/tracklist"}, paths)
	})

	t.Run("xdg config home", func(t *testing.T) {
		xdg := t.TempDir()
		t.Setenv("TRACKLIST_CONFIG_DIR", "")
		t.Setenv("XDG_CONFIG_HOME", xdg)
		t.Chdir(t.TempDir())

		paths, err := SearchPaths()
		require.NoError(t, err)
		assert.Equal(t, []string{".", filepath.Join(xdg, "tracklist"), "/etc/tracklist"}, paths)

		dir := filepath.Join(xdg, "tracklist")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), nil, 0o600))
		paths, err = SearchPaths()
		require.NoError(t, err)
		assert.Equal(t, []string{dir}, paths)
	})
}
