package datastore

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability/metrics"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

func TestNew_SQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "tracklist.db")
	mgr, err := New(&conf.DatabaseSettings{Type: conf.DatabaseSQLite, SQLite: conf.SQLiteSettings{Path: path}}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, mgr.Initialize())
	require.NoError(t, mgr.Initialize(), "migrations are idempotent")

	assert.False(t, mgr.IsMySQL())
	assert.Equal(t, path, mgr.Path())
	assert.FileExists(t, path)
	assert.True(t, mgr.DB().Migrator().HasTable(&entities.ArtworkCache{}))
	assert.True(t, mgr.DB().Migrator().HasIndex(&entities.ArtworkCache{}, "idx_artwork_album_variant"))
}

func TestNew_UnknownType(t *testing.T) {
	t.Parallel()

	_, err := New(&conf.DatabaseSettings{Type: "postgres"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestMySQLConfigDSN(t *testing.T) {
	t.Parallel()

	cfg := &MySQLConfig{Host: "db", Port: "3306", Username: "u", Password: "p", Database: "tracklist"}
	assert.Equal(t, "u:p@tcp(db:3306)/tracklist?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true", cfg.DSN())
}

func TestCollectMetrics(t *testing.T) {
	t.Parallel()

	mgr, err := NewSQLiteManager(filepath.Join(t.TempDir(), "m.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	require.NoError(t, mgr.Initialize())

	album := entities.Album{Title: "x"}
	require.NoError(t, mgr.DB().Create(&album).Error)
	require.NoError(t, mgr.DB().Create(&entities.ArtworkCache{
		AlbumID: album.ID, CacheKey: "k_original", SizeVariant: "original", FilePath: "/x", LastFetchedAt: time.Now(),
	}).Error)

	reg := prometheus.NewRegistry()
	dm, err := metrics.NewDatastoreMetrics(reg)
	require.NoError(t, err)

	collectMetrics(t.Context(), mgr, dm, testLogger())

	n, err := testutil.GatherAndCount(reg, "ledger_table_rows")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
