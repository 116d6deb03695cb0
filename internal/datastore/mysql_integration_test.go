//go:build integration

package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/datastore/repository"
)

// TestMySQLLedger runs the ledger against a real MySQL server:
//
//	go test -tags integration ./internal/datastore/...
func TestMySQLLedger(t *testing.T) {
	ctx := t.Context()

	container, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("tracklist"),
		tcmysql.WithUsername("tracklist"),
		tcmysql.WithPassword("tracklist"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	mgr, err := NewMySQLManager(&MySQLConfig{
		Host:     host,
		Port:     port.Port(),
		Username: "tracklist",
		Password: "tracklist",
		Database: "tracklist",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	require.NoError(t, mgr.Initialize())
	assert.True(t, mgr.IsMySQL())

	l := repository.NewLedger(mgr.DB(), true, nil)
	album := &entities.Album{MusicBrainzID: entities.StringPtr("abc-123"), Title: "x"}
	require.NoError(t, l.Albums().Create(ctx, album))

	key := artwork.CacheKey("abc-123", album.ID)
	for _, v := range artwork.Variants() {
		require.NoError(t, l.Artwork().Upsert(ctx, &entities.ArtworkCache{
			AlbumID:       album.ID,
			CacheKey:      artwork.RowKey(key, v),
			SizeVariant:   v,
			FilePath:      "/cache/" + v.String() + "/" + key + ".jpg",
			FileSizeBytes: 10,
			LastFetchedAt: time.Now(),
		}))
	}
	require.NoError(t, l.Artwork().TouchAccess(ctx, album.ID, artwork.Small, time.Now()))
	require.NoError(t, l.Artwork().Upsert(ctx, &entities.ArtworkCache{
		AlbumID:       album.ID,
		CacheKey:      artwork.RowKey(key, artwork.Small),
		SizeVariant:   artwork.Small,
		FilePath:      "/cache/small/" + key + ".jpg",
		FileSizeBytes: 20,
		LastFetchedAt: time.Now(),
	}))

	row, err := l.Artwork().Get(ctx, album.ID, artwork.Small)
	require.NoError(t, err)
	assert.Equal(t, int64(20), row.FileSizeBytes)
	assert.Equal(t, int64(1), row.AccessCount)

	sample, err := l.Artwork().Sample(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, sample, 3)

	require.NoError(t, l.Albums().SetArtworkCached(ctx, album.ID, false, time.Time{}))
	require.NoError(t, l.Albums().Delete(ctx, album.ID))
	n, err := l.Artwork().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "album delete cascades")
}
