package repository

import (
	"context"
	"time"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/entities"
)

// AlbumRepository reads albums and maintains their artwork flag.
type AlbumRepository interface {
	Get(ctx context.Context, id int64) (*entities.Album, error)
	Create(ctx context.Context, album *entities.Album) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]entities.Album, error)
	ListCached(ctx context.Context) ([]entities.Album, error)
	ListByIDs(ctx context.Context, ids []int64) ([]entities.Album, error)
	Count(ctx context.Context) (int64, error)
	CountCached(ctx context.Context) (int64, error)

	// SetArtworkCached sets or clears the flag; the timestamp is cleared with it.
	SetArtworkCached(ctx context.Context, id int64, cached bool, at time.Time) error
	// SetExternalID stores a new MusicBrainz ID and forgets the known cover URL.
	SetExternalID(ctx context.Context, id int64, externalID string) error
	// SetCoverArtURL remembers a looked-up cover URL.
	SetCoverArtURL(ctx context.Context, id int64, url string) error
	// ClearFlagsWithoutArtwork unflags cached albums that have no ledger rows.
	ClearFlagsWithoutArtwork(ctx context.Context) (int64, error)
}

// ArtworkRepository manages ledger rows.
type ArtworkRepository interface {
	Get(ctx context.Context, albumID int64, v artwork.Variant) (*entities.ArtworkCache, error)
	ListByAlbum(ctx context.Context, albumID int64) ([]entities.ArtworkCache, error)
	ListAll(ctx context.Context) ([]entities.ArtworkCache, error)
	Sample(ctx context.Context, n int) ([]entities.ArtworkCache, error)
	Count(ctx context.Context) (int64, error)

	// Upsert inserts the row or refreshes its provenance columns. Access
	// tracking columns of an existing row are left untouched.
	Upsert(ctx context.Context, row *entities.ArtworkCache) error
	TouchAccess(ctx context.Context, albumID int64, v artwork.Variant, at time.Time) error
	UpdateFileSize(ctx context.Context, id, size int64) error

	Delete(ctx context.Context, ids ...int64) (int64, error)
	DeleteByAlbum(ctx context.Context, albumID int64) (int64, error)

	// VariantCounts returns the number of rows per album.
	VariantCounts(ctx context.Context) (map[int64]int, error)
	// ListStale returns rows last used before cutoff and fetched before
	// graceCutoff, oldest first.
	ListStale(ctx context.Context, cutoff, graceCutoff time.Time, limit int) ([]entities.ArtworkCache, error)
	// ListLeastRecentlyUsed pages through rows fetched before graceCutoff,
	// least recently used first.
	ListLeastRecentlyUsed(ctx context.Context, graceCutoff time.Time, limit, offset int) ([]entities.ArtworkCache, error)
	MostAccessed(ctx context.Context, limit int) ([]entities.ArtworkCache, error)
	Stats(ctx context.Context) (*LedgerStats, error)
}

// Ledger groups the repositories over one connection or transaction.
type Ledger interface {
	Albums() AlbumRepository
	Artwork() ArtworkRepository
	// Transaction runs fn with a ledger bound to a new transaction. fn's
	// error rolls the transaction back.
	Transaction(ctx context.Context, fn func(tx Ledger) error) error
}

// VariantRows aggregates ledger rows of one variant.
type VariantRows struct {
	Rows  int64 `json:"rows"`
	Bytes int64 `json:"bytes"`
}

// LedgerStats aggregates the whole ledger.
type LedgerStats struct {
	TotalRows     int64                           `json:"total_rows"`
	TotalBytes    int64                           `json:"total_bytes"`
	Placeholders  int64                           `json:"placeholders"`
	TotalAccesses int64                           `json:"total_accesses"`
	ByVariant     map[artwork.Variant]VariantRows `json:"by_variant"`
	TotalAlbums   int64                           `json:"total_albums"`
	CachedAlbums  int64                           `json:"cached_albums"`
}
