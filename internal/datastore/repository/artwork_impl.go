package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/observability/metrics"
)

const tableArtwork = metrics.TableArtworkCache

// lastUsedExpr is the later of last access and last fetch.
const lastUsedExpr = "CASE WHEN last_accessed_at IS NOT NULL AND last_accessed_at > last_fetched_at " +
	"THEN last_accessed_at ELSE last_fetched_at END"

// provenanceColumns are refreshed when an existing row is re-cached.
var provenanceColumns = []string{
	"cache_key", "file_path", "width", "height", "file_size_bytes",
	"content_type", "checksum", "etag", "original_url",
	"last_fetched_at", "is_placeholder", "updated_at",
}

// artworkRepository implements ArtworkRepository.
type artworkRepository struct {
	*ledger
}

func (r *artworkRepository) Get(ctx context.Context, albumID int64, v artwork.Variant) (*entities.ArtworkCache, error) {
	start := time.Now()
	var row entities.ArtworkCache
	err := r.db.WithContext(ctx).
		Where("album_id = ? AND size_variant = ?", albumID, v).
		First(&row).Error
	r.observe(metrics.OpDbQuery, tableArtwork, start, err)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArtworkNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_artwork")
	}
	return &row, nil
}

func (r *artworkRepository) ListByAlbum(ctx context.Context, albumID int64) ([]entities.ArtworkCache, error) {
	return r.find("list_album_artwork", r.db.WithContext(ctx).Where("album_id = ?", albumID).Order("id"))
}

func (r *artworkRepository) ListAll(ctx context.Context) ([]entities.ArtworkCache, error) {
	return r.find("list_artwork", r.db.WithContext(ctx).Order("id"))
}

func (r *artworkRepository) Sample(ctx context.Context, n int) ([]entities.ArtworkCache, error) {
	if n <= 0 {
		return nil, nil
	}
	return r.find("sample_artwork", r.db.WithContext(ctx).Order(r.randomFunc()).Limit(n))
}

func (r *artworkRepository) MostAccessed(ctx context.Context, limit int) ([]entities.ArtworkCache, error) {
	return r.find("most_accessed", r.db.WithContext(ctx).
		Where("access_count > 0").
		Order("access_count DESC").Order("id").
		Limit(limit))
}

func (r *artworkRepository) ListStale(ctx context.Context, cutoff, graceCutoff time.Time, limit int) ([]entities.ArtworkCache, error) {
	return r.find("list_stale", r.db.WithContext(ctx).
		Where(lastUsedExpr+" < ?", cutoff.UTC()).
		Where("last_fetched_at < ?", graceCutoff.UTC()).
		Order(lastUsedExpr).Order("id").
		Limit(limit))
}

func (r *artworkRepository) ListLeastRecentlyUsed(ctx context.Context, graceCutoff time.Time, limit, offset int) ([]entities.ArtworkCache, error) {
	return r.find("list_lru", r.db.WithContext(ctx).
		Where("last_fetched_at < ?", graceCutoff.UTC()).
		Order(lastUsedExpr).Order("id").
		Limit(limit).Offset(offset))
}

func (r *artworkRepository) find(op string, q *gorm.DB) ([]entities.ArtworkCache, error) {
	start := time.Now()
	var rows []entities.ArtworkCache
	err := q.Find(&rows).Error
	r.observe(metrics.OpDbQuery, tableArtwork, start, err)
	if err != nil {
		return nil, dbError(err, op)
	}
	return rows, nil
}

func (r *artworkRepository) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.ArtworkCache{}).Count(&n).Error
	r.observe(metrics.OpDbQuery, tableArtwork, start, err)
	if err != nil {
		return 0, dbError(err, "count_artwork")
	}
	return n, nil
}

func (r *artworkRepository) Upsert(ctx context.Context, row *entities.ArtworkCache) error {
	if row == nil || row.AlbumID == 0 || !row.SizeVariant.Valid() {
		return ErrInvalidInput
	}
	if row.CacheKey == "" {
		return ErrInvalidInput
	}
	if row.LastFetchedAt.IsZero() {
		row.LastFetchedAt = time.Now()
	}
	row.LastFetchedAt = row.LastFetchedAt.UTC()

	start := time.Now()
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "album_id"}, {Name: "size_variant"}},
			DoUpdates: clause.AssignmentColumns(provenanceColumns),
		}).
		Create(row).Error
	r.observe(metrics.OpDbUpsert, tableArtwork, start, err)
	if err != nil {
		return dbError(err, "upsert_artwork")
	}
	return nil
}

func (r *artworkRepository) TouchAccess(ctx context.Context, albumID int64, v artwork.Variant, at time.Time) error {
	start := time.Now()
	res := r.db.WithContext(ctx).Model(&entities.ArtworkCache{}).
		Where("album_id = ? AND size_variant = ?", albumID, v).
		UpdateColumns(map[string]any{
			"access_count":     gorm.Expr("access_count + ?", 1),
			"last_accessed_at": at.UTC(),
		})
	r.observe(metrics.OpDbUpdate, tableArtwork, start, res.Error)
	if res.Error != nil {
		return dbError(res.Error, "touch_access")
	}
	if res.RowsAffected == 0 {
		return ErrArtworkNotFound
	}
	return nil
}

func (r *artworkRepository) UpdateFileSize(ctx context.Context, id, size int64) error {
	start := time.Now()
	res := r.db.WithContext(ctx).Model(&entities.ArtworkCache{}).
		Where("id = ?", id).
		Update("file_size_bytes", size)
	r.observe(metrics.OpDbUpdate, tableArtwork, start, res.Error)
	if res.Error != nil {
		return dbError(res.Error, "update_file_size")
	}
	if res.RowsAffected == 0 {
		return ErrArtworkNotFound
	}
	return nil
}

func (r *artworkRepository) Delete(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	start := time.Now()
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&entities.ArtworkCache{})
	r.observe(metrics.OpDbDelete, tableArtwork, start, res.Error)
	if res.Error != nil {
		return 0, dbError(res.Error, "delete_artwork")
	}
	return res.RowsAffected, nil
}

func (r *artworkRepository) DeleteByAlbum(ctx context.Context, albumID int64) (int64, error) {
	start := time.Now()
	res := r.db.WithContext(ctx).Where("album_id = ?", albumID).Delete(&entities.ArtworkCache{})
	r.observe(metrics.OpDbDelete, tableArtwork, start, res.Error)
	if res.Error != nil {
		return 0, dbError(res.Error, "delete_album_artwork")
	}
	return res.RowsAffected, nil
}

func (r *artworkRepository) VariantCounts(ctx context.Context) (map[int64]int, error) {
	type albumCount struct {
		AlbumID int64
		N       int
	}
	start := time.Now()
	var counts []albumCount
	err := r.db.WithContext(ctx).Model(&entities.ArtworkCache{}).
		Select("album_id, COUNT(*) AS n").
		Group("album_id").
		Scan(&counts).Error
	r.observe(metrics.OpDbQuery, tableArtwork, start, err)
	if err != nil {
		return nil, dbError(err, "variant_counts")
	}
	out := make(map[int64]int, len(counts))
	for _, c := range counts {
		out[c.AlbumID] = c.N
	}
	return out, nil
}

func (r *artworkRepository) Stats(ctx context.Context) (*LedgerStats, error) {
	type variantAgg struct {
		SizeVariant  artwork.Variant
		RowCount     int64
		Bytes        int64
		Placeholders int64
		Accesses     int64
	}
	start := time.Now()
	var aggs []variantAgg
	err := r.db.WithContext(ctx).Model(&entities.ArtworkCache{}).
		Select("size_variant, COUNT(*) AS row_count, " +
			"COALESCE(SUM(file_size_bytes), 0) AS bytes, " +
			"COALESCE(SUM(CASE WHEN is_placeholder THEN 1 ELSE 0 END), 0) AS placeholders, " +
			"COALESCE(SUM(access_count), 0) AS accesses").
		Group("size_variant").
		Scan(&aggs).Error
	r.observe(metrics.OpDbQuery, tableArtwork, start, err)
	if err != nil {
		return nil, dbError(err, "ledger_stats")
	}

	st := &LedgerStats{ByVariant: make(map[artwork.Variant]VariantRows, artwork.VariantCount)}
	for _, v := range artwork.Variants() {
		st.ByVariant[v] = VariantRows{}
	}
	for _, a := range aggs {
		st.ByVariant[a.SizeVariant] = VariantRows{Rows: a.RowCount, Bytes: a.Bytes}
		st.TotalRows += a.RowCount
		st.TotalBytes += a.Bytes
		st.Placeholders += a.Placeholders
		st.TotalAccesses += a.Accesses
	}

	albums := &albumRepository{ledger: r.ledger}
	if st.TotalAlbums, err = albums.Count(ctx); err != nil {
		return nil, err
	}
	if st.CachedAlbums, err = albums.CountCached(ctx); err != nil {
		return nil, err
	}
	return st, nil
}
