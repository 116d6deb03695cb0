package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/observability/metrics"
)

const tableAlbums = "albums"

// albumRepository implements AlbumRepository.
type albumRepository struct {
	*ledger
}

func (r *albumRepository) Get(ctx context.Context, id int64) (*entities.Album, error) {
	start := time.Now()
	var album entities.Album
	err := r.db.WithContext(ctx).First(&album, id).Error
	r.observe(metrics.OpDbQuery, tableAlbums, start, err)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlbumNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_album")
	}
	return &album, nil
}

func (r *albumRepository) Create(ctx context.Context, album *entities.Album) error {
	if album == nil {
		return ErrInvalidInput
	}
	start := time.Now()
	err := r.db.WithContext(ctx).Create(album).Error
	r.observe(metrics.OpDbUpsert, tableAlbums, start, err)
	if err != nil {
		return dbError(err, "create_album")
	}
	return nil
}

func (r *albumRepository) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	res := r.db.WithContext(ctx).Delete(&entities.Album{}, id)
	r.observe(metrics.OpDbDelete, tableAlbums, start, res.Error)
	if res.Error != nil {
		return dbError(res.Error, "delete_album")
	}
	if res.RowsAffected == 0 {
		return ErrAlbumNotFound
	}
	return nil
}

func (r *albumRepository) List(ctx context.Context) ([]entities.Album, error) {
	return r.find(ctx, "list_albums", r.db.WithContext(ctx).Order("id"))
}

func (r *albumRepository) ListCached(ctx context.Context) ([]entities.Album, error) {
	return r.find(ctx, "list_cached_albums", r.db.WithContext(ctx).Where("artwork_cached = ?", true).Order("id"))
}

func (r *albumRepository) ListByIDs(ctx context.Context, ids []int64) ([]entities.Album, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, "list_albums_by_id", r.db.WithContext(ctx).Where("id IN ?", ids).Order("id"))
}

func (r *albumRepository) find(_ context.Context, op string, q *gorm.DB) ([]entities.Album, error) {
	start := time.Now()
	var albums []entities.Album
	err := q.Find(&albums).Error
	r.observe(metrics.OpDbQuery, tableAlbums, start, err)
	if err != nil {
		return nil, dbError(err, op)
	}
	return albums, nil
}

func (r *albumRepository) Count(ctx context.Context) (int64, error) {
	return r.count(ctx, r.db.WithContext(ctx).Model(&entities.Album{}))
}

func (r *albumRepository) CountCached(ctx context.Context) (int64, error) {
	return r.count(ctx, r.db.WithContext(ctx).Model(&entities.Album{}).Where("artwork_cached = ?", true))
}

func (r *albumRepository) count(_ context.Context, q *gorm.DB) (int64, error) {
	start := time.Now()
	var n int64
	err := q.Count(&n).Error
	r.observe(metrics.OpDbQuery, tableAlbums, start, err)
	if err != nil {
		return 0, dbError(err, "count_albums")
	}
	return n, nil
}

func (r *albumRepository) SetArtworkCached(ctx context.Context, id int64, cached bool, at time.Time) error {
	updates := map[string]any{"artwork_cached": cached, "artwork_cache_date": nil}
	if cached {
		updates["artwork_cache_date"] = at.UTC()
	}
	return r.update(ctx, id, "set_artwork_cached", updates)
}

func (r *albumRepository) SetExternalID(ctx context.Context, id int64, externalID string) error {
	return r.update(ctx, id, "set_external_id", map[string]any{
		"musicbrainz_id": entities.StringPtr(externalID),
		"cover_art_url":  "",
	})
}

func (r *albumRepository) SetCoverArtURL(ctx context.Context, id int64, url string) error {
	return r.update(ctx, id, "set_cover_art_url", map[string]any{"cover_art_url": url})
}

func (r *albumRepository) update(ctx context.Context, id int64, op string, updates map[string]any) error {
	start := time.Now()
	res := r.db.WithContext(ctx).Model(&entities.Album{}).Where("id = ?", id).Updates(updates)
	r.observe(metrics.OpDbUpdate, tableAlbums, start, res.Error)
	if res.Error != nil {
		return dbError(res.Error, op)
	}
	if res.RowsAffected == 0 {
		return ErrAlbumNotFound
	}
	return nil
}

func (r *albumRepository) ClearFlagsWithoutArtwork(ctx context.Context) (int64, error) {
	start := time.Now()
	res := r.db.WithContext(ctx).Model(&entities.Album{}).
		Where("artwork_cached = ?", true).
		Where("id NOT IN (?)", r.db.Model(&entities.ArtworkCache{}).Distinct("album_id")).
		Updates(map[string]any{"artwork_cached": false, "artwork_cache_date": nil})
	r.observe(metrics.OpDbUpdate, tableAlbums, start, res.Error)
	if res.Error != nil {
		return 0, dbError(res.Error, "clear_flags_without_artwork")
	}
	return res.RowsAffected, nil
}
