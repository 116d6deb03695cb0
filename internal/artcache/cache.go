package artcache

import (
	"context"
	"fmt"
	"time"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability/metrics"
	"github.com/tracklist/tracklist/internal/transcode"
)

// provenance is what a ledger row records about where its bytes came from.
type provenance struct {
	url  string
	etag string
}

// CacheArtwork downloads url and stores every variant of the album's
// artwork. It reports false on any failure; see Cache for the error.
func (s *Service) CacheArtwork(ctx context.Context, album artwork.Album, url string) bool {
	return s.Cache(ctx, album, url) == nil
}

// Cache runs one cache cycle: download, transcode, write each variant, then
// upsert every ledger row and flag the album in a single transaction. On a
// failed transaction every file the cycle touched is put back: new files are
// removed and overwritten files get their previous bytes.
func (s *Service) Cache(ctx context.Context, album artwork.Album, url string) error {
	if url == "" {
		return errors.Newf("no artwork url for album %d", album.ID).
			Component("artcache").
			Category(errors.CategoryValidation).
			Build()
	}
	if !s.cfg.Deduplicate {
		return s.cacheCycle(ctx, album, url)
	}
	_, err, shared := s.group.Do(album.CacheKey(), func() (any, error) {
		return nil, s.cacheCycle(ctx, album, url)
	})
	if shared {
		s.metrics.RecordDeduplicatedFetch()
	}
	return err
}

func (s *Service) cacheCycle(ctx context.Context, album artwork.Album, url string) (err error) {
	start := time.Now()
	s.metrics.FetchStarted()
	defer s.metrics.FetchFinished()
	defer func() {
		s.metrics.RecordDuration(metrics.OpCacheArtwork, time.Since(start).Seconds())
		if err != nil {
			s.metrics.RecordError(metrics.OpCacheArtwork, errorType(err))
			return
		}
		s.metrics.RecordOperation(metrics.OpCacheArtwork, metrics.StatusSuccess)
	}()

	key := album.CacheKey()
	log := s.log.With(logger.Int64("album_id", album.ID), logger.String("cache_key", key))

	outcome, err := s.fetcher.Download(ctx, url)
	if err != nil {
		return err
	}
	s.metrics.RecordDownloadSize(len(outcome.Data))

	results, err := s.transcoder.TranscodeAll(ctx, outcome.Data)
	if err != nil {
		return err
	}

	src := provenance{url: url, etag: outcome.ETag}
	now := s.now()
	var undo rollback
	rows := make([]*entities.ArtworkCache, 0, len(results))
	for _, v := range artwork.Variants() {
		res, ok := results[v]
		if !ok {
			continue
		}
		path, werr := s.writeVariant(&undo, key, v, res.Data)
		if werr != nil {
			s.undo(undo)
			return werr
		}
		s.metrics.RecordBytesWritten(v.String(), res.Size)
		rows = append(rows, newRow(album.ID, key, v, path, res, src, now))
	}

	err = s.ledger.Transaction(ctx, func(tx repository.Ledger) error {
		for _, row := range rows {
			if err := tx.Artwork().Upsert(ctx, row); err != nil {
				return err
			}
		}
		return tx.Albums().SetArtworkCached(ctx, album.ID, true, now)
	})
	if err != nil {
		s.undo(undo)
		return err
	}

	s.InvalidateAlbum(album.ID)
	log.Info("artwork cached",
		logger.String("url", url),
		logger.Int("variants", len(rows)),
		logger.Int("source_bytes", len(outcome.Data)),
		logger.Duration("duration", time.Since(start)))
	return nil
}

// touchedFile is a file written by a cycle and what was there before.
type touchedFile struct {
	path    string
	prev    []byte
	existed bool
}

type rollback []touchedFile

// writeVariant snapshots the file it is about to replace into undo, then
// writes data.
func (s *Service) writeVariant(undo *rollback, key string, v artwork.Variant, data []byte) (string, error) {
	prev, existed, err := s.store.Snapshot(key, v)
	if err != nil {
		return "", err
	}
	path, err := s.store.Write(key, v, data)
	if err != nil {
		return "", err
	}
	*undo = append(*undo, touchedFile{path: path, prev: prev, existed: existed})
	return path, nil
}

func (s *Service) undo(r rollback) {
	for _, f := range r {
		var err error
		if f.existed {
			err = s.store.Restore(f.path, f.prev)
		} else {
			err = s.store.DeletePath(f.path)
		}
		if err != nil {
			s.log.Warn("failed to roll back artwork file",
				logger.String("path", f.path),
				logger.Error(err))
		}
	}
}

func newRow(albumID int64, key string, v artwork.Variant, path string, res *transcode.Result, src provenance, at time.Time) *entities.ArtworkCache {
	return &entities.ArtworkCache{
		AlbumID:       albumID,
		CacheKey:      artwork.RowKey(key, v),
		SizeVariant:   v,
		FilePath:      path,
		Width:         res.Width,
		Height:        res.Height,
		FileSizeBytes: int64(res.Size),
		ContentType:   res.ContentType,
		Checksum:      res.Checksum,
		ETag:          src.etag,
		OriginalURL:   src.url,
		LastFetchedAt: at,
	}
}

// RegenerateVariant derives v from the stored original without any network
// access, writes it and upserts its ledger row. It returns the web path.
func (s *Service) RegenerateVariant(ctx context.Context, album artwork.Album, v artwork.Variant) (string, error) {
	if !v.Valid() || v == artwork.Original {
		return "", fmt.Errorf("%w: cannot regenerate %q", artwork.ErrInvalidVariant, v)
	}
	key := album.CacheKey()

	data, err := s.store.Read(key, artwork.Original)
	if err != nil {
		return "", err
	}
	res, err := s.transcoder.Transcode(ctx, data, v)
	if err != nil {
		return "", err
	}

	var undo rollback
	path, err := s.writeVariant(&undo, key, v, res.Data)
	if err != nil {
		return "", err
	}
	s.metrics.RecordBytesWritten(v.String(), res.Size)

	var src provenance
	if orig, err := s.ledger.Artwork().Get(ctx, album.ID, artwork.Original); err == nil {
		src = provenance{url: orig.OriginalURL, etag: orig.ETag}
	}
	if err := s.ledger.Artwork().Upsert(ctx, newRow(album.ID, key, v, path, res, src, s.now())); err != nil {
		s.undo(undo)
		return "", err
	}

	s.log.Debug("regenerated variant from original",
		logger.Int64("album_id", album.ID),
		logger.String("variant", v.String()))
	return s.remember(album.ID, v, s.store.WebPathOf(v, path)), nil
}

// ClearAlbumCache deletes the album's files, ledger rows and hot cache
// entries and clears its cached flag. An album already removed from the
// ledger is not an error.
func (s *Service) ClearAlbumCache(ctx context.Context, album artwork.Album) bool {
	key := album.CacheKey()
	ok := true

	removed, err := s.store.Delete(key)
	if err != nil {
		ok = false
		s.log.Warn("failed to delete album artwork files",
			logger.Int64("album_id", album.ID),
			logger.Error(err))
	}

	var rows int64
	err = s.ledger.Transaction(ctx, func(tx repository.Ledger) error {
		var err error
		if rows, err = tx.Artwork().DeleteByAlbum(ctx, album.ID); err != nil {
			return err
		}
		err = tx.Albums().SetArtworkCached(ctx, album.ID, false, time.Time{})
		if errors.Is(err, repository.ErrAlbumNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		ok = false
		s.log.Error("failed to clear album artwork rows",
			logger.Int64("album_id", album.ID),
			logger.Error(err))
	}

	s.InvalidateAlbum(album.ID)
	s.log.Info("cleared album artwork cache",
		logger.Int64("album_id", album.ID),
		logger.String("cache_key", key),
		logger.Int("files_deleted", removed),
		logger.Int64("rows_deleted", rows))
	return ok
}

// OnAlbumDeleted clears the cache of a deleted album.
func (s *Service) OnAlbumDeleted(ctx context.Context, album artwork.Album) bool {
	return s.ClearAlbumCache(ctx, album)
}

// OnAlbumRetagged clears the cache kept under the album's old identity and
// records the new external identifier, forgetting the old cover URL.
func (s *Service) OnAlbumRetagged(ctx context.Context, album artwork.Album, newExternalID string) bool {
	ok := s.ClearAlbumCache(ctx, album)
	if newExternalID == album.ExternalID {
		return ok
	}
	if err := s.ledger.Albums().SetExternalID(ctx, album.ID, newExternalID); err != nil {
		s.log.Error("failed to store new external id",
			logger.Int64("album_id", album.ID),
			logger.String("external_id", newExternalID),
			logger.Error(err))
		return false
	}
	return ok
}

func errorType(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}
