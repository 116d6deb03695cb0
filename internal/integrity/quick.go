package integrity

import (
	"context"
	"time"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/logger"
)

// QuickReport is the result of QuickCheck.
type QuickReport struct {
	Timestamp        time.Time `json:"timestamp"`
	SampleSize       int       `json:"sample_size"`
	TotalRecords     int64     `json:"total_records"`
	SampleValid      int       `json:"sample_valid"`
	SampleMissing    int       `json:"sample_missing"`
	EstimatedMissing int64     `json:"estimated_missing"`
	EstimatedScore   float64   `json:"estimated_integrity_score"`
}

// QuickCheck checks file existence for a small random sample of rows and
// extrapolates to the whole ledger. It reads only and takes no lock.
func (a *Auditor) QuickCheck(ctx context.Context) (*QuickReport, error) {
	total, err := a.ledger.Artwork().Count(ctx)
	if err != nil {
		return nil, err
	}
	sample, err := a.ledger.Artwork().Sample(ctx, int(min(int64(a.cfg.QuickSampleSize), total)))
	if err != nil {
		return nil, err
	}

	rep := &QuickReport{
		Timestamp:      a.now().UTC(),
		SampleSize:     len(sample),
		TotalRecords:   total,
		EstimatedScore: 100,
	}
	for i := range sample {
		if fileExists(&sample[i]) {
			rep.SampleValid++
		} else {
			rep.SampleMissing++
		}
	}
	if rep.SampleSize > 0 {
		rep.EstimatedMissing = int64(float64(rep.SampleMissing) / float64(rep.SampleSize) * float64(total))
		rep.EstimatedScore = float64(rep.SampleValid) / float64(rep.SampleSize) * 100
	}

	a.log.Info("quick integrity check",
		logger.Int("sampled", rep.SampleSize),
		logger.Int("missing", rep.SampleMissing),
		logger.Float64("estimated_score", rep.EstimatedScore))
	return rep, nil
}

func fileExists(row *entities.ArtworkCache) bool {
	if row.FilePath == "" {
		return false
	}
	_, err := filestore.StatPath(row.FilePath)
	return err == nil
}

// FlagReport is the result of ValidateCacheFlags.
type FlagReport struct {
	TotalAlbums         int     `json:"total_albums"`
	CorrectlyMarked     int     `json:"correctly_marked"`
	IncorrectlyCached   []int64 `json:"incorrectly_cached,omitempty"`
	IncorrectlyUncached []int64 `json:"incorrectly_uncached,omitempty"`
	Fixed               int     `json:"fixed"`
	Errors              int     `json:"errors"`
}

// ValidateCacheFlags compares each album's cached flag with its artwork.
// An album flagged cached must have at least one row with a file; an
// unflagged album with every variant present should be flagged. With fix
// set, both kinds are corrected under the maintenance lock.
func (a *Auditor) ValidateCacheFlags(ctx context.Context, fix bool) (*FlagReport, error) {
	if fix {
		unlock, err := a.store.Lock(ctx)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	albums, err := a.ledger.Albums().List(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.ledger.Artwork().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	byAlbum := make(map[int64][]entities.ArtworkCache)
	for i := range rows {
		byAlbum[rows[i].AlbumID] = append(byAlbum[rows[i].AlbumID], rows[i])
	}

	rep := &FlagReport{TotalAlbums: len(albums)}
	latest := make(map[int64]time.Time)
	for i := range albums {
		album := &albums[i]
		present := presentVariants(byAlbum[album.ID])
		switch {
		case album.ArtworkCached && len(present) == 0:
			rep.IncorrectlyCached = append(rep.IncorrectlyCached, album.ID)
		case !album.ArtworkCached && len(present) == artwork.VariantCount:
			rep.IncorrectlyUncached = append(rep.IncorrectlyUncached, album.ID)
			for _, r := range byAlbum[album.ID] {
				if r.LastFetchedAt.After(latest[album.ID]) {
					latest[album.ID] = r.LastFetchedAt
				}
			}
		default:
			rep.CorrectlyMarked++
		}
	}

	if fix {
		for _, id := range rep.IncorrectlyCached {
			if err := a.ledger.Albums().SetArtworkCached(ctx, id, false, time.Time{}); err != nil {
				a.log.Warn("failed to clear cached flag", logger.Int64("album_id", id), logger.Error(err))
				rep.Errors++
				continue
			}
			a.cache.InvalidateAlbum(id)
			rep.Fixed++
		}
		for _, id := range rep.IncorrectlyUncached {
			if err := a.ledger.Albums().SetArtworkCached(ctx, id, true, latest[id]); err != nil {
				a.log.Warn("failed to set cached flag", logger.Int64("album_id", id), logger.Error(err))
				rep.Errors++
				continue
			}
			rep.Fixed++
		}
		a.metrics.RecordRepair(ActionClearFlag, len(rep.IncorrectlyCached))
		a.metrics.RecordRepair(ActionSetFlag, len(rep.IncorrectlyUncached))
	}

	a.log.Info("artwork cache flags validated",
		logger.Int("albums", rep.TotalAlbums),
		logger.Int("incorrectly_cached", len(rep.IncorrectlyCached)),
		logger.Int("incorrectly_uncached", len(rep.IncorrectlyUncached)),
		logger.Int("fixed", rep.Fixed),
		logger.Bool("fix", fix))
	return rep, nil
}
