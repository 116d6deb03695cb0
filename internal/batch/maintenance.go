package batch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/logger"
)

// ProcessMissingVariants completes albums that hold fewer than five
// variants, counting only variants with both a ledger row and a file.
// Missing derived variants are regenerated from the stored original when
// it exists; otherwise the album goes through a full cache cycle.
// Albums with no row and no known URL are left alone.
func (p *Processor) ProcessMissingVariants(ctx context.Context) (*Report, error) {
	unlock, err := p.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	albums, err := p.ledger.Albums().List(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := p.ledger.Artwork().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	byAlbum := make(map[int64][]entities.ArtworkCache)
	for i := range rows {
		byAlbum[rows[i].AlbumID] = append(byAlbum[rows[i].AlbumID], rows[i])
	}

	rep := newReport("process_missing_variants")
	var jobs []job
	for i := range albums {
		album := albums[i].Ref()
		have := byAlbum[album.ID]
		if len(have) == 0 && album.ArtworkURL == "" {
			continue
		}
		missing := p.missingVariants(album, have)
		if len(missing) == 0 {
			continue
		}
		jobs = append(jobs, job{album: album, missing: missing})
	}
	rep.Total = len(jobs)

	p.run(ctx, rep, jobs)
	return rep, nil
}

func (p *Processor) missingVariants(album artwork.Album, rows []entities.ArtworkCache) []artwork.Variant {
	present := make(map[artwork.Variant]bool, len(rows))
	for i := range rows {
		present[rows[i].SizeVariant] = true
	}
	var missing []artwork.Variant
	for _, v := range artwork.Variants() {
		if !present[v] || !p.store.Exists(album.CacheKey(), v) {
			missing = append(missing, v)
		}
	}
	return missing
}

// FileIssue is one ledger row whose file is not usable.
type FileIssue struct {
	RowID   int64           `json:"row_id"`
	AlbumID int64           `json:"album_id"`
	Variant artwork.Variant `json:"size_variant"`
	Path    string          `json:"file_path"`
	Detail  string          `json:"detail,omitempty"`
}

// ValidationReport is the result of ValidateCachedArtwork.
type ValidationReport struct {
	RunID         string        `json:"run_id"`
	Checked       int           `json:"checked"`
	Valid         int           `json:"valid"`
	Missing       []FileIssue   `json:"missing_files,omitempty"`
	Corrupted     []FileIssue   `json:"corrupted_files,omitempty"`
	Inconsistent  []FileIssue   `json:"inconsistencies,omitempty"`
	HealthPercent float64       `json:"health_percent"`
	Duration      time.Duration `json:"duration"`
}

// ValidateCachedArtwork checks that ledger rows point at readable,
// non-empty files. sampleSize <= 0 checks every row. Nothing is repaired.
func (p *Processor) ValidateCachedArtwork(ctx context.Context, sampleSize int) (*ValidationReport, error) {
	unlock, err := p.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	var rows []entities.ArtworkCache
	if sampleSize > 0 {
		rows, err = p.ledger.Artwork().Sample(ctx, sampleSize)
	} else {
		rows, err = p.ledger.Artwork().ListAll(ctx)
	}
	if err != nil {
		return nil, err
	}

	rep := &ValidationReport{RunID: uuid.NewString(), Checked: len(rows), HealthPercent: 100}
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := &rows[i]
		issue := FileIssue{RowID: row.ID, AlbumID: row.AlbumID, Variant: row.SizeVariant, Path: row.FilePath}
		if row.FilePath == "" {
			issue.Detail = "empty file path"
			rep.Inconsistent = append(rep.Inconsistent, issue)
			continue
		}
		info, err := filestore.StatPath(row.FilePath)
		switch {
		case errors.Is(err, filestore.ErrNotFound):
			rep.Missing = append(rep.Missing, issue)
		case err != nil:
			issue.Detail = err.Error()
			rep.Corrupted = append(rep.Corrupted, issue)
		case info.Size == 0:
			issue.Detail = "empty file"
			rep.Corrupted = append(rep.Corrupted, issue)
		default:
			rep.Valid++
		}
	}
	if rep.Checked > 0 {
		rep.HealthPercent = float64(rep.Valid) / float64(rep.Checked) * 100
	}
	rep.Duration = time.Since(start)

	p.log.Info("cached artwork validated",
		logger.String("run_id", rep.RunID),
		logger.Int("checked", rep.Checked),
		logger.Int("missing", len(rep.Missing)),
		logger.Int("corrupted", len(rep.Corrupted)),
		logger.Int("inconsistent", len(rep.Inconsistent)),
		logger.Float64("health_percent", rep.HealthPercent))
	return rep, nil
}

// OrphanReport is the result of CleanupOrphanedFiles.
type OrphanReport struct {
	RunID      string   `json:"run_id"`
	DryRun     bool     `json:"dry_run"`
	Found      int      `json:"found"`
	Deleted    int      `json:"deleted"`
	BytesFreed int64    `json:"bytes_freed"`
	Files      []string `json:"files,omitempty"`
}

// CleanupOrphanedFiles removes files whose cache key has no ledger row at
// all. A file is kept when any variant of its album is recorded; the
// integrity auditor applies the strict per-variant check.
func (p *Processor) CleanupOrphanedFiles(ctx context.Context, dryRun bool) (*OrphanReport, error) {
	unlock, err := p.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, err := p.ledger.Artwork().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	valid := make(filestore.CacheKeySet, len(rows))
	for i := range rows {
		valid[rows[i].AlbumCacheKey()] = struct{}{}
	}
	orphans, err := p.store.ListOrphans(valid)
	if err != nil {
		return nil, err
	}

	rep := &OrphanReport{RunID: uuid.NewString(), DryRun: dryRun, Found: len(orphans)}
	for _, o := range orphans {
		rep.Files = append(rep.Files, o.Path)
		if dryRun {
			rep.BytesFreed += o.Size
			continue
		}
		if err := p.store.DeletePath(o.Path); err != nil {
			p.log.Warn("failed to delete orphaned file", logger.String("path", o.Path), logger.Error(err))
			continue
		}
		rep.Deleted++
		rep.BytesFreed += o.Size
	}

	p.log.Info("orphaned files cleaned up",
		logger.String("run_id", rep.RunID),
		logger.Bool("dry_run", dryRun),
		logger.Int("found", rep.Found),
		logger.Int("deleted", rep.Deleted),
		logger.Int64("bytes_freed", rep.BytesFreed))
	return rep, nil
}
