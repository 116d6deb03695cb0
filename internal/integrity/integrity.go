// Package integrity audits the artwork cache: ledger rows against files,
// files against ledger rows, a bounded corruption sample, and variant
// completeness of cached albums. Repair mode fixes what it finds in a fixed
// order; audit mode never changes anything.
package integrity

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/logger"
)

// Defaults for Config.
const (
	DefaultSampleSize      = 100
	DefaultQuickSampleSize = 50
	DefaultReportDir       = "reports/integrity"
)

// Repair actions, also used as metric labels.
const (
	ActionRemoveMissingRecord = "remove_missing_record"
	ActionRefreshSize         = "refresh_size"
	ActionRemoveCorrupt       = "remove_corrupt"
	ActionRemoveOrphan        = "remove_orphan"
	ActionRegenerateVariant   = "regenerate_variant"
	ActionClearFlag           = "clear_flag"
	ActionSetFlag             = "set_flag"
)

// Cache is the part of the orchestrator repair mode uses.
type Cache interface {
	RegenerateVariant(ctx context.Context, album artwork.Album, v artwork.Variant) (string, error)
	InvalidateAlbum(albumID int64)
}

// Verifier fully decodes image bytes.
type Verifier interface {
	Verify(data []byte) error
}

// Metrics receives audit and repair figures.
type Metrics interface {
	RecordIntegrityAudit(score float64, issues map[string]int)
	RecordRepair(action string, n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordIntegrityAudit(float64, map[string]int) {}
func (noopMetrics) RecordRepair(string, int)                     {}

// Config controls sampling and where reports go.
type Config struct {
	SampleSize      int
	QuickSampleSize int
	ReportDir       string
}

// Auditor runs integrity audits. Verify and a fixing ValidateCacheFlags
// take the file store maintenance lock.
type Auditor struct {
	store    *filestore.Store
	ledger   repository.Ledger
	cache    Cache
	verifier Verifier
	cfg      Config
	metrics  Metrics
	log      logger.Logger
	now      func() time.Time
}

// New creates an Auditor. A nil metrics or log falls back to defaults.
func New(store *filestore.Store, ledger repository.Ledger, cache Cache, verifier Verifier, cfg Config, m Metrics, log logger.Logger) *Auditor {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.QuickSampleSize <= 0 {
		cfg.QuickSampleSize = DefaultQuickSampleSize
	}
	if cfg.ReportDir == "" {
		cfg.ReportDir = DefaultReportDir
	}
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = logger.Global().Module("maintenance.integrity")
	}
	return &Auditor{
		store:    store,
		ledger:   ledger,
		cache:    cache,
		verifier: verifier,
		cfg:      cfg,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Verify audits the cache and, when repair is set, fixes the findings. The
// report is written to the report directory in both modes; a failure to
// write it is logged and recorded in the report's errors.
func (a *Auditor) Verify(ctx context.Context, repair bool) (*Report, error) {
	unlock, err := a.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := a.now()
	rep := &Report{ID: uuid.NewString(), Repair: repair}
	a.log.Info("integrity audit started", logger.String("audit_id", rep.ID), logger.Bool("repair", repair))

	rows, err := a.ledger.Artwork().ListAll(ctx)
	if err != nil {
		return nil, err
	}
	rep.Summary.TotalRecords = len(rows)

	missing := a.checkRows(rows, rep)
	if err := a.checkOrphans(rows, rep); err != nil {
		return nil, err
	}
	if err := a.checkCorruption(ctx, missing, rep); err != nil {
		return nil, err
	}
	if err := a.checkVariants(ctx, rep); err != nil {
		return nil, err
	}

	if repair {
		a.repair(ctx, rep)
	}

	rep.finish(start, a.now())
	a.metrics.RecordIntegrityAudit(rep.Score, rep.Issues.asMap())
	if path, err := rep.save(a.cfg.ReportDir); err != nil {
		a.log.Error("failed to write integrity report", logger.Error(err))
		rep.Errors = append(rep.Errors, err.Error())
	} else {
		rep.Path = path
	}

	a.log.Info("integrity audit finished",
		logger.String("audit_id", rep.ID),
		logger.Float64("score", rep.Score),
		logger.Int("issues", rep.Summary.IssuesFound),
		logger.Int("repairs", rep.Summary.RepairsCompleted),
		logger.Int("failed_repairs", rep.Summary.RepairsFailed),
		logger.Duration("duration", rep.Duration))
	return rep, nil
}

// checkRows compares every row with its file. It returns the IDs of rows
// whose file is missing.
func (a *Auditor) checkRows(rows []entities.ArtworkCache, rep *Report) map[int64]bool {
	missing := make(map[int64]bool)
	for i := range rows {
		row := &rows[i]
		ref := rowRef(row)
		if row.FilePath == "" {
			missing[row.ID] = true
			rep.MissingFiles = append(rep.MissingFiles, ref)
			continue
		}
		info, err := filestore.StatPath(row.FilePath)
		if err != nil {
			missing[row.ID] = true
			rep.MissingFiles = append(rep.MissingFiles, ref)
			continue
		}
		if row.FileSizeBytes > 0 && info.Size != row.FileSizeBytes {
			rep.SizeMismatches = append(rep.SizeMismatches, SizeMismatch{RowRef: ref, Expected: row.FileSizeBytes, Actual: info.Size})
			continue
		}
		rep.Summary.ValidFiles++
	}
	return missing
}

// checkOrphans lists files with no ledger row for their exact variant.
func (a *Auditor) checkOrphans(rows []entities.ArtworkCache, rep *Report) error {
	valid := make(filestore.RowKeySet, len(rows))
	for i := range rows {
		valid[rows[i].CacheKey] = struct{}{}
	}
	orphans, err := a.store.ListOrphans(valid)
	if err != nil {
		return errors.New(err).
			Component("integrity").
			Category(errors.CategoryFileIO).
			Context("operation", "list_orphans").
			Build()
	}
	for _, o := range orphans {
		rep.OrphanedFiles = append(rep.OrphanedFiles, OrphanFile{Variant: o.Variant, Key: o.Key, Path: o.Path, Size: o.Size})
	}
	return nil
}

// checkCorruption decodes a random sample of rows whose file exists. The
// sample is bounded so audit time does not grow with the ledger.
func (a *Auditor) checkCorruption(ctx context.Context, missing map[int64]bool, rep *Report) error {
	n := min(a.cfg.SampleSize, rep.Summary.TotalRecords)
	sample, err := a.ledger.Artwork().Sample(ctx, n)
	if err != nil {
		return err
	}
	for i := range sample {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := &sample[i]
		if missing[row.ID] {
			continue
		}
		rep.Summary.Sampled++
		data, err := os.ReadFile(row.FilePath)
		if err == nil {
			err = a.verifier.Verify(data)
		}
		if err != nil {
			rep.CorruptedFiles = append(rep.CorruptedFiles, Corrupted{RowRef: rowRef(row), Error: err.Error()})
		}
	}
	return nil
}

// checkVariants flags cached albums without the full variant set.
func (a *Auditor) checkVariants(ctx context.Context, rep *Report) error {
	gaps, err := a.variantGaps(ctx)
	if err != nil {
		return err
	}
	rep.MissingVariants = gaps
	return nil
}

// variantGaps returns, for every album flagged cached, the variants with
// no row or no file.
func (a *Auditor) variantGaps(ctx context.Context) ([]VariantGap, error) {
	albums, err := a.ledger.Albums().ListCached(ctx)
	if err != nil {
		return nil, err
	}
	var gaps []VariantGap
	for i := range albums {
		rows, err := a.ledger.Artwork().ListByAlbum(ctx, albums[i].ID)
		if err != nil {
			return nil, err
		}
		present := presentVariants(rows)
		var missing []artwork.Variant
		for _, v := range artwork.Variants() {
			if !present[v] {
				missing = append(missing, v)
			}
		}
		if len(missing) == 0 {
			continue
		}
		gaps = append(gaps, VariantGap{
			AlbumID:     albums[i].ID,
			Album:       albums[i].Ref(),
			Missing:     missing,
			HasOriginal: present[artwork.Original],
		})
	}
	return gaps, nil
}

// presentVariants reports the variants whose row points at an existing file.
func presentVariants(rows []entities.ArtworkCache) map[artwork.Variant]bool {
	present := make(map[artwork.Variant]bool, len(rows))
	for i := range rows {
		if rows[i].FilePath == "" {
			continue
		}
		if _, err := filestore.StatPath(rows[i].FilePath); err == nil {
			present[rows[i].SizeVariant] = true
		}
	}
	return present
}

func rowRef(row *entities.ArtworkCache) RowRef {
	return RowRef{RowID: row.ID, AlbumID: row.AlbumID, Variant: row.SizeVariant, Path: row.FilePath}
}
