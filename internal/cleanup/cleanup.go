// Package cleanup enforces retention on the artwork cache: it drops ledger
// rows whose files are gone, expires artwork not used within the retention
// window, shrinks the cache under its size limit by evicting the least
// recently used artwork, and removes orphan files.
package cleanup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/logger"
)

const mib = 1 << 20

// Policy names, also used as metric labels.
const (
	PolicyInvalidRecords = "invalid_records"
	PolicyRetention      = "retention"
	PolicySizeLimit      = "size_limit"
	PolicyOrphans        = "orphans"
	PolicyFlags          = "flags"
)

// Config controls a cleanup run. Sizes are in bytes; zero MaxCacheBytes
// disables the size limit.
type Config struct {
	DryRun               bool
	Retention            time.Duration
	Grace                time.Duration
	BatchSize            int
	MaxDeletionsPerRun   int
	MaxCacheBytes        int64
	TargetBytes          int64
	DeleteOrphanedFiles  bool
	DeleteInvalidRecords bool
}

// ConfigFromSettings converts the cleanup section of the settings.
func ConfigFromSettings(s *conf.CleanupSettings) Config {
	return Config{
		DryRun:               s.DryRun,
		Retention:            days(s.EffectiveRetentionDays()),
		Grace:                days(s.RecentlyAddedGraceDays),
		BatchSize:            s.BatchSize,
		MaxDeletionsPerRun:   s.MaxDeletionsPerRun,
		MaxCacheBytes:        int64(s.MaxCacheSizeMB) * mib,
		TargetBytes:          int64(s.EffectiveTargetSizeMB()) * mib,
		DeleteOrphanedFiles:  s.DeleteOrphanedFiles,
		DeleteInvalidRecords: s.DeleteInvalidRecords,
	}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// Invalidator drops hot cache entries of albums whose artwork was removed.
type Invalidator interface {
	InvalidateAlbum(albumID int64)
}

// Metrics receives cleanup figures.
type Metrics interface {
	RecordCleanup(policy, status string, filesDeleted int, bytesFreed int64, duration time.Duration)
	RecordCleanupError(policy, errorType string)
	UpdateCacheSize(bytes int64, files int)
}

type noopMetrics struct{}

func (noopMetrics) RecordCleanup(string, string, int, int64, time.Duration) {}
func (noopMetrics) RecordCleanupError(string, string)                       {}
func (noopMetrics) UpdateCacheSize(int64, int)                              {}

// Result summarizes one run. In a dry run the counts describe what would
// have been deleted.
type Result struct {
	RunID          string        `json:"run_id"`
	DryRun         bool          `json:"dry_run"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	RecordsScanned int           `json:"records_scanned"`
	RecordsDeleted int           `json:"records_deleted"`
	FilesDeleted   int           `json:"files_deleted"`
	BytesFreed     int64         `json:"bytes_freed"`
	InvalidRecords int           `json:"invalid_records"`
	Expired        int           `json:"expired"`
	Evicted        int           `json:"evicted"`
	OrphanedFiles  int           `json:"orphaned_files"`
	FlagsCleared   int64         `json:"flags_cleared"`
	Errors         []string      `json:"errors,omitempty"`
}

// Cleaner runs cleanup passes.
type Cleaner struct {
	store   *filestore.Store
	ledger  repository.Ledger
	cache   Invalidator
	cfg     Config
	metrics Metrics
	log     logger.Logger
	now     func() time.Time
}

// New creates a Cleaner. A nil metrics or log falls back to defaults.
func New(store *filestore.Store, ledger repository.Ledger, cache Invalidator, cfg Config, m Metrics, log logger.Logger) *Cleaner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxDeletionsPerRun <= 0 {
		cfg.MaxDeletionsPerRun = 1000
	}
	if cfg.TargetBytes <= 0 || cfg.TargetBytes > cfg.MaxCacheBytes {
		cfg.TargetBytes = cfg.MaxCacheBytes * 80 / 100
	}
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = logger.Global().Module("maintenance.cleanup")
	}
	return &Cleaner{store: store, ledger: ledger, cache: cache, cfg: cfg, metrics: m, log: log, now: time.Now}
}

// WithDryRun returns a copy of c with dry run set to dry.
func (c *Cleaner) WithDryRun(dry bool) *Cleaner {
	cp := *c
	cp.cfg.DryRun = dry
	return &cp
}

// run holds the state of one pass.
type run struct {
	res     *Result
	budget  int
	deleted map[int64]bool
	paths   map[string]bool
	touched map[int64]bool
}

func (r *run) remember(row *entities.ArtworkCache) {
	r.deleted[row.ID] = true
	r.paths[row.FilePath] = true
	r.touched[row.AlbumID] = true
}

// Run performs one cleanup pass under the maintenance lock. A failing step
// is recorded in the result and the remaining steps still run.
func (c *Cleaner) Run(ctx context.Context) (*Result, error) {
	unlock, err := c.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := c.now()
	r := &run{
		res:     &Result{RunID: uuid.NewString(), DryRun: c.cfg.DryRun, StartedAt: start.UTC()},
		budget:  c.cfg.MaxDeletionsPerRun,
		deleted: make(map[int64]bool),
		paths:   make(map[string]bool),
		touched: make(map[int64]bool),
	}
	c.log.Info("cache cleanup started",
		logger.String("run_id", r.res.RunID),
		logger.Bool("dry_run", c.cfg.DryRun),
		logger.Duration("retention", c.cfg.Retention))

	if c.cfg.DeleteInvalidRecords {
		c.step(ctx, r, PolicyInvalidRecords, c.removeInvalidRecords)
	}
	c.step(ctx, r, PolicyRetention, c.expire)
	if c.cfg.MaxCacheBytes > 0 {
		c.step(ctx, r, PolicySizeLimit, c.enforceSizeLimit)
	}
	if c.cfg.DeleteOrphanedFiles {
		c.step(ctx, r, PolicyOrphans, c.removeOrphans)
	}
	if !c.cfg.DryRun {
		c.step(ctx, r, PolicyFlags, c.clearFlags)
	}

	if !c.cfg.DryRun && c.cache != nil {
		for id := range r.touched {
			c.cache.InvalidateAlbum(id)
		}
	}
	if st, err := c.store.Stats(); err == nil {
		c.metrics.UpdateCacheSize(st.TotalBytes, st.TotalFiles)
	}

	r.res.Duration = c.now().Sub(start)
	c.log.Info("cache cleanup finished",
		logger.String("run_id", r.res.RunID),
		logger.Bool("dry_run", c.cfg.DryRun),
		logger.Int("records_deleted", r.res.RecordsDeleted),
		logger.Int("files_deleted", r.res.FilesDeleted),
		logger.Int64("bytes_freed", r.res.BytesFreed),
		logger.Int("errors", len(r.res.Errors)),
		logger.Duration("duration", r.res.Duration))
	return r.res, nil
}

// step runs one policy and records its outcome.
func (c *Cleaner) step(ctx context.Context, r *run, policy string, fn func(context.Context, *run) error) {
	start := c.now()
	files, bytes := r.res.FilesDeleted, r.res.BytesFreed
	status := "success"
	if c.cfg.DryRun {
		status = "dry_run"
	}
	if err := fn(ctx, r); err != nil {
		status = "error"
		r.res.Errors = append(r.res.Errors, policy+": "+err.Error())
		c.metrics.RecordCleanupError(policy, errorType(err))
		c.log.Error("cleanup step failed", logger.String("policy", policy), logger.Error(err))
	}
	c.metrics.RecordCleanup(policy, status, r.res.FilesDeleted-files, r.res.BytesFreed-bytes, c.now().Sub(start))
}

// removeInvalidRecords deletes rows whose file no longer exists.
func (c *Cleaner) removeInvalidRecords(ctx context.Context, r *run) error {
	rows, err := c.ledger.Artwork().ListAll(ctx)
	if err != nil {
		return err
	}
	r.res.RecordsScanned += len(rows)

	var ids []int64
	for i := range rows {
		row := &rows[i]
		if row.FilePath != "" {
			if _, err := filestore.StatPath(row.FilePath); err == nil || !errors.Is(err, filestore.ErrNotFound) {
				continue
			}
		}
		ids = append(ids, row.ID)
		r.remember(row)
	}
	r.res.InvalidRecords = len(ids)
	if len(ids) == 0 || c.cfg.DryRun {
		r.res.RecordsDeleted += len(ids)
		return nil
	}
	n, err := c.ledger.Artwork().Delete(ctx, ids...)
	r.res.RecordsDeleted += int(n)
	return err
}

// expire deletes artwork not used within the retention window. Artwork
// fetched within the grace window is kept regardless.
func (c *Cleaner) expire(ctx context.Context, r *run) error {
	if r.budget <= 0 {
		return nil
	}
	now := c.now()
	rows, err := c.ledger.Artwork().ListStale(ctx, now.Add(-c.cfg.Retention), now.Add(-c.cfg.Grace), r.budget)
	if err != nil {
		return err
	}
	var pending []entities.ArtworkCache
	for i := range rows {
		if !r.deleted[rows[i].ID] {
			pending = append(pending, rows[i])
		}
	}
	n, err := c.deleteRows(ctx, r, pending)
	r.res.Expired += n
	return err
}

// enforceSizeLimit evicts least recently used artwork until the cache is
// at or below the target size. Artwork inside the grace window is kept.
func (c *Cleaner) enforceSizeLimit(ctx context.Context, r *run) error {
	st, err := c.store.Stats()
	if err != nil {
		return err
	}
	// A dry run has not removed anything yet; account for earlier steps.
	size := st.TotalBytes
	if c.cfg.DryRun {
		size -= r.res.BytesFreed
	}
	if size <= c.cfg.MaxCacheBytes {
		c.log.Debug("cache within size limit",
			logger.Int64("bytes", size),
			logger.Int64("limit", c.cfg.MaxCacheBytes))
		return nil
	}
	toFree := size - c.cfg.TargetBytes
	graceCutoff := c.now().Add(-c.cfg.Grace)

	var freed int64
	offset := 0
	for freed < toFree && r.budget > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.ledger.Artwork().ListLeastRecentlyUsed(ctx, graceCutoff, c.cfg.BatchSize, offset)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		var batch []entities.ArtworkCache
		for i := range page {
			if r.deleted[page[i].ID] {
				offset++
				continue
			}
			if freed >= toFree || len(batch) >= r.budget {
				break
			}
			batch = append(batch, page[i])
			freed += fileSize(&page[i])
		}
		if len(batch) == 0 {
			break
		}
		before := len(r.deleted)
		n, err := c.deleteRows(ctx, r, batch)
		r.res.Evicted += n
		if err != nil {
			return err
		}
		if c.cfg.DryRun {
			offset += len(batch)
		} else {
			// Rows that could not be removed stay in the listing.
			offset += len(batch) - (len(r.deleted) - before)
		}
	}
	return nil
}

// deleteRows removes the files and rows in batches, charging each against
// the run's deletion budget. It returns the number of rows removed.
func (c *Cleaner) deleteRows(ctx context.Context, r *run, rows []entities.ArtworkCache) (int, error) {
	removed := 0
	for start := 0; start < len(rows) && r.budget > 0; start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(rows), start+r.budget)
		var ids []int64
		for i := start; i < end; i++ {
			row := &rows[i]
			size := fileSize(row)
			if !c.cfg.DryRun {
				if err := c.store.DeletePath(row.FilePath); err != nil && !errors.Is(err, filestore.ErrNotFound) {
					c.log.Warn("failed to delete artwork file", logger.String("path", row.FilePath), logger.Error(err))
					r.res.Errors = append(r.res.Errors, err.Error())
					continue
				}
			}
			ids = append(ids, row.ID)
			r.remember(row)
			r.budget--
			r.res.FilesDeleted++
			r.res.BytesFreed += size
		}
		if len(ids) == 0 {
			continue
		}
		if c.cfg.DryRun {
			removed += len(ids)
			r.res.RecordsDeleted += len(ids)
			continue
		}
		n, err := c.ledger.Artwork().Delete(ctx, ids...)
		removed += int(n)
		r.res.RecordsDeleted += int(n)
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// removeOrphans deletes files with no ledger row for their variant.
func (c *Cleaner) removeOrphans(ctx context.Context, r *run) error {
	rows, err := c.ledger.Artwork().ListAll(ctx)
	if err != nil {
		return err
	}
	valid := make(filestore.RowKeySet, len(rows))
	for i := range rows {
		if !r.deleted[rows[i].ID] {
			valid[rows[i].CacheKey] = struct{}{}
		}
	}
	orphans, err := c.store.ListOrphans(valid)
	if err != nil {
		return err
	}
	for _, o := range orphans {
		if r.paths[o.Path] {
			continue
		}
		if !c.cfg.DryRun {
			if err := c.store.DeletePath(o.Path); err != nil {
				r.res.Errors = append(r.res.Errors, err.Error())
				continue
			}
		}
		r.res.OrphanedFiles++
		r.res.FilesDeleted++
		r.res.BytesFreed += o.Size
	}
	return nil
}

func (c *Cleaner) clearFlags(ctx context.Context, r *run) error {
	n, err := c.ledger.Albums().ClearFlagsWithoutArtwork(ctx)
	r.res.FlagsCleared = n
	return err
}

func fileSize(row *entities.ArtworkCache) int64 {
	if info, err := filestore.StatPath(row.FilePath); err == nil {
		return info.Size
	}
	return row.FileSizeBytes
}

func errorType(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}
