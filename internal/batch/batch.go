// Package batch backfills artwork for many albums with bounded concurrency
// and per-album retries, and runs the lightweight cache maintenance passes
// that go with it.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/fetcher"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/logger"
)

// Defaults for Config.
const (
	DefaultBatchSize   = 10
	DefaultConcurrency = 3
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 2 * time.Second
)

// Album outcome labels, also used as metric status values.
const (
	StatusSuccess     = "success"
	StatusFailed      = "failed"
	StatusSkipped     = "skipped"
	StatusRegenerated = "regenerated"
)

// Cacher is the part of the orchestrator the processor drives.
type Cacher interface {
	Cache(ctx context.Context, album artwork.Album, url string) error
	ResolveArtworkURL(ctx context.Context, album artwork.Album) (string, error)
	RegenerateVariant(ctx context.Context, album artwork.Album, v artwork.Variant) (string, error)
}

// Metrics receives one call per album handled.
type Metrics interface {
	RecordBatchAlbum(status string)
}

type noopMetrics struct{}

func (noopMetrics) RecordBatchAlbum(string) {}

// Config controls batching and retries. Zero values take the defaults.
type Config struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	// RetryDelay is multiplied by the attempt number.
	RetryDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// AlbumError records why one album failed.
type AlbumError struct {
	AlbumID  int64  `json:"album_id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
	Panic    bool   `json:"panic,omitempty"`
}

// Report summarizes one run.
type Report struct {
	RunID       string        `json:"run_id"`
	Operation   string        `json:"operation"`
	Total       int           `json:"total"`
	Successful  int           `json:"successful"`
	Regenerated int           `json:"regenerated"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Retried     int           `json:"retried"`
	Errors      []AlbumError  `json:"errors,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Cancelled   bool          `json:"cancelled,omitempty"`

	mu sync.Mutex
}

// SuccessRate is the share of albums that ended cached, in percent.
func (r *Report) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Successful+r.Regenerated) / float64(r.Total) * 100
}

func newReport(op string) *Report {
	return &Report{RunID: uuid.NewString(), Operation: op, StartedAt: time.Now()}
}

func (r *Report) add(fn func(r *Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// Processor runs backfills. Runs take the file store maintenance lock, so
// at most one maintenance job touches the cache at a time.
type Processor struct {
	cache   Cacher
	store   *filestore.Store
	ledger  repository.Ledger
	cfg     Config
	log     logger.Logger
	metrics Metrics

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Processor. A nil metrics or log falls back to defaults.
func New(cache Cacher, store *filestore.Store, ledger repository.Ledger, cfg Config, m Metrics, log logger.Logger) *Processor {
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = logger.Global().Module("maintenance.batch")
	}
	return &Processor{
		cache:   cache,
		store:   store,
		ledger:  ledger,
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: m,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// job is one album to process. missing lists the variants to regenerate
// from the stored original; empty means a full cache cycle.
type job struct {
	album   artwork.Album
	missing []artwork.Variant
}

// ProcessAlbums caches artwork for albums. Albums whose ledger already
// holds all five variants are skipped unless force is set.
func (p *Processor) ProcessAlbums(ctx context.Context, albums []artwork.Album, force bool) (*Report, error) {
	unlock, err := p.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return p.processAlbums(ctx, "process_albums", albums, force)
}

// ProcessAll runs ProcessAlbums over every album in the ledger.
func (p *Processor) ProcessAll(ctx context.Context, force bool) (*Report, error) {
	unlock, err := p.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	albums, err := p.ledger.Albums().List(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]artwork.Album, 0, len(albums))
	for i := range albums {
		refs = append(refs, albums[i].Ref())
	}
	return p.processAlbums(ctx, "process_all", refs, force)
}

func (p *Processor) processAlbums(ctx context.Context, op string, albums []artwork.Album, force bool) (*Report, error) {
	rep := newReport(op)
	rep.Total = len(albums)

	jobs := make([]job, 0, len(albums))
	if force {
		for _, a := range albums {
			jobs = append(jobs, job{album: a})
		}
	} else {
		counts, err := p.ledger.Artwork().VariantCounts(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range albums {
			if counts[a.ID] >= artwork.VariantCount {
				rep.Skipped++
				p.metrics.RecordBatchAlbum(StatusSkipped)
				continue
			}
			jobs = append(jobs, job{album: a})
		}
	}

	p.run(ctx, rep, jobs)
	return rep, nil
}

// run processes jobs in fixed-size batches with at most Concurrency albums
// in flight. Cancellation stops scheduling new albums.
func (p *Processor) run(ctx context.Context, rep *Report, jobs []job) {
	p.log.Info("batch run started",
		logger.String("run_id", rep.RunID),
		logger.String("operation", rep.Operation),
		logger.Int("albums", len(jobs)),
		logger.Int("batch_size", p.cfg.BatchSize),
		logger.Int("concurrency", p.cfg.Concurrency))

	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	for start := 0; start < len(jobs) && ctx.Err() == nil; start += p.cfg.BatchSize {
		batch := jobs[start:min(start+p.cfg.BatchSize, len(jobs))]

		var wg sync.WaitGroup
		for _, j := range batch {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Go(func() {
				defer sem.Release(1)
				p.processOne(ctx, rep, j)
			})
		}
		wg.Wait()

		p.log.Debug("batch finished",
			logger.String("run_id", rep.RunID),
			logger.Int("done", min(start+len(batch), len(jobs))),
			logger.Int("of", len(jobs)))
	}

	rep.Duration = time.Since(rep.StartedAt)
	rep.Cancelled = ctx.Err() != nil
	p.log.Info("batch run finished",
		logger.String("run_id", rep.RunID),
		logger.Int("successful", rep.Successful),
		logger.Int("regenerated", rep.Regenerated),
		logger.Int("failed", rep.Failed),
		logger.Int("skipped", rep.Skipped),
		logger.Int("retried", rep.Retried),
		logger.Duration("duration", rep.Duration))
}

// processOne handles one album. A panic is recorded as a failure of that
// album only.
func (p *Processor) processOne(ctx context.Context, rep *Report, j job) {
	attempts := 0
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic while processing album",
				logger.Int64("album_id", j.album.ID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			p.fail(rep, j.album, attempts, fmt.Errorf("panic: %v", r), true)
		}
	}()

	if len(j.missing) > 0 && p.regenerate(ctx, j) {
		rep.add(func(r *Report) { r.Regenerated++ })
		p.metrics.RecordBatchAlbum(StatusRegenerated)
		return
	}

	url, err := p.cache.ResolveArtworkURL(ctx, j.album)
	if err != nil {
		p.fail(rep, j.album, 0, err, false)
		return
	}
	if url == "" {
		p.log.Debug("album has no artwork url", logger.Int64("album_id", j.album.ID))
		rep.add(func(r *Report) { r.Skipped++ })
		p.metrics.RecordBatchAlbum(StatusSkipped)
		return
	}

	for attempts = 1; ; attempts++ {
		err = p.cache.Cache(ctx, j.album, url)
		if err == nil {
			rep.add(func(r *Report) { r.Successful++ })
			p.metrics.RecordBatchAlbum(StatusSuccess)
			return
		}
		if attempts >= p.cfg.MaxRetries || !Retryable(err) || ctx.Err() != nil {
			break
		}
		rep.add(func(r *Report) { r.Retried++ })
		p.log.Warn("album attempt failed, retrying",
			logger.Int64("album_id", j.album.ID),
			logger.Int("attempt", attempts),
			logger.Error(err))
		if serr := p.sleep(ctx, p.cfg.RetryDelay*time.Duration(attempts)); serr != nil {
			break
		}
	}
	p.fail(rep, j.album, attempts, err, false)
}

// regenerate derives the missing variants from the stored original. It
// reports false when the original is absent or any variant fails.
func (p *Processor) regenerate(ctx context.Context, j job) bool {
	if !p.store.Exists(j.album.CacheKey(), artwork.Original) {
		return false
	}
	for _, v := range j.missing {
		if v == artwork.Original {
			return false
		}
		if _, err := p.cache.RegenerateVariant(ctx, j.album, v); err != nil {
			p.log.Warn("regeneration failed, falling back to a full cache cycle",
				logger.Int64("album_id", j.album.ID),
				logger.String("variant", v.String()),
				logger.Error(err))
			return false
		}
	}
	return true
}

func (p *Processor) fail(rep *Report, album artwork.Album, attempts int, err error, panicked bool) {
	rep.add(func(r *Report) {
		r.Failed++
		r.Errors = append(r.Errors, AlbumError{
			AlbumID:  album.ID,
			Attempts: attempts,
			Error:    err.Error(),
			Panic:    panicked,
		})
	})
	p.metrics.RecordBatchAlbum(StatusFailed)
	p.log.Error("album processing failed",
		logger.Int64("album_id", album.ID),
		logger.Int("attempts", attempts),
		logger.Error(err))
}

// Retryable reports whether a failed cache cycle is worth another attempt
// at this layer. A 404, an unusable URL and bad input are final. Other
// download failures, transcode and storage errors are retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := fetcher.KindOf(err); ok {
		return kind.Retryable()
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.IsCategory(err, errors.CategoryValidation):
		return false
	}
	return true
}
