// Package scheduler runs periodic artwork cache maintenance: cleanup,
// integrity audits, quick checks, cache flag validation and hot cache
// clearing, each on its own ticker.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracklist/tracklist/internal/batch"
	"github.com/tracklist/tracklist/internal/cleanup"
	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/integrity"
	"github.com/tracklist/tracklist/internal/logger"
)

// Job names, also used as metric labels.
const (
	JobCleanup        = "cleanup"
	JobIntegrity      = "integrity"
	JobQuickCheck     = "quick_check"
	JobFlagValidation = "flag_validation"
	JobMemoryClear    = "memory_clear"
	JobBackfill       = "backfill"
)

// Job run statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Cleaner runs cleanup policies.
type Cleaner interface {
	Run(ctx context.Context) (*cleanup.Result, error)
}

// Auditor runs integrity checks.
type Auditor interface {
	Verify(ctx context.Context, repair bool) (*integrity.Report, error)
	QuickCheck(ctx context.Context) (*integrity.QuickReport, error)
	ValidateCacheFlags(ctx context.Context, fix bool) (*integrity.FlagReport, error)
}

// Backfiller fills in missing variants.
type Backfiller interface {
	ProcessMissingVariants(ctx context.Context) (*batch.Report, error)
}

// MemoryCache is the in-process hot cache.
type MemoryCache interface {
	ClearMemoryCache()
}

// Metrics receives job outcomes.
type Metrics interface {
	RecordJobRun(job, status string, at time.Time)
}

type noopMetrics struct{}

func (noopMetrics) RecordJobRun(string, string, time.Time) {}

// Deps are the components the scheduled jobs drive. A nil component
// disables its jobs.
type Deps struct {
	Cleaner    Cleaner
	Auditor    Auditor
	Backfiller Backfiller
	Memory     MemoryCache
}

// JobStatus describes a job for status reporting.
type JobStatus struct {
	Name       string        `json:"name"`
	Interval   time.Duration `json:"interval"`
	Running    bool          `json:"running"`
	LastRun    time.Time     `json:"last_run,omitzero"`
	LastStatus string        `json:"last_status,omitempty"`
}

type job struct {
	name     string
	interval time.Duration
	// locked jobs take the maintenance lock and are skipped while another
	// job holds it.
	locked bool
	run    func(ctx context.Context) error

	running    atomic.Bool
	mu         sync.Mutex
	lastRun    time.Time
	lastStatus string
}

// Scheduler owns the maintenance tickers.
type Scheduler struct {
	settings conf.SchedulerSettings
	store    *filestore.Store
	backfill Backfiller
	jobs     []*job
	metrics  Metrics
	log      logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a Scheduler. Jobs with a zero interval or a nil component are
// not scheduled.
func New(settings conf.SchedulerSettings, deps Deps, store *filestore.Store, m Metrics, log logger.Logger) *Scheduler {
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = logger.Global().Module("scheduler")
	}
	s := &Scheduler{
		settings: settings,
		store:    store,
		backfill: deps.Backfiller,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}

	if c := deps.Cleaner; c != nil {
		s.add(JobCleanup, settings.CleanupInterval, true, func(ctx context.Context) error {
			res, err := c.Run(ctx)
			if err != nil {
				return err
			}
			s.log.Info("scheduled cleanup finished",
				logger.Int("records_deleted", res.RecordsDeleted),
				logger.Int("files_deleted", res.FilesDeleted),
				logger.Int64("bytes_freed", res.BytesFreed))
			return nil
		})
	}
	if a := deps.Auditor; a != nil {
		repair := settings.RepairOnAudit
		s.add(JobIntegrity, settings.IntegrityInterval, true, func(ctx context.Context) error {
			rep, err := a.Verify(ctx, repair)
			if err != nil {
				return err
			}
			if rep.Score < 100 {
				s.log.Warn("integrity audit found issues",
					logger.Float64("score", rep.Score),
					logger.Int("issues", rep.Summary.IssuesFound),
					logger.Bool("repair", repair))
			}
			return nil
		})
		s.add(JobQuickCheck, settings.QuickCheckInterval, false, func(ctx context.Context) error {
			rep, err := a.QuickCheck(ctx)
			if err != nil {
				return err
			}
			if rep.SampleMissing > 0 {
				s.log.Warn("quick check found missing files",
					logger.Int("sample_missing", rep.SampleMissing),
					logger.Int64("estimated_missing", rep.EstimatedMissing))
			}
			return nil
		})
		s.add(JobFlagValidation, settings.FlagValidationInterval, true, func(ctx context.Context) error {
			_, err := a.ValidateCacheFlags(ctx, true)
			return err
		})
	}
	if mc := deps.Memory; mc != nil {
		s.add(JobMemoryClear, settings.MemoryClearInterval, false, func(context.Context) error {
			mc.ClearMemoryCache()
			return nil
		})
	}
	return s
}

func (s *Scheduler) add(name string, interval time.Duration, locked bool, run func(context.Context) error) {
	if interval <= 0 {
		s.log.Debug("job not scheduled", logger.String("job", name))
		return
	}
	s.jobs = append(s.jobs, &job{name: name, interval: interval, locked: locked, run: run})
}

// Start launches one goroutine per job and, when configured, a one-off
// backfill of missing variants. Jobs stop when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	if !s.settings.Enabled {
		s.log.Info("maintenance scheduler disabled")
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	if s.settings.BackfillOnStart && s.backfill != nil {
		b := &job{name: JobBackfill, locked: true, run: func(ctx context.Context) error {
			rep, err := s.backfill.ProcessMissingVariants(ctx)
			if err != nil {
				return err
			}
			s.log.Info("startup backfill finished",
				logger.Int("albums", rep.Total),
				logger.Int("regenerated", rep.Regenerated),
				logger.Int("failed", rep.Failed))
			return nil
		}}
		s.wg.Go(func() { s.execute(ctx, b) })
	}

	for _, j := range s.jobs {
		s.wg.Go(func() { s.loop(ctx, j) })
	}
	s.log.Info("maintenance scheduler started", logger.Int("jobs", len(s.jobs)))
}

// Stop cancels all jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("maintenance scheduler stopped")
}

// Jobs reports the scheduled jobs and their last outcome.
func (s *Scheduler) Jobs() []JobStatus {
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		out = append(out, JobStatus{
			Name:       j.name,
			Interval:   j.interval,
			Running:    j.running.Load(),
			LastRun:    j.lastRun,
			LastStatus: j.lastStatus,
		})
		j.mu.Unlock()
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.execute(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

// execute runs j once unless it is already running in this process or,
// for locked jobs, another job holds the maintenance lock.
func (s *Scheduler) execute(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		s.finish(j, StatusSkipped)
		return
	}
	defer j.running.Store(false)

	if j.locked {
		unlock, err := s.store.TryLock()
		if errors.Is(err, filestore.ErrLocked) {
			s.log.Info("maintenance lock held, skipping job", logger.String("job", j.name))
			s.finish(j, StatusSkipped)
			return
		}
		if err != nil {
			s.log.Error("failed to probe maintenance lock", logger.String("job", j.name), logger.Error(err))
			s.finish(j, StatusError)
			return
		}
		// The job takes the lock itself.
		unlock()
	}

	start := s.now()
	err := j.run(ctx)
	switch {
	case err == nil:
		s.log.Debug("job finished", logger.String("job", j.name), logger.Duration("duration", s.now().Sub(start)))
		s.finish(j, StatusSuccess)
	case errors.Is(err, filestore.ErrLocked):
		s.finish(j, StatusSkipped)
	case ctx.Err() != nil:
		s.log.Info("job cancelled", logger.String("job", j.name))
		s.finish(j, StatusError)
	default:
		s.log.Error("job failed", logger.String("job", j.name), logger.Error(err))
		s.finish(j, StatusError)
	}
}

func (s *Scheduler) finish(j *job, status string) {
	at := s.now()
	j.mu.Lock()
	j.lastRun, j.lastStatus = at, status
	j.mu.Unlock()
	s.metrics.RecordJobRun(j.name, status, at)
}
