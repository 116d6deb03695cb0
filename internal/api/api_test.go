package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tracklist/tracklist/internal/artcache"
	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/batch"
	"github.com/tracklist/tracklist/internal/cleanup"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/fetcher"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/integrity"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability"
	"github.com/tracklist/tracklist/internal/scheduler"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeArtwork struct {
	mu        sync.Mutex
	resolved  []artwork.Variant
	cached    map[int64]string
	cacheErr  error
	lookupURL string
	cleared   []int64
	stats     atomic.Int32
}

func (f *fakeArtwork) Resolve(_ context.Context, album artwork.Album, v artwork.Variant) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, v)
	return "/static/artwork_cache/" + string(v) + "/" + album.CacheKey() + ".jpg"
}

func (f *fakeArtwork) Cache(_ context.Context, album artwork.Album, url string) error {
	if f.cacheErr != nil {
		return f.cacheErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached == nil {
		f.cached = make(map[int64]string)
	}
	f.cached[album.ID] = url
	return nil
}

func (f *fakeArtwork) ResolveArtworkURL(_ context.Context, album artwork.Album) (string, error) {
	if album.ArtworkURL != "" {
		return album.ArtworkURL, nil
	}
	return f.lookupURL, nil
}

func (f *fakeArtwork) ClearAlbumCache(_ context.Context, album artwork.Album) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, album.ID)
	return true
}

func (f *fakeArtwork) Statistics(context.Context) (*artcache.Statistics, error) {
	f.stats.Add(1)
	return &artcache.Statistics{Coverage: 50, GeneratedAt: time.Now()}, nil
}

type fakeAlbums map[int64]*entities.Album

func (f fakeAlbums) Get(_ context.Context, id int64) (*entities.Album, error) {
	if a, ok := f[id]; ok {
		return a, nil
	}
	return nil, repository.ErrAlbumNotFound
}

type fakeAuditor struct {
	repair atomic.Bool
	calls  atomic.Int32
}

func (f *fakeAuditor) Verify(_ context.Context, repair bool) (*integrity.Report, error) {
	f.calls.Add(1)
	f.repair.Store(repair)
	return &integrity.Report{ID: "audit-1", Repair: repair, Score: 100}, nil
}

func (f *fakeAuditor) QuickCheck(context.Context) (*integrity.QuickReport, error) {
	return &integrity.QuickReport{SampleSize: 4, SampleValid: 4, EstimatedScore: 100}, nil
}

type fakeBackfiller struct {
	force   atomic.Bool
	all     atomic.Int32
	missing atomic.Int32
}

func (f *fakeBackfiller) ProcessAll(_ context.Context, force bool) (*batch.Report, error) {
	f.all.Add(1)
	f.force.Store(force)
	return &batch.Report{Operation: "process_all", Total: 2, Successful: 2}, nil
}

func (f *fakeBackfiller) ProcessMissingVariants(context.Context) (*batch.Report, error) {
	f.missing.Add(1)
	return &batch.Report{Operation: "missing_variants"}, nil
}

type fakeCleaner struct{ dryRun bool }

func (f fakeCleaner) Run(context.Context) (*cleanup.Result, error) {
	return &cleanup.Result{DryRun: f.dryRun}, nil
}

type fakeLocker struct{ locked atomic.Bool }

func (l *fakeLocker) TryLock() (func(), error) {
	if l.locked.Load() {
		return nil, filestore.ErrLocked
	}
	return func() {}, nil
}

type fakeJobs struct{}

func (fakeJobs) Jobs() []scheduler.JobStatus {
	return []scheduler.JobStatus{{Name: scheduler.JobCleanup, Interval: time.Hour}}
}

type harness struct {
	srv      *Server
	art      *fakeArtwork
	auditor  *fakeAuditor
	backfill *fakeBackfiller
	locker   *fakeLocker
	metrics  *observability.Metrics
	cacheDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		art:      &fakeArtwork{lookupURL: "http://coverart.example/front.jpg"},
		auditor:  &fakeAuditor{},
		backfill: &fakeBackfiller{},
		locker:   &fakeLocker{},
		cacheDir: t.TempDir(),
	}
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	h.metrics = m

	albums := fakeAlbums{
		1: {ID: 1, MusicBrainzID: entities.StringPtr("mbid-1"), Title: "Known URL", CoverArtURL: "http://covers.example/1.jpg"},
		2: {ID: 2, MusicBrainzID: entities.StringPtr("mbid-2"), Title: "Lookup"},
	}

	cfg := DefaultConfig()
	cfg.URLPrefix = "/static/artwork_cache"
	cfg.CacheDir = h.cacheDir
	cfg.MetricsEnabled = true

	srv, err := NewWithConfig(cfg,
		WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)),
		WithArtwork(h.art, albums),
		WithAuditor(h.auditor),
		WithBackfiller(h.backfill),
		WithLocker(h.locker),
		WithJobs(fakeJobs{}),
		WithMetrics(m.Handler(), m.HTTP),
		WithCleanupRunner(func(dry bool) Cleaner { return fakeCleaner{dryRun: dry} }),
	)
	require.NoError(t, err)
	h.srv = srv
	return h
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	h.srv.Echo().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestGetArtwork_ReturnsURL(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/albums/1/artwork/Thumbnail", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[ArtworkURLResponse](t, rec)
	key := artwork.CacheKey("mbid-1", 1)
	assert.Equal(t, int64(1), got.AlbumID)
	assert.Equal(t, artwork.Thumbnail, got.Variant)
	assert.Equal(t, "/static/artwork_cache/thumbnail/"+key+".jpg", got.URL)
}

func TestGetArtwork_Redirect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/albums/1/artwork/large?redirect=true", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/static/artwork_cache/large/"+artwork.CacheKey("mbid-1", 1)+".jpg", rec.Header().Get(echo.HeaderLocation))
}

func TestGetArtwork_Errors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"invalid variant", "/api/v1/albums/1/artwork/huge", http.StatusBadRequest},
		{"invalid id", "/api/v1/albums/abc/artwork/small", http.StatusBadRequest},
		{"negative id", "/api/v1/albums/-4/artwork/small", http.StatusBadRequest},
		{"unknown album", "/api/v1/albums/99/artwork/small", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.code, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.Len(t, resp.CorrelationID, 8)
		})
	}
	assert.Empty(t, h.art.resolved, "nothing resolved for rejected requests")
}

func TestCacheArtwork(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/albums/1/artwork", `{"url":"http://elsewhere.example/a.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://elsewhere.example/a.png", h.art.cached[1])

	rec = h.do(t, http.MethodPost, "/api/v1/albums/1/artwork", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://covers.example/1.jpg", h.art.cached[1], "stored cover url used")

	rec = h.do(t, http.MethodPost, "/api/v1/albums/2/artwork", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://coverart.example/front.jpg", h.art.cached[2], "looked up url used")
}

func TestCacheArtwork_NoURLKnown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.art.lookupURL = ""

	rec := h.do(t, http.MethodPost, "/api/v1/albums/2/artwork", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCacheArtwork_DownloadFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.art.cacheErr = &fetcher.DownloadError{Kind: fetcher.KindTransient, URL: "x", Attempts: 3, Err: errors.NewStd("timeout")}

	rec := h.do(t, http.MethodPost, "/api/v1/albums/1/artwork", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestCacheArtwork_InvalidBody(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/albums/1/artwork", `{"url":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.art.cached)
}

func TestClearArtwork(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodDelete, "/api/v1/albums/2/artwork", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{2}, h.art.cleared)
}

func TestStats_CachedBetweenRequests(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	first := h.do(t, http.MethodGet, "/api/v1/artwork/stats", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := h.do(t, http.MethodGet, "/api/v1/artwork/stats", "")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, int32(1), h.art.stats.Load())

	// Mutations drop the cached figures.
	h.do(t, http.MethodDelete, "/api/v1/albums/1/artwork", "")
	h.do(t, http.MethodGet, "/api/v1/artwork/stats", "")
	assert.Equal(t, int32(2), h.art.stats.Load())
}

func TestAudit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/artwork/audit?repair=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.auditor.repair.Load())
	assert.Equal(t, "audit-1", decode[map[string]any](t, rec)["id"])

	rec = h.do(t, http.MethodPost, "/api/v1/artwork/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.auditor.repair.Load())

	rec = h.do(t, http.MethodPost, "/api/v1/artwork/audit?repair=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, int32(2), h.auditor.calls.Load())
}

func TestQuickCheck(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/artwork/quickcheck", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[integrity.QuickReport](t, rec)
	assert.Equal(t, 4, got.SampleSize)
	assert.InDelta(t, 100.0, got.EstimatedScore, 0.001)
}

func TestMaintenance_ConflictWhileLocked(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.locker.locked.Store(true)

	for _, target := range []string{
		"/api/v1/artwork/audit",
		"/api/v1/artwork/backfill",
		"/api/v1/artwork/cleanup",
	} {
		rec := h.do(t, http.MethodPost, target, "")
		assert.Equal(t, http.StatusConflict, rec.Code, target)
	}
	assert.Zero(t, h.auditor.calls.Load())
	assert.Zero(t, h.backfill.all.Load())

	// The quick check takes no lock.
	rec := h.do(t, http.MethodGet, "/api/v1/artwork/quickcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBackfill(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/artwork/backfill?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.backfill.force.Load())
	assert.Equal(t, 2, decode[batch.Report](t, rec).Successful)

	rec = h.do(t, http.MethodPost, "/api/v1/artwork/backfill?missing_only=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), h.backfill.missing.Load())
	assert.Equal(t, int32(1), h.backfill.all.Load())
}

func TestCleanup_DryRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/artwork/cleanup?dry_run=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[cleanup.Result](t, rec).DryRun)

	rec = h.do(t, http.MethodPost, "/api/v1/artwork/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[cleanup.Result](t, rec).DryRun)
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/maintenance/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"cleanup"`)
}

func TestStaticArtwork(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	dir := filepath.Join(h.cacheDir, "small")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0123456789abcdef.jpg"), []byte("jpeg bytes"), 0o644))

	rec := h.do(t, http.MethodGet, "/static/artwork_cache/small/0123456789abcdef.jpg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg bytes", rec.Body.String())

	rec = h.do(t, http.MethodGet, "/static/artwork_cache/small/missing.jpg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.do(t, http.MethodGet, "/api/v1/albums/1/artwork/small", "")

	rec := h.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/v1/albums/:id/artwork/:variant"`)
	assert.NotContains(t, rec.Body.String(), `route="/metrics"`)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
}

func TestStartShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	srv, err := NewWithConfig(cfg, WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	require.NotNil(t, srv.Addr())

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no listen", func(c *Config) { c.Listen = "" }, "listen address"},
		{"relative prefix", func(c *Config) { c.URLPrefix = "static"; c.CacheDir = "x" }, "must start with /"},
		{"prefix without dir", func(c *Config) { c.URLPrefix = "/static" }, "cache directory"},
		{"prefix under api", func(c *Config) { c.URLPrefix = "/api/v1/files"; c.CacheDir = "x" }, "collides"},
		{"bad metrics path", func(c *Config) { c.MetricsEnabled = true; c.MetricsPath = "metrics" }, "metrics path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewErrorResponse_AnonymizesURLs(t *testing.T) {
	t.Parallel()

	resp := NewErrorResponse(errors.NewStd("GET https://covers.example.com/a.jpg?token=abc: 503"), "failed", http.StatusBadGateway)
	assert.NotContains(t, resp.Error, "covers.example.com")
	assert.NotContains(t, resp.Error, "token=abc")
	assert.Equal(t, "failed", resp.Message)
	assert.Len(t, resp.CorrelationID, 8)
}
