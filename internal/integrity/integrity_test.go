package integrity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklist/tracklist/internal/artcache"
	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore"
	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/fetcher"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/httpclient"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/transcode"
)

type noWait struct{}

func (noWait) Acquire(context.Context, string) time.Duration { return 0 }

type recordingMetrics struct {
	mu      sync.Mutex
	score   float64
	issues  map[string]int
	repairs map[string]int
}

func (m *recordingMetrics) RecordIntegrityAudit(score float64, issues map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.score = score
	m.issues = issues
}

func (m *recordingMetrics) RecordRepair(action string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.repairs == nil {
		m.repairs = make(map[string]int)
	}
	m.repairs[action] += n
}

type harness struct {
	auditor   *Auditor
	svc       *artcache.Service
	ledger    repository.Ledger
	store     *filestore.Store
	transport *httpmock.MockTransport
	metrics   *recordingMetrics
	reportDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

	mgr, err := datastore.NewSQLiteManager(filepath.Join(dir, "ledger.db"), nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })
	ledger := repository.NewLedger(mgr.DB(), false, nil)

	store, err := filestore.New(filepath.Join(dir, "artwork_cache"), "/static/artwork_cache", log)
	require.NoError(t, err)

	transport := httpmock.NewMockTransport()
	tc := transcode.New(transcode.Config{Workers: 2}, log, nil)
	svc, err := artcache.New(artcache.Deps{
		Store:      store,
		Ledger:     ledger,
		Fetcher:    fetcher.New(httpclient.New(&httpclient.Config{Transport: transport}), noWait{}, fetcher.Config{}, log, nil),
		Transcoder: tc,
		Log:        log,
	}, artcache.Config{})
	require.NoError(t, err)

	h := &harness{
		svc:       svc,
		ledger:    ledger,
		store:     store,
		transport: transport,
		metrics:   &recordingMetrics{},
		reportDir: filepath.Join(dir, "reports"),
	}
	h.auditor = New(store, ledger, svc, tc, Config{ReportDir: h.reportDir}, h.metrics, log)
	return h
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// cachedAlbum creates an album and runs a full cache cycle for it.
func (h *harness) cachedAlbum(t *testing.T, mbid string) artwork.Album {
	t.Helper()
	url := "http://images.test/" + mbid + ".png"
	data := testPNG(t, 320, 320)
	h.transport.RegisterResponder(http.MethodGet, url, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(http.StatusOK, data)
		resp.Header.Set("Content-Type", "image/png")
		return resp, nil
	})
	row := &entities.Album{MusicBrainzID: entities.StringPtr(mbid), Title: mbid, CoverArtURL: url}
	require.NoError(t, h.ledger.Albums().Create(t.Context(), row))
	album := row.Ref()
	require.NoError(t, h.svc.Cache(t.Context(), album, url))
	return album
}

func (h *harness) row(t *testing.T, album artwork.Album, v artwork.Variant) *entities.ArtworkCache {
	t.Helper()
	r, err := h.ledger.Artwork().Get(t.Context(), album.ID, v)
	require.NoError(t, err)
	return r
}

// damage builds a cache with one finding of every kind:
// album a has a missing small file and a garbage medium file (size
// mismatch plus corruption), album b lost its thumbnail row and file, and
// one orphan file sits in the large directory.
func (h *harness) damage(t *testing.T) (a, b artwork.Album, orphan string) {
	t.Helper()
	a = h.cachedAlbum(t, "album-a")
	b = h.cachedAlbum(t, "album-b")

	require.NoError(t, os.Remove(h.row(t, a, artwork.Small).FilePath))
	require.NoError(t, os.WriteFile(h.row(t, a, artwork.Medium).FilePath, []byte("not an image"), 0o644))

	thumb := h.row(t, b, artwork.Thumbnail)
	require.NoError(t, os.Remove(thumb.FilePath))
	_, err := h.ledger.Artwork().Delete(t.Context(), thumb.ID)
	require.NoError(t, err)

	orphan, err = h.store.Write(artwork.CacheKey("stray", 77), artwork.Large, testPNG(t, 10, 10))
	require.NoError(t, err)
	return a, b, orphan
}

func TestVerify_EmptyLedgerScores100(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rep, err := h.auditor.Verify(t.Context(), false)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, rep.Score, 0.001)
	assert.Zero(t, rep.Summary.IssuesFound)
	assert.NotEmpty(t, rep.ID)

	require.FileExists(t, rep.Path)
	assert.Regexp(t, `integrity_report_\d{8}_\d{6}\.json$`, rep.Path)

	var persisted map[string]any
	data, err := os.ReadFile(rep.Path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &persisted))
	assert.Equal(t, rep.ID, persisted["id"])
	assert.InDelta(t, 100.0, persisted["integrity_score"], 0.001)
}

func TestVerify_AuditModeFindsAndChangesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a, b, orphan := h.damage(t)

	rep, err := h.auditor.Verify(t.Context(), false)
	require.NoError(t, err)

	assert.Equal(t, 9, rep.Summary.TotalRecords)
	assert.Equal(t, IssueCounts{
		MissingFiles:    1,
		CorruptedFiles:  1,
		OrphanedFiles:   1,
		SizeMismatches:  1,
		MissingVariants: 2,
	}, rep.Issues)
	assert.InDelta(t, 100-6.0/9.0*100, rep.Score, 0.01)
	assert.Equal(t, 7, rep.Summary.ValidFiles)

	require.Len(t, rep.MissingFiles, 1)
	assert.Equal(t, artwork.Small, rep.MissingFiles[0].Variant)
	require.Len(t, rep.CorruptedFiles, 1)
	assert.Equal(t, artwork.Medium, rep.CorruptedFiles[0].Variant)

	gaps := map[int64]VariantGap{}
	for _, g := range rep.MissingVariants {
		gaps[g.AlbumID] = g
	}
	assert.Equal(t, []artwork.Variant{artwork.Small}, gaps[a.ID].Missing)
	assert.Equal(t, []artwork.Variant{artwork.Thumbnail}, gaps[b.ID].Missing)
	assert.True(t, gaps[b.ID].CanRebuild())

	assert.Empty(t, rep.Repairs)
	assert.FileExists(t, orphan)
	count, err := h.ledger.Artwork().Count(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)
	assert.Equal(t, 1, h.metrics.issues["orphaned_files"])
}

func TestVerify_RepairConverges(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a, b, orphan := h.damage(t)

	rep, err := h.auditor.Verify(t.Context(), true)
	require.NoError(t, err)
	assert.Empty(t, rep.FailedRepairs)
	assert.NoFileExists(t, orphan)

	counts := rep.repairCounts()
	assert.Equal(t, 1, counts[ActionRemoveMissingRecord])
	assert.Equal(t, 1, counts[ActionRefreshSize])
	assert.Equal(t, 1, counts[ActionRemoveCorrupt])
	assert.Equal(t, 1, counts[ActionRemoveOrphan])
	assert.Equal(t, 3, counts[ActionRegenerateVariant], "small and medium of a, thumbnail of b")
	assert.Equal(t, 3, h.metrics.repairs[ActionRegenerateVariant])

	for _, album := range []artwork.Album{a, b} {
		rows, err := h.ledger.Artwork().ListByAlbum(t.Context(), album.ID)
		require.NoError(t, err)
		assert.Len(t, rows, artwork.VariantCount)
	}

	again, err := h.auditor.Verify(t.Context(), false)
	require.NoError(t, err)
	assert.Zero(t, again.Summary.IssuesFound, "a repaired cache audits clean")
	assert.InDelta(t, 100.0, again.Score, 0.001)
}

func TestVerify_RepairClearsFlagOfAlbumWithoutFiles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	album := h.cachedAlbum(t, "vanished")
	for _, v := range artwork.Variants() {
		require.NoError(t, os.Remove(h.row(t, album, v).FilePath))
	}

	rep, err := h.auditor.Verify(t.Context(), true)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Issues.MissingFiles)
	assert.Equal(t, 1, rep.repairCounts()[ActionClearFlag])

	got, err := h.ledger.Albums().Get(t.Context(), album.ID)
	require.NoError(t, err)
	assert.False(t, got.ArtworkCached)
	assert.Nil(t, got.ArtworkCacheDate)
}

func TestVerify_MissingOriginalIsNotRebuilt(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	album := h.cachedAlbum(t, "no-original")
	orig := h.row(t, album, artwork.Original)
	require.NoError(t, os.Remove(orig.FilePath))
	require.NoError(t, os.Remove(h.row(t, album, artwork.Large).FilePath))

	rep, err := h.auditor.Verify(t.Context(), true)
	require.NoError(t, err)
	require.Len(t, rep.MissingVariants, 1)
	assert.False(t, rep.MissingVariants[0].CanRebuild())
	assert.Zero(t, rep.repairCounts()[ActionRegenerateVariant])
}

func TestVerify_RespectsMaintenanceLock(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	unlock, err := h.store.TryLock()
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = h.auditor.Verify(ctx, true)
	require.Error(t, err)
}

func TestScore(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 100.0, Score(0, 0), 0.001)
	assert.InDelta(t, 100.0, Score(3, 0), 0.001)
	assert.InDelta(t, 90.0, Score(1, 10), 0.001)
	assert.InDelta(t, 0.0, Score(20, 10), 0.001, "never negative")
}

func TestReportFileName(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 3, 1, 12, 4, 5, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "integrity_report_20250301_110405.json", ReportFileName(at))
}

func TestVariantGapJSON(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(VariantGap{AlbumID: 4, Missing: []artwork.Variant{artwork.Small}, HasOriginal: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"album_id":4,"missing":["small"],"has_original":true,"can_rebuild":true}`, string(data))
}

func TestQuickCheck(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	empty, err := h.auditor.QuickCheck(t.Context())
	require.NoError(t, err)
	assert.Zero(t, empty.SampleSize)
	assert.InDelta(t, 100.0, empty.EstimatedScore, 0.001)

	album := h.cachedAlbum(t, "quick")
	require.NoError(t, os.Remove(h.row(t, album, artwork.Thumbnail).FilePath))

	rep, err := h.auditor.QuickCheck(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5, rep.SampleSize)
	assert.Equal(t, int64(5), rep.TotalRecords)
	assert.Equal(t, 1, rep.SampleMissing)
	assert.Equal(t, int64(1), rep.EstimatedMissing)
	assert.InDelta(t, 80.0, rep.EstimatedScore, 0.001)
}

func TestValidateCacheFlags(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	liar := &entities.Album{MusicBrainzID: entities.StringPtr("liar"), Title: "liar"}
	require.NoError(t, h.ledger.Albums().Create(ctx, liar))
	require.NoError(t, h.ledger.Albums().SetArtworkCached(ctx, liar.ID, true, time.Now()))

	shy := h.cachedAlbum(t, "shy")
	require.NoError(t, h.ledger.Albums().SetArtworkCached(ctx, shy.ID, false, time.Time{}))

	fine := h.cachedAlbum(t, "fine")

	rep, err := h.auditor.ValidateCacheFlags(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.TotalAlbums)
	assert.Equal(t, []int64{liar.ID}, rep.IncorrectlyCached)
	assert.Equal(t, []int64{shy.ID}, rep.IncorrectlyUncached)
	assert.Equal(t, 1, rep.CorrectlyMarked)
	assert.Zero(t, rep.Fixed)

	got, err := h.ledger.Albums().Get(ctx, liar.ID)
	require.NoError(t, err)
	assert.True(t, got.ArtworkCached, "report-only run changes nothing")

	rep, err = h.auditor.ValidateCacheFlags(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Fixed)

	got, err = h.ledger.Albums().Get(ctx, liar.ID)
	require.NoError(t, err)
	assert.False(t, got.ArtworkCached)
	got, err = h.ledger.Albums().Get(ctx, shy.ID)
	require.NoError(t, err)
	assert.True(t, got.ArtworkCached)
	assert.NotNil(t, got.ArtworkCacheDate)

	rep, err = h.auditor.ValidateCacheFlags(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.CorrectlyMarked, fmt.Sprintf("fine album %d stays correct", fine.ID))
}
