package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/logger"
)

const testKey = "0123456789abcdef"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "/static/artwork_cache/", logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	require.NoError(t, err)
	return s
}

func TestNew_CreatesVariantDirs(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	for _, v := range artwork.Variants() {
		info, err := os.Stat(filepath.Join(s.Root(), v.String()))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	_, err := New("", "/x", nil)
	assert.Error(t, err)
}

func TestWriteReadExists(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.False(t, s.Exists(testKey, artwork.Medium))

	p, err := s.Write(testKey, artwork.Medium, []byte("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), "medium", testKey+".jpg"), p)
	assert.True(t, s.Exists(testKey, artwork.Medium))
	assert.False(t, s.Exists(testKey, artwork.Large))

	data, err := s.Read(testKey, artwork.Medium)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	info, err := s.Stat(testKey, artwork.Medium)
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)

	_, err = s.Read(testKey, artwork.Small)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Stat(testKey, artwork.Small)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Write(testKey, artwork.Variant("bogus"), []byte("x"))
	assert.ErrorIs(t, err, artwork.ErrInvalidVariant)

	_, err = s.Write("../../etc/passwd", artwork.Small, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestWrite_OverwriteLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			_, err := s.Write(testKey, artwork.Small, []byte("same-bytes"))
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	entries, err := os.ReadDir(s.Dir(artwork.Small))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testKey+".jpg", entries[0].Name())
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, ok, err := s.Snapshot(testKey, artwork.Large)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := s.Write(testKey, artwork.Large, []byte("first"))
	require.NoError(t, err)
	prev, ok, err := s.Snapshot(testKey, artwork.Large)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.Write(testKey, artwork.Large, []byte("second"))
	require.NoError(t, err)
	require.NoError(t, s.Restore(p, prev))

	data, err := s.Read(testKey, artwork.Large)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	assert.Error(t, s.Restore(filepath.Join(t.TempDir(), "outside.jpg"), prev))
}

func TestFind_LegacyExtensions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	legacy := filepath.Join(s.Dir(artwork.Large), testKey+".png")
	require.NoError(t, os.WriteFile(legacy, []byte("png"), 0o644))

	p, ok := s.Find(testKey, artwork.Large)
	require.True(t, ok)
	assert.Equal(t, legacy, p)

	// .jpg wins when both exist
	_, err := s.Write(testKey, artwork.Large, []byte("jpg"))
	require.NoError(t, err)
	p, _ = s.Find(testKey, artwork.Large)
	assert.Equal(t, s.Path(testKey, artwork.Large), p)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	for _, v := range artwork.Variants() {
		_, err := s.Write(testKey, v, []byte("x"))
		require.NoError(t, err)
	}

	n, err := s.Delete(testKey, artwork.Medium)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, s.Exists(testKey, artwork.Medium))
	assert.True(t, s.Exists(testKey, artwork.Original))

	n, err = s.Delete(testKey)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	for _, v := range artwork.Variants() {
		assert.False(t, s.Exists(testKey, v))
	}

	n, err = s.Delete(testKey)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeletePath_StaysInsideRoot(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	outside := filepath.Join(t.TempDir(), "keep.jpg")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	require.Error(t, s.DeletePath(outside))
	require.Error(t, s.DeletePath(filepath.Join(s.Root(), "..", "escape.jpg")))
	assert.FileExists(t, outside)

	p, err := s.Write(testKey, artwork.Thumbnail, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.DeletePath(p))
	assert.NoFileExists(t, p)
	assert.NoError(t, s.DeletePath(p), "missing file is not an error")
}

func TestStats(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Write(testKey, artwork.Original, make([]byte, 100))
	require.NoError(t, err)
	_, err = s.Write(testKey, artwork.Large, make([]byte, 40))
	require.NoError(t, err)
	_, err = s.Write("fedcba9876543210", artwork.Large, make([]byte, 60))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(artwork.Large), "notes.txt"), []byte("ignored"), 0o644))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalFiles)
	assert.Equal(t, int64(200), st.TotalBytes)
	assert.Equal(t, VariantStats{Files: 2, Bytes: 100}, st.Variants[artwork.Large])
	assert.Equal(t, VariantStats{Files: 1, Bytes: 100}, st.Variants[artwork.Original])
	assert.Equal(t, VariantStats{}, st.Variants[artwork.Small])
}

func TestListOrphans(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	other := "fedcba9876543210"
	for _, v := range []artwork.Variant{artwork.Original, artwork.Small} {
		_, err := s.Write(testKey, v, []byte("x"))
		require.NoError(t, err)
		_, err = s.Write(other, v, []byte("y"))
		require.NoError(t, err)
	}
	// A stray temp file is never reported.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(artwork.Small), ".tmp-abc.jpg-1"), []byte("z"), 0o644))

	orphans, err := s.ListOrphans(CacheKeySet{testKey: {}})
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	for _, o := range orphans {
		assert.Equal(t, other, o.Key)
		assert.Equal(t, int64(1), o.Size)
	}

	orphans, err = s.ListOrphans(RowKeySet{
		artwork.RowKey(testKey, artwork.Original): {},
		artwork.RowKey(other, artwork.Original):   {},
		artwork.RowKey(other, artwork.Small):      {},
	})
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, testKey, orphans[0].Key)
	assert.Equal(t, artwork.Small, orphans[0].Variant)
}

func TestWebPath(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	assert.Equal(t, "/static/artwork_cache/thumbnail/"+testKey+".jpg", s.WebPath(artwork.Thumbnail, FileName(testKey)))
	assert.Equal(t, "/static/artwork_cache/large/"+testKey+".png",
		s.WebPathOf(artwork.Large, filepath.Join(s.Dir(artwork.Large), testKey+".png")))
}

func TestLock(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	unlock, err := s.Lock(t.Context())
	require.NoError(t, err)

	_, err = s.TryLock()
	require.ErrorIs(t, err, ErrLocked)

	ctx, cancel := context.WithTimeout(t.Context(), 250*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx)
	require.Error(t, err)

	unlock()

	unlock2, err := s.TryLock()
	require.NoError(t, err)
	unlock2()
}
