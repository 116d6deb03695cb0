package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSink(t *testing.T, opts FileSinkOptions) (*FileSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artwork.log")
	s, err := OpenFileSink(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestFileSink_BuffersUntilFlush(t *testing.T) {
	t.Parallel()

	s, path := openSink(t, FileSinkOptions{FlushInterval: time.Hour})
	_, err := s.Write([]byte("cached album 1\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, s.Flush())
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cached album 1\n", string(data))
}

func TestFileSink_PeriodicFlush(t *testing.T) {
	t.Parallel()

	s, path := openSink(t, FileSinkOptions{FlushInterval: 10 * time.Millisecond})
	_, err := s.Write([]byte("audit finished\n"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "audit finished")
	}, time.Second, 10*time.Millisecond)
}

func TestFileSink_AppendsToExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "maintenance.log")
	require.NoError(t, os.WriteFile(path, []byte("earlier run\n"), 0o600))

	s, err := OpenFileSink(path, FileSinkOptions{})
	require.NoError(t, err)
	_, err = s.Write([]byte("this run\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "earlier run\nthis run\n", string(data))
}

func TestFileSink_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := openSink(t, FileSinkOptions{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, s.Flush())
}

func TestFileSink_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	s, path := openSink(t, FileSinkOptions{BufferSize: 64})
	line := []byte("variant written\n")

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				_, _ = s.Write(line)
			}
		})
	}
	wg.Wait()
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 400, strings.Count(string(data), "variant written\n"))
}

func TestFileSink_RotatesAndPrunes(t *testing.T) {
	t.Parallel()

	s, path := openSink(t, FileSinkOptions{MaxBytes: 32, MaxBackups: 2})
	for range 5 {
		_, err := s.Write([]byte("0123456789abcdefghij\n"))
		require.NoError(t, err)
		// Rotated names carry millisecond timestamps.
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, s.Flush())

	backups := s.Backups()
	assert.Len(t, backups, 2)
	for _, b := range backups {
		assert.True(t, strings.HasPrefix(filepath.Base(b), "artwork-"), b)
		assert.Equal(t, ".log", filepath.Ext(b))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdefghij\n", string(data))
}

func TestOpenFileSink_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := OpenFileSink(filepath.Join(t.TempDir(), "missing", "x.log"), FileSinkOptions{})
	assert.Error(t, err)
}
