package logger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tracklist/tracklist/internal/errors"
)

const (
	// DefaultSinkBufferSize is the write buffer size of a FileSink.
	DefaultSinkBufferSize = 32 * 1024
	// DefaultSinkFlushInterval is how often buffered records reach the OS.
	DefaultSinkFlushInterval = 5 * time.Second

	logFilePerm     = 0o600
	rotationLayout  = "20060102T150405.000"
	rotationPattern = "-????????T??????.???"
)

// FileSinkOptions configures OpenFileSink. Zero values select defaults;
// MaxBytes 0 disables rotation and MaxBackups 0 keeps every rotated file.
type FileSinkOptions struct {
	BufferSize    int
	FlushInterval time.Duration
	MaxBytes      int64
	MaxBackups    int
}

// FileSink is a buffered, size-rotated log file. Rotated files are named
// <name>-<timestamp><ext>, e.g. artwork-20260102T030405.000.log.
type FileSink struct {
	path string
	opts FileSinkOptions

	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	size int64

	stop context.CancelFunc
	wg   sync.WaitGroup
}

var _ io.WriteCloser = (*FileSink)(nil)

// OpenFileSink opens path for appending and starts the periodic flush.
func OpenFileSink(path string, opts FileSinkOptions) (*FileSink, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultSinkBufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultSinkFlushInterval
	}

	s := &FileSink{path: path, opts: opts}
	if err := s.open(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.wg.Go(func() { s.flushLoop(ctx) })
	return s, nil
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm) //nolint:gosec // path comes from config
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", s.path, err)
	}
	s.file = f
	s.size = 0
	if info, err := f.Stat(); err == nil {
		s.size = info.Size()
	}
	if s.buf == nil {
		s.buf = bufio.NewWriterSize(f, s.opts.BufferSize)
	} else {
		s.buf.Reset(f)
	}
	return nil
}

func (s *FileSink) flushLoop(ctx context.Context) {
	t := time.NewTicker(s.opts.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.Flush()
		}
	}
}

// Write buffers p, rotating first when p would push the file past MaxBytes.
func (s *FileSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, os.ErrClosed
	}
	if s.opts.MaxBytes > 0 && s.size > 0 && s.size+int64(len(p)) > s.opts.MaxBytes {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := s.buf.Write(p)
	s.size += int64(n)
	return n, err
}

// rotate renames the current file aside and reopens path. Caller holds mu.
func (s *FileSink) rotate() error {
	if err := s.sync(); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file for rotation: %w", err)
	}

	ext := filepath.Ext(s.path)
	rotated := strings.TrimSuffix(s.path, ext) + "-" + time.Now().Format(rotationLayout) + ext
	if err := os.Rename(s.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	if err := s.open(); err != nil {
		return err
	}
	s.prune()
	return nil
}

// Backups lists rotated files for this sink, oldest first.
func (s *FileSink) Backups() []string {
	ext := filepath.Ext(s.path)
	matches, err := filepath.Glob(strings.TrimSuffix(s.path, ext) + rotationPattern + ext)
	if err != nil {
		return nil
	}
	slices.Sort(matches)
	return matches
}

func (s *FileSink) prune() {
	if s.opts.MaxBackups <= 0 {
		return
	}
	backups := s.Backups()
	for len(backups) > s.opts.MaxBackups {
		_ = os.Remove(backups[0])
		backups = backups[1:]
	}
}

// Flush hands buffered records to the OS without syncing.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.buf.Flush()
}

func (s *FileSink) sync() error {
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	return s.file.Sync()
}

// Path returns the active file path.
func (s *FileSink) Path() string {
	return s.path
}

// Close stops the flush loop, syncs and closes the file. Repeated calls
// return nil.
func (s *FileSink) Close() error {
	s.stop()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := errors.Join(s.sync(), s.file.Close())
	s.file = nil
	return err
}
