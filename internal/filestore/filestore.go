// Package filestore maps (cache key, variant) pairs onto files under one
// root directory with a subdirectory per variant.
package filestore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/logger"
)

// DefaultExtension is the extension of every file the store writes.
const DefaultExtension = ".jpg"

// LockFileName is created in the root to serialize maintenance jobs across processes.
const LockFileName = ".maintenance.lock"

const (
	tempPrefix     = ".tmp-"
	lockRetryDelay = 100 * time.Millisecond
	dirPerm        = 0o755
	filePerm       = 0o644
)

// knownExtensions are checked in order by Find. Legacy layouts used the later ones.
var knownExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// ErrNotFound is returned when no file exists for a key and variant.
var (
	ErrNotFound   = errors.NewStd("artwork file not found")
	ErrInvalidKey = errors.NewStd("invalid cache key")
)

// ErrLocked is returned by TryLock when another job holds the maintenance lock.
var ErrLocked = errors.NewStd("maintenance lock held by another job")

// FileInfo describes one stored file.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// VariantStats aggregates one variant directory.
type VariantStats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// DirStats aggregates the whole store.
type DirStats struct {
	Root       string                           `json:"root"`
	Variants   map[artwork.Variant]VariantStats `json:"variants"`
	TotalFiles int                              `json:"total_files"`
	TotalBytes int64                            `json:"total_bytes"`
}

// Orphan is a stored file with no matching valid key.
type Orphan struct {
	Variant artwork.Variant
	Key     string
	Path    string
	Size    int64
}

// KeySet answers whether a file for key and variant is accounted for.
type KeySet interface {
	Contains(key string, v artwork.Variant) bool
}

// CacheKeySet accepts every variant of the listed cache keys.
type CacheKeySet map[string]struct{}

// Contains implements KeySet.
func (s CacheKeySet) Contains(key string, _ artwork.Variant) bool {
	_, ok := s[key]
	return ok
}

// RowKeySet accepts exactly the listed ledger row keys.
type RowKeySet map[string]struct{}

// Contains implements KeySet.
func (s RowKeySet) Contains(key string, v artwork.Variant) bool {
	_, ok := s[artwork.RowKey(key, v)]
	return ok
}

// Store is the artwork file store. Writers to different keys never
// interfere; concurrent writers to the same key leave one complete file.
type Store struct {
	root      string
	urlPrefix string
	log       logger.Logger
}

// New creates the root and the five variant directories.
func New(root, urlPrefix string, log logger.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.Newf("artwork cache root is empty").
			Component("filestore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if log == nil {
		log = logger.Global().Module("artwork.store")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	for _, v := range artwork.Variants() {
		if err := os.MkdirAll(filepath.Join(abs, v.String()), dirPerm); err != nil {
			return nil, errors.New(err).
				Component("filestore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_variant_dir").
				Context("variant", v.String()).
				Build()
		}
	}
	return &Store{
		root:      abs,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
		log:       log,
	}, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string { return s.root }

// FileName returns the file name written for key.
func FileName(key string) string { return key + DefaultExtension }

// Dir returns the directory of variant v.
func (s *Store) Dir(v artwork.Variant) string {
	return filepath.Join(s.root, v.String())
}

// Path returns the path a write for key and v goes to.
func (s *Store) Path(key string, v artwork.Variant) string {
	return filepath.Join(s.Dir(v), FileName(key))
}

// WebPath returns the URL path of a file name in variant v.
func (s *Store) WebPath(v artwork.Variant, fileName string) string {
	return path.Join(s.urlPrefix, v.String(), fileName)
}

// WebPathOf returns the URL path of an absolute file path inside the store.
func (s *Store) WebPathOf(v artwork.Variant, filePath string) string {
	return s.WebPath(v, filepath.Base(filePath))
}

// Find returns the path of an existing file for key and v, trying each
// known extension in order.
func (s *Store) Find(key string, v artwork.Variant) (string, bool) {
	dir := s.Dir(v)
	for _, ext := range knownExtensions {
		p := filepath.Join(dir, key+ext)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// Exists reports whether any file exists for key and v.
func (s *Store) Exists(key string, v artwork.Variant) bool {
	_, ok := s.Find(key, v)
	return ok
}

// Write stores data for key and v atomically: readers see the previous
// file or the complete new one, never a partial write.
func (s *Store) Write(key string, v artwork.Variant, data []byte) (string, error) {
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", artwork.ErrInvalidVariant, v)
	}
	if !artwork.IsCacheKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	dst := s.Path(key, v)
	if err := writeAtomic(dst, data); err != nil {
		return "", errors.New(err).
			Component("filestore").
			Category(errors.CategoryFileIO).
			Context("operation", "write").
			Context("variant", v.String()).
			Context("cache_key", key).
			Build()
	}
	return dst, nil
}

func writeAtomic(dst string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Snapshot returns the bytes currently at Path(key, v) so a later
// Restore can put them back. ok is false when no file is there.
func (s *Store) Snapshot(key string, v artwork.Variant) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(s.Path(key, v))
	switch {
	case err == nil:
		return data, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Restore atomically writes data back to p, which must live inside the store.
func (s *Store) Restore(p string, data []byte) error {
	if !s.contains(p) {
		return fmt.Errorf("refusing to restore %q outside cache root", p)
	}
	return writeAtomic(p, data)
}

// Read returns the bytes of the file for key and v.
func (s *Store) Read(key string, v artwork.Variant) ([]byte, error) {
	p, ok := s.Find(key, v)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, v, key)
	}
	return os.ReadFile(p)
}

// Delete removes the files of key for the given variants, or for all
// variants when none are given. It returns the number of files removed.
func (s *Store) Delete(key string, variants ...artwork.Variant) (int, error) {
	if len(variants) == 0 {
		variants = artwork.Variants()
	}
	var errs []error
	removed := 0
	for _, v := range variants {
		for _, ext := range knownExtensions {
			err := os.Remove(filepath.Join(s.Dir(v), key+ext))
			switch {
			case err == nil:
				removed++
			case errors.Is(err, fs.ErrNotExist):
			default:
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return removed, errors.New(errors.Join(errs...)).
			Component("filestore").
			Category(errors.CategoryFileIO).
			Context("operation", "delete").
			Context("cache_key", key).
			Build()
	}
	return removed, nil
}

// DeletePath removes a single file, which must live inside the store.
func (s *Store) DeletePath(p string) error {
	if !s.contains(p) {
		return fmt.Errorf("refusing to delete %q outside cache root", p)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) contains(p string) bool {
	rel, err := filepath.Rel(s.root, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}

// Stat returns size and modification time of the file for key and v.
func (s *Store) Stat(key string, v artwork.Variant) (FileInfo, error) {
	p, ok := s.Find(key, v)
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %s/%s", ErrNotFound, v, key)
	}
	return StatPath(p)
}

// StatPath stats an arbitrary path.
func StatPath(p string) (FileInfo, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return FileInfo{}, err
	}
	return FileInfo{Path: p, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// entry is one artwork file found while walking a variant directory.
type entry struct {
	variant artwork.Variant
	key     string
	path    string
	size    int64
}

// walk calls fn for every artwork file with a known extension. Temp and
// hidden files are skipped.
func (s *Store) walk(fn func(entry)) error {
	for _, v := range artwork.Variants() {
		entries, err := os.ReadDir(s.Dir(v))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		for _, de := range entries {
			name := de.Name()
			if !de.Type().IsRegular() || strings.HasPrefix(name, ".") {
				continue
			}
			ext := strings.ToLower(filepath.Ext(name))
			if !slices.Contains(knownExtensions, ext) {
				continue
			}
			info, err := de.Info()
			if err != nil {
				continue
			}
			fn(entry{
				variant: v,
				key:     strings.TrimSuffix(name, filepath.Ext(name)),
				path:    filepath.Join(s.Dir(v), name),
				size:    info.Size(),
			})
		}
	}
	return nil
}

// Stats returns file counts and bytes per variant.
func (s *Store) Stats() (DirStats, error) {
	st := DirStats{Root: s.root, Variants: make(map[artwork.Variant]VariantStats, artwork.VariantCount)}
	for _, v := range artwork.Variants() {
		st.Variants[v] = VariantStats{}
	}
	err := s.walk(func(e entry) {
		vs := st.Variants[e.variant]
		vs.Files++
		vs.Bytes += e.size
		st.Variants[e.variant] = vs
		st.TotalFiles++
		st.TotalBytes += e.size
	})
	return st, err
}

// ListOrphans returns files whose key and variant are not in valid.
func (s *Store) ListOrphans(valid KeySet) ([]Orphan, error) {
	var out []Orphan
	err := s.walk(func(e entry) {
		if valid.Contains(e.key, e.variant) {
			return
		}
		out = append(out, Orphan{Variant: e.variant, Key: e.key, Path: e.path, Size: e.size})
	})
	return out, err
}

// Lock blocks until the cross-process maintenance lock is held or ctx ends.
// The returned function releases it.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	fl := flock.New(filepath.Join(s.root, LockFileName))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire maintenance lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return s.unlocker(fl), nil
}

// TryLock takes the maintenance lock without waiting, returning ErrLocked
// when another job holds it.
func (s *Store) TryLock() (func(), error) {
	fl := flock.New(filepath.Join(s.root, LockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire maintenance lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return s.unlocker(fl), nil
}

func (s *Store) unlocker(fl *flock.Flock) func() {
	return func() {
		if err := fl.Unlock(); err != nil {
			s.log.Warn("failed to release maintenance lock", logger.Error(err))
		}
	}
}
