// Package artcache is the artwork cache orchestrator. It resolves album
// artwork to local web paths, driving the fetcher, transcoder, file store
// and ledger on a miss, and degrades to the remote URL or a placeholder
// when no artwork can be produced.
package artcache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/fetcher"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/hotcache"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability/metrics"
	"github.com/tracklist/tracklist/internal/transcode"
)

// DefaultPlaceholderPath is returned when an album has no artwork at all.
const DefaultPlaceholderPath = "/static/img/album-placeholder.svg"

// Config controls the read path.
type Config struct {
	PlaceholderPath string
	// Deduplicate collapses concurrent cold cycles for the same cache key.
	Deduplicate bool
}

// Deps are the collaborators of a Service. Store, Ledger, Fetcher and
// Transcoder are required.
type Deps struct {
	Store      *filestore.Store
	Ledger     repository.Ledger
	Fetcher    fetcher.Downloader
	Transcoder *transcode.Transcoder
	// Resolver looks up URLs for albums without one. Optional.
	Resolver artwork.URLResolver
	// Hot is the shared in-process cache. A private one is created when nil.
	Hot     *hotcache.Cache
	Metrics Metrics
	Log     logger.Logger
}

// Service orchestrates the artwork cache. Safe for concurrent use.
type Service struct {
	store      *filestore.Store
	ledger     repository.Ledger
	fetcher    fetcher.Downloader
	transcoder *transcode.Transcoder
	resolver   artwork.URLResolver
	hot        *hotcache.Cache
	metrics    Metrics
	log        logger.Logger
	cfg        Config

	group singleflight.Group
	now   func() time.Time
}

// New creates a Service.
func New(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, configError("file store")
	case deps.Ledger == nil:
		return nil, configError("ledger")
	case deps.Fetcher == nil:
		return nil, configError("fetcher")
	case deps.Transcoder == nil:
		return nil, configError("transcoder")
	}
	if cfg.PlaceholderPath == "" {
		cfg.PlaceholderPath = DefaultPlaceholderPath
	}
	if deps.Hot == nil {
		deps.Hot = hotcache.New(hotcache.DefaultSize)
	}
	if deps.Metrics == nil {
		deps.Metrics = &noopMetrics{}
	}
	if deps.Log == nil {
		deps.Log = logger.Global().Module("artwork.cache")
	}
	return &Service{
		store:      deps.Store,
		ledger:     deps.Ledger,
		fetcher:    deps.Fetcher,
		transcoder: deps.Transcoder,
		resolver:   deps.Resolver,
		hot:        deps.Hot,
		metrics:    deps.Metrics,
		log:        deps.Log,
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

func configError(missing string) error {
	return errors.Newf("artwork cache service requires a %s", missing).
		Component("artcache").
		Category(errors.CategoryConfiguration).
		Build()
}

// Store returns the file store the service writes to.
func (s *Service) Store() *filestore.Store { return s.store }

// Ledger returns the ledger the service records into.
func (s *Service) Ledger() repository.Ledger { return s.ledger }

// Transcoder returns the service's transcoder.
func (s *Service) Transcoder() *transcode.Transcoder { return s.transcoder }

// PlaceholderPath returns the path served for albums without artwork.
func (s *Service) PlaceholderPath() string { return s.cfg.PlaceholderPath }

// Resolve returns the web path of the album's artwork in variant v. It
// never fails: when nothing can be cached it returns the album's remote
// URL, or the placeholder when none is known.
//
// Lookup order: hot cache (re-verified on disk), stored file, regeneration
// from the stored original, then a full fetch cycle.
func (s *Service) Resolve(ctx context.Context, album artwork.Album, v artwork.Variant) string {
	if !v.Valid() {
		s.log.Warn("resolve called with invalid variant",
			logger.Int64("album_id", album.ID),
			logger.String("variant", v.String()))
		return s.fallback(album.ArtworkURL)
	}
	key := album.CacheKey()

	if web, ok := s.hot.Get(album.ID, v); ok {
		if s.store.Exists(key, v) {
			s.metrics.RecordLookup(metrics.TierMemory)
			return web
		}
		s.hot.Remove(album.ID, v)
	}

	if p, ok := s.store.Find(key, v); ok {
		s.metrics.RecordLookup(metrics.TierLedger)
		s.touch(ctx, album.ID, v)
		return s.remember(album.ID, v, s.store.WebPathOf(v, p))
	}
	s.metrics.RecordLookup(metrics.TierMiss)

	if v != artwork.Original && s.store.Exists(key, artwork.Original) {
		web, err := s.RegenerateVariant(ctx, album, v)
		if err == nil {
			s.touch(ctx, album.ID, v)
			return web
		}
		s.log.Warn("failed to regenerate variant from original",
			logger.Int64("album_id", album.ID),
			logger.String("variant", v.String()),
			logger.Error(err))
	}

	url, err := s.ResolveArtworkURL(ctx, album)
	if err != nil {
		s.log.Warn("failed to resolve artwork url",
			logger.Int64("album_id", album.ID),
			logger.Error(err))
	}
	if url == "" {
		return s.fallback(album.ArtworkURL)
	}

	if err := s.Cache(ctx, album, url); err != nil {
		s.log.Info("artwork cache cycle failed, serving remote url",
			logger.Int64("album_id", album.ID),
			logger.String("url", url),
			logger.Error(err))
		return url
	}
	if p, ok := s.store.Find(key, v); ok {
		return s.remember(album.ID, v, s.store.WebPathOf(v, p))
	}
	// The cycle stored a partial set without this variant.
	if web, err := s.RegenerateVariant(ctx, album, v); err == nil {
		return web
	}
	return url
}

func (s *Service) fallback(url string) string {
	if url != "" {
		return url
	}
	return s.cfg.PlaceholderPath
}

func (s *Service) remember(albumID int64, v artwork.Variant, web string) string {
	s.hot.Put(albumID, v, web)
	s.metrics.SetHotCacheEntries(s.hot.Len())
	return web
}

// touch records an access. A file without a ledger row is left to the auditor.
func (s *Service) touch(ctx context.Context, albumID int64, v artwork.Variant) {
	err := s.ledger.Artwork().TouchAccess(ctx, albumID, v, s.now())
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrArtworkNotFound):
		s.log.Debug("served file has no ledger row",
			logger.Int64("album_id", albumID),
			logger.String("variant", v.String()))
	default:
		s.log.Warn("failed to record artwork access",
			logger.Int64("album_id", albumID),
			logger.String("variant", v.String()),
			logger.Error(err))
	}
}

// ResolveArtworkURL returns the album's known URL, or asks the resolver
// when there is none. A looked-up URL is stored on the album.
func (s *Service) ResolveArtworkURL(ctx context.Context, album artwork.Album) (string, error) {
	if album.ArtworkURL != "" {
		return album.ArtworkURL, nil
	}
	if s.resolver == nil || album.ExternalID == "" {
		return "", nil
	}
	url, err := s.resolver.LookupCoverArtURL(ctx, album.ExternalID)
	if err != nil || url == "" {
		return "", err
	}
	if err := s.ledger.Albums().SetCoverArtURL(ctx, album.ID, url); err != nil {
		s.log.Warn("failed to store looked up cover url",
			logger.Int64("album_id", album.ID),
			logger.Error(err))
	}
	return url, nil
}

// InvalidateAlbum drops every hot cache entry of the album.
func (s *Service) InvalidateAlbum(albumID int64) {
	s.hot.InvalidateAlbum(albumID)
	s.metrics.SetHotCacheEntries(s.hot.Len())
}

// ClearMemoryCache empties the hot cache.
func (s *Service) ClearMemoryCache() {
	s.hot.Clear()
	s.metrics.SetHotCacheEntries(0)
}
