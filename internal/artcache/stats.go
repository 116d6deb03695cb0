package artcache

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/datastore/repository"
	"github.com/tracklist/tracklist/internal/filestore"
	"github.com/tracklist/tracklist/internal/hotcache"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/transcode"
)

// mostAccessedLimit is the length of the most accessed list.
const mostAccessedLimit = 10

// AccessEntry is one row of the most accessed list.
type AccessEntry struct {
	AlbumID        int64           `json:"album_id"`
	Variant        artwork.Variant `json:"size_variant"`
	AccessCount    int64           `json:"access_count"`
	LastAccessedAt *time.Time      `json:"last_accessed_at,omitempty"`
}

// DiskUsage describes the volume holding the cache root.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total_bytes"`
	Free        uint64  `json:"free_bytes"`
	Used        uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Statistics is the operator view of the cache.
type Statistics struct {
	Filesystem   filestore.DirStats      `json:"filesystem"`
	Ledger       *repository.LedgerStats `json:"ledger"`
	Coverage     float64                 `json:"coverage_percent"`
	MostAccessed []AccessEntry           `json:"most_accessed"`
	HotCache     hotcache.Stats          `json:"hot_cache"`
	Transcoder   transcode.Stats         `json:"transcoder"`
	Disk         *DiskUsage              `json:"disk,omitempty"`
	GeneratedAt  time.Time               `json:"generated_at"`
}

// Statistics gathers filesystem, ledger, access and hot cache figures.
// Disk usage is omitted when the volume cannot be queried.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	fs, err := s.store.Stats()
	if err != nil {
		return nil, err
	}
	ledgerStats, err := s.ledger.Artwork().Stats(ctx)
	if err != nil {
		return nil, err
	}
	top, err := s.ledger.Artwork().MostAccessed(ctx, mostAccessedLimit)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		Filesystem:   fs,
		Ledger:       ledgerStats,
		MostAccessed: make([]AccessEntry, 0, len(top)),
		HotCache:     s.hot.Stats(),
		Transcoder:   s.transcoder.Stats(),
		GeneratedAt:  s.now().UTC(),
	}
	if ledgerStats.TotalAlbums > 0 {
		stats.Coverage = float64(ledgerStats.CachedAlbums) / float64(ledgerStats.TotalAlbums) * 100
	}
	for i := range top {
		stats.MostAccessed = append(stats.MostAccessed, AccessEntry{
			AlbumID:        top[i].AlbumID,
			Variant:        top[i].SizeVariant,
			AccessCount:    top[i].AccessCount,
			LastAccessedAt: top[i].LastAccessedAt,
		})
	}

	usage, err := disk.UsageWithContext(ctx, s.store.Root())
	if err != nil {
		s.log.Debug("failed to read cache volume usage", logger.Error(err))
		return stats, nil
	}
	stats.Disk = &DiskUsage{
		Path:        s.store.Root(),
		Total:       usage.Total,
		Free:        usage.Free,
		Used:        usage.Used,
		UsedPercent: usage.UsedPercent,
	}
	return stats, nil
}
