package entities

import (
	"time"

	"github.com/tracklist/tracklist/internal/artwork"
)

// ArtworkCache is one ledger row: a cached variant of an album's artwork.
// FilePath is the last known location and must be checked against the
// filesystem before it is trusted.
type ArtworkCache struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	AlbumID     int64           `gorm:"not null;uniqueIndex:idx_artwork_album_variant,priority:1;index"`
	CacheKey    string          `gorm:"size:64;not null;uniqueIndex"` // <album cache key>_<variant>
	SizeVariant artwork.Variant `gorm:"type:varchar(20);not null;uniqueIndex:idx_artwork_album_variant,priority:2;check:chk_artwork_size_variant,size_variant IN ('original','large','medium','small','thumbnail')"`
	FilePath    string          `gorm:"size:1024;not null"`

	Width         int    `gorm:"not null;default:0"`
	Height        int    `gorm:"not null;default:0"`
	FileSizeBytes int64  `gorm:"not null;default:0"`
	ContentType   string `gorm:"size:50"`
	Checksum      string `gorm:"size:64"`
	ETag          string `gorm:"column:etag;size:255"`
	OriginalURL   string `gorm:"size:2048"`

	LastFetchedAt  time.Time  `gorm:"not null;index"`
	LastAccessedAt *time.Time `gorm:"index"`
	AccessCount    int64      `gorm:"not null;default:0"`
	IsPlaceholder  bool       `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (ArtworkCache) TableName() string {
	return "artwork_cache"
}

// LastUsed is the last access time, or the fetch time when never accessed.
// Retention cleanup ages rows by it.
func (c *ArtworkCache) LastUsed() time.Time {
	if c.LastAccessedAt != nil && c.LastAccessedAt.After(c.LastFetchedAt) {
		return *c.LastAccessedAt
	}
	return c.LastFetchedAt
}

// AlbumCacheKey strips the variant suffix from CacheKey.
func (c *ArtworkCache) AlbumCacheKey() string {
	suffix := "_" + string(c.SizeVariant)
	if len(c.CacheKey) > len(suffix) && c.CacheKey[len(c.CacheKey)-len(suffix):] == suffix {
		return c.CacheKey[:len(c.CacheKey)-len(suffix)]
	}
	return c.CacheKey
}
