package entities

import (
	"time"

	"github.com/tracklist/tracklist/internal/artwork"
)

// Album is the album record the artwork cache is attached to.
type Album struct {
	ID int64 `gorm:"primaryKey;autoIncrement"`
	// MusicBrainzID is the immutable external identifier. NULL for albums
	// without one, so the unique index admits many of those.
	MusicBrainzID    *string    `gorm:"column:musicbrainz_id;size:64;uniqueIndex"`
	Title            string     `gorm:"size:500;not null;default:''"`
	Artist           string     `gorm:"size:500;not null;default:''"`
	CoverArtURL      string     `gorm:"size:2048"`
	ArtworkCached    bool       `gorm:"not null;default:false;index"`
	ArtworkCacheDate *time.Time `gorm:"index"`
	CreatedAt        time.Time  `gorm:"autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime"`

	Artwork []ArtworkCache `gorm:"foreignKey:AlbumID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (Album) TableName() string {
	return "albums"
}

// ExternalID returns the MusicBrainz ID or "".
func (a *Album) ExternalID() string {
	if a.MusicBrainzID == nil {
		return ""
	}
	return *a.MusicBrainzID
}

// Ref returns the album reference value used by the cache components.
func (a *Album) Ref() artwork.Album {
	return artwork.Album{ID: a.ID, ExternalID: a.ExternalID(), ArtworkURL: a.CoverArtURL}
}

// StringPtr returns a pointer to s, or nil for "".
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
