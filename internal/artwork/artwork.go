// Package artwork holds the domain types shared by the artwork cache
// components: the closed set of size variants, the album reference value and
// cache key derivation.
package artwork

import (
	"context"
	"crypto/md5" //nolint:gosec // cache namespace, not a security boundary
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tracklist/tracklist/internal/errors"
)

// Variant is one of the five fixed output sizes of a cached artwork image.
type Variant string

// The closed set of variants. No others are permitted.
const (
	Original  Variant = "original"
	Large     Variant = "large"
	Medium    Variant = "medium"
	Small     Variant = "small"
	Thumbnail Variant = "thumbnail"
)

// ErrInvalidVariant is returned when a size outside the closed set is requested.
var ErrInvalidVariant = errors.NewStd("invalid size variant")

// allVariants is ordered with Original first so regeneration paths see it before derived sizes.
var allVariants = [...]Variant{Original, Large, Medium, Small, Thumbnail}

// Variants returns all five variants, Original first.
func Variants() []Variant {
	out := make([]Variant, len(allVariants))
	copy(out, allVariants[:])
	return out
}

// DerivedVariants returns the four resized variants.
func DerivedVariants() []Variant {
	return Variants()[1:]
}

// VariantCount is the number of variants a fully cached album has.
const VariantCount = len(allVariants)

// ParseVariant converts a string to a Variant, rejecting unknown sizes.
func ParseVariant(s string) (Variant, error) {
	v := Variant(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVariant, s)
	}
	return v, nil
}

// Valid reports whether v is one of the five variants.
func (v Variant) Valid() bool {
	for _, known := range allVariants {
		if v == known {
			return true
		}
	}
	return false
}

func (v Variant) String() string { return string(v) }

// Box is a target size in pixels.
type Box struct {
	Width  int
	Height int
}

// Policy is the encode policy of one variant.
type Policy struct {
	// Box is the crop-to-fill target. Zero for Original, which keeps its size.
	Box     Box
	Quality int
}

var policies = map[Variant]Policy{
	Original:  {Quality: 95},
	Large:     {Box: Box{192, 192}, Quality: 90},
	Medium:    {Box: Box{64, 64}, Quality: 85},
	Small:     {Box: Box{48, 48}, Quality: 85},
	Thumbnail: {Box: Box{80, 80}, Quality: 80},
}

// Policy returns the encode policy for v. Unknown variants get the zero Policy.
func (v Variant) Policy() Policy {
	return policies[v]
}

// Resized reports whether v is produced by cropping to a target box.
func (v Variant) Resized() bool {
	return v != Original
}

// Album is the album reference used at every component boundary.
type Album struct {
	ID int64
	// ExternalID is the album's immutable external identifier (MusicBrainz release ID).
	ExternalID string
	// ArtworkURL is the known remote cover URL, empty when unknown.
	ArtworkURL string
}

// CacheKey returns the cache key namespacing all files and rows of the album.
func (a Album) CacheKey() string {
	return CacheKey(a.ExternalID, a.ID)
}

// CacheKey derives the deterministic 16 character key of an album from its
// external identifier and local id.
func CacheKey(externalID string, albumID int64) string {
	sum := md5.Sum(fmt.Appendf(nil, "%s_%d", externalID, albumID)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])[:CacheKeyLength]
}

// CacheKeyLength is the length of a cache key in hex characters.
const CacheKeyLength = 16

// RowKey is the unique ledger key of one (album, variant) row.
func RowKey(cacheKey string, v Variant) string {
	return cacheKey + "_" + string(v)
}

// IsCacheKey reports whether s has the shape of a cache key.
func IsCacheKey(s string) bool {
	if len(s) != CacheKeyLength {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// URLResolver supplies a cover art URL for an external identifier. It
// returns "" with a nil error when no artwork is known.
type URLResolver interface {
	LookupCoverArtURL(ctx context.Context, externalID string) (string, error)
}
