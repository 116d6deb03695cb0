// Package repository provides the ledger repositories over the artwork
// cache schema.
package repository

import "github.com/tracklist/tracklist/internal/errors"

// Sentinel errors for repository operations.
var (
	// ErrArtworkNotFound indicates no ledger row exists for the album and variant.
	ErrArtworkNotFound = errors.NewStd("artwork cache entry not found")

	// ErrAlbumNotFound indicates the requested album does not exist.
	ErrAlbumNotFound = errors.NewStd("album not found")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)
