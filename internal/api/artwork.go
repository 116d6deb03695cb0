package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tracklist/tracklist/internal/artwork"
	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/fetcher"
)

const statsCacheKey = "artwork_stats"

// ArtworkURLResponse is the body of the artwork lookup endpoint.
type ArtworkURLResponse struct {
	AlbumID int64           `json:"album_id"`
	Variant artwork.Variant `json:"variant"`
	URL     string          `json:"url"`
}

// CacheRequest is the body of the cache endpoint. An empty URL uses the
// album's stored cover URL or an external lookup.
type CacheRequest struct {
	URL string `json:"url"`
}

// loadAlbum resolves the :id path parameter to an album reference. When ok
// is false the error response has been written and err is its write result.
func (s *Server) loadAlbum(c echo.Context) (album artwork.Album, ok bool, err error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return artwork.Album{}, false, s.handleError(c, err, "invalid album id", http.StatusBadRequest)
	}
	row, err := s.albums.Get(c.Request().Context(), id)
	if err != nil {
		return artwork.Album{}, false, s.handleError(c, err, "failed to load album", statusFor(err))
	}
	return row.Ref(), true, nil
}

// getArtwork handles GET /api/v1/albums/:id/artwork/:variant. The URL is
// never empty; with redirect=true the client is sent there directly.
func (s *Server) getArtwork(c echo.Context) error {
	v, err := artwork.ParseVariant(c.Param("variant"))
	if err != nil {
		return s.handleError(c, err, "invalid size variant", http.StatusBadRequest)
	}
	album, ok, err := s.loadAlbum(c)
	if !ok {
		return err
	}

	url := s.artwork.Resolve(c.Request().Context(), album, v)
	if redirect, _ := strconv.ParseBool(c.QueryParam("redirect")); redirect {
		return c.Redirect(http.StatusFound, url)
	}
	return c.JSON(http.StatusOK, ArtworkURLResponse{AlbumID: album.ID, Variant: v, URL: url})
}

// cacheArtwork handles POST /api/v1/albums/:id/artwork.
func (s *Server) cacheArtwork(c echo.Context) error {
	album, ok, err := s.loadAlbum(c)
	if !ok {
		return err
	}

	var req CacheRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return s.handleError(c, err, "invalid request body", http.StatusBadRequest)
		}
	}

	ctx := c.Request().Context()
	url := req.URL
	if url == "" {
		if url, err = s.artwork.ResolveArtworkURL(ctx, album); err != nil {
			return s.handleError(c, err, "failed to look up artwork url", http.StatusBadGateway)
		}
		if url == "" {
			return s.handleError(c, nil, "no artwork url known for album", http.StatusNotFound)
		}
	}

	err = s.artwork.Cache(ctx, album, url)
	s.statCache.Delete(statsCacheKey)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError && errors.Is(err, fetcher.ErrDownloadFailed) {
			code = http.StatusBadGateway
		}
		return s.handleError(c, err, "failed to cache artwork", code)
	}
	return c.JSON(http.StatusOK, map[string]any{"album_id": album.ID, "url": url, "cached": true})
}

// clearArtwork handles DELETE /api/v1/albums/:id/artwork.
func (s *Server) clearArtwork(c echo.Context) error {
	album, ok, err := s.loadAlbum(c)
	if !ok {
		return err
	}

	cleared := s.artwork.ClearAlbumCache(c.Request().Context(), album)
	s.statCache.Delete(statsCacheKey)
	if !cleared {
		return s.handleError(c, nil, "failed to clear album artwork", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, map[string]any{"album_id": album.ID, "cleared": true})
}

// getStats handles GET /api/v1/artwork/stats.
func (s *Server) getStats(c echo.Context) error {
	if stats, ok := s.statCache.Get(statsCacheKey); ok {
		c.Response().Header().Set("X-Cache", "HIT")
		return c.JSON(http.StatusOK, stats)
	}

	stats, err := s.artwork.Statistics(c.Request().Context())
	if err != nil {
		return s.handleError(c, err, "failed to gather artwork statistics", statusFor(err))
	}
	s.statCache.SetDefault(statsCacheKey, stats)
	c.Response().Header().Set("X-Cache", "MISS")
	return c.JSON(http.StatusOK, stats)
}
