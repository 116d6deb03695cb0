package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Policy holds the cross-origin and header settings for the API.
type Policy struct {
	AllowedOrigins []string
	// HSTSMaxAge is sent only on TLS requests. Zero omits the header.
	HSTSMaxAge int
	// ArtworkMaxAge is the Cache-Control max-age for files under the
	// artwork URL prefix. Variant files are replaced in place when an album
	// is re-cached, so this stays short.
	ArtworkMaxAge int
}

// DefaultPolicy allows any origin. The API is read-mostly and carries no
// credentials.
func DefaultPolicy() Policy {
	return Policy{
		AllowedOrigins: []string{"*"},
		HSTSMaxAge:     365 * 24 * 60 * 60,
		ArtworkMaxAge:  24 * 60 * 60,
	}
}

// NewCORS allows the methods the artwork and maintenance routes use.
func NewCORS(p Policy) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: p.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		MaxAge:       600,
	})
}

// NewSecureHeaders sets nosniff and framing headers on every response.
func NewSecureHeaders(p Policy) echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         p.HSTSMaxAge,
		ReferrerPolicy:     "no-referrer",
	})
}

// NewArtworkCacheControl marks files served under prefix as publicly
// cacheable.
func NewArtworkCacheControl(prefix string, p Policy) echo.MiddlewareFunc {
	value := fmt.Sprintf("public, max-age=%d", p.ArtworkMaxAge)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if prefix != "" && strings.HasPrefix(c.Request().URL.Path, prefix+"/") {
				c.Response().Header().Set(echo.HeaderCacheControl, value)
			}
			return next(c)
		}
	}
}

// NewBodyLimit rejects request bodies over limit, e.g. "1M".
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}

// NewGzip compresses JSON responses. Artwork files are already compressed
// and the metrics endpoint negotiates its own encoding, so both are skipped.
func NewGzip(metricsPath, artworkPrefix string) echo.MiddlewareFunc {
	return middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			if metricsPath != "" && path == metricsPath {
				return true
			}
			return artworkPrefix != "" && strings.HasPrefix(path, artworkPrefix+"/")
		},
	})
}
