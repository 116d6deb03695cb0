package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklist/tracklist/internal/logger"
)

type recordedRequest struct {
	method, path string
	status       int
}

type fakeRecorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	errors   int
}

func (f *fakeRecorder) ObserveRequest(method, route string, status int, _ time.Duration, _ int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{method, route, status})
	if status >= 500 {
		f.errors++
	}
}

func newEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(mw...)
	e.GET("/albums/:id", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/boom", func(c echo.Context) error { return c.String(http.StatusInternalServerError, "boom") })
	e.GET("/metrics", func(c echo.Context) error { return c.String(http.StatusOK, "metrics") })
	return e
}

func serve(e *echo.Echo, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequestLogger_RecordsRouteTemplate(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	e := newEcho(NewRequestLogger(log, rec))

	serve(e, "/albums/7")
	serve(e, "/albums/8")
	serve(e, "/boom")
	serve(e, "/missing")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.requests, 4)
	assert.Equal(t, recordedRequest{http.MethodGet, "/albums/:id", http.StatusOK}, rec.requests[0])
	assert.Equal(t, "/albums/:id", rec.requests[1].path)
	assert.Equal(t, http.StatusInternalServerError, rec.requests[2].status)
	assert.Equal(t, http.StatusNotFound, rec.requests[3].status)
	assert.Equal(t, 1, rec.errors)
}

func TestRequestLogger_Skipper(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	e := newEcho(NewRequestLoggerWithSkipper(nil, rec, func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))

	serve(e, "/metrics")
	serve(e, "/albums/1")

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.requests, 1)
	assert.Equal(t, "/albums/:id", rec.requests[0].path)
}

func TestGzip_SkipsMetrics(t *testing.T) {
	t.Parallel()
	e := newEcho(NewGzip("/metrics", "/covers"))
	e.GET("/covers/*", func(c echo.Context) error { return c.Blob(http.StatusOK, "image/jpeg", []byte("jpeg")) })

	res := serve(e, "/albums/1", echo.HeaderAcceptEncoding, "gzip")
	assert.Equal(t, "gzip", res.Header().Get(echo.HeaderContentEncoding))

	res = serve(e, "/metrics", echo.HeaderAcceptEncoding, "gzip")
	assert.Empty(t, res.Header().Get(echo.HeaderContentEncoding))
	assert.Equal(t, "metrics", res.Body.String())

	res = serve(e, "/covers/ab/small.jpg", echo.HeaderAcceptEncoding, "gzip")
	assert.Empty(t, res.Header().Get(echo.HeaderContentEncoding))
}

func TestSecureHeadersAndCORS(t *testing.T) {
	t.Parallel()
	cfg := DefaultPolicy()
	e := newEcho(NewCORS(cfg), NewSecureHeaders(cfg), NewArtworkCacheControl("/covers", cfg))
	e.GET("/covers/*", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	res := serve(e, "/albums/1", echo.HeaderOrigin, "https://app.example")
	assert.Equal(t, "nosniff", res.Header().Get(echo.HeaderXContentTypeOptions))
	assert.Equal(t, "SAMEORIGIN", res.Header().Get(echo.HeaderXFrameOptions))
	assert.Equal(t, "*", res.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "no-referrer", res.Header().Get(echo.HeaderReferrerPolicy))
	assert.Empty(t, res.Header().Get(echo.HeaderCacheControl))

	res = serve(e, "/covers/ab/large.jpg")
	assert.Equal(t, "public, max-age=86400", res.Header().Get(echo.HeaderCacheControl))
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()
	e := echo.New()
	e.Use(NewBodyLimit("10B"))
	e.POST("/", func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is too long"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
