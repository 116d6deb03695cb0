// Package fetcher downloads artwork images with rate limiting, retries and
// content validation.
package fetcher

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content checksum, not a security boundary
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/httpclient"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability/metrics"
	"github.com/tracklist/tracklist/internal/ratelimit"
)

// Defaults for Config.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxAttempts  = 3
	DefaultMaxSizeBytes = 10 * 1024 * 1024
	DefaultMinDimension = 10
	DefaultMaxDimension = 5000
)

// DefaultBackoff is the wait before the second, third and fourth attempt.
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// acceptedContentTypes are the image media types the fetcher accepts.
var acceptedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
}

// acceptedFormats are the image.DecodeConfig format names the fetcher accepts.
var acceptedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
	"bmp":  true,
}

// Config controls download policy. Zero values take the defaults above.
type Config struct {
	Timeout      time.Duration // per attempt
	MaxAttempts  int
	Backoff      []time.Duration // the last entry repeats when attempts outnumber it
	MaxSizeBytes int64
	MinDimension int
	MaxDimension int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if len(c.Backoff) == 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if c.MinDimension <= 0 {
		c.MinDimension = DefaultMinDimension
	}
	if c.MaxDimension <= 0 {
		c.MaxDimension = DefaultMaxDimension
	}
	return c
}

// BackoffSchedule returns n waits starting at initial and doubling, e.g. 1s, 2s, 4s.
func BackoffSchedule(initial time.Duration, n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = initial << i
	}
	return out
}

// Outcome is a validated download. It is never persisted directly.
type Outcome struct {
	URL           string
	Data          []byte
	Format        string // decoder name: jpeg, png, gif, webp, bmp
	ContentType   string
	ContentLength int64
	Width         int
	Height        int
	Checksum      string // md5 hex of Data
	ETag          string
	LastModified  string
	CacheControl  string
	Attempts      int
}

// Downloader is what the orchestrator depends on.
type Downloader interface {
	Download(ctx context.Context, url string) (*Outcome, error)
}

// Fetcher is a rate limited, retrying, validating HTTP downloader.
type Fetcher struct {
	client   *httpclient.Client
	limiter  ratelimit.Acquirer
	cfg      Config
	log      logger.Logger
	recorder metrics.Recorder

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Fetcher. A nil recorder disables metrics.
func New(client *httpclient.Client, limiter ratelimit.Acquirer, cfg Config, log logger.Logger, recorder metrics.Recorder) *Fetcher {
	if client == nil {
		client = httpclient.New(nil)
	}
	if log == nil {
		log = logger.Global().Module("artwork.fetcher")
	}
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	return &Fetcher{
		client:   client,
		limiter:  limiter,
		cfg:      cfg.withDefaults(),
		log:      log,
		recorder: recorder,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt-1 < len(f.cfg.Backoff) {
		return f.cfg.Backoff[attempt-1]
	}
	return f.cfg.Backoff[len(f.cfg.Backoff)-1]
}

// Download fetches url and validates it as an image. Every attempt is rate
// limited. Failures other than a 404 or an unusable URL are retried with
// backoff. Failures are returned as *DownloadError.
func (f *Fetcher) Download(ctx context.Context, url string) (*Outcome, error) {
	start := time.Now()
	var last *attemptError
	attempts := 0

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		if f.limiter != nil {
			f.limiter.Acquire(ctx, url)
		}

		out, err := f.attempt(ctx, url)
		if err == nil {
			out.Attempts = attempt
			f.recorder.RecordOperation(metrics.OpFetch, metrics.StatusSuccess)
			f.recorder.RecordDuration(metrics.OpFetch, time.Since(start).Seconds())
			f.log.Debug("artwork downloaded",
				logger.String("url", url),
				logger.Int("attempts", attempt),
				logger.Int64("bytes", out.ContentLength),
				logger.String("format", out.Format))
			return out, nil
		}
		last = err

		if !err.kind.Retryable() || attempt == f.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		wait := f.backoff(attempt)
		f.log.Debug("retrying artwork download",
			logger.String("url", url),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", wait),
			logger.Error(err))
		if f.sleep(ctx, wait) != nil {
			break
		}
	}

	f.recorder.RecordError(metrics.OpFetch, last.kind.String())
	f.recorder.RecordDuration(metrics.OpFetch, time.Since(start).Seconds())

	cause := errors.New(last).
		Component("fetcher").
		Category(last.kind.category()).
		Context("operation", "download").
		Context("url", url).
		Context("attempts", attempts).
		Context("kind", last.kind.String()).
		Build()

	f.log.Info("artwork download failed",
		logger.String("url", url),
		logger.String("kind", last.kind.String()),
		logger.Int("attempts", attempts),
		logger.Error(last))

	return nil, &DownloadError{
		Kind:       last.kind,
		URL:        url,
		Attempts:   attempts,
		StatusCode: last.statusCode,
		Err:        cause,
	}
}

// attempt performs one request under the per-attempt timeout.
func (f *Fetcher) attempt(ctx context.Context, url string) (*Outcome, *attemptError) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, failAttempt(KindInvalidURL, 0, "invalid request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return nil, failAttempt(KindTransient, 0, "request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if aerr := classifyStatus(resp.StatusCode); aerr != nil {
		return nil, aerr
	}

	if resp.ContentLength > f.cfg.MaxSizeBytes {
		return nil, failAttempt(KindTooLarge, resp.StatusCode,
			"declared length %d exceeds limit %d", resp.ContentLength, f.cfg.MaxSizeBytes)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "image/") && !acceptedContentTypes[contentType] {
		return nil, failAttempt(KindUnsupportedType, resp.StatusCode, "unsupported content type %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxSizeBytes+1))
	if err != nil {
		return nil, failAttempt(KindTransient, resp.StatusCode, "reading body: %w", err)
	}
	if int64(len(data)) > f.cfg.MaxSizeBytes {
		return nil, failAttempt(KindTooLarge, resp.StatusCode, "body exceeds limit %d", f.cfg.MaxSizeBytes)
	}
	if resp.ContentLength > 0 && int64(len(data)) < resp.ContentLength {
		return nil, failAttempt(KindTransient, resp.StatusCode,
			"short body: got %d of %d bytes", len(data), resp.ContentLength)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, failAttempt(KindInvalidImage, resp.StatusCode, "not a decodable image: %w", err)
	}
	if !acceptedFormats[format] {
		return nil, failAttempt(KindUnsupportedType, resp.StatusCode, "unsupported image format %q", format)
	}
	if err := f.validateDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, failAttempt(KindInvalidImage, resp.StatusCode, "%w", err)
	}

	if contentType == "" || !acceptedContentTypes[contentType] {
		contentType = "image/" + format
	}

	sum := md5.Sum(data) //nolint:gosec // see import
	return &Outcome{
		URL:           url,
		Data:          data,
		Format:        format,
		ContentType:   contentType,
		ContentLength: int64(len(data)),
		Width:         cfg.Width,
		Height:        cfg.Height,
		Checksum:      hex.EncodeToString(sum[:]),
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		CacheControl:  resp.Header.Get("Cache-Control"),
	}, nil
}

func (f *Fetcher) validateDimensions(w, h int) error {
	if w < f.cfg.MinDimension || h < f.cfg.MinDimension {
		return fmt.Errorf("image %dx%d smaller than %dpx", w, h, f.cfg.MinDimension)
	}
	if w > f.cfg.MaxDimension || h > f.cfg.MaxDimension {
		return fmt.Errorf("image %dx%d larger than %dpx", w, h, f.cfg.MaxDimension)
	}
	return nil
}

// classifyStatus maps a non-2xx status onto a failure kind.
func classifyStatus(status int) *attemptError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return failAttempt(KindNotFound, status, "artwork not found (HTTP %d)", status)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return failAttempt(KindTransient, status, "upstream returned HTTP %d", status)
	default:
		return failAttempt(KindHTTPStatus, status, "upstream returned HTTP %d", status)
	}
}

// mediaType returns the lowercased media type without parameters.
func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	}
	return mt
}
