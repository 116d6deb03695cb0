// Package coverart looks up album cover URLs on the Cover Art Archive.
package coverart

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/patrickmn/go-cache"

	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/httpclient"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability/metrics"
	"github.com/tracklist/tracklist/internal/ratelimit"
)

// Defaults for Config.
const (
	DefaultBaseURL     = "https://coverartarchive.org"
	DefaultTimeout     = 10 * time.Second
	DefaultNegativeTTL = 24 * time.Hour
)

// ErrLookupFailed is wrapped by every lookup error other than "not found".
var ErrLookupFailed = errors.NewStd("cover art lookup failed")

// Config controls the client. Zero values take the defaults above.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	NegativeTTL time.Duration
}

// Client resolves release IDs to image URLs. It implements artwork.URLResolver.
type Client struct {
	http     *httpclient.Client
	limiter  ratelimit.Acquirer
	baseURL  string
	timeout  time.Duration
	negative *cache.Cache
	log      logger.Logger
	recorder metrics.Recorder
}

// New creates a Client. A nil limiter disables throttling.
func New(client *httpclient.Client, limiter ratelimit.Acquirer, cfg Config, log logger.Logger, recorder metrics.Recorder) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultNegativeTTL
	}
	if client == nil {
		client = httpclient.New(nil)
	}
	if log == nil {
		log = logger.Global().Module("artwork.coverart")
	}
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}
	return &Client{
		http:     client,
		limiter:  limiter,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		timeout:  cfg.Timeout,
		negative: cache.New(cfg.NegativeTTL, cfg.NegativeTTL*2),
		log:      log,
		recorder: recorder,
	}
}

// ReleaseURL returns the release endpoint for mbid.
func (c *Client) ReleaseURL(mbid string) string {
	return c.baseURL + "/release/" + url.PathEscape(mbid)
}

// LookupCoverArtURL returns the front cover URL of the release, or "" with a
// nil error when the archive has no artwork for it. Misses are remembered
// for the negative TTL.
func (c *Client) LookupCoverArtURL(ctx context.Context, externalID string) (string, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", nil
	}
	if _, missing := c.negative.Get(externalID); missing {
		c.recorder.RecordOperation(metrics.OpCoverArtLookup, metrics.StatusSkipped)
		return "", nil
	}

	start := time.Now()
	imageURL, err := c.lookup(ctx, externalID)
	c.recorder.RecordDuration(metrics.OpCoverArtLookup, time.Since(start).Seconds())
	if err != nil {
		c.recorder.RecordError(metrics.OpCoverArtLookup, errorType(err))
		c.log.Warn("cover art lookup failed",
			logger.String("release_id", externalID),
			logger.Error(err))
		return "", err
	}
	if imageURL == "" {
		c.negative.SetDefault(externalID, struct{}{})
		c.log.Debug("no cover art for release", logger.String("release_id", externalID))
	}
	c.recorder.RecordOperation(metrics.OpCoverArtLookup, metrics.StatusSuccess)
	return imageURL, nil
}

func (c *Client) lookup(ctx context.Context, mbid string) (string, error) {
	endpoint := c.ReleaseURL(mbid)
	if c.limiter != nil {
		c.limiter.Acquire(ctx, endpoint)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", c.wrap(err, errors.CategoryValidation, mbid)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return "", c.wrap(fmt.Errorf("%w: %w", ErrLookupFailed, err), errors.CategoryNetwork, mbid)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.Debug("failed to close response body", logger.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", c.wrap(fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode), errors.CategoryHTTP, mbid)
	}

	release, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return "", c.wrap(fmt.Errorf("%w: decode release: %w", ErrLookupFailed, err), errors.CategoryValidation, mbid)
	}
	return pickImage(release), nil
}

// pickImage chooses the image flagged front, else the first, and returns its
// large thumbnail, else its small thumbnail, else the full image.
func pickImage(release *jason.Object) string {
	images, err := release.GetObjectArray("images")
	if err != nil || len(images) == 0 {
		return ""
	}
	chosen := images[0]
	for _, img := range images {
		if front, err := img.GetBoolean("front"); err == nil && front {
			chosen = img
			break
		}
	}
	for _, path := range [][]string{{"thumbnails", "large"}, {"thumbnails", "small"}, {"image"}} {
		if s, err := chosen.GetString(path...); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func (c *Client) wrap(err error, category errors.ErrorCategory, mbid string) error {
	return errors.New(err).
		Component("coverart").
		Category(category).
		Context("release_id", mbid).
		Context("operation", "lookup_cover_art").
		Build()
}

func errorType(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}

// Forget drops mbid from the negative cache.
func (c *Client) Forget(mbid string) {
	c.negative.Delete(mbid)
}

// Close flushes the negative cache.
func (c *Client) Close() {
	c.negative.Flush()
}
