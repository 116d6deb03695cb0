// Package httpclient is the outbound HTTP client shared by the artwork
// fetcher and the Cover Art Archive lookup. It applies a default deadline,
// identifies Tracklist to upstream hosts and reports every response to an
// optional observer.
package httpclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tracklist/tracklist/internal/errors"
)

const (
	// DefaultTimeout bounds a request whose context carries no deadline.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies Tracklist to artwork hosts. The Cover Art
	// Archive asks clients to send a contact URL.
	DefaultUserAgent = "Tracklist/1.0 (+https://github.com/tracklist/tracklist)"

	// DefaultMaxConnsPerHost keeps bulk backfills from opening more
	// connections to one artwork host than its rate limit can use.
	DefaultMaxConnsPerHost = 4

	imageAccept = "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8,*/*;q=0.5"
)

// Observer is told about every completed round trip. status is 0 when the
// request failed before a response arrived.
type Observer interface {
	ObserveResponse(host string, status int, elapsed time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(host string, status int, elapsed time.Duration)

func (f ObserverFunc) ObserveResponse(host string, status int, elapsed time.Duration) {
	f(host, status, elapsed)
}

// Config configures New. Zero fields take the defaults above.
type Config struct {
	Timeout         time.Duration
	UserAgent       string
	MaxConnsPerHost int

	// Transport replaces the pooled transport. Tests pass an
	// httpmock.MockTransport here.
	Transport http.RoundTripper
}

// Client is safe for concurrent use.
type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string
	observer  atomic.Pointer[Observer]
}

// New builds a Client. A nil cfg selects every default.
func New(cfg *Config) *Client {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	if c.Transport == nil {
		c.Transport = pooledTransport(c.MaxConnsPerHost)
	}

	// The deadline is applied per request so it can cover body reads.
	return &Client{
		http:      &http.Client{Transport: c.Transport},
		timeout:   c.Timeout,
		userAgent: c.UserAgent,
	}
}

func pooledTransport(perHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       perHost,
		MaxIdleConnsPerHost:   perHost,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	}
}

// SetObserver installs o. Pass nil to stop observing.
func (c *Client) SetObserver(o Observer) {
	if o == nil {
		c.observer.Store(nil)
		return
	}
	c.observer.Store(&o)
}

// Do sends req bound to ctx. Without a deadline on ctx the client timeout
// applies and stays in force until the body is closed. Requests without an
// Accept header advertise image formats. The caller closes the body when
// err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.NewStd("httpclient: nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	release := func() {}
	if _, ok := ctx.Deadline(); !ok {
		ctx, release = context.WithTimeout(ctx, c.timeout)
	}
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", imageAccept)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.observe(req, resp, time.Since(start))
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

func (c *Client) observe(req *http.Request, resp *http.Response, elapsed time.Duration) {
	o := c.observer.Load()
	if o == nil {
		return
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	(*o).ObserveResponse(req.URL.Hostname(), status, elapsed)
}

// Get is Do for a GET of url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("httpclient").
			Category(errors.CategoryValidation).
			Context("operation", "build_request").
			Build()
	}
	return c.Do(ctx, req)
}

// Close drops idle pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// releasingBody cancels the request deadline once the body is closed.
type releasingBody struct {
	io.ReadCloser
	release context.CancelFunc
}

func (b *releasingBody) Close() error {
	defer b.release()
	return b.ReadCloser.Close()
}
