package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklist/tracklist/internal/errors"
)

const coverURL = "https://coverartarchive.org/release/abc/front-500"

// mockClient returns a Client over an httpmock transport answering
// coverURL with responder.
func mockClient(t *testing.T, responder httpmock.Responder) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, coverURL, responder)
	c := New(&Config{Transport: transport})
	t.Cleanup(c.Close)
	return c, transport
}

// slowServer answers after delay unless the request is cancelled first.
func slowServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
		_, _ = w.Write([]byte("jpeg"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	for name, cfg := range map[string]*Config{"nil": nil, "zero": {}} {
		c := New(cfg)
		assert.Equal(t, DefaultTimeout, c.timeout, name)
		assert.Equal(t, DefaultUserAgent, c.userAgent, name)

		tr, ok := c.http.Transport.(*http.Transport)
		require.True(t, ok, name)
		assert.Equal(t, DefaultMaxConnsPerHost, tr.MaxConnsPerHost, name)
	}

	c := New(&Config{Timeout: 5 * time.Second, UserAgent: "Test/1.0", MaxConnsPerHost: 2})
	assert.Equal(t, 5*time.Second, c.timeout)
	assert.Equal(t, "Test/1.0", c.userAgent)
	assert.Equal(t, 2, c.http.Transport.(*http.Transport).MaxConnsPerHost)
}

func TestDo_DefaultHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		set        map[string]string
		wantAgent  string
		wantAccept string
	}{
		{"defaults applied", nil, DefaultUserAgent, imageAccept},
		{"caller headers kept", map[string]string{"User-Agent": "Custom/2.0", "Accept": "application/json"}, "Custom/2.0", "application/json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var agent, accept atomic.Value
			c, transport := mockClient(t, func(r *http.Request) (*http.Response, error) {
				agent.Store(r.Header.Get("User-Agent"))
				accept.Store(r.Header.Get("Accept"))
				return httpmock.NewStringResponse(http.StatusOK, ""), nil
			})

			req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, coverURL, http.NoBody)
			require.NoError(t, err)
			for k, v := range tt.set {
				req.Header.Set(k, v)
			}

			resp, err := c.Do(t.Context(), req)
			require.NoError(t, err)
			require.NoError(t, resp.Body.Close())

			assert.Equal(t, tt.wantAgent, agent.Load())
			assert.Equal(t, tt.wantAccept, accept.Load())
			assert.Equal(t, 1, transport.GetTotalCallCount())
		})
	}
}

func TestDo_Deadlines(t *testing.T) {
	t.Parallel()

	t.Run("client timeout applies without deadline", func(t *testing.T) {
		t.Parallel()
		srv := slowServer(t, 500*time.Millisecond)
		c := New(&Config{Timeout: 50 * time.Millisecond})

		resp, err := c.Get(t.Context(), srv.URL)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller deadline wins", func(t *testing.T) {
		t.Parallel()
		srv := slowServer(t, 30*time.Millisecond)
		c := New(&Config{Timeout: 10 * time.Millisecond})

		ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
		defer cancel()
		resp, err := c.Get(ctx, srv.URL)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("cancellation", func(t *testing.T) {
		t.Parallel()
		srv := slowServer(t, 2*time.Second)
		c := New(nil)

		ctx, cancel := context.WithCancel(t.Context())
		time.AfterFunc(20*time.Millisecond, cancel)
		resp, err := c.Get(ctx, srv.URL)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDo_BodyOutlivesDo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("head-"))
		w.(http.Flusher).Flush()
		time.Sleep(30 * time.Millisecond)
		_, _ = w.Write([]byte("tail"))
	}))
	t.Cleanup(srv.Close)

	resp, err := New(nil).Get(t.Context(), srv.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "head-tail", string(body))
}

func TestDo_Observer(t *testing.T) {
	t.Parallel()

	type seen struct {
		host   string
		status int
	}
	var mu sync.Mutex
	var got []seen

	c, transport := mockClient(t, httpmock.NewStringResponder(http.StatusNotFound, ""))
	transport.RegisterResponder(http.MethodGet, "https://archive.org/down",
		httpmock.NewErrorResponder(errors.NewStd("connection refused")))
	c.SetObserver(ObserverFunc(func(host string, status int, elapsed time.Duration) {
		assert.GreaterOrEqual(t, elapsed, time.Duration(0))
		mu.Lock()
		got = append(got, seen{host, status})
		mu.Unlock()
	}))

	resp, err := c.Get(t.Context(), coverURL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	_, err = c.Get(t.Context(), "https://archive.org/down")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	c.SetObserver(nil)
	resp, err = c.Get(t.Context(), coverURL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, []seen{{"coverartarchive.org", 404}, {"archive.org", 0}}, got)
}

func TestDo_ConcurrentRequests(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)
	c := New(nil)
	t.Cleanup(c.Close)

	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			resp, err := c.Get(t.Context(), srv.URL)
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				assert.NoError(t, resp.Body.Close())
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(32), hits.Load())
}

func TestInvalidRequests(t *testing.T) {
	t.Parallel()

	c := New(nil)
	resp, err := c.Do(t.Context(), nil) //nolint:bodyclose // nil response
	assert.Nil(t, resp)
	assert.Error(t, err)

	resp, err = c.Get(t.Context(), "://no-scheme") //nolint:bodyclose // nil response
	assert.Nil(t, resp)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	c.Close()
	c.Close()
}
