package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/httpclient"
)

// NewMetrics must be safe to call concurrently since each call owns its registry.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Artwork)
			assert.NotNil(t, m.Maintenance)
			assert.NotNil(t, m.Datastore)
			assert.NotNil(t, m.HTTP)
		})
	}
	wg.Wait()
}

func TestHandler_ServesRegistry(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Artwork.RecordLookup("memory")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `artwork_lookups_total{tier="memory"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

// Not parallel: the error hook registry is global.
func TestInstallErrorHook(t *testing.T) {
	t.Cleanup(errors.ClearErrorHooks)

	m, err := NewMetrics()
	require.NoError(t, err)
	m.InstallErrorHook()

	_ = errors.Newf("upstream said no").
		Component("fetcher").
		Category(errors.CategoryImageFetch).
		Build()

	expected := `
# HELP tracklist_errors_total Structured errors built, by component and category
# TYPE tracklist_errors_total counter
tracklist_errors_total{category="image-fetch",component="fetcher"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "tracklist_errors_total"))
}

func TestInstrumentClient(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://coverartarchive.org/release/x",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	m, err := NewMetrics()
	require.NoError(t, err)
	client := httpclient.New(&httpclient.Config{Transport: transport})
	m.InstrumentClient(client)

	resp, err := client.Get(t.Context(), "https://coverartarchive.org/release/x")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	count, err := testutil.GatherAndCount(m.Registry(), "artwork_upstream_responses_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
