package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/errors"
)

// recordingTransport implements sentry.Transport and keeps events in memory.
type recordingTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (t *recordingTransport) Configure(sentry.ClientOptions) {}

func (t *recordingTransport) SendEvent(event *sentry.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *recordingTransport) Flush(time.Duration) bool { return true }

func (t *recordingTransport) FlushWithContext(context.Context) bool { return true }

func (t *recordingTransport) Close() {}

func (t *recordingTransport) Events() []*sentry.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*sentry.Event, len(t.events))
	copy(out, t.events)
	return out
}

func TestInit_DisabledIsNoop(t *testing.T) {
	require.NoError(t, Init(&conf.TelemetrySettings{Enabled: false, SentryDSN: "https://k@example.invalid/1"}, "test"))
	assert.False(t, Enabled())

	require.NoError(t, Init(&conf.TelemetrySettings{Enabled: true}, "test"))
	assert.False(t, Enabled(), "no DSN, nothing to report to")
	Close()
}

func TestInit_ReportsBuiltErrors(t *testing.T) {
	transport := &recordingTransport{}
	settings := &conf.TelemetrySettings{
		Enabled:     true,
		SentryDSN:   "https://public@example.invalid/1",
		Environment: "test",
	}
	require.NoError(t, Init(settings, "1.2.3", WithTransport(transport)))
	t.Cleanup(Close)
	require.True(t, Enabled())

	_ = errors.Newf("upstream refused https://covers.example/a.jpg?token=secret").
		Component("fetcher").
		Category(errors.CategoryNetwork).
		Context("operation", "download").
		Build()

	events := transport.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "fetcher", ev.Tags["component"])
	assert.Equal(t, "test", ev.Environment)
	assert.Equal(t, "tracklist@1.2.3", ev.Release)
	assert.NotContains(t, ev.Message, "secret")
	assert.Empty(t, ev.ServerName)
}

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()
	ev := &sentry.Event{
		ServerName: "host-01",
		User:       sentry.User{ID: "42", IPAddress: "10.0.0.1"},
		Contexts: map[string]sentry.Context{
			"os":     {"name": "linux"},
			"device": {"arch": "arm64"},
			"album":  {"value": 7},
		},
		Extra: map[string]any{"component": "api", "path": "/home/user"},
		Tags:  map[string]string{"hostname": "host-01", "category": "network"},
	}

	got := applyPrivacyFilters(ev)
	assert.Empty(t, got.ServerName)
	assert.True(t, got.User.IsEmpty())
	assert.NotContains(t, got.Contexts, "os")
	assert.NotContains(t, got.Contexts, "device")
	assert.Contains(t, got.Contexts, "album")
	assert.Equal(t, map[string]any{"component": "api"}, got.Extra)
	assert.Equal(t, map[string]string{"category": "network"}, got.Tags)
}
