package observability

import (
	"time"

	"github.com/tracklist/tracklist/internal/errors"
	"github.com/tracklist/tracklist/internal/httpclient"
)

// InstallErrorHook counts every structured error built by the errors
// package in tracklist_errors_total.
func (m *Metrics) InstallErrorHook() {
	errors.AddErrorHook(func(ee *errors.EnhancedError) {
		m.Artwork.RecordBuiltError(ee.GetComponent(), ee.GetCategory())
	})
}

// InstrumentClient counts each upstream response of client per host and status.
func (m *Metrics) InstrumentClient(client *httpclient.Client) {
	client.SetObserver(httpclient.ObserverFunc(func(host string, status int, _ time.Duration) {
		m.Artwork.RecordUpstreamResponse(host, status)
	}))
}
