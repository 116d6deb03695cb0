package artcache

import "github.com/tracklist/tracklist/internal/observability/metrics"

// Metrics is the subset of *metrics.ArtworkMetrics the service reports to.
type Metrics interface {
	metrics.Recorder
	RecordLookup(tier string)
	RecordBytesWritten(variant string, n int)
	RecordDownloadSize(n int)
	SetHotCacheEntries(n int)
	FetchStarted()
	FetchFinished()
	RecordDeduplicatedFetch()
}

var _ Metrics = (*metrics.ArtworkMetrics)(nil)

type noopMetrics struct {
	metrics.NoOpRecorder
}

func (*noopMetrics) RecordLookup(string) {}
func (*noopMetrics) RecordBytesWritten(string, int) {}
func (*noopMetrics) RecordDownloadSize(int) {}
func (*noopMetrics) SetHotCacheEntries(int) {}
func (*noopMetrics) FetchStarted() {}
func (*noopMetrics) FetchFinished() {}
func (*noopMetrics) RecordDeduplicatedFetch() {}
