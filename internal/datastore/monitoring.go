package datastore

import (
	"context"
	"time"

	"github.com/tracklist/tracklist/internal/datastore/entities"
	"github.com/tracklist/tracklist/internal/logger"
	"github.com/tracklist/tracklist/internal/observability/metrics"
)

// StartMonitoring publishes connection pool and row count gauges every
// interval until ctx ends.
func StartMonitoring(ctx context.Context, m Manager, dm *metrics.DatastoreMetrics, interval time.Duration, log logger.Logger) {
	if dm == nil || interval <= 0 {
		return
	}
	if log == nil {
		log = GetLogger()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			collectMetrics(ctx, m, dm, log)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func collectMetrics(ctx context.Context, m Manager, dm *metrics.DatastoreMetrics, log logger.Logger) {
	sqlDB, err := m.DB().DB()
	if err != nil {
		log.Debug("database handle unavailable for monitoring", logger.Error(err))
		return
	}
	stats := sqlDB.Stats()
	dm.UpdateConnectionMetrics(stats.InUse, stats.Idle, stats.MaxOpenConnections)

	var rows int64
	if err := m.DB().WithContext(ctx).Model(&entities.ArtworkCache{}).Count(&rows).Error; err != nil {
		log.Debug("failed to count ledger rows", logger.Error(err))
		return
	}
	dm.UpdateTableRowCount(metrics.TableArtworkCache, rows)
}
