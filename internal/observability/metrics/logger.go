package metrics

import "github.com/tracklist/tracklist/internal/logger"

// GetLogger returns the metrics package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("metrics")
}
