// Package conf loads Tracklist settings from defaults, config.yaml and the environment.
package conf

import "github.com/tracklist/tracklist/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// It is fetched from the global logger on each call since the central logger
// is installed after configuration has been read.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
