package app

import (
	"github.com/tracklist/tracklist/internal/conf"
	"github.com/tracklist/tracklist/internal/logger"
)

// SetupLogging installs the central logger described by settings. Debug
// lowers the default level to debug. The caller closes the returned logger.
func SetupLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = "debug"
		if cfg.Console != nil {
			console := *cfg.Console
			console.Level = "debug"
			cfg.Console = &console
		}
	}
	cl, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(cl)
	return cl, nil
}
