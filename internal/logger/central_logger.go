package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// LoadLocation needs the embedded zone database on slim images.
	_ "time/tzdata"

	"github.com/tracklist/tracklist/internal/errors"
)

const (
	logDirPerm = 0o700
	megabyte   = 1 << 20
)

// route is the handler a configured module and its children log through.
type route struct {
	handler slog.Handler
	level   slog.Level
}

// CentralLogger routes module loggers to the console, the main log file
// and per-module files.
//
// Module names are dotted paths. A logger for "artwork.fetcher" uses the
// output configured for "artwork.fetcher" if there is one, then "artwork",
// then the main outputs.
type CentralLogger struct {
	config   *LoggingConfig
	timezone *time.Location

	base    slog.Handler
	baseLvl slog.Level
	routes  map[string]route
	levels  map[string]slog.Level

	// sinks holds every open file, keyed by path so modules sharing a
	// file share one writer. The main log file uses the key "".
	sinks map[string]*FileSink
	mu    sync.RWMutex
}

// NewCentralLogger opens the configured outputs. Missing sections of cfg
// are filled with defaults first.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, errors.NewStd("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:   cfg,
		timezone: tz,
		baseLvl:  parseLogLevel(cfg.DefaultLevel),
		routes:   make(map[string]route),
		levels:   make(map[string]slog.Level, len(cfg.ModuleLevels)),
		sinks:    make(map[string]*FileSink),
	}
	for module, lvl := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(lvl)
	}

	if err := cl.openMain(); err != nil {
		_ = cl.closeSinks()
		return nil, err
	}
	for module, out := range cfg.ModuleOutputs {
		if !out.Enabled || out.FilePath == "" {
			continue
		}
		if err := cl.openModule(module, out); err != nil {
			_ = cl.closeSinks()
			return nil, err
		}
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

func (cl *CentralLogger) sinkOptions() FileSinkOptions {
	var opts FileSinkOptions
	if fo := cl.config.FileOutput; fo != nil && fo.MaxSize > 0 {
		opts.MaxBytes = int64(fo.MaxSize) * megabyte
		opts.MaxBackups = fo.MaxRotatedFiles
	}
	return opts
}

// sink returns the shared writer for path, opening it on first use.
func (cl *CentralLogger) sink(key, path string) (*FileSink, error) {
	if s, ok := cl.sinks[key]; ok {
		return s, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, logDirPerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	s, err := OpenFileSink(path, cl.sinkOptions())
	if err != nil {
		return nil, err
	}
	cl.sinks[key] = s
	return s, nil
}

// openMain builds the base handler from the console and main file outputs.
func (cl *CentralLogger) openMain() error {
	var handlers fanout
	if c := cl.config.Console; c != nil && c.Enabled {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(c.Level), cl.timezone))
	}
	if fo := cl.config.FileOutput; fo != nil && fo.Enabled {
		s, err := cl.sink("", fo.Path)
		if err != nil {
			return fmt.Errorf("main log output: %w", err)
		}
		handlers = append(handlers, newJSONHandler(s, parseLogLevel(fo.Level), cl.timezone))
	}
	if len(handlers) == 0 {
		handlers = append(handlers, newTextHandler(os.Stdout, cl.baseLvl, cl.timezone))
	}
	cl.base = handlers.collapse()
	return nil
}

// openModule builds the route for one configured module output.
func (cl *CentralLogger) openModule(module string, out ModuleOutput) error {
	s, err := cl.sink(out.FilePath, out.FilePath)
	if err != nil {
		return fmt.Errorf("log output for module %s: %w", module, err)
	}

	level := cl.moduleLevel(module)
	if out.Level != "" {
		level = parseLogLevel(out.Level)
	}
	handlers := fanout{newJSONHandler(s, level, cl.timezone)}
	if out.ConsoleAlso && cl.config.Console != nil && cl.config.Console.Enabled {
		handlers = append(handlers, newTextHandler(os.Stdout, level, cl.timezone))
	}
	cl.routes[module] = route{handler: handlers.collapse(), level: level}
	return nil
}

// moduleLevel returns the level set under module_levels for the closest
// configured ancestor of module, or the default level.
func (cl *CentralLogger) moduleLevel(module string) slog.Level {
	for name := range ancestors(module) {
		if lvl, ok := cl.levels[name]; ok {
			return lvl
		}
	}
	return cl.baseLvl
}

// Module returns a logger for the dotted module name.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	handler, level := cl.base, cl.moduleLevel(name)
	for prefix := range ancestors(name) {
		if r, ok := cl.routes[prefix]; ok {
			handler = r.handler
			if _, explicit := cl.levels[name]; !explicit {
				level = r.level
			}
			break
		}
	}
	return &moduleLogger{module: name, logger: slog.New(handler), level: level}
}

// ancestors yields name and each dotted parent, longest first.
func ancestors(name string) func(yield func(string) bool) {
	return func(yield func(string) bool) {
		for name != "" {
			if !yield(name) {
				return
			}
			i := strings.LastIndexByte(name, '.')
			if i < 0 {
				return
			}
			name = name[:i]
		}
	}
}

// Flush writes buffered records to the OS. Close also syncs to disk.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var errs []error
	for path, s := range cl.sinks {
		if err := s.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", sinkName(path), err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.closeSinks()
}

func (cl *CentralLogger) closeSinks() error {
	var errs []error
	for path, s := range cl.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", sinkName(path), err))
		}
	}
	clear(cl.sinks)
	return errors.Join(errs...)
}

func sinkName(key string) string {
	if key == "" {
		return "main log"
	}
	return key
}
