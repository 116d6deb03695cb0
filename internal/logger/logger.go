// Package logger provides a structured, module-aware logging system built on log/slog.
//
// Components receive a Logger through their constructor and scope it with
// Module so every record carries a "module" attribute:
//
//	central, err := logger.NewCentralLogger(&settings.Logging)
//	if err != nil {
//	    return err
//	}
//	defer central.Close()
//
//	log := central.Module("artwork")
//	log.Info("artwork cached",
//	    logger.Int64("album_id", album.ID),
//	    logger.Int("variants", 5))
//
// Console output uses a human-readable text format without timestamps.
// File output is JSON with RFC3339 timestamps. Modules configured under
// logging.modules get their own file, e.g. the maintenance jobs write to
// logs/maintenance.log.
//
// Tests use NewSlogLogger with a buffer or io.Discard:
//
//	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
package logger

import (
	"context"
	"time"
	"unique"
)

// LogLevel names a severity. Trace sits below slog's Debug.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Attribute keys added by the logger itself.
const (
	moduleKey  = "module"
	traceIDKey = "trace_id"
)

// Field is one key/value pair on a record. Keys are interned.
type Field struct {
	Key   string
	Value any
}

func internKey(key string) string {
	return unique.Make(key).Value()
}

var errorKey = internKey("error")

// Logger is passed to components through their constructors.
type Logger interface {
	// Module scopes the logger to a dotted module name such as
	// "artwork.fetcher". Records route to the file of the longest
	// configured prefix.
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	With(fields ...Field) Logger
	// WithContext attaches the trace ID stored in ctx, if any.
	WithContext(ctx context.Context) Logger

	Log(level LogLevel, msg string, fields ...Field)

	// Flush pushes buffered file output to disk.
	Flush() error
}

func field[T any](key string, value T) Field {
	return Field{Key: internKey(key), Value: value}
}

func String(key, value string) Field { return field(key, value) }
func Int(key string, value int) Field { return field(key, value) }
func Int64(key string, value int64) Field { return field(key, value) }
func Uint64(key string, value uint64) Field { return field(key, value) }
func Bool(key string, value bool) Field { return field(key, value) }
func Time(key string, value time.Time) Field { return field(key, value) }

// Float64 values are rounded to three decimals on output.
func Float64(key string, value float64) Field { return field(key, value) }

// Duration renders as a string such as "1.5s".
func Duration(key string, value time.Duration) Field { return field(key, value) }

// Any accepts values the typed constructors do not cover.
func Any(key string, value any) Field { return field(key, value) }

// Error always uses the key "error". A nil err yields a nil value.
//
//	if err := store.Write(key, variant, data); err != nil {
//	    log.Error("failed to write variant",
//	        logger.Error(err),
//	        logger.String("variant", variant.String()))
//	}
func Error(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: nil}
	}
	return Field{Key: errorKey, Value: err.Error()}
}
