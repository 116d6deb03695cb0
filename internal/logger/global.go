package logger

import (
	"context"
	"os"
	"sync"
	"time"
)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal installs cl as the process-wide logger returned by Global.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	global = cl
	globalMu.Unlock()
}

// Global returns the process-wide logger. Before SetGlobal is called it
// returns a console-only logger at info level.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = consoleOnly()
	}
	return global
}

// consoleOnly builds the fallback logger used before configuration loads.
func consoleOnly() *CentralLogger {
	cfg := &LoggingConfig{
		DefaultLevel: DefaultLogLevel,
		Timezone:     "Local",
		Console:      &ConsoleOutput{Enabled: true, Level: DefaultLogLevel},
	}
	return &CentralLogger{
		config:   cfg,
		timezone: time.Local,
		base:     newTextHandler(os.Stdout, parseLogLevel(DefaultLogLevel), time.Local),
		baseLvl:  parseLogLevel(DefaultLogLevel),
		routes:   map[string]route{},
		sinks:    map[string]*FileSink{},
	}
}

type traceIDCtxKey struct{}

// TraceIDKey is the context key WithTraceID stores request trace IDs under.
var TraceIDKey = traceIDCtxKey{}

// WithTraceID returns a copy of ctx carrying traceID. Loggers derived with
// WithContext attach it as the trace_id attribute.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(TraceIDKey).(string)
	return id
}
