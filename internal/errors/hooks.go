package errors

import (
	"sync"
	"sync/atomic"
)

// ErrorHook observes every error built while reporting is active.
type ErrorHook func(ee *EnhancedError)

var (
	hooksMu  sync.RWMutex
	hooks    []ErrorHook
	reporter TelemetryReporter

	// reportingActive lets Build skip caller inspection when nobody listens.
	reportingActive atomic.Bool
)

// AddErrorHook registers hook. Hooks run synchronously inside Build.
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = append(hooks, hook)
	refreshActive()
}

// ClearErrorHooks removes every hook.
func ClearErrorHooks() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks = nil
	refreshActive()
}

// SetTelemetryReporter installs r. Pass nil to stop reporting.
func SetTelemetryReporter(r TelemetryReporter) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	reporter = r
	refreshActive()
}

// GetTelemetryReporter returns the installed reporter, if any.
func GetTelemetryReporter() TelemetryReporter {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return reporter
}

// refreshActive must be called with hooksMu held.
func refreshActive() {
	reportingActive.Store(len(hooks) > 0 || (reporter != nil && reporter.IsEnabled()))
}

func notify(ee *EnhancedError) {
	hooksMu.RLock()
	hs, r := hooks, reporter
	hooksMu.RUnlock()

	for _, h := range hs {
		h(ee)
	}
	if r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}
