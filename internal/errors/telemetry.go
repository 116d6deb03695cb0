package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives built errors while it reports itself enabled.
type TelemetryReporter interface {
	ReportError(ee *EnhancedError)
	IsEnabled() bool
}

// SentryReporter forwards errors to the current Sentry hub. Messages and
// string context values pass through the privacy scrubber first.
type SentryReporter struct {
	enabled bool
}

func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

func (r *SentryReporter) IsEnabled() bool { return r.enabled }

// ReportError captures ee once.
func (r *SentryReporter) ReportError(ee *EnhancedError) {
	if !r.enabled || ee.IsReported() {
		return
	}
	ee.MarkReported()

	title := issueTitle(ee)
	msg := scrub(fmt.Sprintf("[%s] %s", ee.Category, ee.Err))
	level := sentryLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(map[string]string{
			"component":  ee.component,
			"category":   string(ee.Category),
			"error_type": fmt.Sprintf("%T", ee.Err),
		})
		for key, value := range ee.Context {
			if s, ok := value.(string); ok {
				value = scrub(s)
			}
			scope.SetContext(key, sentry.Context{"value": value})
		}
		scope.SetLevel(level)
		scope.SetFingerprint([]string{ee.component, string(ee.Category), operationOf(ee)})

		event := sentry.NewEvent()
		event.Level = level
		event.Message = msg
		event.Exception = []sentry.Exception{{Type: title, Value: msg}}
		sentry.CaptureEvent(event)
	})
}

func operationOf(ee *EnhancedError) string {
	op, _ := ee.Context["operation"].(string)
	return op
}

// issueTitle names the Sentry issue, e.g. "fetcher image-fetch: download image".
func issueTitle(ee *EnhancedError) string {
	title := string(ee.Category)
	if ee.component != "" && ee.component != ComponentUnknown {
		title = ee.component + " " + title
	}
	if op := operationOf(ee); op != "" {
		title += ": " + strings.ReplaceAll(op, "_", " ")
	}
	return title
}

// sentryLevel treats upstream and per-item failures as warnings and
// expected outcomes as info.
func sentryLevel(c ErrorCategory) sentry.Level {
	switch c {
	case CategoryNotFound, CategoryValidation, CategoryCancellation, CategoryConflict:
		return sentry.LevelInfo
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit, CategoryHTTP,
		CategoryImageFetch, CategoryImageProcessing, CategoryImageCache, CategoryFileIO:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// PrivacyScrubber rewrites a message before it leaves the process.
type PrivacyScrubber func(string) string

var (
	scrubberMu sync.RWMutex
	scrubber   PrivacyScrubber
)

// SetPrivacyScrubber installs fn. Nil restores the built-in redaction.
func SetPrivacyScrubber(fn PrivacyScrubber) {
	scrubberMu.Lock()
	scrubber = fn
	scrubberMu.Unlock()
}

var (
	queryString = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	secretPairs = regexp.MustCompile(`(?i)\b(api[_-]?key|token|auth|secret|password)[=:]\S+`)
	longHex     = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)
)

func scrub(msg string) string {
	scrubberMu.RLock()
	fn := scrubber
	scrubberMu.RUnlock()
	if fn != nil {
		return fn(msg)
	}
	return redact(msg)
}

// redact strips query strings, credential pairs and long hex tokens.
func redact(msg string) string {
	msg = queryString.ReplaceAllString(msg, "$1?[REDACTED]")
	msg = secretPairs.ReplaceAllString(msg, "$1=[REDACTED]")
	return longHex.ReplaceAllString(msg, "[REDACTED]")
}
