// Package errors wraps errors with the component, category and context
// the artwork pipeline reports on. Building an error also feeds the
// registered hooks and, when enabled, the telemetry reporter.
//
//	return errors.New(err).
//		Component("fetcher").
//		Category(errors.CategoryImageFetch).
//		Context("host", host).
//		Build()
//
// The package re-exports the standard library helpers so callers need a
// single import.
package errors

import (
	"fmt"
	"maps"
	"sync/atomic"
	"time"
)

// EnhancedError is an error annotated by a Builder.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string { return ee.Err.Error() }

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another *EnhancedError of the same category, then defers to
// the wrapped error.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// GetComponent returns the reporting component, or ComponentUnknown.
func (ee *EnhancedError) GetComponent() string { return ee.component }

// GetCategory returns the category as a plain string for metric labels.
func (ee *EnhancedError) GetCategory() string { return string(ee.Category) }

// GetContext returns a copy of the context map.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// MarkReported records that telemetry has seen this error.
func (ee *EnhancedError) MarkReported() { ee.reported.Store(true) }

// IsReported reports whether MarkReported was called.
func (ee *EnhancedError) IsReported() bool { return ee.reported.Load() }

// Builder accumulates annotations for an error. Start with New or Newf and
// finish with Build.
type Builder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a Builder for err.
func New(err error) *Builder {
	return &Builder{err: err}
}

// Newf starts a Builder for a formatted error. %w is honored.
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

// Component names the package reporting the error. When omitted it is
// taken from the caller's package path.
func (b *Builder) Component(name string) *Builder {
	b.component = name
	return b
}

// Category sets the category. When omitted it is inferred from the error.
func (b *Builder) Category(c ErrorCategory) *Builder {
	b.category = c
	return b
}

// Context attaches a key and value.
func (b *Builder) Context(key string, value any) *Builder {
	if b.context == nil {
		b.context = make(map[string]any, 4)
	}
	b.context[key] = value
	return b
}

// Timing records the operation name and how long it ran.
func (b *Builder) Timing(operation string, elapsed time.Duration) *Builder {
	return b.Context("operation", operation).Context("duration_ms", elapsed.Milliseconds())
}

// Build returns the EnhancedError. When hooks or a reporter are installed
// it fills in the missing component and category, then notifies them.
func (b *Builder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       b.err,
		Category:  b.category,
		Context:   b.context,
		Timestamp: time.Now(),
		component: b.component,
	}

	if !reportingActive.Load() {
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
		if ee.Category == "" {
			ee.Category = CategoryGeneric
		}
		return ee
	}

	if ee.component == "" {
		ee.component = callerComponent()
	}
	if ee.Category == "" {
		ee.Category = inferCategory(ee.Err, ee.component)
	}
	notify(ee)
	return ee
}
