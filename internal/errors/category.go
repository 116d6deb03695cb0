package errors

import (
	"context"
	"io/fs"
	"net"
	"strings"
)

// ErrorCategory groups errors for metrics, telemetry and HTTP status mapping.
type ErrorCategory string

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCancellation  ErrorCategory = "cancellation"
	CategorySystem        ErrorCategory = "system-resource"

	CategoryFileIO   ErrorCategory = "file-io"
	CategoryNetwork  ErrorCategory = "network"
	CategoryHTTP     ErrorCategory = "http-request"
	CategoryDatabase ErrorCategory = "database"

	CategoryImageFetch      ErrorCategory = "image-fetch"
	CategoryImageProcessing ErrorCategory = "image-processing"
	CategoryImageCache      ErrorCategory = "image-cache"
	CategoryRateLimit       ErrorCategory = "rate-limit"
	CategoryIntegrity       ErrorCategory = "integrity"
)

// CategorizedError lets an error type declare its own category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

// componentCategories is the fallback category per component.
var componentCategories = map[string]ErrorCategory{
	"datastore": CategoryDatabase,
	"api":       CategoryHTTP,
	"fetcher":   CategoryImageFetch,
	"coverart":  CategoryImageFetch,
	"ratelimit": CategoryRateLimit,
	"transcode": CategoryImageProcessing,
	"artcache":  CategoryImageCache,
	"filestore": CategoryImageCache,
	"hotcache":  CategoryImageCache,
	"integrity": CategoryIntegrity,
}

// inferCategory picks a category from the error chain, then the message,
// then the component.
func inferCategory(err error, component string) ErrorCategory {
	var declared CategorizedError
	var enhanced *EnhancedError
	var netErr net.Error
	switch {
	case err == nil:
		return CategoryGeneric
	case As(err, &declared):
		return declared.ErrorCategory()
	case As(err, &enhanced) && enhanced.Category != "":
		return enhanced.Category
	case Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case Is(err, context.Canceled):
		return CategoryCancellation
	case Is(err, fs.ErrNotExist):
		return CategoryNotFound
	case As(err, &netErr):
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"):
		return CategoryNotFound
	case strings.Contains(msg, "connection") || strings.Contains(msg, "timeout"):
		return CategoryNetwork
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "mismatch"):
		return CategoryValidation
	case strings.Contains(msg, "file") || strings.Contains(msg, "permission"):
		return CategoryFileIO
	}

	if c, ok := componentCategories[component]; ok {
		return c
	}
	return CategoryGeneric
}

// IsCategory reports whether err wraps an EnhancedError of category c.
func IsCategory(err error, c ErrorCategory) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Category == c
}

// IsNotFound is IsCategory(err, CategoryNotFound).
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}
