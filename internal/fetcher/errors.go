package fetcher

import (
	"fmt"

	"github.com/tracklist/tracklist/internal/errors"
)

// ErrDownloadFailed matches every error returned by Download.
var ErrDownloadFailed = errors.NewStd("download failed")

// Kind classifies a failed download attempt.
type Kind int

const (
	// KindTransient covers network errors, timeouts, 408, 429, 5xx and short reads.
	KindTransient Kind = iota
	// KindNotFound is a 404 from the upstream host.
	KindNotFound
	// KindTooLarge means the declared or observed body exceeded the size limit.
	KindTooLarge
	// KindInvalidImage means the body did not decode or its dimensions are out of range.
	KindInvalidImage
	// KindUnsupportedType is an image content type outside the accepted set.
	KindUnsupportedType
	// KindHTTPStatus is any other non-2xx status.
	KindHTTPStatus
	// KindInvalidURL means no request could be built for the URL.
	KindInvalidURL
)

var kindNames = map[Kind]string{
	KindTransient:       "transient",
	KindNotFound:        "not_found",
	KindTooLarge:        "too_large",
	KindInvalidImage:    "invalid_image",
	KindUnsupportedType: "unsupported_type",
	KindHTTPStatus:      "http_status",
	KindInvalidURL:      "invalid_url",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable is the retry decision. A 404 and an unusable URL are final.
func (k Kind) Retryable() bool {
	return k != KindNotFound && k != KindInvalidURL
}

// category maps a kind onto the error category used for reporting.
func (k Kind) category() errors.ErrorCategory {
	switch k {
	case KindNotFound:
		return errors.CategoryNotFound
	case KindTooLarge, KindInvalidImage, KindUnsupportedType, KindInvalidURL:
		return errors.CategoryValidation
	case KindHTTPStatus:
		return errors.CategoryHTTP
	default:
		return errors.CategoryNetwork
	}
}

// attemptError is the outcome of one failed attempt.
type attemptError struct {
	kind       Kind
	statusCode int
	err        error
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

func failAttempt(kind Kind, status int, format string, args ...any) *attemptError {
	return &attemptError{kind: kind, statusCode: status, err: fmt.Errorf(format, args...)}
}

// DownloadError is returned when a download is terminal or retries are exhausted.
// It carries the kind and cause of the last attempt.
type DownloadError struct {
	Kind       Kind
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed after %d attempt(s) [%s]: %v", e.Attempts, e.Kind, e.Err)
}

// Unwrap exposes both ErrDownloadFailed and the last underlying cause.
func (e *DownloadError) Unwrap() []error {
	return []error{ErrDownloadFailed, e.Err}
}

// KindOf returns the kind of a download error and whether err was one.
func KindOf(err error) (Kind, bool) {
	var de *DownloadError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}
