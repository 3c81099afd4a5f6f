package llms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/orkestra-dev/orkestra/pkg/httpclient"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindAuthentication       ErrorKind = "authentication"
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindRateLimited          ErrorKind = "rate_limited"
	KindTemporaryUnavailable ErrorKind = "temporary_unavailable"
	KindCancelled            ErrorKind = "cancelled"
	KindNetwork              ErrorKind = "network"
	KindModelUnsupported     ErrorKind = "model_unsupported"
	KindModelListing         ErrorKind = "model_listing_unsupported"
	KindUnknown              ErrorKind = "unknown"
)

// Error is a classified provider error.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth retrying.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTemporaryUnavailable, KindNetwork:
		return true
	default:
		return false
	}
}

// NewError builds a classified error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf extracts the error kind, or KindUnknown.
func KindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// IsRetryable reports whether err should be retried by an outer policy.
func IsRetryable(err error) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Retryable()
	}
	return false
}

// classifyStatus maps an HTTP failure status to an error kind.
func classifyStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindAuthentication
	case statusCode == http.StatusBadRequest:
		return KindInvalidRequest
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case statusCode >= 500:
		return KindTemporaryUnavailable
	default:
		return KindUnknown
	}
}

// classifyTransportError converts a transport-level failure into a
// classified error.
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindCancelled, Message: "request cancelled", Err: err}
	}

	var exhausted *httpclient.RetryExhaustedError
	if errors.As(err, &exhausted) && exhausted.StatusCode > 0 {
		return &Error{
			Kind:       classifyStatus(exhausted.StatusCode),
			Message:    exhausted.Error(),
			StatusCode: exhausted.StatusCode,
			Err:        err,
		}
	}

	return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
}

// httpError builds a classified error from a non-2xx response.
func httpError(statusCode int, message string, headers http.Header) *Error {
	e := &Error{
		Kind:       classifyStatus(statusCode),
		Message:    message,
		StatusCode: statusCode,
	}
	if e.Kind == KindRateLimited && headers != nil {
		e.RetryAfter = httpclient.ParseRetryAfter(headers)
	}
	return e
}
