package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RetryExhaustedError reports that every retry attempt failed. The final
// attempt's status code is preserved so callers can classify the failure.
type RetryExhaustedError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *RetryExhaustedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: max retries (%d) exceeded", e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("max retries (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// ParseRetryAfter extracts a wait duration from a Retry-After header.
// Accepts delta-seconds or an HTTP-date; returns 0 when absent or invalid.
func ParseRetryAfter(headers http.Header) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}

	return 0
}
