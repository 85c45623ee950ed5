package upstream

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// StatusError is a non-2xx response that has no more specific type.
// 5xx responses are retryable, everything else is not.
type StatusError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the response body, truncated.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status indicates a server-side fault.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500
}

// AuthError is returned for HTTP 401 and 403.
type AuthError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream authentication failed (status %d): %s", e.StatusCode, e.Message)
}

// Retryable always returns false.
func (e *AuthError) Retryable() bool { return false }

// RateLimitError is returned for HTTP 429.
type RateLimitError struct {
	// RetryAfter is the server-requested delay, zero when absent.
	RetryAfter time.Duration

	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limit exceeded (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("upstream rate limit exceeded: %s", e.Message)
}

// Retryable always returns true.
func (e *RateLimitError) Retryable() bool { return true }

// RetryAfterDelay reports the delay the server asked for.
func (e *RateLimitError) RetryAfterDelay() time.Duration { return e.RetryAfter }

// TimeoutError is returned when the client timeout elapses before a
// response arrives.
type TimeoutError struct {
	Timeout time.Duration
	Cause   error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("upstream request timeout after %s", e.Timeout)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error { return e.Cause }

// Retryable always returns true.
func (e *TimeoutError) Retryable() bool { return true }

// ParseError is returned when a 2xx response cannot be decoded.
type ParseError struct {
	// RawResponse is the body that failed to parse, truncated.
	RawResponse string

	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("upstream response parse error: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Cause }

// Retryable always returns false; a malformed body is not expected to heal.
func (e *ParseError) Retryable() bool { return false }

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
