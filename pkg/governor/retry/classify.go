package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"
)

// Class is the retry classification of an error.
type Class int

const (
	// Retryable errors are retried with backoff until attempts run out.
	Retryable Class = iota

	// Fatal errors stop the orchestrator immediately.
	Fatal
)

// String returns the lowercase name of the class.
func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classifier decides whether an error is worth retrying.
type Classifier func(error) Class

// retryableError is implemented by upstream errors that know whether the
// failure is transient (rate limits, 5xx) or not (bad request, auth).
type retryableError interface {
	Retryable() bool
}

// retryAfterError is implemented by errors carrying a server-provided delay.
type retryAfterError interface {
	RetryAfterDelay() time.Duration
}

// DefaultClassifier treats timeouts, connection resets and refusals,
// broken pipes, truncated responses and errors reporting Retryable() true
// as retryable. Everything else, including caller cancellation, is fatal.
func DefaultClassifier(err error) Class {
	if err == nil {
		return Fatal
	}

	var re retryableError
	if errors.As(err, &re) {
		if re.Retryable() {
			return Retryable
		}
		return Fatal
	}

	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Retryable
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return Retryable
	}

	return Fatal
}

// classified overrides the classification of a wrapped error.
type classified struct {
	err       error
	retryable bool
}

func (c *classified) Error() string   { return c.err.Error() }
func (c *classified) Unwrap() error   { return c.err }
func (c *classified) Retryable() bool { return c.retryable }

// Transient marks err as retryable for DefaultClassifier.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: true}
}

// Permanent marks err as fatal for DefaultClassifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{err: err, retryable: false}
}
