package governor

import (
	"errors"
	"fmt"
	"time"

	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/circuit"
)

// Sentinel errors matched by the typed errors below.
var (
	// ErrBudgetExceeded is matched by *BudgetExceededError.
	ErrBudgetExceeded = errors.New("token budget exceeded")

	// ErrCircuitOpen is matched by *CircuitOpenError.
	ErrCircuitOpen = errors.New("upstream circuit is open")

	// ErrUpstreamTransient is matched by an *UpstreamError whose retries ran out.
	ErrUpstreamTransient = errors.New("upstream transient failure")

	// ErrUpstreamFatal is matched by an *UpstreamError that was not retried.
	ErrUpstreamFatal = errors.New("upstream fatal failure")

	// ErrInvalidRequest is returned for a request without a cache key or
	// operation.
	ErrInvalidRequest = errors.New("invalid governed request")
)

// BudgetExceededError reports a budget denial. The caller may retry after
// ResetAt, when the denying window starts over.
type BudgetExceededError struct {
	// Scope is the ceiling that denied the call.
	Scope budget.Scope

	// TenantID is the tenant the call was charged to.
	TenantID string

	// Requested, Consumed and Limit are token counts at denial time.
	Requested uint64
	Consumed  uint64
	Limit     uint64

	// ResetAt is when the denying window resets.
	ResetAt time.Time

	err error
}

func newBudgetExceededError(err error) *BudgetExceededError {
	e := &BudgetExceededError{err: err}
	var denied *budget.DeniedError
	if errors.As(err, &denied) {
		e.Scope = denied.Scope
		e.TenantID = denied.TenantID
		e.Requested = denied.Requested
		e.Consumed = denied.Consumed
		e.Limit = denied.Limit
		e.ResetAt = denied.ResetAt
	}
	return e
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded for tenant %q: requested %d tokens, %d of %d used",
		e.Scope, e.TenantID, e.Requested, e.Consumed, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error {
	return e.err
}

// Is matches ErrBudgetExceeded.
func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// CircuitOpenError reports that the upstream circuit refused the call.
type CircuitOpenError struct {
	// Breaker is the name of the refusing breaker.
	Breaker string

	// State is the breaker state at refusal time.
	State circuit.State

	// RetryAfter estimates when a probe will be admitted (zero if unknown).
	RetryAfter time.Duration

	err error
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit %q is %s, retry after %s", e.Breaker, e.State, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit %q is %s", e.Breaker, e.State)
}

func (e *CircuitOpenError) Unwrap() error {
	return e.err
}

// Is matches ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// UpstreamKind classifies an upstream failure.
type UpstreamKind string

const (
	// UpstreamTransient failures were retried until attempts ran out.
	UpstreamTransient UpstreamKind = "transient"

	// UpstreamFatal failures were surfaced without retrying.
	UpstreamFatal UpstreamKind = "fatal"
)

// UpstreamError wraps the failure of the operation.
type UpstreamError struct {
	Kind UpstreamKind

	// Attempts is the number of times the operation was invoked.
	Attempts int

	// Throttled is set when the process-wide retry throttle cut retries short.
	Throttled bool

	// Err is the last error returned by the operation.
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s failure after %d attempt(s): %v", e.Kind, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is matches ErrUpstreamTransient or ErrUpstreamFatal according to Kind.
func (e *UpstreamError) Is(target error) bool {
	switch e.Kind {
	case UpstreamTransient:
		return target == ErrUpstreamTransient
	case UpstreamFatal:
		return target == ErrUpstreamFatal
	}
	return false
}
