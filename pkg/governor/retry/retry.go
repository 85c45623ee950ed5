// Package retry runs an operation with bounded, jittered exponential
// backoff.
//
// An Orchestrator holds a Policy and an optional process-wide retry
// throttle. Run executes the operation once and retries failures the
// policy's Classifier deems retryable, up to MaxAttempts invocations in
// total. Fatal failures are returned as-is without retrying; running out
// of attempts yields an *ExhaustedError.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Defaults for a zero Policy.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultMultiplier  = 2.0
	DefaultJitter      = 0.5
)

// NoJitter disables delay randomization. Any negative Jitter does the same.
const NoJitter = -1.0

// ErrExhausted is matched by every ExhaustedError.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy configures retries.
type Policy struct {
	// MaxAttempts is the total number of invocations, first one included.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps a single delay.
	MaxDelay time.Duration

	// Multiplier grows the delay after every retry.
	Multiplier float64

	// Jitter randomizes each delay within [d*(1-Jitter), d*(1+Jitter)].
	// Zero selects DefaultJitter; a negative value (NoJitter) disables it.
	Jitter float64

	// AttemptTimeout bounds a single invocation (0 = caller deadline only).
	AttemptTimeout time.Duration

	// Classify decides whether a failure is retried. Defaults to DefaultClassifier.
	Classify Classifier

	// ThrottleRate is the number of retries per second allowed across all
	// runs of the orchestrator (0 = unthrottled).
	ThrottleRate float64

	// ThrottleBurst is the retry bucket size.
	ThrottleBurst int
}

// DefaultPolicy returns the policy used for zero fields.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      DefaultJitter,
		Classify:    DefaultClassifier,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.Jitter == 0 || p.Jitter > 1 {
		p.Jitter = DefaultJitter
	}
	if p.Classify == nil {
		p.Classify = DefaultClassifier
	}
	if p.ThrottleRate > 0 && p.ThrottleBurst <= 0 {
		p.ThrottleBurst = 1
	}
	return p
}

// Stats describes one Run.
type Stats struct {
	// Attempts is the number of invocations of the operation.
	Attempts int

	// Retries is the number of backoff waits taken.
	Retries int

	// Throttled is set when the retry throttle ended the run early.
	Throttled bool

	// Elapsed is the wall time of the run.
	Elapsed time.Duration
}

// ExhaustedError is returned when every attempt failed with a retryable
// error, or when the retry throttle refused a retry.
type ExhaustedError struct {
	Attempts  int
	Throttled bool
	Err       error
}

func (e *ExhaustedError) Error() string {
	if e.Throttled {
		return fmt.Sprintf("retry throttled after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("retries exhausted after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Is matches ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Orchestrator runs operations under a retry policy. It is safe for
// concurrent use; the throttle is shared by all runs.
type Orchestrator struct {
	policy   Policy
	throttle *rate.Limiter
	logger   *slog.Logger
}

// New creates an orchestrator. Zero policy fields take their defaults.
func New(policy Policy, logger *slog.Logger) *Orchestrator {
	policy = policy.withDefaults()
	if logger == nil {
		logger = slog.Default().With("component", "retry")
	}

	o := &Orchestrator{
		policy: policy,
		logger: logger,
	}
	if policy.ThrottleRate > 0 {
		o.throttle = rate.NewLimiter(rate.Limit(policy.ThrottleRate), policy.ThrottleBurst)
	}
	return o
}

// Policy returns the effective policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

func (o *Orchestrator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.policy.BaseDelay
	b.MaxInterval = o.policy.MaxDelay
	b.Multiplier = o.policy.Multiplier
	b.RandomizationFactor = max(0, o.policy.Jitter)
	return b
}

// allowRetry consumes a throttle token.
func (o *Orchestrator) allowRetry() bool {
	return o.throttle == nil || o.throttle.Allow()
}

// Run invokes op until it succeeds, fails fatally, runs out of attempts or
// ctx is done.
//
// The returned error is the fatal error unchanged, an *ExhaustedError
// wrapping the last retryable error, or ctx's cause when the caller gave
// up. op receives a per-attempt context when AttemptTimeout is set.
func Run[T any](ctx context.Context, o *Orchestrator, op func(ctx context.Context) (T, error)) (T, Stats, error) {
	var (
		zero    T
		stats   Stats
		lastErr error
		fatal   bool
	)
	p := o.policy
	start := time.Now()

	attempt := func() (T, error) {
		stats.Attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		value, err := op(attemptCtx)
		cancel()
		if err == nil {
			return value, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return zero, backoff.Permanent(context.Cause(ctx))
		}
		if p.Classify(err) == Fatal {
			fatal = true
			return zero, backoff.Permanent(err)
		}
		if stats.Attempts >= p.MaxAttempts {
			return zero, err
		}
		if !o.allowRetry() {
			stats.Throttled = true
			return zero, backoff.Permanent(err)
		}

		var ra retryAfterError
		if errors.As(err, &ra) && ra.RetryAfterDelay() > 0 {
			return zero, &backoff.RetryAfterError{Duration: min(ra.RetryAfterDelay(), p.MaxDelay)}
		}
		return zero, err
	}

	notify := func(err error, next time.Duration) {
		stats.Retries++
		o.logger.DebugContext(ctx, "retrying operation",
			"attempt", stats.Attempts,
			"max_attempts", p.MaxAttempts,
			"backoff", next,
			"error", lastErr,
		)
	}

	value, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(o.newBackOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	stats.Elapsed = time.Since(start)

	switch {
	case err == nil:
		return value, stats, nil
	case ctx.Err() != nil:
		return zero, stats, context.Cause(ctx)
	case fatal:
		return zero, stats, lastErr
	default:
		if stats.Throttled {
			o.logger.WarnContext(ctx, "retry throttled", "attempts", stats.Attempts, "error", lastErr)
		}
		return zero, stats, &ExhaustedError{
			Attempts:  stats.Attempts,
			Throttled: stats.Throttled,
			Err:       lastErr,
		}
	}
}
