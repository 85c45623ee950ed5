package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/cache"
	"mercator-hq/gatekeeper/pkg/governor/circuit"
	"mercator-hq/gatekeeper/pkg/governor/retry"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultTenant is used when neither the request nor the options name one.
const DefaultTenant = "default"

// Options configures a Governor. Zero values select component defaults.
type Options struct {
	// DefaultTenant is charged for requests without a tenant.
	DefaultTenant string

	Budget  budget.Config
	Circuit circuit.Config
	Retry   retry.Policy
	Cache   cache.Options

	// CacheStore backs the response cache (nil = in-memory store).
	CacheStore cache.Store

	// MetricsNamespace prefixes metric names.
	MetricsNamespace string

	// MaxTenantSeries bounds the tenant label values (0 = default,
	// negative = no per-tenant series).
	MaxTenantSeries int

	// Registry receives the governor's collectors (nil = private registry).
	Registry prometheus.Registerer

	// Tracer opens a span per Execute (nil = noop).
	Tracer *tracing.Tracer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock used for budget windows and cache expiry.
	Now func() time.Time
}

// Governor applies cache, single-flight, circuit breaking, budgeting and
// retries to upstream calls. It is safe for concurrent use.
type Governor struct {
	defaultTenant string

	budget  *budget.Tracker
	breaker *circuit.Breaker
	cache   *cache.Cache
	retry   *retry.Orchestrator

	metrics *Metrics
	tracer  *tracing.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Governor owning fresh component instances.
func New(opts Options) *Governor {
	if opts.DefaultTenant == "" {
		opts.DefaultTenant = DefaultTenant
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}

	g := &Governor{
		defaultTenant: opts.DefaultTenant,
		metrics:       NewMetrics(opts.MetricsNamespace, opts.MaxTenantSeries, opts.Registry),
		tracer:        opts.Tracer,
		logger:        opts.Logger.With("component", "governor"),
		now:           opts.Now,
	}

	g.budget = budget.NewTracker(opts.Budget, budget.WithClock(opts.Now))

	circuitCfg := opts.Circuit
	hook := circuitCfg.OnStateChange
	circuitCfg.OnStateChange = func(name string, from, to circuit.State) {
		g.metrics.RecordCircuitTransition(from, to)
		if hook != nil {
			hook(name, from, to)
		}
	}
	if circuitCfg.Logger == nil {
		circuitCfg.Logger = opts.Logger
	}
	g.breaker = circuit.New(circuitCfg)

	cacheOpts := opts.Cache
	if cacheOpts.Logger == nil {
		cacheOpts.Logger = opts.Logger.With("component", "cache")
	}
	if cacheOpts.Now == nil {
		cacheOpts.Now = opts.Now
	}
	g.cache = cache.New(opts.CacheStore, cacheOpts)

	g.retry = retry.New(opts.Retry, opts.Logger.With("component", "retry"))

	return g
}

// Budget returns the budget tracker.
func (g *Governor) Budget() *budget.Tracker { return g.budget }

// Breaker returns the upstream circuit breaker.
func (g *Governor) Breaker() *circuit.Breaker { return g.breaker }

// Cache returns the response cache.
func (g *Governor) Cache() *cache.Cache { return g.cache }

// RetryPolicy returns the effective retry policy.
func (g *Governor) RetryPolicy() retry.Policy { return g.retry.Policy() }

// DefaultTenantID returns the tenant charged for requests without one.
func (g *Governor) DefaultTenantID() string { return g.defaultTenant }

// Now reads the governor's clock.
func (g *Governor) Now() time.Time { return g.now() }

// Close releases the cache store.
func (g *Governor) Close() error {
	return g.cache.Close()
}

// Execute runs op under the governor's admission, deduplication and retry
// rules and returns its value.
//
// The error is one of *BudgetExceededError, *CircuitOpenError,
// *UpstreamError, ErrInvalidRequest, or ctx's error when the caller gave
// up. A caller waiting on an identical in-flight call receives that call's
// outcome, error included.
func (g *Governor) Execute(ctx context.Context, req Request, op Operation) (*Result, error) {
	start := g.now()
	if req.TenantID == "" {
		req.TenantID = g.defaultTenant
	}
	callID := uuid.NewString()

	ctx = logging.WithCallID(ctx, callID)
	ctx = logging.WithTenant(ctx, req.TenantID)
	if req.RequestName != "" {
		ctx = logging.WithRequestName(ctx, req.RequestName)
	}

	ctx, span := g.tracer.Start(ctx, "governor.execute")
	defer span.End()
	tracing.SetRequestAttributes(span, req.TenantID, req.RequestName, callID)

	var (
		res *Result
		err error
	)
	switch {
	case op == nil:
		err = fmt.Errorf("%w: nil operation", ErrInvalidRequest)
	case req.CacheKey == "":
		err = fmt.Errorf("%w: empty cache key", ErrInvalidRequest)
	default:
		res, err = g.execute(ctx, req, op)
	}

	outcome := outcomeOf(res, err)
	elapsed := g.now().Sub(start)
	g.metrics.RecordRequest(outcome, elapsed)

	var source string
	if res != nil {
		res.CallID = callID
		source = string(res.Source)
		tracing.SetTokenAttributes(span, req.EstimatedTokens, res.Usage)
		tracing.SetRetryAttributes(span, res.Attempts)
	}
	tracing.SetOutcomeAttributes(span, outcome, source)
	tracing.SetError(span, err)
	tracing.SetStatus(span, err)

	g.logger.DebugContext(ctx, "governed call finished",
		"outcome", outcome,
		"estimated_tokens", req.EstimatedTokens,
		"elapsed", elapsed,
	)
	return res, err
}

// execute loops until this caller either obtains a result or owns the key.
// A waiter whose owner abandoned the call starts over, so exactly one of
// the remaining waiters becomes the next owner.
func (g *Governor) execute(ctx context.Context, req Request, op Operation) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if entry, ok := g.lookup(ctx, req.CacheKey); ok {
			return &Result{Value: entry.Value, Usage: entry.Usage, Source: SourceCache}, nil
		}

		flight, owner, ok := g.claim(ctx, req.CacheKey)
		if !ok {
			// Single-flight bookkeeping failed; run without deduplication.
			return g.run(ctx, req, op, nil)
		}
		if owner {
			return g.run(ctx, req, op, flight)
		}

		out, err := flight.Wait(ctx)
		if errors.Is(err, cache.ErrAbandoned) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Result{Value: out.Value, Usage: out.Usage, Source: SourceShared}, nil
	}
}

// run performs admission and the upstream call for an owned key. flight
// may be nil when single-flight is unavailable.
func (g *Governor) run(ctx context.Context, req Request, op Operation, flight *cache.Flight) (*Result, error) {
	released := false
	release := func(out cache.Outcome) {
		if flight != nil && !released {
			released = true
			flight.Release(out)
		}
	}
	// Waiters must never be left blocked, even if op panics.
	defer release(cache.Outcome{Err: cache.ErrAbandoned})

	// The previous owner may have stored the value between our lookup and
	// our claim.
	if flight != nil {
		if entry, ok := g.lookup(ctx, req.CacheKey); ok {
			release(cache.Outcome{Value: entry.Value, Usage: entry.Usage})
			return &Result{Value: entry.Value, Usage: entry.Usage, Source: SourceCache}, nil
		}
	}

	if err := g.breaker.Peek(); err != nil {
		cerr := g.circuitOpenError(err)
		release(cache.Outcome{Err: cerr})
		return nil, cerr
	}

	reservation, err := g.budget.Reserve(req.TenantID, req.EstimatedTokens)
	if err != nil {
		berr := newBudgetExceededError(err)
		g.metrics.RecordBudgetDenial(berr.Scope)
		g.logger.InfoContext(ctx, "budget denied call",
			"scope", berr.Scope,
			"requested", berr.Requested,
			"consumed", berr.Consumed,
			"limit", berr.Limit,
		)
		release(cache.Outcome{Err: berr})
		return nil, berr
	}
	defer g.budget.Release(reservation)

	ticket, err := g.breaker.Allow()
	if err != nil {
		cerr := g.circuitOpenError(err)
		release(cache.Outcome{Err: cerr})
		return nil, cerr
	}
	defer ticket.Abandon()

	completion, stats, err := retry.Run(ctx, g.retry, func(ctx context.Context) (Completion, error) {
		return op(ctx)
	})
	g.metrics.RecordAttempts(stats.Attempts)

	if err == nil {
		g.budget.Commit(reservation, completion.Usage)
		ticket.Success()
		g.metrics.RecordCommit(req.TenantID, completion.Usage, g.budget.Usage(req.TenantID))

		g.store(ctx, req, completion)

		release(cache.Outcome{Value: completion.Value, Usage: completion.Usage})
		return &Result{
			Value:    completion.Value,
			Usage:    completion.Usage,
			Source:   SourceUpstream,
			Attempts: stats.Attempts,
		}, nil
	}

	// The deferred Release refunds the reservation on every failure path.
	switch {
	case ctx.Err() != nil:
		// Caller gave up: the breaker learns nothing and waiters re-claim.
		g.logger.InfoContext(ctx, "call abandoned by caller", "attempts", stats.Attempts, "error", err)
		return nil, err

	case errors.Is(err, retry.ErrExhausted):
		ticket.Failure()
		var exhausted *retry.ExhaustedError
		errors.As(err, &exhausted)
		uerr := &UpstreamError{
			Kind:      UpstreamTransient,
			Attempts:  stats.Attempts,
			Throttled: exhausted.Throttled,
			Err:       exhausted.Err,
		}
		g.logger.WarnContext(ctx, "upstream call failed after retries", "attempts", stats.Attempts, "error", exhausted.Err)
		release(cache.Outcome{Err: uerr})
		return nil, uerr

	default:
		uerr := &UpstreamError{
			Kind:     UpstreamFatal,
			Attempts: stats.Attempts,
			Err:      err,
		}
		g.logger.WarnContext(ctx, "upstream call failed", "error", err)
		release(cache.Outcome{Err: uerr})
		return nil, uerr
	}
}

// lookup reads the cache, treating a panic in store code as a miss.
func (g *Governor) lookup(ctx context.Context, key string) (entry *cache.Entry, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "cache lookup panicked", "panic", r)
			entry, ok = nil, false
		}
	}()
	return g.cache.Lookup(ctx, key)
}

// store caches a successful completion. Failures and panics in store code
// are logged and counted; the caller still gets its value.
func (g *Governor) store(ctx context.Context, req Request, completion Completion) {
	defer func() {
		if r := recover(); r != nil {
			g.metrics.RecordCacheStoreError()
			g.logger.ErrorContext(ctx, "cache store panicked", "panic", r)
		}
	}()
	if err := g.cache.Store(context.WithoutCancel(ctx), req.CacheKey, completion.Value, completion.Usage, req.CacheTTL); err != nil {
		g.metrics.RecordCacheStoreError()
		g.logger.WarnContext(ctx, "failed to cache result", "error", err)
	}
}

// claim enters the single-flight table. ok is false when the table is
// unusable and the caller should run without deduplication.
func (g *Governor) claim(ctx context.Context, key string) (flight *cache.Flight, owner, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "single-flight claim panicked", "panic", r)
			flight, owner, ok = nil, false, false
		}
	}()
	flight, owner = g.cache.AwaitOrClaim(key)
	return flight, owner, true
}

func (g *Governor) circuitOpenError(err error) *CircuitOpenError {
	return &CircuitOpenError{
		Breaker:    g.breaker.Name(),
		State:      g.breaker.State(),
		RetryAfter: g.breaker.RetryAfter(),
		err:        err,
	}
}

func outcomeOf(res *Result, err error) string {
	if err == nil {
		switch res.Source {
		case SourceCache:
			return OutcomeCacheHit
		case SourceShared:
			return OutcomeShared
		default:
			return OutcomeSuccess
		}
	}

	switch {
	case errors.Is(err, ErrBudgetExceeded):
		return OutcomeBudget
	case errors.Is(err, ErrCircuitOpen):
		return OutcomeCircuit
	case errors.Is(err, ErrUpstreamTransient):
		return OutcomeTransient
	case errors.Is(err, ErrUpstreamFatal):
		return OutcomeFatal
	case errors.Is(err, ErrInvalidRequest):
		return OutcomeInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFatal
	}
}
