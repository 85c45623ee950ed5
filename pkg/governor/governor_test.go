package governor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/cache"
	"mercator-hq/gatekeeper/pkg/governor/circuit"
	"mercator-hq/gatekeeper/pkg/governor/retry"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	errUnavailable = retry.Transient(errors.New("503 service unavailable"))
	errMalformed   = retry.Permanent(errors.New("400 malformed request"))
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGovernor(t *testing.T, mutate func(*Options)) *Governor {
	t.Helper()

	opts := Options{
		DefaultTenant: "default",
		Budget: budget.Config{
			GlobalDailyTokens: 10000,
			TenantDailyTokens: 5000,
		},
		Circuit: circuit.Config{FailureThreshold: 3, Cooldown: time.Minute},
		Retry: retry.Policy{
			MaxAttempts: 1,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
		Cache:  cache.Options{Enabled: true, TTL: time.Hour},
		Logger: discardLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}

	g := New(opts)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// countingOp returns an operation that counts invocations and returns the
// given completion.
func countingOp(calls *atomic.Int32, value string, usage uint64) Operation {
	return func(ctx context.Context) (Completion, error) {
		calls.Add(1)
		return Completion{Value: []byte(value), Usage: usage}, nil
	}
}

func failingOp(calls *atomic.Int32, err error) Operation {
	return func(ctx context.Context) (Completion, error) {
		calls.Add(1)
		return Completion{}, err
	}
}

func consumed(g *Governor, tenant string) uint64 {
	return g.Budget().Usage(tenant).Tenant.Consumed
}

func TestExecute_UpstreamThenCacheHit(t *testing.T) {
	g := newTestGovernor(t, nil)
	ctx := context.Background()
	req := Request{TenantID: "acme", RequestName: "summarize", CacheKey: "k1", EstimatedTokens: 100}

	var calls atomic.Int32
	res, err := g.Execute(ctx, req, countingOp(&calls, "summary", 80))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Source != SourceUpstream || string(res.Value) != "summary" || res.Usage != 80 {
		t.Fatalf("first result = %+v", res)
	}
	if res.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", res.Attempts)
	}
	if res.CallID == "" {
		t.Error("CallID is empty")
	}
	if got := consumed(g, "acme"); got != 80 {
		t.Errorf("consumed after commit = %d, want 80", got)
	}

	res, err = g.Execute(ctx, req, countingOp(&calls, "other", 999))
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if res.Source != SourceCache || string(res.Value) != "summary" {
		t.Errorf("second result = %+v, want cached summary", res)
	}
	if calls.Load() != 1 {
		t.Errorf("operation invoked %d times, want 1", calls.Load())
	}
	if got := consumed(g, "acme"); got != 80 {
		t.Errorf("cache hit charged the budget: consumed = %d", got)
	}
	if got := testutil.ToFloat64(g.metrics.requests.WithLabelValues(OutcomeCacheHit)); got != 1 {
		t.Errorf("cache_hit requests = %v, want 1", got)
	}
}

func TestExecute_CacheTTL(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(t, func(o *Options) {
		o.Now = clock.Now
		o.Cache.TTL = time.Minute
	})
	ctx := context.Background()
	req := Request{CacheKey: "ttl", EstimatedTokens: 10}

	var calls atomic.Int32
	op := countingOp(&calls, "v", 10)

	if _, err := g.Execute(ctx, req, op); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	clock.Advance(30 * time.Second)
	res, err := g.Execute(ctx, req, op)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Source != SourceCache || calls.Load() != 1 {
		t.Fatalf("before expiry: source = %s, calls = %d", res.Source, calls.Load())
	}

	clock.Advance(31 * time.Second)
	res, err = g.Execute(ctx, req, op)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Source != SourceUpstream || calls.Load() != 2 {
		t.Errorf("after expiry: source = %s, calls = %d; want upstream, 2", res.Source, calls.Load())
	}
}

func TestExecute_RequestCacheTTLOverride(t *testing.T) {
	clock := newFakeClock()
	g := newTestGovernor(t, func(o *Options) { o.Now = clock.Now })
	ctx := context.Background()
	req := Request{CacheKey: "short", CacheTTL: time.Second}

	var calls atomic.Int32
	op := countingOp(&calls, "v", 1)
	_, _ = g.Execute(ctx, req, op)
	clock.Advance(2 * time.Second)
	_, _ = g.Execute(ctx, req, op)

	if calls.Load() != 2 {
		t.Errorf("operation invoked %d times, want 2", calls.Load())
	}
}

// waitForWaiters blocks until n callers wait on the running flight for key.
func waitForWaiters(t *testing.T, g *Governor, key string, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		flight, owner := g.Cache().AwaitOrClaim(key)
		if owner {
			flight.Release(cache.Outcome{Err: cache.ErrAbandoned})
			t.Fatalf("key %q was not in flight", key)
		}
		if flight.Waiters() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d waiters on %q", n, key)
}

func TestExecute_SingleFlight(t *testing.T) {
	g := newTestGovernor(t, nil)
	const callers = 16
	req := Request{TenantID: "acme", CacheKey: "same", EstimatedTokens: 50}

	var calls atomic.Int32
	started := make(chan struct{})
	unblock := make(chan struct{})
	op := func(ctx context.Context) (Completion, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-unblock
		return Completion{Value: []byte("shared answer"), Usage: 40}, nil
	}

	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = g.Execute(context.Background(), req, op)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Execute(context.Background(), req, op)
		}(i)
	}
	waitForWaiters(t, g, req.CacheKey, callers-1)
	close(unblock)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("operation invoked %d times, want 1", calls.Load())
	}

	sources := map[Source]int{}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if string(results[i].Value) != "shared answer" {
			t.Errorf("caller %d value = %q", i, results[i].Value)
		}
		sources[results[i].Source]++
	}
	if sources[SourceUpstream] != 1 || sources[SourceShared] != callers-1 {
		t.Errorf("sources = %v, want 1 upstream and %d shared", sources, callers-1)
	}
	if got := consumed(g, "acme"); got != 40 {
		t.Errorf("consumed = %d, want 40 (charged once)", got)
	}
	if g.Cache().InFlight() != 0 {
		t.Errorf("InFlight() = %d after completion", g.Cache().InFlight())
	}
}

func TestExecute_SingleFlightBroadcastsFailure(t *testing.T) {
	g := newTestGovernor(t, nil)
	req := Request{CacheKey: "bad", EstimatedTokens: 10}

	var calls atomic.Int32
	started := make(chan struct{})
	unblock := make(chan struct{})
	op := func(ctx context.Context) (Completion, error) {
		calls.Add(1)
		close(started)
		<-unblock
		return Completion{}, errMalformed
	}

	ownerErr := make(chan error, 1)
	go func() {
		_, err := g.Execute(context.Background(), req, op)
		ownerErr <- err
	}()
	<-started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := g.Execute(context.Background(), req, op)
		waiterErr <- err
	}()
	waitForWaiters(t, g, req.CacheKey, 1)
	close(unblock)

	first, second := <-ownerErr, <-waiterErr
	if !errors.Is(first, ErrUpstreamFatal) || !errors.Is(second, ErrUpstreamFatal) {
		t.Fatalf("errors = %v / %v, want ErrUpstreamFatal for both", first, second)
	}
	if first != second {
		t.Error("waiter did not receive the owner's error value")
	}
	if calls.Load() != 1 {
		t.Errorf("operation invoked %d times, want 1", calls.Load())
	}
}

func TestExecute_ClaimantCancelHandsOff(t *testing.T) {
	g := newTestGovernor(t, nil)
	req := Request{TenantID: "acme", CacheKey: "handoff", EstimatedTokens: 30}

	var calls atomic.Int32
	started := make(chan struct{})
	op := func(ctx context.Context) (Completion, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return Completion{}, ctx.Err()
		}
		return Completion{Value: []byte("second try"), Usage: 25}, nil
	}

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	ownerErr := make(chan error, 1)
	go func() {
		_, err := g.Execute(ownerCtx, req, op)
		ownerErr <- err
	}()
	<-started

	type outcome struct {
		res *Result
		err error
	}
	waiter := make(chan outcome, 1)
	go func() {
		res, err := g.Execute(context.Background(), req, op)
		waiter <- outcome{res, err}
	}()
	waitForWaiters(t, g, req.CacheKey, 1)

	cancelOwner()

	if err := <-ownerErr; !errors.Is(err, context.Canceled) {
		t.Errorf("owner error = %v, want context.Canceled", err)
	}
	got := <-waiter
	if got.err != nil {
		t.Fatalf("waiter error = %v", got.err)
	}
	if got.res.Source != SourceUpstream || string(got.res.Value) != "second try" {
		t.Errorf("waiter result = %+v, want its own upstream call", got.res)
	}
	if calls.Load() != 2 {
		t.Errorf("operation invoked %d times, want 2", calls.Load())
	}
	if c := consumed(g, "acme"); c != 25 {
		t.Errorf("consumed = %d, want 25 (cancelled reservation refunded)", c)
	}
	if f := g.Breaker().Counts().ConsecutiveFailures; f != 0 {
		t.Errorf("cancellation counted as breaker failure: %d", f)
	}
}

func TestExecute_WaiterCancelDetaches(t *testing.T) {
	g := newTestGovernor(t, nil)
	req := Request{CacheKey: "detach"}

	var calls atomic.Int32
	started := make(chan struct{})
	unblock := make(chan struct{})
	op := func(ctx context.Context) (Completion, error) {
		calls.Add(1)
		close(started)
		<-unblock
		return Completion{Value: []byte("done")}, nil
	}

	ownerRes := make(chan *Result, 1)
	go func() {
		res, _ := g.Execute(context.Background(), req, op)
		ownerRes <- res
	}()
	<-started

	waiterCtx, cancelWaiter := context.WithCancel(context.Background())
	waiterErr := make(chan error, 1)
	go func() {
		_, err := g.Execute(waiterCtx, req, op)
		waiterErr <- err
	}()
	waitForWaiters(t, g, req.CacheKey, 1)

	cancelWaiter()
	if err := <-waiterErr; !errors.Is(err, context.Canceled) {
		t.Errorf("waiter error = %v, want context.Canceled", err)
	}

	close(unblock)
	if res := <-ownerRes; res == nil || string(res.Value) != "done" {
		t.Errorf("owner result = %+v", res)
	}
	if calls.Load() != 1 {
		t.Errorf("operation invoked %d times, want 1", calls.Load())
	}
}

func TestExecute_BudgetDenied(t *testing.T) {
	g := newTestGovernor(t, func(o *Options) {
		o.Budget = budget.Config{GlobalDailyTokens: 1000, TenantDailyTokens: 500}
	})
	ctx := context.Background()

	var calls atomic.Int32
	_, err := g.Execute(ctx, Request{TenantID: "a", CacheKey: "big", EstimatedTokens: 600}, countingOp(&calls, "v", 1))

	var berr *BudgetExceededError
	if !errors.As(err, &berr) {
		t.Fatalf("error = %v, want *BudgetExceededError", err)
	}
	if berr.Scope != budget.ScopeTenant || berr.TenantID != "a" || berr.Limit != 500 {
		t.Errorf("BudgetExceededError = %+v", berr)
	}
	if !errors.Is(err, ErrBudgetExceeded) || !errors.Is(err, budget.ErrBudgetExceeded) {
		t.Error("budget error does not match its sentinels")
	}
	if calls.Load() != 0 {
		t.Errorf("operation invoked %d times after denial", calls.Load())
	}
	if g.Breaker().Counts().Requests != 0 {
		t.Error("budget denial reached the breaker")
	}
	if g.Cache().InFlight() != 0 {
		t.Error("flight not released after denial")
	}
}

func TestExecute_BudgetGlobalScope(t *testing.T) {
	g := newTestGovernor(t, func(o *Options) {
		o.Budget = budget.Config{GlobalDailyTokens: 1000, TenantDailyTokens: 500}
	})
	ctx := context.Background()

	for i, tenant := range []string{"a", "b"} {
		req := Request{TenantID: tenant, CacheKey: BuildCacheKey(tenant), EstimatedTokens: 450}
		var calls atomic.Int32
		if _, err := g.Execute(ctx, req, countingOp(&calls, "v", 450)); err != nil {
			t.Fatalf("call %d error = %v", i, err)
		}
	}

	var calls atomic.Int32
	_, err := g.Execute(ctx, Request{TenantID: "c", CacheKey: "c", EstimatedTokens: 150}, countingOp(&calls, "v", 1))
	var berr *BudgetExceededError
	if !errors.As(err, &berr) || berr.Scope != budget.ScopeGlobal {
		t.Fatalf("error = %v, want global BudgetExceededError", err)
	}
	if got := testutil.ToFloat64(g.metrics.budgetDenials.WithLabelValues("global")); got != 1 {
		t.Errorf("global denials metric = %v, want 1", got)
	}
}

func TestExecute_CommitsActualUsage(t *testing.T) {
	g := newTestGovernor(t, nil)
	ctx := context.Background()

	var calls atomic.Int32
	if _, err := g.Execute(ctx, Request{TenantID: "t", CacheKey: "lower", EstimatedTokens: 100}, countingOp(&calls, "v", 40)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := consumed(g, "t"); got != 40 {
		t.Errorf("consumed = %d, want 40", got)
	}

	if _, err := g.Execute(ctx, Request{TenantID: "t", CacheKey: "higher", EstimatedTokens: 10}, countingOp(&calls, "v", 70)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := consumed(g, "t"); got != 110 {
		t.Errorf("consumed = %d, want 110", got)
	}
	if got := g.Budget().GlobalStatus().Consumed; got != 110 {
		t.Errorf("global consumed = %d, want 110", got)
	}
}

func TestExecute_FailureRefundsReservation(t *testing.T) {
	g := newTestGovernor(t, nil)

	var calls atomic.Int32
	_, err := g.Execute(context.Background(), Request{TenantID: "t", CacheKey: "fail", EstimatedTokens: 300}, failingOp(&calls, errUnavailable))
	if !errors.Is(err, ErrUpstreamTransient) {
		t.Fatalf("error = %v, want ErrUpstreamTransient", err)
	}
	if got := consumed(g, "t"); got != 0 {
		t.Errorf("consumed = %d after failure, want 0", got)
	}
	if got := g.Budget().GlobalStatus().Consumed; got != 0 {
		t.Errorf("global consumed = %d after failure, want 0", got)
	}
}

func TestExecute_RetryBoundAndSingleBreakerFailure(t *testing.T) {
	g := newTestGovernor(t, func(o *Options) { o.Retry.MaxAttempts = 3 })

	var calls atomic.Int32
	_, err := g.Execute(context.Background(), Request{CacheKey: "retry"}, failingOp(&calls, errUnavailable))

	if calls.Load() != 3 {
		t.Errorf("operation invoked %d times, want 3", calls.Load())
	}
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if uerr.Kind != UpstreamTransient || uerr.Attempts != 3 {
		t.Errorf("UpstreamError = %+v", uerr)
	}
	if !errors.Is(err, errUnavailable) {
		t.Error("UpstreamError does not wrap the last operation error")
	}

	// Three attempts are one logical failure for the breaker.
	counts := g.Breaker().Counts()
	if counts.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", counts.ConsecutiveFailures)
	}
	if g.Breaker().State() != circuit.StateClosed {
		t.Errorf("State() = %s, want closed", g.Breaker().State())
	}
	if got := testutil.ToFloat64(g.metrics.upstreamAttempts); got != 3 {
		t.Errorf("upstream attempts metric = %v, want 3", got)
	}
}

func TestExecute_FatalNotRetried(t *testing.T) {
	g := newTestGovernor(t, func(o *Options) { o.Retry.MaxAttempts = 5 })

	var calls atomic.Int32
	_, err := g.Execute(context.Background(), Request{CacheKey: "fatal"}, failingOp(&calls, errMalformed))

	if calls.Load() != 1 {
		t.Errorf("operation invoked %d times, want 1", calls.Load())
	}
	if !errors.Is(err, ErrUpstreamFatal) {
		t.Fatalf("error = %v, want ErrUpstreamFatal", err)
	}
	if !errors.Is(err, errMalformed) {
		t.Error("fatal error not wrapped")
	}
	if f := g.Breaker().Counts().ConsecutiveFailures; f != 0 {
		t.Errorf("fatal error counted as breaker failure: %d", f)
	}
}

func TestExecute_CircuitOpens(t *testing.T) {
	g := newTestGovernor(t, func(o *Options) { o.Circuit.FailureThreshold = 2 })
	ctx := context.Background()

	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		_, _ = g.Execute(ctx, Request{CacheKey: BuildCacheKey("fail", string(rune('a'+i))), EstimatedTokens: 10}, failingOp(&calls, errUnavailable))
	}
	if g.Breaker().State() != circuit.StateOpen {
		t.Fatalf("State() = %s, want open", g.Breaker().State())
	}

	before := g.Budget().GlobalStatus().Consumed
	_, err := g.Execute(ctx, Request{CacheKey: "next", EstimatedTokens: 10}, failingOp(&calls, errUnavailable))

	var cerr *CircuitOpenError
	if !errors.As(err, &cerr) {
		t.Fatalf("error = %v, want *CircuitOpenError", err)
	}
	if cerr.State != circuit.StateOpen || cerr.RetryAfter <= 0 {
		t.Errorf("CircuitOpenError = %+v", cerr)
	}
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, circuit.ErrOpen) {
		t.Error("circuit error does not match its sentinels")
	}
	if calls.Load() != 2 {
		t.Errorf("operation invoked %d times, want 2", calls.Load())
	}
	if g.Budget().GlobalStatus().Consumed != before {
		t.Error("circuit denial touched the budget")
	}
	if got := testutil.ToFloat64(g.metrics.circuitState); got != circuit.StateOpen.Value() {
		t.Errorf("circuit_state gauge = %v, want %v", got, circuit.StateOpen.Value())
	}
}

func TestExecute_BreakerScenario(t *testing.T) {
	// threshold 3, cooldown 60s, scaled to milliseconds.
	const cooldown = 60 * time.Millisecond
	g := newTestGovernor(t, func(o *Options) {
		o.Circuit = circuit.Config{FailureThreshold: 3, Cooldown: cooldown}
	})
	ctx := context.Background()

	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		_, err := g.Execute(ctx, Request{CacheKey: BuildCacheKey("f", string(rune('0'+i)))}, failingOp(&calls, errUnavailable))
		if !errors.Is(err, ErrUpstreamTransient) {
			t.Fatalf("failure %d error = %v", i, err)
		}
	}

	// t+30
	time.Sleep(cooldown / 2)
	_, err := g.Execute(ctx, Request{CacheKey: "t30"}, countingOp(&calls, "v", 1))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("call during cooldown error = %v, want ErrCircuitOpen", err)
	}

	// t+61
	time.Sleep(cooldown/2 + 10*time.Millisecond)
	res, err := g.Execute(ctx, Request{CacheKey: "t61"}, countingOp(&calls, "probe", 1))
	if err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if string(res.Value) != "probe" {
		t.Errorf("probe value = %q", res.Value)
	}
	if g.Breaker().State() != circuit.StateClosed {
		t.Fatalf("State() after probe success = %s, want closed", g.Breaker().State())
	}
	if f := g.Breaker().Counts().ConsecutiveFailures; f != 0 {
		t.Errorf("ConsecutiveFailures = %d after probe success, want 0", f)
	}

	// t+62
	if _, err := g.Execute(ctx, Request{CacheKey: "t62"}, countingOp(&calls, "v", 1)); err != nil {
		t.Errorf("call after recovery error = %v", err)
	}
}

func TestExecute_FailedProbeReopens(t *testing.T) {
	const cooldown = 40 * time.Millisecond
	g := newTestGovernor(t, func(o *Options) {
		o.Circuit = circuit.Config{FailureThreshold: 1, Cooldown: cooldown}
	})
	ctx := context.Background()

	var calls atomic.Int32
	_, _ = g.Execute(ctx, Request{CacheKey: "a"}, failingOp(&calls, errUnavailable))
	time.Sleep(cooldown + 10*time.Millisecond)

	_, err := g.Execute(ctx, Request{CacheKey: "probe"}, failingOp(&calls, errUnavailable))
	if !errors.Is(err, ErrUpstreamTransient) {
		t.Fatalf("probe error = %v, want upstream failure", err)
	}
	if g.Breaker().State() != circuit.StateOpen {
		t.Errorf("State() after failed probe = %s, want open", g.Breaker().State())
	}
	_, err = g.Execute(ctx, Request{CacheKey: "after"}, failingOp(&calls, errUnavailable))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("call after failed probe error = %v, want ErrCircuitOpen", err)
	}
}

func TestExecute_HalfOpenAdmitsOneProbe(t *testing.T) {
	const cooldown = 40 * time.Millisecond
	g := newTestGovernor(t, func(o *Options) {
		o.Circuit = circuit.Config{FailureThreshold: 1, Cooldown: cooldown}
	})
	ctx := context.Background()

	var failures atomic.Int32
	_, _ = g.Execute(ctx, Request{CacheKey: "trip"}, failingOp(&failures, errUnavailable))
	time.Sleep(cooldown + 10*time.Millisecond)

	var calls atomic.Int32
	unblock := make(chan struct{})
	probe := func(ctx context.Context) (Completion, error) {
		calls.Add(1)
		<-unblock
		return Completion{Value: []byte("ok")}, nil
	}

	const callers = 8
	var (
		wg     sync.WaitGroup
		denied atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.Execute(ctx, Request{CacheKey: BuildCacheKey("probe", string(rune('a'+i)))}, probe)
			if errors.Is(err, ErrCircuitOpen) {
				denied.Add(1)
			}
		}(i)
	}

	deadline := time.Now().Add(2 * time.Second)
	for denied.Load() < callers-1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(unblock)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("half-open admitted %d probes, want 1", calls.Load())
	}
	if denied.Load() != callers-1 {
		t.Errorf("denied = %d, want %d", denied.Load(), callers-1)
	}
}

func TestExecute_CacheStoreFailureIsBestEffort(t *testing.T) {
	g := newTestGovernor(t, func(o *Options) { o.Cache.MaxEntryBytes = 4 })
	ctx := context.Background()
	req := Request{CacheKey: "large"}

	var calls atomic.Int32
	op := countingOp(&calls, "much too large to cache", 5)

	res, err := g.Execute(ctx, req, op)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if string(res.Value) != "much too large to cache" {
		t.Errorf("value = %q", res.Value)
	}
	if got := testutil.ToFloat64(g.metrics.cacheStoreErrors); got != 1 {
		t.Errorf("cache store errors = %v, want 1", got)
	}

	if _, err := g.Execute(ctx, req, op); err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("operation invoked %d times, want 2 (value was not cacheable)", calls.Load())
	}
}

type panickingStore struct {
	cache.Store
}

func (panickingStore) Get(ctx context.Context, key string) (*cache.Entry, error) {
	panic("corrupted index")
}

type panickingSetStore struct {
	cache.Store
}

func (panickingSetStore) Set(ctx context.Context, entry *cache.Entry) error {
	panic("corrupted index")
}

func TestExecute_CacheFaultFallsBackToDirectCall(t *testing.T) {
	tests := []struct {
		name  string
		store cache.Store
	}{
		{name: "lookup panics", store: panickingStore{Store: cache.NewMemoryStore(0)}},
		{name: "set panics", store: panickingSetStore{Store: cache.NewMemoryStore(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGovernor(t, func(o *Options) {
				o.CacheStore = tt.store
			})

			var calls atomic.Int32
			res, err := g.Execute(context.Background(), Request{TenantID: "t", CacheKey: "k", EstimatedTokens: 5}, countingOp(&calls, "direct", 7))
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if res.Source != SourceUpstream || string(res.Value) != "direct" {
				t.Errorf("result = %+v", res)
			}
			if calls.Load() != 1 {
				t.Errorf("operation calls = %d, want 1", calls.Load())
			}
			if got := consumed(g, "t"); got != 7 {
				t.Errorf("consumed = %d, want 7", got)
			}
			if g.Cache().InFlight() != 0 {
				t.Error("flight leaked after cache fault")
			}
		})
	}
}

func TestExecute_CacheSetPanicCounted(t *testing.T) {
	g := newTestGovernor(t, func(o *Options) {
		o.CacheStore = panickingSetStore{Store: cache.NewMemoryStore(0)}
	})

	var calls atomic.Int32
	if _, err := g.Execute(context.Background(), Request{CacheKey: "k"}, countingOp(&calls, "v", 1)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := testutil.ToFloat64(g.metrics.cacheStoreErrors); got != 1 {
		t.Errorf("cache store errors = %v, want 1", got)
	}
}

func TestExecute_OperationPanicReleasesState(t *testing.T) {
	g := newTestGovernor(t, nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic was swallowed")
			}
		}()
		_, _ = g.Execute(context.Background(), Request{TenantID: "t", CacheKey: "boom", EstimatedTokens: 50},
			func(ctx context.Context) (Completion, error) { panic("bug") })
	}()

	if g.Cache().InFlight() != 0 {
		t.Error("flight leaked after panic")
	}
	if got := consumed(g, "t"); got != 0 {
		t.Errorf("consumed = %d after panic, want 0", got)
	}
}

func TestExecute_InvalidRequest(t *testing.T) {
	g := newTestGovernor(t, nil)
	ctx := context.Background()

	var calls atomic.Int32
	if _, err := g.Execute(ctx, Request{}, countingOp(&calls, "v", 1)); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty cache key error = %v, want ErrInvalidRequest", err)
	}
	if _, err := g.Execute(ctx, Request{CacheKey: "k"}, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("nil operation error = %v, want ErrInvalidRequest", err)
	}
	if calls.Load() != 0 {
		t.Error("operation invoked for an invalid request")
	}
}

func TestExecute_DefaultTenant(t *testing.T) {
	g := newTestGovernor(t, func(o *Options) { o.DefaultTenant = "house" })

	var calls atomic.Int32
	if _, err := g.Execute(context.Background(), Request{CacheKey: "k", EstimatedTokens: 5}, countingOp(&calls, "v", 7)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := consumed(g, "house"); got != 7 {
		t.Errorf("default tenant consumed = %d, want 7", got)
	}
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	g := newTestGovernor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, err := g.Execute(ctx, Request{CacheKey: "k"}, countingOp(&calls, "v", 1))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls.Load() != 0 {
		t.Error("operation invoked with a cancelled context")
	}
}

func TestBuildCacheKey(t *testing.T) {
	a := BuildCacheKey("summarize", "doc-1", "v2")
	if a != BuildCacheKey("summarize", "doc-1", "v2") {
		t.Error("BuildCacheKey() is not deterministic")
	}
	if a == BuildCacheKey("doc-1", "summarize", "v2") {
		t.Error("BuildCacheKey() ignores order")
	}
	if BuildCacheKey("ab", "c") == BuildCacheKey("a", "bc") {
		t.Error("BuildCacheKey() parts are not delimited")
	}
	if BuildCacheKey() == BuildCacheKey("") {
		t.Error("BuildCacheKey() does not distinguish an empty part")
	}
	if len(a) != 64 {
		t.Errorf("len(BuildCacheKey()) = %d, want 64", len(a))
	}
}
