// Package governor admits, deduplicates and retries calls to an AI
// completion upstream.
//
// A Governor owns four components and applies them in a fixed order on
// every Execute call:
//
//  1. The response cache. A live entry for the request's cache key is
//     returned without touching any other component.
//  2. The single-flight table. If another caller is already running the
//     same cache key, Execute waits for that call and returns its outcome,
//     success or failure.
//  3. The circuit breaker. While the upstream is considered unhealthy the
//     call fails fast with a *CircuitOpenError.
//  4. The token budget. The request's estimated tokens are reserved against
//     its tenant and the global ceiling; a denial returns a
//     *BudgetExceededError and the upstream is not called.
//
// Admitted calls run through the retry orchestrator. On success the actual
// usage is committed, the value cached and the breaker credited. On
// failure the reservation is refunded and the breaker charged once per
// Execute call, however many attempts were made.
//
// Errors can be matched with errors.Is against ErrBudgetExceeded,
// ErrCircuitOpen, ErrUpstreamTransient, ErrUpstreamFatal and
// ErrInvalidRequest, or inspected with errors.As for details.
//
// # Example
//
//	gov := governor.New(governor.Options{
//	    DefaultTenant: "default",
//	    Budget:        budget.Config{GlobalDailyTokens: 5_000_000, TenantDailyTokens: 500_000},
//	    Circuit:       circuit.Config{FailureThreshold: 5, Cooldown: 30 * time.Second},
//	    Retry:         retry.Policy{MaxAttempts: 3},
//	    Cache:         cache.Options{Enabled: true, TTL: time.Hour},
//	})
//
//	res, err := gov.Execute(ctx, governor.Request{
//	    TenantID:        "acme",
//	    RequestName:     "summarize",
//	    CacheKey:        governor.BuildCacheKey("summarize", doc),
//	    EstimatedTokens: 1200,
//	}, func(ctx context.Context) (governor.Completion, error) {
//	    return client.Complete(ctx, prompt)
//	})
package governor
