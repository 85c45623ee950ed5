package health

import (
	"context"
	"fmt"

	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/cache"
	"mercator-hq/gatekeeper/pkg/governor/circuit"
)

// CircuitCheck fails while the breaker is open.
func CircuitCheck(b *circuit.Breaker) CheckFunc {
	return func(ctx context.Context) error {
		if state := b.State(); state == circuit.StateOpen {
			return fmt.Errorf("circuit %q is open, retry after %s", b.Name(), b.RetryAfter())
		}
		return nil
	}
}

// BudgetCheck fails once the global window's usage ratio reaches
// threshold. A non-positive threshold means 1.0.
func BudgetCheck(t *budget.Tracker, threshold float64) CheckFunc {
	if threshold <= 0 {
		threshold = 1.0
	}
	return func(ctx context.Context) error {
		status := t.GlobalStatus()
		if status.Unlimited {
			return nil
		}
		if ratio := status.Ratio(); ratio >= threshold {
			return fmt.Errorf("global budget %.0f%% consumed (%d of %d tokens), resets at %s",
				ratio*100, status.Consumed, status.Limit, status.ResetAt.Format("15:04:05Z07:00"))
		}
		return nil
	}
}

// CacheCheck fails when the cache store cannot be queried.
func CacheCheck(c *cache.Cache) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := c.Len(ctx); err != nil {
			return fmt.Errorf("cache store: %w", err)
		}
		return nil
	}
}
