package governor

import (
	"context"
	"fmt"

	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/storage"
)

// SaveBudget writes a snapshot of every budget window to backend and
// returns the number of windows written. LastUpdated is stamped from the
// governor's clock.
func (g *Governor) SaveBudget(ctx context.Context, backend storage.Backend) (int, error) {
	snaps := g.budget.Snapshot()
	now := g.now()
	states := make([]*storage.WindowState, 0, len(snaps))
	for _, s := range snaps {
		states = append(states, &storage.WindowState{
			Scope:          string(s.Scope),
			Identifier:     s.Identifier,
			WindowStart:    s.WindowStart,
			ConsumedTokens: s.Consumed,
			LastUpdated:    now,
		})
	}

	if err := backend.SaveAll(ctx, states); err != nil {
		return 0, fmt.Errorf("save budget snapshot: %w", err)
	}
	return len(states), nil
}

// RestoreBudget seeds the budget windows from backend and returns the
// number of windows restored. Windows that expired while the process was
// down are skipped.
func (g *Governor) RestoreBudget(ctx context.Context, backend storage.Backend) (int, error) {
	states, err := backend.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("load budget snapshot: %w", err)
	}

	snaps := make([]budget.WindowSnapshot, 0, len(states))
	for _, s := range states {
		snaps = append(snaps, budget.WindowSnapshot{
			Scope:       budget.Scope(s.Scope),
			Identifier:  s.Identifier,
			WindowStart: s.WindowStart,
			Consumed:    s.ConsumedTokens,
		})
	}

	restored := g.budget.Restore(snaps)
	g.logger.InfoContext(ctx, "restored budget windows", "stored", len(states), "restored", restored)
	return restored, nil
}
