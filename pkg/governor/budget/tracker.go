package budget

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Tracker enforces the global and per-tenant token ceilings.
type Tracker struct {
	config Config
	window time.Duration
	now    func() time.Time

	global *Window

	mu      sync.RWMutex
	tenants map[string]*Window
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker with the given ceilings.
//
// Example:
//
//	tracker := budget.NewTracker(budget.Config{
//	    GlobalDailyTokens: 5_000_000,
//	    TenantDailyTokens: 500_000,
//	})
func NewTracker(config Config, opts ...Option) *Tracker {
	t := &Tracker{
		config:  config,
		window:  config.Window,
		now:     time.Now,
		tenants: make(map[string]*Window),
	}
	if t.window <= 0 {
		t.window = DefaultWindow
	}
	for _, opt := range opts {
		opt(t)
	}
	t.global = newWindow(t.now())
	return t
}

// Reservation is a provisional charge against a tenant window and the
// global window. It must be settled exactly once with Commit or Release;
// later calls are ignored.
type Reservation struct {
	// TenantID is the tenant the tokens were reserved for.
	TenantID string

	// Tokens is the reserved amount.
	Tokens uint64

	tenant           *Window
	tenantGeneration uint64
	globalGeneration uint64
	settled          atomic.Bool
}

// TenantLimit returns the ceiling that applies to tenantID.
func (t *Tracker) TenantLimit(tenantID string) uint64 {
	if limit, ok := t.config.TenantOverrides[tenantID]; ok {
		return limit
	}
	return t.config.TenantDailyTokens
}

// GlobalLimit returns the global ceiling.
func (t *Tracker) GlobalLimit() uint64 {
	return t.config.GlobalDailyTokens
}

// Reserve charges tokens against the tenant window and the global window.
//
// Both windows are checked and charged while both locks are held. When
// either ceiling would be exceeded nothing is charged and a *DeniedError
// is returned; the tenant ceiling is checked first. Reserve never waits
// for budget to become available.
func (t *Tracker) Reserve(tenantID string, tokens uint64) (*Reservation, error) {
	tw := t.tenantWindow(tenantID)
	now := t.now()

	tw.mu.Lock()
	defer tw.mu.Unlock()
	t.global.mu.Lock()
	defer t.global.mu.Unlock()

	tw.rollLocked(now, t.window)
	t.global.rollLocked(now, t.window)

	if limit := t.TenantLimit(tenantID); !tw.fitsLocked(tokens, limit) {
		return nil, &DeniedError{
			Scope:     ScopeTenant,
			TenantID:  tenantID,
			Requested: tokens,
			Consumed:  tw.consumed,
			Limit:     limit,
			ResetAt:   tw.start.Add(t.window),
		}
	}
	if limit := t.config.GlobalDailyTokens; !t.global.fitsLocked(tokens, limit) {
		return nil, &DeniedError{
			Scope:     ScopeGlobal,
			TenantID:  tenantID,
			Requested: tokens,
			Consumed:  t.global.consumed,
			Limit:     limit,
			ResetAt:   t.global.start.Add(t.window),
		}
	}

	tw.addLocked(tokens)
	t.global.addLocked(tokens)

	return &Reservation{
		TenantID:         tenantID,
		Tokens:           tokens,
		tenant:           tw,
		tenantGeneration: tw.generation,
		globalGeneration: t.global.generation,
	}, nil
}

// Commit replaces the reserved amount with the actual usage. Actual usage
// may be larger or smaller than the reservation. If a window was reset
// since the reservation was taken, the reserved amount is not refunded from
// the new window and only the actual usage is charged to it.
func (t *Tracker) Commit(r *Reservation, actualTokens uint64) {
	t.settle(r, func(w *Window, generation uint64) {
		if w.generation == generation {
			w.subLocked(r.Tokens)
		}
		w.addLocked(actualTokens)
	})
}

// Release refunds the whole reservation. A reservation taken from a window
// that has since been reset refunds nothing.
func (t *Tracker) Release(r *Reservation) {
	t.settle(r, func(w *Window, generation uint64) {
		if w.generation == generation {
			w.subLocked(r.Tokens)
		}
	})
}

func (t *Tracker) settle(r *Reservation, apply func(w *Window, generation uint64)) {
	if r == nil || r.tenant == nil || !r.settled.CompareAndSwap(false, true) {
		return
	}
	now := t.now()

	r.tenant.mu.Lock()
	defer r.tenant.mu.Unlock()
	t.global.mu.Lock()
	defer t.global.mu.Unlock()

	r.tenant.rollLocked(now, t.window)
	t.global.rollLocked(now, t.window)

	apply(r.tenant, r.tenantGeneration)
	apply(t.global, r.globalGeneration)
}

// Usage reports the tenant window and the global window.
func (t *Tracker) Usage(tenantID string) Usage {
	tw := t.tenantWindow(tenantID)
	now := t.now()

	tw.mu.Lock()
	tw.rollLocked(now, t.window)
	tenant := tw.statusLocked(ScopeTenant, tenantID, t.TenantLimit(tenantID), t.window)
	tw.mu.Unlock()

	return Usage{Tenant: tenant, Global: t.GlobalStatus()}
}

// GlobalStatus reports the global window.
func (t *Tracker) GlobalStatus() Status {
	now := t.now()
	t.global.mu.Lock()
	defer t.global.mu.Unlock()

	t.global.rollLocked(now, t.window)
	return t.global.statusLocked(ScopeGlobal, GlobalIdentifier, t.config.GlobalDailyTokens, t.window)
}

// Tenants returns the identifiers of every tenant seen so far, sorted.
func (t *Tracker) Tenants() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.tenants))
	for id := range t.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot captures every window for persistence. Windows are copied one at
// a time, so the result is not a single atomic cut across windows.
func (t *Tracker) Snapshot() []WindowSnapshot {
	now := t.now()
	tenants := t.Tenants()
	snaps := make([]WindowSnapshot, 0, len(tenants)+1)

	t.global.mu.Lock()
	t.global.rollLocked(now, t.window)
	snaps = append(snaps, WindowSnapshot{
		Scope:       ScopeGlobal,
		Identifier:  GlobalIdentifier,
		WindowStart: t.global.start,
		Consumed:    t.global.consumed,
	})
	t.global.mu.Unlock()

	for _, id := range tenants {
		tw := t.tenantWindow(id)
		tw.mu.Lock()
		tw.rollLocked(now, t.window)
		snaps = append(snaps, WindowSnapshot{
			Scope:       ScopeTenant,
			Identifier:  id,
			WindowStart: tw.start,
			Consumed:    tw.consumed,
		})
		tw.mu.Unlock()
	}
	return snaps
}

// Restore seeds windows from persisted snapshots. Snapshots whose window
// has already expired are skipped. It returns the number of windows restored.
func (t *Tracker) Restore(snaps []WindowSnapshot) int {
	now := t.now()
	restored := 0

	for _, s := range snaps {
		if now.Sub(s.WindowStart) >= t.window || s.WindowStart.After(now) {
			continue
		}

		var w *Window
		switch s.Scope {
		case ScopeGlobal:
			w = t.global
		case ScopeTenant:
			w = t.tenantWindow(s.Identifier)
		default:
			continue
		}

		w.mu.Lock()
		w.start = s.WindowStart
		w.consumed = s.Consumed
		w.generation++
		w.mu.Unlock()
		restored++
	}
	return restored
}

// tenantWindow returns the window of tenantID, creating it on first use.
func (t *Tracker) tenantWindow(tenantID string) *Window {
	t.mu.RLock()
	w, ok := t.tenants[tenantID]
	t.mu.RUnlock()
	if ok {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if w, ok := t.tenants[tenantID]; ok {
		return w
	}
	w = newWindow(t.now())
	t.tenants[tenantID] = w
	return w
}
