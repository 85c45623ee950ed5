// Package budget enforces daily token ceilings for the request governor.
//
// # Overview
//
// A Tracker holds one global window and one window per tenant. Each window
// counts tokens consumed since its start and resets lazily: the first
// operation that observes the window to be at least one window length old
// zeroes it and restarts it at the current time. There is no background
// timer.
//
// # Reservations
//
// Spending follows a reserve, then commit or release cycle:
//
//	res, err := tracker.Reserve("acme", estimated)
//	if err != nil {
//	    // errors.Is(err, budget.ErrBudgetExceeded); the window is untouched
//	}
//	...
//	tracker.Commit(res, actual) // or tracker.Release(res) on failure
//
// Reserve adds the estimate to the tenant and global windows in one step
// while holding both window locks (tenant first, then global), so two
// concurrent reservations can never both observe room that only one of
// them fits in. A reservation remembers the generation of each window it
// was taken from; a reservation that outlives a window reset is not
// refunded from the new window.
//
// # Ceilings
//
// A ceiling of zero disables that check. TenantOverrides replaces the
// tenant ceiling for individual tenants.
//
// # Thread Safety
//
// Every window has its own mutex. The tenant map is guarded by a
// sync.RWMutex with double-checked creation.
package budget
