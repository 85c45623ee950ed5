package budget

import (
	"errors"
	"fmt"
	"time"
)

// Scope identifies which ceiling a window enforces.
type Scope string

const (
	// ScopeGlobal is the process-wide ceiling shared by all tenants.
	ScopeGlobal Scope = "global"

	// ScopeTenant is the ceiling of a single tenant.
	ScopeTenant Scope = "tenant"
)

// GlobalIdentifier is the identifier used for the global window in
// snapshots and status reports.
const GlobalIdentifier = "*"

// DefaultWindow is the window length used when Config.Window is zero.
const DefaultWindow = 24 * time.Hour

// ErrBudgetExceeded is matched by every DeniedError.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// Config contains the token ceilings enforced by a Tracker.
type Config struct {
	// GlobalDailyTokens is the ceiling shared by all tenants. Zero means no limit.
	GlobalDailyTokens uint64

	// TenantDailyTokens is the ceiling of each tenant. Zero means no limit.
	TenantDailyTokens uint64

	// TenantOverrides replaces TenantDailyTokens for specific tenants.
	TenantOverrides map[string]uint64

	// Window is the window length. Zero means DefaultWindow.
	Window time.Duration
}

// DeniedError is returned by Reserve when a reservation does not fit.
type DeniedError struct {
	// Scope is the ceiling that rejected the reservation.
	Scope Scope

	// TenantID is the tenant that asked for the reservation.
	TenantID string

	// Requested is the number of tokens asked for.
	Requested uint64

	// Consumed is the window usage at the time of the decision.
	Consumed uint64

	// Limit is the ceiling of the rejecting window.
	Limit uint64

	// ResetAt is when the rejecting window will reset.
	ResetAt time.Time
}

// Error implements the error interface.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s budget exceeded for tenant %q: requested %d tokens, %d of %d consumed",
		e.Scope, e.TenantID, e.Requested, e.Consumed, e.Limit)
}

// Is reports whether target is ErrBudgetExceeded.
func (e *DeniedError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// Status describes the usage of one window.
type Status struct {
	Scope       Scope     `json:"scope"`
	Identifier  string    `json:"identifier"`
	Limit       uint64    `json:"limit"`
	Consumed    uint64    `json:"consumed"`
	Remaining   uint64    `json:"remaining"`
	Unlimited   bool      `json:"unlimited"`
	WindowStart time.Time `json:"window_start"`
	ResetAt     time.Time `json:"reset_at"`
}

// Usage pairs the status of a tenant window with the global window.
type Usage struct {
	Tenant Status `json:"tenant"`
	Global Status `json:"global"`
}

// Ratio returns consumed/limit of the window, or 0 for an unlimited window.
func (s Status) Ratio() float64 {
	if s.Unlimited || s.Limit == 0 {
		return 0
	}
	return float64(s.Consumed) / float64(s.Limit)
}

// WindowSnapshot is the persisted form of a window.
type WindowSnapshot struct {
	Scope       Scope
	Identifier  string
	WindowStart time.Time
	Consumed    uint64
}
