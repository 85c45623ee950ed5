package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Status values reported by checks and probes.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 5 * time.Second

// ErrCheckTimeout is reported when a check exceeds its timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Critical bool          `json:"critical"`
	Duration time.Duration `json:"duration_ns"`
}

// HealthStatus is the aggregated probe result.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Checker runs named component checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]registeredCheck

	checkTimeout time.Duration
	now          func() time.Time
}

// New creates a checker. A non-positive timeout selects DefaultCheckTimeout.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout <= 0 {
		checkTimeout = DefaultCheckTimeout
	}
	return &Checker{
		checks:       make(map[string]registeredCheck),
		checkTimeout: checkTimeout,
		now:          time.Now,
	}
}

// RegisterCheck registers a critical check, replacing any check with the
// same name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.register(name, check, true)
}

// RegisterAdvisory registers a check whose failure only degrades the
// readiness status.
func (c *Checker) RegisterAdvisory(name string, check CheckFunc) {
	c.register(name, check, false)
}

func (c *Checker) register(name string, check CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registeredCheck{fn: check, critical: critical}
}

// UnregisterCheck removes a check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// ListChecks returns the registered check names, sorted.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckLiveness reports that the process is running.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return HealthStatus{Status: StatusOK, Timestamp: c.now()}
}

// CheckReadiness runs all checks concurrently and aggregates them.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.runCheck(ctx, check)
			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusReady
	for _, result := range results {
		if result.Status != StatusUnhealthy {
			continue
		}
		if result.Critical {
			status = StatusUnhealthy
			break
		}
		status = StatusDegraded
	}

	return HealthStatus{Status: status, Checks: results, Timestamp: c.now()}
}

func (c *Checker) runCheck(ctx context.Context, check registeredCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- check.fn(checkCtx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-checkCtx.Done():
		err = ErrCheckTimeout
	}

	result := CheckResult{
		Status:   StatusOK,
		Critical: check.critical,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}
