// Package health provides liveness and readiness probes for the gatekeeper
// ops server.
//
// # Endpoints
//
//   - /health: liveness, 200 while the process is serving
//   - /ready: readiness, runs every registered check
//   - /version: build information
//
// # Check severity
//
// Checks registered with RegisterCheck are critical: a failing critical
// check makes the system "unhealthy" and /ready answers 503. Checks
// registered with RegisterAdvisory only downgrade the status to
// "degraded"; /ready still answers 200 so that an open circuit or an
// exhausted budget does not take the process out of rotation.
//
// # Governor checks
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("cache", health.CacheCheck(gov.Cache()))
//	checker.RegisterAdvisory("circuit", health.CircuitCheck(gov.Breaker()))
//	checker.RegisterAdvisory("budget", health.BudgetCheck(gov.Budget(), 0.95))
package health
