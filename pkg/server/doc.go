// Package server provides the gatekeeper operational HTTP server.
//
// The server exposes probes, metrics and read-only governor state. It does
// not proxy completions; callers embed the governor in-process.
//
// # Routes
//
//   - GET /health: liveness probe
//   - GET /ready: readiness probe (cache, circuit and budget checks)
//   - GET /version: build information
//   - GET /metrics: Prometheus exposition (path configurable)
//   - GET /v1/budget: global window and every tenant window
//   - GET /v1/budget?tenant=ID: one tenant window and the global window
//   - GET /v1/circuit: breaker state, counters and retry-after
//
// # Middleware Chain
//
// Requests pass through, outermost first: recovery, request ID, trace
// context extraction, access logging, and per-route metrics.
//
// # Basic Usage
//
//	srv := server.New(server.Options{
//	    Config:   &cfg.Server,
//	    Governor: gov,
//	    Checker:  checker,
//	    Metrics:  collector,
//	    Version:  health.NewVersionInfo(version, commit, buildTime),
//	})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
package server
