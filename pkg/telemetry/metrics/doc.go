// Package metrics owns the Prometheus registry of a gatekeeper process.
//
// Collector wraps a private registry that carries the Go runtime and
// process collectors. Components register their own collectors through
// Registerer (the governor does so in governor.NewMetrics); this package
// adds the ops-server HTTP metrics and gauges that sample the response
// cache at scrape time.
//
// Exposed series (namespace "gatekeeper" by default):
//
//   - gatekeeper_http_requests_total{handler,code}
//   - gatekeeper_http_request_duration_seconds{handler}
//   - gatekeeper_cache_entries
//   - gatekeeper_cache_in_flight
//   - gatekeeper_cache_lookups_total{result}
package metrics
