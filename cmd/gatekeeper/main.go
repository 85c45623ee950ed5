// Gatekeeper governs calls to an AI completion upstream.
//
// It enforces daily token budgets per tenant and globally, stops calling a
// failing upstream through a circuit breaker, collapses identical
// concurrent requests into one call, caches results, and retries transient
// failures with backoff.
//
// Usage:
//
//	# Start the governor, maintenance jobs and ops server
//	gatekeeper run --config /etc/gatekeeper/config.yaml
//
//	# Run one governed completion for a document
//	gatekeeper complete --file report.txt --tenant acme
//
//	# Estimate tokens and derive the cache key of a document
//	gatekeeper estimate --file report.txt
//
//	# List persisted budget windows
//	gatekeeper budget --format json
//
//	# Check a configuration file
//	gatekeeper validate --config config.yaml
package main

import (
	"fmt"
	"os"

	"mercator-hq/gatekeeper/pkg/cli"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
