// Package logging provides structured logging with secret redaction.
//
// # Overview
//
// The logging package configures Go's standard log/slog package:
//   - JSON or text output
//   - Configurable log levels (debug, info, warn, error)
//   - Request-scoped fields (request_id, tenant, request_name, call_id)
//     taken from the context by the *Context logging methods
//   - Redaction of sensitive attribute keys and of API keys or bearer
//     tokens embedded in strings and errors
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:      "info",
//	    Format:     "json",
//	    RedactKeys: []string{"api_key", "prompt"},
//	})
//
//	ctx = logging.WithTenant(ctx, "acme")
//	logger.InfoContext(ctx, "budget reserved", "tokens", 400)
//	// {"level":"INFO","msg":"budget reserved","tokens":400,"tenant":"acme"}
package logging
