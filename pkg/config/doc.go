// Package config provides configuration management for Gatekeeper.
//
// Configuration is loaded from an optional YAML file, layered over the
// built-in defaults, and then overridden by environment variables.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("gatekeeper.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("gatekeeper.yaml")
//
//  3. From defaults and the environment (path may be empty):
//     cfg, err := config.Load("")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GATEKEEPER_SECTION_FIELD:
//
//   - GATEKEEPER_BUDGET_GLOBAL_DAILY_TOKENS overrides budget.global_daily_tokens
//   - GATEKEEPER_BUDGET_TENANT_DAILY_TOKENS overrides budget.tenant_daily_tokens
//   - GATEKEEPER_GOVERNOR_DEFAULT_TENANT overrides governor.default_tenant
//   - GATEKEEPER_RETRY_MAX_ATTEMPTS overrides retry.max_attempts
//   - GATEKEEPER_CIRCUIT_FAILURE_THRESHOLD overrides circuit.failure_threshold
//   - GATEKEEPER_CIRCUIT_COOLDOWN overrides circuit.cooldown
//   - GATEKEEPER_CACHE_TTL overrides cache.ttl
//
// A malformed override is a validation error rather than being ignored.
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// A loaded Config is immutable by convention; there is no reload.
package config
