package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "circuit.cooldown").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateGovernor(cfg)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateCircuit(&cfg.Circuit)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateGovernor(cfg *Config) []FieldError {
	var errs []FieldError

	if strings.TrimSpace(cfg.Governor.DefaultTenant) == "" {
		errs = append(errs, FieldError{Field: "governor.default_tenant", Message: "must not be empty"})
	}
	if cfg.Budget.Window <= 0 {
		errs = append(errs, FieldError{Field: "budget.window", Message: "must be positive"})
	}
	if cfg.Budget.GlobalDailyTokens > 0 && cfg.Budget.TenantDailyTokens > cfg.Budget.GlobalDailyTokens {
		errs = append(errs, FieldError{
			Field:   "budget.tenant_daily_tokens",
			Message: fmt.Sprintf("must not exceed budget.global_daily_tokens (%d)", cfg.Budget.GlobalDailyTokens),
		})
	}
	for tenant := range cfg.Budget.TenantOverrides {
		if strings.TrimSpace(tenant) == "" {
			errs = append(errs, FieldError{Field: "budget.tenant_overrides", Message: "tenant identifier must not be empty"})
		}
	}

	return errs
}

func validateRetry(cfg *RetryConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxAttempts < 1 {
		errs = append(errs, FieldError{Field: "retry.max_attempts", Message: "must be at least 1"})
	}
	if cfg.BaseDelay < 0 {
		errs = append(errs, FieldError{Field: "retry.base_delay", Message: "must not be negative"})
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		errs = append(errs, FieldError{Field: "retry.max_delay", Message: "must be greater than or equal to retry.base_delay"})
	}
	if cfg.Multiplier < 1 {
		errs = append(errs, FieldError{Field: "retry.multiplier", Message: "must be at least 1.0"})
	}
	if cfg.Jitter > 1 {
		errs = append(errs, FieldError{Field: "retry.jitter", Message: "must be at most 1.0 (negative disables jitter)"})
	}
	if cfg.AttemptTimeout < 0 {
		errs = append(errs, FieldError{Field: "retry.attempt_timeout", Message: "must not be negative"})
	}
	if cfg.ThrottleRate < 0 {
		errs = append(errs, FieldError{Field: "retry.throttle_rate", Message: "must not be negative"})
	}
	if cfg.ThrottleRate > 0 && cfg.ThrottleBurst < 1 {
		errs = append(errs, FieldError{Field: "retry.throttle_burst", Message: "must be at least 1 when throttling is enabled"})
	}

	return errs
}

func validateCircuit(cfg *CircuitConfig) []FieldError {
	var errs []FieldError

	if cfg.FailureThreshold < 1 {
		errs = append(errs, FieldError{Field: "circuit.failure_threshold", Message: "must be at least 1"})
	}
	if cfg.Cooldown <= 0 {
		errs = append(errs, FieldError{Field: "circuit.cooldown", Message: "must be positive"})
	}

	return errs
}

func validateCache(cfg *CacheConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "redis":
		if _, _, err := net.SplitHostPort(cfg.Redis.Address); err != nil {
			errs = append(errs, FieldError{Field: "cache.redis.address", Message: fmt.Sprintf("must be host:port: %v", err)})
		}
		if cfg.Redis.DB < 0 {
			errs = append(errs, FieldError{Field: "cache.redis.db", Message: "must not be negative"})
		}
	default:
		errs = append(errs, FieldError{Field: "cache.backend", Message: fmt.Sprintf("unknown backend %q (valid: memory, redis)", cfg.Backend)})
	}

	if cfg.TTL <= 0 {
		errs = append(errs, FieldError{Field: "cache.ttl", Message: "must be positive"})
	}
	if cfg.MaxEntries < 0 {
		errs = append(errs, FieldError{Field: "cache.max_entries", Message: "must not be negative"})
	}
	if cfg.MaxEntryBytes < 0 {
		errs = append(errs, FieldError{Field: "cache.max_entry_bytes", Message: "must not be negative"})
	}
	if err := validateSchedule(cfg.SweepSchedule); err != nil {
		errs = append(errs, FieldError{Field: "cache.sweep_schedule", Message: err.Error()})
	}

	return errs
}

func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "must not be empty"})
		}
	default:
		errs = append(errs, FieldError{Field: "storage.backend", Message: fmt.Sprintf("unknown backend %q (valid: memory, sqlite)", cfg.Backend)})
	}

	if err := validateSchedule(cfg.SnapshotSchedule); err != nil {
		errs = append(errs, FieldError{Field: "storage.snapshot_schedule", Message: err.Error()})
	}
	if cfg.Retention <= 0 {
		errs = append(errs, FieldError{Field: "storage.retention", Message: "must be positive"})
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: fmt.Sprintf("invalid URL %q", cfg.BaseURL)})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, FieldError{Field: "upstream.base_url", Message: "scheme must be http or https"})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "upstream.timeout", Message: "must be positive"})
	}

	return errs
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: fmt.Sprintf("must be host:port: %v", err)})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("unknown level %q", cfg.Logging.Level)})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("unknown format %q", cfg.Logging.Format)})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "must start with /"})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("unknown sampler %q", cfg.Tracing.Sampler)})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "must not be empty when tracing is enabled"})
		}
	}

	return errs
}

// validateSchedule checks a cron expression the same way the scheduler parses it.
func validateSchedule(spec string) error {
	if spec == "" {
		return fmt.Errorf("must not be empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %v", spec, err)
	}
	return nil
}
