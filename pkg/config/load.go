package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable override.
const EnvPrefix = "GATEKEEPER_"

// LoadConfig loads configuration from a YAML file at the specified path.
// Fields absent from the file keep their default values. The result is
// validated before it is returned. Environment variables are not consulted;
// use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GATEKEEPER_SECTION_FIELD (e.g., GATEKEEPER_CIRCUIT_COOLDOWN).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file over the defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// Load is the entry point used by the binary. With an empty path the
// configuration is built from defaults and environment variables only.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadConfigWithEnvOverrides(path)
	}

	cfg := NewDefaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envReader collects parse failures so that a malformed override is
// reported instead of being silently ignored.
type envReader struct {
	errs []FieldError
}

func (r *envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(val) == "" {
		return "", false
	}
	return strings.TrimSpace(val), true
}

func (r *envReader) fail(name, val string, err error) {
	r.errs = append(r.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("invalid value %q: %v", val, err),
	})
}

func (r *envReader) str(name string, dst *string) {
	if val, ok := r.lookup(name); ok {
		*dst = val
	}
}

func (r *envReader) integer(name string, dst *int) {
	if val, ok := r.lookup(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			r.fail(name, val, err)
			return
		}
		*dst = i
	}
}

func (r *envReader) uint(name string, dst *uint64) {
	if val, ok := r.lookup(name); ok {
		u, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			r.fail(name, val, err)
			return
		}
		*dst = u
	}
}

func (r *envReader) float(name string, dst *float64) {
	if val, ok := r.lookup(name); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			r.fail(name, val, err)
			return
		}
		*dst = f
	}
}

func (r *envReader) boolean(name string, dst *bool) {
	if val, ok := r.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			r.fail(name, val, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if val, ok := r.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			r.fail(name, val, err)
			return
		}
		*dst = d
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	r := &envReader{}

	// Governor overrides
	r.str("GOVERNOR_DEFAULT_TENANT", &cfg.Governor.DefaultTenant)

	// Budget overrides
	r.uint("BUDGET_GLOBAL_DAILY_TOKENS", &cfg.Budget.GlobalDailyTokens)
	r.uint("BUDGET_TENANT_DAILY_TOKENS", &cfg.Budget.TenantDailyTokens)
	r.duration("BUDGET_WINDOW", &cfg.Budget.Window)

	// Retry overrides
	r.integer("RETRY_MAX_ATTEMPTS", &cfg.Retry.MaxAttempts)
	r.duration("RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)
	r.duration("RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)
	r.duration("RETRY_ATTEMPT_TIMEOUT", &cfg.Retry.AttemptTimeout)
	r.float("RETRY_THROTTLE_RATE", &cfg.Retry.ThrottleRate)

	// Circuit overrides
	r.integer("CIRCUIT_FAILURE_THRESHOLD", &cfg.Circuit.FailureThreshold)
	r.duration("CIRCUIT_COOLDOWN", &cfg.Circuit.Cooldown)

	// Cache overrides
	r.boolean("CACHE_ENABLED", &cfg.Cache.Enabled)
	r.str("CACHE_BACKEND", &cfg.Cache.Backend)
	r.duration("CACHE_TTL", &cfg.Cache.TTL)
	r.integer("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	r.str("CACHE_REDIS_ADDRESS", &cfg.Cache.Redis.Address)
	r.str("CACHE_REDIS_PASSWORD", &cfg.Cache.Redis.Password)
	r.integer("CACHE_REDIS_DB", &cfg.Cache.Redis.DB)

	// Storage overrides
	r.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	r.str("STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)

	// Upstream overrides
	r.str("UPSTREAM_BASE_URL", &cfg.Upstream.BaseURL)
	r.str("UPSTREAM_API_KEY", &cfg.Upstream.APIKey)
	r.str("UPSTREAM_MODEL", &cfg.Upstream.Model)
	r.duration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)

	// Server overrides
	r.boolean("SERVER_ENABLED", &cfg.Server.Enabled)
	r.str("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)

	// Telemetry overrides
	r.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	r.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	r.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	r.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	r.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	r.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	if len(r.errs) > 0 {
		return ValidationError{Errors: r.errs}
	}
	return nil
}
