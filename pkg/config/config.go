package config

import "time"

// Config is the root configuration structure for Gatekeeper.
// It contains every tunable of the request governor plus the ambient
// sections for storage, the ops server and telemetry.
//
// A Config is treated as immutable once loaded; components copy the values
// they need at construction time.
type Config struct {
	// Governor contains settings that apply to the request governor as a whole.
	Governor GovernorConfig `yaml:"governor"`

	// Budget contains the daily token ceilings.
	Budget BudgetConfig `yaml:"budget"`

	// Retry contains the retry policy for upstream calls.
	Retry RetryConfig `yaml:"retry"`

	// Circuit contains circuit breaker settings.
	Circuit CircuitConfig `yaml:"circuit"`

	// Cache contains response cache settings.
	Cache CacheConfig `yaml:"cache"`

	// Storage contains budget window persistence settings.
	Storage StorageConfig `yaml:"storage"`

	// Upstream contains the AI completion endpoint settings.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Tokens contains token estimation settings.
	Tokens TokensConfig `yaml:"tokens"`

	// Server contains the operational HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains logging, metrics and tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// GovernorConfig contains request governor settings.
type GovernorConfig struct {
	// DefaultTenant is used when a request carries no tenant identifier.
	// Default: "default"
	DefaultTenant string `yaml:"default_tenant"`
}

// BudgetConfig contains daily token budget ceilings.
type BudgetConfig struct {
	// GlobalDailyTokens is the ceiling shared by all tenants.
	// Zero disables the global check.
	// Default: 5000000
	GlobalDailyTokens uint64 `yaml:"global_daily_tokens"`

	// TenantDailyTokens is the ceiling applied to each tenant.
	// Zero disables the tenant check.
	// Default: 500000
	TenantDailyTokens uint64 `yaml:"tenant_daily_tokens"`

	// TenantOverrides replaces TenantDailyTokens for specific tenants.
	TenantOverrides map[string]uint64 `yaml:"tenant_overrides"`

	// Window is the length of a budget window.
	// Default: 24h
	Window time.Duration `yaml:"window"`
}

// RetryConfig contains retry settings for upstream calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first one.
	// Default: 3
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the delay before the first retry.
	// Default: 500ms
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the delay between two attempts.
	// Default: 10s
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the exponential growth factor of the delay.
	// Default: 2.0
	Multiplier float64 `yaml:"multiplier"`

	// Jitter is the randomization factor applied to each delay (up to 1.0).
	// Zero selects the default; a negative value disables jitter.
	// Default: 0.5
	Jitter float64 `yaml:"jitter"`

	// AttemptTimeout bounds a single upstream attempt. Zero means no bound.
	// Default: 60s
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// ThrottleRate is the process-wide number of retries allowed per second.
	// Zero disables the throttle.
	// Default: 0
	ThrottleRate float64 `yaml:"throttle_rate"`

	// ThrottleBurst is the burst size of the retry throttle.
	// Default: 10
	ThrottleBurst int `yaml:"throttle_burst"`
}

// CircuitConfig contains circuit breaker settings.
type CircuitConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is how long the circuit stays open before a probe is allowed.
	// Default: 30s
	Cooldown time.Duration `yaml:"cooldown"`
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	// Enabled controls whether responses are cached. Single-flight
	// deduplication stays active when caching is disabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Backend selects the cache store.
	// Options: "memory", "redis"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// TTL is how long a cached response stays valid.
	// Default: 1h
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the memory store. Zero means unbounded.
	// Default: 10000
	MaxEntries int `yaml:"max_entries"`

	// MaxEntryBytes bounds the size of a single cached value. Zero means unbounded.
	// Default: 1048576 (1MB)
	MaxEntryBytes int `yaml:"max_entry_bytes"`

	// SweepSchedule is the cron schedule for purging expired entries.
	// Default: "@every 1m"
	SweepSchedule string `yaml:"sweep_schedule"`

	// Redis contains redis store settings, used when Backend is "redis".
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	// Address is the redis server address in host:port form.
	// Default: "localhost:6379"
	Address string `yaml:"address"`

	// Password is the redis password. Empty means no AUTH.
	Password string `yaml:"password"`

	// DB is the redis logical database.
	// Default: 0
	DB int `yaml:"db"`

	// KeyPrefix is prepended to every cache key.
	// Default: "gatekeeper:cache:"
	KeyPrefix string `yaml:"key_prefix"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// StorageConfig contains budget persistence settings.
type StorageConfig struct {
	// Backend selects the persistence backend.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// SQLite contains sqlite backend settings.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// SnapshotSchedule is the cron schedule for persisting budget windows.
	// Default: "@every 30s"
	SnapshotSchedule string `yaml:"snapshot_schedule"`

	// Retention is how long a persisted window is kept after its last update.
	// Default: 72h
	Retention time.Duration `yaml:"retention"`

	// MaxEntries bounds the memory backend.
	// Default: 10000
	MaxEntries int `yaml:"max_entries"`
}

// SQLiteConfig contains sqlite settings.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/budget.db"
	Path string `yaml:"path"`

	// BusyTimeout is the sqlite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// UpstreamConfig contains the AI completion endpoint settings.
type UpstreamConfig struct {
	// BaseURL is the completion API base URL.
	// Default: "https://api.openai.com/v1"
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the completion API.
	APIKey string `yaml:"api_key"`

	// Model is the model requested for completions.
	// Default: "gpt-4o-mini"
	Model string `yaml:"model"`

	// Timeout is the HTTP client timeout.
	// Default: 120s
	Timeout time.Duration `yaml:"timeout"`
}

// TokensConfig contains token estimation settings.
type TokensConfig struct {
	// CharsPerToken is the estimation ratio.
	// Default: 4.0
	CharsPerToken float64 `yaml:"chars_per_token"`

	// CompletionAllowance is added to every estimate for the response.
	// Default: 1024
	CompletionAllowance uint64 `yaml:"completion_allowance"`
}

// ServerConfig contains the operational HTTP server settings.
type ServerConfig struct {
	// Enabled controls whether the ops server is started.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactKeys lists attribute keys whose values are never logged.
	// Default: ["api_key", "authorization", "password", "prompt"]
	RedactKeys []string `yaml:"redact_keys"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "gatekeeper"
	Namespace string `yaml:"namespace"`

	// MaxTenantSeries bounds the distinct tenant label values; further
	// tenants are aggregated under "other". Negative disables per-tenant
	// series.
	// Default: 1000
	MaxTenantSeries int `yaml:"max_tenant_series"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// ServiceName is the service name in traces.
	// Default: "gatekeeper"
	ServiceName string `yaml:"service_name"`
}
