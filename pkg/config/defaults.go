package config

import "time"

// Default values for configuration fields.
const (
	// Governor defaults
	DefaultTenant = "default"

	// Budget defaults
	DefaultGlobalDailyTokens = uint64(5_000_000)
	DefaultTenantDailyTokens = uint64(500_000)
	DefaultBudgetWindow      = 24 * time.Hour

	// Retry defaults
	DefaultRetryMaxAttempts    = 3
	DefaultRetryBaseDelay      = 500 * time.Millisecond
	DefaultRetryMaxDelay       = 10 * time.Second
	DefaultRetryMultiplier     = 2.0
	DefaultRetryJitter         = 0.5
	DefaultRetryAttemptTimeout = 60 * time.Second
	DefaultRetryThrottleBurst  = 10

	// Circuit defaults
	DefaultCircuitFailureThreshold = 5
	DefaultCircuitCooldown         = 30 * time.Second

	// Cache defaults
	DefaultCacheEnabled       = true
	DefaultCacheBackend       = "memory"
	DefaultCacheTTL           = time.Hour
	DefaultCacheMaxEntries    = 10000
	DefaultCacheMaxEntryBytes = 1048576 // 1MB
	DefaultCacheSweepSchedule = "@every 1m"
	DefaultRedisAddress       = "localhost:6379"
	DefaultRedisKeyPrefix     = "gatekeeper:cache:"
	DefaultRedisDialTimeout   = 5 * time.Second

	// Storage defaults
	DefaultStorageBackend    = "memory"
	DefaultSQLitePath        = "data/budget.db"
	DefaultSQLiteBusyTimeout = 5 * time.Second
	DefaultSnapshotSchedule  = "@every 30s"
	DefaultStorageRetention  = 72 * time.Hour
	DefaultStorageMaxEntries = 10000

	// Upstream defaults
	DefaultUpstreamBaseURL = "https://api.openai.com/v1"
	DefaultUpstreamModel   = "gpt-4o-mini"
	DefaultUpstreamTimeout = 120 * time.Second

	// Token estimation defaults
	DefaultCharsPerToken       = 4.0
	DefaultCompletionAllowance = uint64(1024)

	// Server defaults
	DefaultServerEnabled         = true
	DefaultServerListenAddress   = "127.0.0.1:9090"
	DefaultServerReadTimeout     = 10 * time.Second
	DefaultServerWriteTimeout    = 10 * time.Second
	DefaultServerShutdownTimeout = 15 * time.Second

	// Telemetry defaults
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsEnabled     = true
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsNamespace   = "gatekeeper"
	DefaultMaxTenantSeries    = 1000
	DefaultTracingEnabled     = false
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingInsecure    = true
	DefaultTracingServiceName = "gatekeeper"
)

// DefaultRedactKeys are the attribute keys redacted from logs by default.
var DefaultRedactKeys = []string{"api_key", "authorization", "password", "prompt"}

// NewDefaultConfig returns a Config populated with every default value.
// Loading starts from this value so that fields absent from the YAML file
// keep their defaults, including booleans whose default is true.
func NewDefaultConfig() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			Enabled:       DefaultCacheEnabled,
			MaxEntries:    DefaultCacheMaxEntries,
			MaxEntryBytes: DefaultCacheMaxEntryBytes,
		},
		Server: ServerConfig{
			Enabled: DefaultServerEnabled,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled: DefaultMetricsEnabled,
			},
			Tracing: TracingConfig{
				Enabled:  DefaultTracingEnabled,
				Insecure: DefaultTracingInsecure,
			},
		},
		Budget: BudgetConfig{
			GlobalDailyTokens: DefaultGlobalDailyTokens,
			TenantDailyTokens: DefaultTenantDailyTokens,
		},
		Retry: RetryConfig{
			AttemptTimeout: DefaultRetryAttemptTimeout,
			Jitter:         DefaultRetryJitter,
		},
		Tokens: TokensConfig{
			CompletionAllowance: DefaultCompletionAllowance,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields whose zero value is not meaningful.
// Fields where zero has a meaning (budget ceilings, throttle rate, entry
// bounds) are only defaulted by NewDefaultConfig.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Governor defaults
	if cfg.Governor.DefaultTenant == "" {
		cfg.Governor.DefaultTenant = DefaultTenant
	}

	// Budget defaults
	if cfg.Budget.Window == 0 {
		cfg.Budget.Window = DefaultBudgetWindow
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = DefaultRetryMultiplier
	}
	if cfg.Retry.ThrottleBurst == 0 {
		cfg.Retry.ThrottleBurst = DefaultRetryThrottleBurst
	}

	// Circuit defaults
	if cfg.Circuit.FailureThreshold == 0 {
		cfg.Circuit.FailureThreshold = DefaultCircuitFailureThreshold
	}
	if cfg.Circuit.Cooldown == 0 {
		cfg.Circuit.Cooldown = DefaultCircuitCooldown
	}

	// Cache defaults
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.SweepSchedule == "" {
		cfg.Cache.SweepSchedule = DefaultCacheSweepSchedule
	}
	if cfg.Cache.Redis.Address == "" {
		cfg.Cache.Redis.Address = DefaultRedisAddress
	}
	if cfg.Cache.Redis.KeyPrefix == "" {
		cfg.Cache.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Cache.Redis.DialTimeout == 0 {
		cfg.Cache.Redis.DialTimeout = DefaultRedisDialTimeout
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}
	if cfg.Storage.SnapshotSchedule == "" {
		cfg.Storage.SnapshotSchedule = DefaultSnapshotSchedule
	}
	if cfg.Storage.Retention == 0 {
		cfg.Storage.Retention = DefaultStorageRetention
	}
	if cfg.Storage.MaxEntries == 0 {
		cfg.Storage.MaxEntries = DefaultStorageMaxEntries
	}

	// Upstream defaults
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	if cfg.Upstream.Model == "" {
		cfg.Upstream.Model = DefaultUpstreamModel
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}

	// Token estimation defaults
	if cfg.Tokens.CharsPerToken == 0 {
		cfg.Tokens.CharsPerToken = DefaultCharsPerToken
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultServerListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Logging.RedactKeys == nil {
		cfg.Telemetry.Logging.RedactKeys = append([]string(nil), DefaultRedactKeys...)
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.MaxTenantSeries == 0 {
		cfg.Telemetry.Metrics.MaxTenantSeries = DefaultMaxTenantSeries
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 && cfg.Telemetry.Tracing.Sampler == DefaultTracingSampler {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingServiceName
	}
}
