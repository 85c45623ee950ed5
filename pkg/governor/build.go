package governor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/cache"
	"mercator-hq/gatekeeper/pkg/governor/circuit"
	"mercator-hq/gatekeeper/pkg/governor/retry"
	"mercator-hq/gatekeeper/pkg/governor/storage"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"

	"github.com/prometheus/client_golang/prometheus"
)

// Dependencies are the process-level collaborators handed to NewFromConfig.
type Dependencies struct {
	Logger   *slog.Logger
	Registry prometheus.Registerer
	Tracer   *tracing.Tracer
	Now      func() time.Time
}

// OptionsFromConfig maps configuration onto Options. The cache store and
// process dependencies are left unset.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultTenant: cfg.Governor.DefaultTenant,
		Budget: budget.Config{
			GlobalDailyTokens: cfg.Budget.GlobalDailyTokens,
			TenantDailyTokens: cfg.Budget.TenantDailyTokens,
			TenantOverrides:   cfg.Budget.TenantOverrides,
			Window:            cfg.Budget.Window,
		},
		Circuit: circuit.Config{
			Name:             "upstream",
			FailureThreshold: uint32(cfg.Circuit.FailureThreshold),
			Cooldown:         cfg.Circuit.Cooldown,
		},
		Retry: retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			BaseDelay:      cfg.Retry.BaseDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			Multiplier:     cfg.Retry.Multiplier,
			Jitter:         cfg.Retry.Jitter,
			AttemptTimeout: cfg.Retry.AttemptTimeout,
			ThrottleRate:   cfg.Retry.ThrottleRate,
			ThrottleBurst:  cfg.Retry.ThrottleBurst,
		},
		Cache: cache.Options{
			Enabled:       cfg.Cache.Enabled,
			TTL:           cfg.Cache.TTL,
			MaxEntryBytes: cfg.Cache.MaxEntryBytes,
		},
		MetricsNamespace: cfg.Telemetry.Metrics.Namespace,
		MaxTenantSeries:  cfg.Telemetry.Metrics.MaxTenantSeries,
	}
}

// NewFromConfig builds a Governor and its cache store from configuration.
// A Redis cache backend is connected (and pinged) here.
func NewFromConfig(ctx context.Context, cfg *config.Config, deps Dependencies) (*Governor, error) {
	store, err := NewCacheStore(ctx, &cfg.Cache)
	if err != nil {
		return nil, err
	}

	opts := OptionsFromConfig(cfg)
	opts.CacheStore = store
	opts.Logger = deps.Logger
	opts.Registry = deps.Registry
	opts.Tracer = deps.Tracer
	opts.Now = deps.Now
	return New(opts), nil
}

// NewCacheStore creates the cache store selected by cfg.Backend.
func NewCacheStore(ctx context.Context, cfg *config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return cache.NewMemoryStore(cfg.MaxEntries), nil
	case "redis":
		store, err := cache.NewRedisStore(ctx, cache.RedisOptions{
			Address:     cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			KeyPrefix:   cfg.Redis.KeyPrefix,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// NewStorageBackend creates the budget persistence backend selected by
// cfg.Backend.
func NewStorageBackend(cfg *config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return storage.NewMemoryBackend(cfg.MaxEntries), nil
	case "sqlite":
		backend, err := storage.NewSQLiteBackendWithConfig(storage.SQLiteBackendConfig{
			DBPath:      cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite storage: %w", err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
