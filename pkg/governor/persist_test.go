package governor

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor/budget"
	"mercator-hq/gatekeeper/pkg/governor/cache"
	"mercator-hq/gatekeeper/pkg/governor/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
)

func TestSaveAndRestoreBudget(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend, err := storage.NewSQLiteBackend(filepath.Join(t.TempDir(), "budget.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}
	defer backend.Close()

	first := newTestGovernor(t, func(o *Options) { o.Now = clock.Now })
	var calls atomic.Int32
	for _, tenant := range []string{"acme", "globex"} {
		req := Request{TenantID: tenant, CacheKey: BuildCacheKey(tenant), EstimatedTokens: 100}
		if _, err := first.Execute(ctx, req, countingOp(&calls, "v", 120)); err != nil {
			t.Fatalf("Execute(%s) error = %v", tenant, err)
		}
	}

	saved, err := first.SaveBudget(ctx, backend)
	if err != nil {
		t.Fatalf("SaveBudget() error = %v", err)
	}
	if saved != 3 {
		t.Errorf("SaveBudget() wrote %d windows, want 3 (global + 2 tenants)", saved)
	}

	clock.Advance(time.Hour)
	second := newTestGovernor(t, func(o *Options) { o.Now = clock.Now })
	restored, err := second.RestoreBudget(ctx, backend)
	if err != nil {
		t.Fatalf("RestoreBudget() error = %v", err)
	}
	if restored != 3 {
		t.Errorf("RestoreBudget() restored %d windows, want 3", restored)
	}
	if got := consumed(second, "acme"); got != 120 {
		t.Errorf("restored acme consumed = %d, want 120", got)
	}
	if got := second.Budget().GlobalStatus().Consumed; got != 240 {
		t.Errorf("restored global consumed = %d, want 240", got)
	}
}

func TestRestoreBudget_SkipsExpiredWindows(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := storage.NewMemoryBackend(0)

	first := newTestGovernor(t, func(o *Options) { o.Now = clock.Now })
	var calls atomic.Int32
	_, _ = first.Execute(ctx, Request{TenantID: "acme", CacheKey: "k"}, countingOp(&calls, "v", 50))
	if _, err := first.SaveBudget(ctx, backend); err != nil {
		t.Fatalf("SaveBudget() error = %v", err)
	}

	clock.Advance(budget.DefaultWindow)
	second := newTestGovernor(t, func(o *Options) { o.Now = clock.Now })
	restored, err := second.RestoreBudget(ctx, backend)
	if err != nil {
		t.Fatalf("RestoreBudget() error = %v", err)
	}
	if restored != 0 {
		t.Errorf("RestoreBudget() restored %d expired windows", restored)
	}
	if got := consumed(second, "acme"); got != 0 {
		t.Errorf("consumed = %d, want 0", got)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Governor.DefaultTenant = "house"
	cfg.Budget.TenantDailyTokens = 42
	cfg.Circuit.FailureThreshold = 7
	cfg.Retry.MaxAttempts = 4

	reg := prometheus.NewRegistry()
	g, err := NewFromConfig(context.Background(), cfg, Dependencies{Logger: discardLogger(), Registry: reg})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer g.Close()

	if g.DefaultTenantID() != "house" {
		t.Errorf("DefaultTenantID() = %q", g.DefaultTenantID())
	}
	if g.Budget().TenantLimit("anyone") != 42 {
		t.Errorf("TenantLimit() = %d, want 42", g.Budget().TenantLimit("anyone"))
	}
	if g.RetryPolicy().MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", g.RetryPolicy().MaxAttempts)
	}
	if !g.Cache().Enabled() {
		t.Error("cache disabled by default config")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(families) == 0 {
		t.Error("no collectors registered with the injected registry")
	}
}

func TestNewFromConfig_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.NewDefaultConfig()
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Address = mr.Addr()

	g, err := NewFromConfig(context.Background(), cfg, Dependencies{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer g.Close()

	var calls atomic.Int32
	req := Request{CacheKey: "redis-key"}
	if _, err := g.Execute(context.Background(), req, countingOp(&calls, "from redis", 1)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !mr.Exists(cache.DefaultKeyPrefix + "redis-key") {
		t.Error("result not written to redis")
	}
	res, err := g.Execute(context.Background(), req, countingOp(&calls, "other", 1))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Source != SourceCache || calls.Load() != 1 {
		t.Errorf("second call source = %s, calls = %d", res.Source, calls.Load())
	}
}

func TestNewCacheStore_UnknownBackend(t *testing.T) {
	if _, err := NewCacheStore(context.Background(), &config.CacheConfig{Backend: "memcached"}); err == nil {
		t.Error("NewCacheStore() accepted an unknown backend")
	}
	if _, err := NewStorageBackend(&config.StorageConfig{Backend: "postgres"}); err == nil {
		t.Error("NewStorageBackend() accepted an unknown backend")
	}
}
