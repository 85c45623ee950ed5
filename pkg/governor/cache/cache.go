package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTTL is the entry lifetime used when Options.TTL is zero.
const DefaultTTL = time.Hour

// Options configures a Cache.
type Options struct {
	// Enabled turns memoization on. A disabled cache always misses and
	// drops writes, but still deduplicates in-flight calls.
	Enabled bool

	// TTL is the lifetime of entries written without an explicit TTL.
	TTL time.Duration

	// MaxEntryBytes rejects values larger than this size (0 = unlimited).
	MaxEntryBytes int

	// Logger receives store failures. Defaults to slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats reports cache counters.
type Stats struct {
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	InFlight int    `json:"in_flight"`
}

// Cache memoizes completion results and tracks in-flight calls.
type Cache struct {
	store         Store
	enabled       bool
	ttl           time.Duration
	maxEntryBytes int
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	flights map[string]*Flight

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache over store. A nil store selects a MemoryStore with
// default capacity.
func New(store Store, opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if store == nil {
		store = newMemoryStore(DefaultMaxEntries, opts.Now)
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("component", "cache")
	}

	return &Cache{
		store:         store,
		enabled:       opts.Enabled,
		ttl:           opts.TTL,
		maxEntryBytes: opts.MaxEntryBytes,
		logger:        opts.Logger,
		now:           opts.Now,
		flights:       make(map[string]*Flight),
	}
}

// Enabled reports whether memoization is on.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the live entry for key. Store errors are logged and read
// as a miss.
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, bool) {
	if !c.enabled {
		return nil, false
	}

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WarnContext(ctx, "cache lookup failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	if entry.Expired(c.now()) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry, true
}

// AwaitOrClaim claims the flight for key, or returns the flight another
// caller already owns.
//
// When owner is true the caller must eventually call Release on the
// returned flight. Otherwise the caller should Wait on it.
func (c *Cache) AwaitOrClaim(key string) (flight *Flight, owner bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.flights[key]; ok {
		return existing, false
	}
	flight = newFlight(c, key)
	c.flights[key] = flight
	return flight, true
}

func (c *Cache) removeFlight(f *Flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flights[f.key] == f {
		delete(c.flights, f.key)
	}
}

// InFlight returns the number of keys with a running call.
func (c *Cache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.flights)
}

// Store memoizes value under key for ttl (0 selects the default TTL).
// A disabled cache accepts and drops the write.
func (c *Cache) Store(ctx context.Context, key string, value []byte, usage uint64, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	if c.maxEntryBytes > 0 && len(value) > c.maxEntryBytes {
		return ErrEntryTooLarge
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	now := c.now()
	return c.store.Set(ctx, &Entry{
		Key:       key,
		Value:     value,
		Usage:     usage,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
}

// Invalidate removes the entry for key. It does not affect a running flight.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Sweep reclaims expired entries.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	return c.store.Sweep(ctx)
}

// Len returns the number of stored entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	return c.store.Len(ctx)
}

// Stats returns hit and miss counters and the number of running flights.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		InFlight: c.InFlight(),
	}
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
