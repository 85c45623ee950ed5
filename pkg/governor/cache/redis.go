package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces cache keys in a shared Redis database.
	DefaultKeyPrefix = "gatekeeper:cache:"

	scanBatchSize = 100
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// Address is the host:port of the Redis server.
	Address string

	// Password for AUTH, empty for none.
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix is prepended to every key. Empty selects DefaultKeyPrefix.
	KeyPrefix string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
}

// RedisStore stores entries in Redis as JSON documents.
//
// Expiry is delegated to Redis: every key is written with the entry TTL,
// so Sweep has nothing to reclaim. Single-flight stays process-local.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Address,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Address, err)
	}

	store := NewRedisStoreWithClient(client, opts.KeyPrefix)
	store.owned = true
	return store, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the client; Close does not close it.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Get loads and decodes the entry stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	// Redis expiry has millisecond precision; the entry deadline is authoritative.
	if entry.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// Set writes entry with a Redis TTL matching its remaining lifetime.
// Entries that are already expired are not written.
func (s *RedisStore) Set(ctx context.Context, entry *Entry) error {
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+entry.Key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Sweep is a no-op; Redis expires keys itself.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}

// Len counts keys under the store prefix using SCAN.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanBatchSize).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		total += len(keys)

		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// Close closes the client if the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
