package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by a Store when the key is absent or expired.
	ErrNotFound = errors.New("cache entry not found")

	// ErrEntryTooLarge is returned when a value exceeds the configured size limit.
	ErrEntryTooLarge = errors.New("cache entry too large")

	// ErrCacheFull is returned when a store is at capacity after reclaiming
	// expired entries.
	ErrCacheFull = errors.New("cache is full")

	// ErrAbandoned is delivered to waiters when the owner of a flight gave up
	// before producing a result. Waiters should retry the lookup and claim.
	ErrAbandoned = errors.New("in-flight call abandoned by its owner")

	// ErrClosed is returned by a store after Close.
	ErrClosed = errors.New("cache store is closed")
)

// Entry is a memoized completion result.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	Usage     uint64    `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is no longer valid at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTL returns the lifetime the entry was written with.
func (e *Entry) TTL() time.Duration {
	return e.ExpiresAt.Sub(e.CreatedAt)
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Value = append([]byte(nil), e.Value...)
	return &c
}

// Store is a key/value backend for cache entries.
//
// Implementations must be safe for concurrent use. Get returns ErrNotFound
// for absent and expired keys.
type Store interface {
	// Get returns the entry stored under key.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set writes entry, replacing any previous value for its key.
	Set(ctx context.Context, entry *Entry) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Sweep removes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)

	// Len returns the number of stored entries, expired ones included
	// until they are swept.
	Len(ctx context.Context) (int, error)

	// Close releases resources held by the store.
	Close() error
}
