package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a MemoryStore created with zero max entries.
const DefaultMaxEntries = 10000

// MemoryStore keeps cache entries in a map guarded by a RWMutex.
//
// Expiry is lazy: Get deletes an expired entry it finds. When the store
// holds MaxEntries entries, Set first reclaims expired entries and fails
// with ErrCacheFull if none could be reclaimed. Live entries are never
// evicted to make room.
type MemoryStore struct {
	// entries maps cache keys to entries
	entries map[string]*Entry

	// maxEntries is the maximum number of entries
	maxEntries int

	// now returns the current time
	now func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates an in-memory store holding at most maxEntries
// entries. Zero selects DefaultMaxEntries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return newMemoryStore(maxEntries, time.Now)
}

func newMemoryStore(maxEntries int, now func() time.Time) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
		now:        now,
	}
}

// Get returns a copy of the entry stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	entry, ok := m.entries[key]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrNotFound
	}
	if !entry.Expired(m.now()) {
		out := entry.clone()
		m.mu.RUnlock()
		return out, nil
	}
	m.mu.RUnlock()

	// Expired: drop it unless a fresh value replaced it between locks.
	m.mu.Lock()
	if current, ok := m.entries[key]; ok && current.Expired(m.now()) {
		delete(m.entries, key)
	}
	m.mu.Unlock()
	return nil, ErrNotFound
}

// Set stores a copy of entry.
func (m *MemoryStore) Set(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, exists := m.entries[entry.Key]; !exists && len(m.entries) >= m.maxEntries {
		m.sweepLocked(m.now())
		if len(m.entries) >= m.maxEntries {
			return ErrCacheFull
		}
	}
	m.entries[entry.Key] = entry.clone()
	return nil
}

// Delete removes key from the store.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.entries, key)
	return nil
}

// Sweep removes every expired entry.
func (m *MemoryStore) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	return m.sweepLocked(m.now()), nil
}

// sweepLocked must be called with the write lock held.
func (m *MemoryStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range m.entries {
		if entry.Expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return len(m.entries), nil
}

// Close drops all entries. Further calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	return nil
}
