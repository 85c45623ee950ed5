package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory storage.
// All data is lost when the process exits.
type MemoryBackend struct {
	// states maps composite key (scope:identifier) to window state.
	states map[string]*WindowState

	mu         sync.RWMutex
	maxEntries int
	closed     bool
}

// DefaultMemoryMaxEntries bounds a MemoryBackend created with zero MaxEntries.
const DefaultMemoryMaxEntries = 100000

// NewMemoryBackend creates a new in-memory backend. When maxEntries states
// are stored, saving a new key evicts the least recently updated one.
func NewMemoryBackend(maxEntries int) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryMaxEntries
	}
	return &MemoryBackend{
		states:     make(map[string]*WindowState),
		maxEntries: maxEntries,
	}
}

// Save persists a single window state.
func (m *MemoryBackend) Save(ctx context.Context, state *WindowState) error {
	if err := validateState(state); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.saveLocked(state, time.Now())
	return nil
}

// SaveAll persists several window states.
func (m *MemoryBackend) SaveAll(ctx context.Context, states []*WindowState) error {
	for _, state := range states {
		if err := validateState(state); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	now := time.Now()
	for _, state := range states {
		m.saveLocked(state, now)
	}
	return nil
}

func (m *MemoryBackend) saveLocked(state *WindowState, now time.Time) {
	key := makeKey(state.Scope, state.Identifier)
	if _, exists := m.states[key]; !exists && len(m.states) >= m.maxEntries {
		m.evictOldestLocked()
	}

	stored := *state
	if prev, ok := m.states[key]; ok && !prev.CreatedAt.IsZero() {
		stored.CreatedAt = prev.CreatedAt
	}
	stamp(&stored, now)
	m.states[key] = &stored
}

// Load retrieves the state for a scope and identifier.
func (m *MemoryBackend) Load(ctx context.Context, scope, identifier string) (*WindowState, error) {
	if err := validateKey(scope, identifier); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	state, ok := m.states[makeKey(scope, identifier)]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

// Delete removes the state for a scope and identifier.
func (m *MemoryBackend) Delete(ctx context.Context, scope, identifier string) error {
	if err := validateKey(scope, identifier); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.states, makeKey(scope, identifier))
	return nil
}

// List returns all states of a scope, or every state when scope is empty.
func (m *MemoryBackend) List(ctx context.Context, scope string) ([]*WindowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	states := make([]*WindowState, 0, len(m.states))
	for _, state := range m.states {
		if scope == "" || state.Scope == scope {
			copied := *state
			states = append(states, &copied)
		}
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].Scope != states[j].Scope {
			return states[i].Scope < states[j].Scope
		}
		return states[i].Identifier < states[j].Identifier
	})
	return states, nil
}

// Cleanup removes states last updated before olderThan.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	deleted := 0
	for key, state := range m.states {
		if state.LastUpdated.Before(olderThan) {
			delete(m.states, key)
			deleted++
		}
	}
	return deleted, nil
}

// Close marks the backend closed. It is idempotent.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Size returns the current number of stored states.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func makeKey(scope, identifier string) string {
	return scope + ":" + identifier
}

// evictOldestLocked evicts the least recently updated entry.
// Caller must hold write lock.
func (m *MemoryBackend) evictOldestLocked() {
	var (
		oldestKey  string
		oldestTime time.Time
		found      bool
	)
	for key, state := range m.states {
		if !found || state.LastUpdated.Before(oldestTime) {
			oldestKey = key
			oldestTime = state.LastUpdated
			found = true
		}
	}
	if found {
		delete(m.states, oldestKey)
	}
}
