package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage backend is closed")

// Backend defines the interface for budget window persistence.
// Implementations must be thread-safe.
type Backend interface {
	// Save persists a single window state, replacing any previous value.
	Save(ctx context.Context, state *WindowState) error

	// SaveAll persists several window states as one unit.
	SaveAll(ctx context.Context, states []*WindowState) error

	// Load retrieves the state for a scope and identifier.
	// Returns nil, nil if no state exists.
	Load(ctx context.Context, scope, identifier string) (*WindowState, error)

	// Delete removes the state for a scope and identifier.
	// No-op if the state doesn't exist.
	Delete(ctx context.Context, scope, identifier string) error

	// List returns all states of a scope, or every state when scope is empty.
	// Results are ordered by scope, then identifier.
	List(ctx context.Context, scope string) ([]*WindowState, error)

	// Cleanup removes states last updated before olderThan and returns how
	// many were deleted.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// WindowState is the persisted form of one budget window.
type WindowState struct {
	// Scope is "global" or "tenant".
	Scope string

	// Identifier is the tenant identifier, or "*" for the global window.
	Identifier string

	// WindowStart is when the window began.
	WindowStart time.Time

	// ConsumedTokens is the usage recorded in the window.
	ConsumedTokens uint64

	// LastUpdated is when this state was last written.
	LastUpdated time.Time

	// CreatedAt is when this state was first written.
	CreatedAt time.Time
}

func validateKey(scope, identifier string) error {
	if scope == "" {
		return errors.New("scope cannot be empty")
	}
	if identifier == "" {
		return errors.New("identifier cannot be empty")
	}
	return nil
}

func validateState(state *WindowState) error {
	if state == nil {
		return errors.New("state cannot be nil")
	}
	return validateKey(state.Scope, state.Identifier)
}

// stamp fills zero timestamps the way every backend does.
func stamp(state *WindowState, now time.Time) {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	if state.LastUpdated.IsZero() {
		state.LastUpdated = now
	}
}
