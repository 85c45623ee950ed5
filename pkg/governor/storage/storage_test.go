package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// newTestSQLiteBackend creates a SQLite backend in a temporary directory.
func newTestSQLiteBackend(t *testing.T) (*SQLiteBackend, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "budget.db")

	backend, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	return backend, func() {
		if err := backend.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}
}

// backends returns one instance of every backend implementation.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, cleanup := newTestSQLiteBackend(t)
	t.Cleanup(cleanup)

	memory := NewMemoryBackend(0)
	t.Cleanup(func() { _ = memory.Close() })

	return map[string]Backend{
		"memory": memory,
		"sqlite": sqlite,
	}
}

func TestBackend_SaveAndLoad(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

			state := &WindowState{
				Scope:          "tenant",
				Identifier:     "acme",
				WindowStart:    start,
				ConsumedTokens: 1234,
			}
			if err := backend.Save(ctx, state); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := backend.Load(ctx, "tenant", "acme")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded == nil {
				t.Fatal("Expected state, got nil")
			}
			if loaded.ConsumedTokens != 1234 {
				t.Errorf("Expected 1234 tokens, got %d", loaded.ConsumedTokens)
			}
			if !loaded.WindowStart.Equal(start) {
				t.Errorf("Expected window start %v, got %v", start, loaded.WindowStart)
			}
			if loaded.CreatedAt.IsZero() || loaded.LastUpdated.IsZero() {
				t.Error("Expected timestamps to be filled")
			}
		})
	}
}

func TestBackend_LoadMissing(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			state, err := backend.Load(context.Background(), "tenant", "nobody")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if state != nil {
				t.Errorf("Expected nil for missing state, got %+v", state)
			}
		})
	}
}

func TestBackend_Upsert(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created := time.Now().Add(-2 * time.Hour).Truncate(time.Millisecond)

			if err := backend.Save(ctx, &WindowState{Scope: "global", Identifier: "*", ConsumedTokens: 10, CreatedAt: created}); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if err := backend.Save(ctx, &WindowState{Scope: "global", Identifier: "*", ConsumedTokens: 20}); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			loaded, err := backend.Load(ctx, "global", "*")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.ConsumedTokens != 20 {
				t.Errorf("Expected 20, got %d", loaded.ConsumedTokens)
			}
			if !loaded.CreatedAt.Equal(created) {
				t.Errorf("Expected created_at to be preserved as %v, got %v", created, loaded.CreatedAt)
			}
		})
	}
}

func TestBackend_SaveAllAndList(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			states := []*WindowState{
				{Scope: "tenant", Identifier: "globex", ConsumedTokens: 2},
				{Scope: "global", Identifier: "*", ConsumedTokens: 3},
				{Scope: "tenant", Identifier: "acme", ConsumedTokens: 1},
			}
			if err := backend.SaveAll(ctx, states); err != nil {
				t.Fatalf("SaveAll failed: %v", err)
			}

			all, err := backend.List(ctx, "")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("Expected 3 states, got %d", len(all))
			}
			if all[0].Scope != "global" || all[1].Identifier != "acme" || all[2].Identifier != "globex" {
				t.Errorf("Unexpected order: %s/%s, %s/%s, %s/%s",
					all[0].Scope, all[0].Identifier, all[1].Scope, all[1].Identifier, all[2].Scope, all[2].Identifier)
			}

			tenants, err := backend.List(ctx, "tenant")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(tenants) != 2 {
				t.Errorf("Expected 2 tenant states, got %d", len(tenants))
			}
		})
	}
}

func TestBackend_SaveAllRejectsInvalid(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := backend.SaveAll(ctx, []*WindowState{
				{Scope: "tenant", Identifier: "acme"},
				{Scope: "tenant"},
			})
			if err == nil {
				t.Fatal("Expected error for missing identifier")
			}

			all, _ := backend.List(ctx, "")
			if len(all) != 0 {
				t.Errorf("Expected nothing saved, got %d states", len(all))
			}
		})
	}
}

func TestBackend_DeleteAndCleanup(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().Add(-96 * time.Hour)

			_ = backend.Save(ctx, &WindowState{Scope: "tenant", Identifier: "stale", LastUpdated: old})
			_ = backend.Save(ctx, &WindowState{Scope: "tenant", Identifier: "fresh"})
			_ = backend.Save(ctx, &WindowState{Scope: "tenant", Identifier: "doomed"})

			if err := backend.Delete(ctx, "tenant", "doomed"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := backend.Delete(ctx, "tenant", "never-existed"); err != nil {
				t.Errorf("Delete of missing state should be a no-op, got %v", err)
			}

			deleted, err := backend.Cleanup(ctx, time.Now().Add(-72*time.Hour))
			if err != nil {
				t.Fatalf("Cleanup failed: %v", err)
			}
			if deleted != 1 {
				t.Errorf("Expected 1 deleted, got %d", deleted)
			}

			all, _ := backend.List(ctx, "")
			if len(all) != 1 || all[0].Identifier != "fresh" {
				t.Errorf("Expected only fresh to remain, got %d states", len(all))
			}
		})
	}
}

func TestBackend_Validation(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := backend.Save(ctx, nil); err == nil {
				t.Error("Expected error for nil state")
			}
			if _, err := backend.Load(ctx, "", "acme"); err == nil {
				t.Error("Expected error for empty scope")
			}
			if err := backend.Delete(ctx, "tenant", ""); err == nil {
				t.Error("Expected error for empty identifier")
			}
		})
	}
}

func TestBackend_Closed(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := backend.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if err := backend.Close(); err != nil {
				t.Errorf("Second Close should be a no-op, got %v", err)
			}

			err := backend.Save(context.Background(), &WindowState{Scope: "tenant", Identifier: "acme"})
			if !errors.Is(err, ErrClosed) {
				t.Errorf("Expected ErrClosed, got %v", err)
			}
		})
	}
}

func TestBackend_Concurrent(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					id := string(rune('a' + i%5))
					for j := 0; j < 10; j++ {
						if err := backend.Save(ctx, &WindowState{Scope: "tenant", Identifier: id, ConsumedTokens: uint64(j)}); err != nil {
							t.Errorf("Save failed: %v", err)
							return
						}
						if _, err := backend.Load(ctx, "tenant", id); err != nil {
							t.Errorf("Load failed: %v", err)
							return
						}
					}
				}(i)
			}
			wg.Wait()

			all, err := backend.List(ctx, "tenant")
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(all) != 5 {
				t.Errorf("Expected 5 states, got %d", len(all))
			}
		})
	}
}

func TestMemoryBackend_Eviction(t *testing.T) {
	backend := NewMemoryBackend(2)
	ctx := context.Background()
	now := time.Now()

	_ = backend.Save(ctx, &WindowState{Scope: "tenant", Identifier: "oldest", LastUpdated: now.Add(-time.Hour)})
	_ = backend.Save(ctx, &WindowState{Scope: "tenant", Identifier: "middle", LastUpdated: now.Add(-time.Minute)})
	_ = backend.Save(ctx, &WindowState{Scope: "tenant", Identifier: "newest", LastUpdated: now})

	if backend.Size() != 2 {
		t.Fatalf("Expected 2 entries, got %d", backend.Size())
	}
	if state, _ := backend.Load(ctx, "tenant", "oldest"); state != nil {
		t.Error("Expected oldest entry to be evicted")
	}

	// Updating an existing key never evicts
	_ = backend.Save(ctx, &WindowState{Scope: "tenant", Identifier: "middle", LastUpdated: now})
	if backend.Size() != 2 {
		t.Errorf("Expected 2 entries after update, got %d", backend.Size())
	}
}

func TestSQLiteBackend_ReopenKeepsState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "budget.db")
	ctx := context.Background()

	first, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if err := first.Save(ctx, &WindowState{Scope: "tenant", Identifier: "acme", ConsumedTokens: 77}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer second.Close()

	state, err := second.Load(ctx, "tenant", "acme")
	if err != nil || state == nil {
		t.Fatalf("Expected persisted state, got %v, %v", state, err)
	}
	if state.ConsumedTokens != 77 {
		t.Errorf("Expected 77, got %d", state.ConsumedTokens)
	}
}

func TestNewSQLiteBackend_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteBackend(""); err == nil {
		t.Error("Expected error for empty path")
	}
}
