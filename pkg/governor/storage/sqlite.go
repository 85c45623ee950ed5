package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite for persistence.
// It is suitable for single-instance deployments where budget usage must
// survive a restart.
type SQLiteBackend struct {
	db        *sql.DB
	dbPath    string
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	saveStmt    *sql.Stmt
	loadStmt    *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
	listAllStmt *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for a throwaway database.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath:      dbPath,
		BusyTimeout: 5 * time.Second,
	})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if cfg.DBPath != ":memory:" {
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		backend.closeStatements()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return backend, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS budget_windows (
		scope TEXT NOT NULL,
		identifier TEXT NOT NULL,
		window_start INTEGER NOT NULL,
		consumed_tokens INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (scope, identifier)
	);

	CREATE INDEX IF NOT EXISTS idx_budget_windows_last_updated ON budget_windows(last_updated);
	`

	_, err := s.db.Exec(schema)
	return err
}

const selectColumns = `scope, identifier, window_start, consumed_tokens, last_updated, created_at`

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO budget_windows (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, identifier) DO UPDATE SET
			window_start = excluded.window_start,
			consumed_tokens = excluded.consumed_tokens,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.loadStmt, err = s.db.Prepare(`
		SELECT ` + selectColumns + `
		FROM budget_windows
		WHERE scope = ? AND identifier = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`
		DELETE FROM budget_windows
		WHERE scope = ? AND identifier = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT ` + selectColumns + `
		FROM budget_windows
		WHERE scope = ?
		ORDER BY scope, identifier
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.listAllStmt, err = s.db.Prepare(`
		SELECT ` + selectColumns + `
		FROM budget_windows
		ORDER BY scope, identifier
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list-all statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`
		DELETE FROM budget_windows
		WHERE last_updated < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Save persists a single window state.
func (s *SQLiteBackend) Save(ctx context.Context, state *WindowState) error {
	return s.SaveAll(ctx, []*WindowState{state})
}

// SaveAll persists several window states in one transaction.
func (s *SQLiteBackend) SaveAll(ctx context.Context, states []*WindowState) error {
	for _, state := range states {
		if err := validateState(state); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt := tx.StmtContext(ctx, s.saveStmt)

	now := time.Now()
	for _, state := range states {
		row := *state
		stamp(&row, now)

		_, err := stmt.ExecContext(ctx,
			row.Scope,
			row.Identifier,
			row.WindowStart.UnixMilli(),
			toInt64(row.ConsumedTokens),
			row.LastUpdated.UnixMilli(),
			row.CreatedAt.UnixMilli(),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to save state %s/%s: %w", row.Scope, row.Identifier, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load retrieves the state for a scope and identifier.
func (s *SQLiteBackend) Load(ctx context.Context, scope, identifier string) (*WindowState, error) {
	if err := validateKey(scope, identifier); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	state, err := scanState(s.loadStmt.QueryRowContext(ctx, scope, identifier))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return state, nil
}

// Delete removes the state for a scope and identifier.
func (s *SQLiteBackend) Delete(ctx context.Context, scope, identifier string) error {
	if err := validateKey(scope, identifier); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.deleteStmt.ExecContext(ctx, scope, identifier); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// List returns all states of a scope, or every state when scope is empty.
func (s *SQLiteBackend) List(ctx context.Context, scope string) ([]*WindowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var (
		rows *sql.Rows
		err  error
	)
	if scope == "" {
		rows, err = s.listAllStmt.QueryContext(ctx)
	} else {
		rows, err = s.listStmt.QueryContext(ctx, scope)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []*WindowState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return states, nil
}

// Cleanup removes states last updated before olderThan.
func (s *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	result, err := s.cleanupStmt.ExecContext(ctx, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(deleted), nil
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.closed = true
		s.closeStatements()
		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

func (s *SQLiteBackend) closeStatements() {
	for _, stmt := range []*sql.Stmt{s.saveStmt, s.loadStmt, s.deleteStmt, s.listStmt, s.listAllStmt, s.cleanupStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*WindowState, error) {
	var (
		state       WindowState
		windowStart int64
		consumed    int64
		lastUpdated int64
		createdAt   int64
	)
	if err := row.Scan(&state.Scope, &state.Identifier, &windowStart, &consumed, &lastUpdated, &createdAt); err != nil {
		return nil, err
	}
	state.WindowStart = time.UnixMilli(windowStart)
	state.LastUpdated = time.UnixMilli(lastUpdated)
	state.CreatedAt = time.UnixMilli(createdAt)
	if consumed > 0 {
		state.ConsumedTokens = uint64(consumed)
	}
	return &state, nil
}

// toInt64 clamps a token count to the range of a SQLite INTEGER.
func toInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
