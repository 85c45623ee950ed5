// Package storage persists budget window state across restarts.
//
// Two backends implement Backend:
//
//   - MemoryBackend keeps state in process memory. It is the default and is
//     useful for tests and single-run tools.
//   - SQLiteBackend stores state in a SQLite database (modernc.org/sqlite,
//     no cgo) using WAL mode and prepared statements.
//
// States are keyed by (scope, identifier). The governor writes a full
// snapshot periodically with SaveAll and restores it at start-up with List.
package storage
