// Package scheduler runs the governor's periodic maintenance.
//
// Two cron jobs are registered when their schedules are non-empty:
//
//   - cache sweep: purges expired response-cache entries
//   - budget snapshot: persists every budget window to the storage backend
//     and removes persisted windows older than the retention period
//
// Schedules use robfig/cron syntax, including descriptors such as
// "@every 30s" and "@hourly". SnapshotNow performs the snapshot job
// synchronously and is meant for graceful shutdown.
package scheduler
