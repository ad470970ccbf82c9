// Package ledger journals applied patches and record migrations to SQLite.
//
// The ledger is append-only:
//   - patches: one row per handled hot_reload message (applied or rejected)
//   - migrations: one row per record migration pass
//
// # Critical Patterns
//
// Logical ordering:
//   - rows are ordered by insertion (rowid), patch seq and tick number,
//     never by wall-clock time
//
// Idempotency:
//   - patches are keyed by their id; re-recording an id is a no-op
//
// Single writer:
//   - the tick goroutine and the delivery goroutine never touch SQLite;
//     they enqueue into Writer, whose Run loop is the only writer
//
// # Database Configuration
//
//   - WAL mode: `history` can read while a run is writing
//   - synchronous=NORMAL: balance durability/performance
package ledger
