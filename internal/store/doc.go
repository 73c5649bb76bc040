// Package store provides SQLite-backed durable storage for backtest event logs.
//
// The store implements an append-only log with:
//   - Runs: one backtest_runs row per run (created once, never mutated)
//   - Events: immutable records with opaque JSON properties
//   - Entities: a covering index of entity keys found in properties
//
// # Ordering
//
// Events may be appended out of timestamp order. Every read orders by
// (timestamp ASC, seq ASC), where seq is the insertion order, so results
// are deterministic for equal timestamps.
//
// # Mutation
//
// Events are never updated. The only delete is DeleteRun, used to clean up
// a whole run.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers while the producer appends
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - one connection per Store: Close releases the file handle, which the
//     producer relies on to delete and recreate the file between runs
//
// Two drivers are supported: "sqlite3" (github.com/mattn/go-sqlite3, the
// default) and "sqlite" (modernc.org/sqlite, no cgo).
package store
