// Package store provides the SQL backend used by the record-access core.
//
// Two drivers are supported:
//   - sqlite3 (github.com/mattn/go-sqlite3): default, used by tests and the CLI
//   - pgx (github.com/jackc/pgx/v5/stdlib): PostgreSQL
//
// Callers always write statements with ? placeholders; the Dialect rebinds
// them for the active backend.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - case_sensitive_like=ON: LIKE matches PostgreSQL semantics
//   - _txlock=immediate: Writers take the database lock at BEGIN, which is
//     the SQLite equivalent of SELECT ... FOR UPDATE for nested-set moves
//
// # Batch Bounding
//
// Every "id IN (...)" expansion goes through Tx.SplitForIn, which chunks id
// lists to the configured InMax parameter limit.
package store
