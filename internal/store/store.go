package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultInMax is the default bound on the number of parameters in an IN list.
const DefaultInMax = 1000

// Config selects the backend for Open.
type Config struct {
	Driver string // "sqlite3" or "pgx"
	DSN    string
	InMax  int
}

// DB is an open database handle bound to a Dialect.
type DB struct {
	db      *sql.DB
	dialect Dialect
	inMax   int
}

// Open connects to the configured backend.
//
// For sqlite3 the connection pool is limited to a single connection and the
// required pragmas are applied, as SQLite supports only one writer at a time.
// The sequence table used for id allocation is created if missing.
//
// This function is idempotent - safe to call multiple times on the same DSN.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if cfg.Driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite3" {
		db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := dialect.Bootstrap(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap database: %w", err)
	}

	inMax := cfg.InMax
	if inMax <= 0 {
		inMax = DefaultInMax
	}

	return &DB{db: db, dialect: dialect, inMax: inMax}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// SQL returns the underlying sql.DB for direct queries.
// Use with caution - statements issued this way are not rebound.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Dialect returns the backend dialect.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// InMax returns the parameter-list bound used for IN chunking.
func (d *DB) InMax() int {
	return d.inMax
}

// Begin starts a transaction.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{tx: tx, dialect: d.dialect, inMax: d.inMax}, nil
}

// Exec runs a statement outside of any transaction.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	countStatement(query)
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_txlock=immediate"
	}
	return dsn + "?_txlock=immediate"
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA case_sensitive_like = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (d *DB) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := d.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
