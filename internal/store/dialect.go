package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect isolates the SQL differences between backends.
type Dialect interface {
	// Name returns "sqlite3" or "postgres".
	Name() string

	// Rebind rewrites ? placeholders into the backend's placeholder syntax.
	Rebind(query string) string

	// Bootstrap creates backend objects the store itself relies on.
	Bootstrap(ctx context.Context, db *sql.DB) error

	// NextID allocates the next value of the named sequence.
	NextID(ctx context.Context, tx *Tx, sequence string) (int64, error)

	// CreateSequence creates the named sequence if missing.
	CreateSequence(ctx context.Context, tx *Tx, sequence string) error

	// LockClause is appended to SELECT statements that must lock rows.
	LockClause() string

	// ILike renders a case-insensitive LIKE of expr against one parameter.
	ILike(expr string, negate bool) string

	// ColumnType maps a column kind to a DDL type.
	ColumnType(kind string) string

	// IDType is the DDL of the primary key column.
	IDType() string
}

// DialectFor returns the dialect of a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return sqliteDialect{}, nil
	case "pgx", "postgres":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// Quote double-quotes an identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) Rebind(query string) string { return query }

func (sqliteDialect) Bootstrap(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _sequence (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`)
	return err
}

func (sqliteDialect) NextID(ctx context.Context, tx *Tx, sequence string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO _sequence (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`, sequence).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next id from %s: %w", sequence, err)
	}
	return id, nil
}

func (sqliteDialect) CreateSequence(ctx context.Context, tx *Tx, sequence string) error {
	_, err := tx.Exec(ctx, `INSERT INTO _sequence (name, value) VALUES (?, 0) ON CONFLICT(name) DO NOTHING`, sequence)
	return err
}

func (sqliteDialect) LockClause() string { return "" }

func (sqliteDialect) ILike(expr string, negate bool) string {
	if negate {
		return "lower(" + expr + ") NOT LIKE lower(?)"
	}
	return "lower(" + expr + ") LIKE lower(?)"
}

func (sqliteDialect) ColumnType(kind string) string {
	switch kind {
	case "integer", "many2one", "boolean":
		return "INTEGER"
	case "float":
		return "REAL"
	default:
		// date and datetime are kept as TEXT so the driver returns strings.
		return "TEXT"
	}
}

func (sqliteDialect) IDType() string { return "INTEGER PRIMARY KEY" }

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '?' && !inQuote {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func (postgresDialect) Bootstrap(context.Context, *sql.DB) error { return nil }

func (postgresDialect) NextID(ctx context.Context, tx *Tx, sequence string) (int64, error) {
	var id int64
	if err := tx.QueryRow(ctx, `SELECT nextval(?)`, sequence).Scan(&id); err != nil {
		return 0, fmt.Errorf("next id from %s: %w", sequence, err)
	}
	return id, nil
}

func (postgresDialect) CreateSequence(ctx context.Context, tx *Tx, sequence string) error {
	_, err := tx.Exec(ctx, "CREATE SEQUENCE IF NOT EXISTS "+Quote(sequence))
	return err
}

func (postgresDialect) LockClause() string { return " FOR UPDATE" }

func (postgresDialect) ILike(expr string, negate bool) string {
	if negate {
		return expr + " NOT ILIKE ?"
	}
	return expr + " ILIKE ?"
}

func (postgresDialect) ColumnType(kind string) string {
	switch kind {
	case "integer", "many2one":
		return "INTEGER"
	case "float":
		return "DOUBLE PRECISION"
	case "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "datetime":
		return "TIMESTAMP"
	case "char", "selection":
		return "VARCHAR"
	default:
		return "TEXT"
	}
}

func (postgresDialect) IDType() string { return "INTEGER PRIMARY KEY" }
