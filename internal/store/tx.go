package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/recordkit/internal/metrics"
)

// TimeLayout is the textual layout of datetime values exchanged with the backend.
const TimeLayout = "2006-01-02 15:04:05"

// Tx wraps a sql.Tx with placeholder rebinding, metrics and chunking helpers.
// A Tx is not safe for concurrent use.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
	inMax   int
}

// Dialect returns the backend dialect.
func (t *Tx) Dialect() Dialect { return t.dialect }

// InMax returns the maximum number of parameters in one IN list.
func (t *Tx) InMax() int { return t.inMax }

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. Calling it after Commit is harmless.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// Exec runs a statement that returns no rows.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	countStatement(query)
	slog.Debug("sql exec", "query", query, "params", len(args))
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// Query runs a statement returning rows. Callers must close the rows.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	countStatement(query)
	slog.Debug("sql query", "query", query, "params", len(args))
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryRow runs a statement expected to return at most one row.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	countStatement(query)
	slog.Debug("sql query", "query", query, "params", len(args))
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryInts runs a query whose first column is an integer and collects it.
// NULL values are skipped.
func (t *Tx) QueryInts(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := t.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v sql.NullInt64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan int: %w", err)
		}
		if v.Valid {
			out = append(out, v.Int64)
		}
	}
	return out, rows.Err()
}

// QueryMaps runs a query and returns each row as a column-name keyed map.
// Driver values are normalized: []byte becomes string and time.Time is
// formatted with TimeLayout.
func (t *Tx) QueryMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := t.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// NextID allocates the next id of a sequence.
func (t *Tx) NextID(ctx context.Context, sequence string) (int64, error) {
	return t.dialect.NextID(ctx, t, sequence)
}

// SplitForIn chunks ids into slices of at most InMax elements.
// An empty input yields no chunks.
func (t *Tx) SplitForIn(ids []int64) [][]int64 {
	return SplitForIn(ids, t.inMax)
}

// SplitForIn chunks ids into slices of at most limit elements.
func SplitForIn(ids []int64, limit int) [][]int64 {
	if limit <= 0 {
		limit = DefaultInMax
	}
	var out [][]int64
	for len(ids) > 0 {
		n := min(limit, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

// Placeholders returns n comma-separated ? placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Args converts ids to a parameter slice.
func Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func normalize(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(TimeLayout)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

func countStatement(query string) {
	q := strings.TrimSpace(query)
	kind := "other"
	if i := strings.IndexAny(q, " \n\t("); i > 0 {
		switch strings.ToLower(q[:i]) {
		case "select", "with":
			kind = "select"
		case "insert":
			kind = "insert"
		case "update":
			kind = "update"
		case "delete":
			kind = "delete"
		}
	}
	metrics.StatementsTotal.WithLabelValues(kind).Inc()
}
