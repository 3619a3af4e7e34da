// Package translation is the translation-store collaborator: per-language
// values of translatable columns, kept outside the model tables.
package translation

import (
	"context"
	"fmt"

	"github.com/roach88/recordkit/internal/store"
)

// Table is the table the SQL store keeps translations in.
const Table = "ir_translation"

// DefaultLang is the language whose values live in the model tables.
const DefaultLang = "en_US"

// Store resolves and records translated values of model fields.
type Store interface {
	// Resolve returns the translated values of model.field in lang for ids.
	// Ids without a translation are absent from the result.
	Resolve(ctx context.Context, tx *store.Tx, model, field, lang string, ids []int64) (map[int64]string, error)

	// Subquery returns a SELECT of record ids whose translation of
	// model.field in lang satisfies cond. cond renders a condition on the
	// given value column; its parameters follow the returned ones.
	Subquery(model, field, lang string, cond func(column string) string) (string, []any)

	// Set records the translation of one record's field.
	Set(ctx context.Context, tx *store.Tx, model, field, lang string, id int64, value string) error
}

// SQLStore keeps translations in the ir_translation table.
type SQLStore struct{}

// NewSQLStore creates a SQL-backed translation store.
func NewSQLStore() *SQLStore {
	return &SQLStore{}
}

func key(model, field string) string {
	return model + "," + field
}

// EnsureTable creates the translation table if missing.
func (s *SQLStore) EnsureTable(ctx context.Context, tx *store.Tx) error {
	d := tx.Dialect()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s,
	name %s NOT NULL,
	lang %s NOT NULL,
	type %s NOT NULL,
	res_id %s NOT NULL,
	src %s,
	value %s
)`, store.Quote(Table), d.IDType(), d.ColumnType("char"), d.ColumnType("char"), d.ColumnType("char"),
		d.ColumnType("integer"), d.ColumnType("text"), d.ColumnType("text"))
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", Table, err)
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (name, lang, res_id)",
		store.Quote(Table+"_lookup"), store.Quote(Table))
	if _, err := tx.Exec(ctx, idx); err != nil {
		return fmt.Errorf("index %s: %w", Table, err)
	}
	return d.CreateSequence(ctx, tx, Table+"_id_seq")
}

// Resolve implements Store.
func (s *SQLStore) Resolve(ctx context.Context, tx *store.Tx, model, field, lang string, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string)
	for _, chunk := range tx.SplitForIn(ids) {
		query := fmt.Sprintf(`SELECT res_id, value FROM %s
WHERE name = ? AND lang = ? AND type = 'model' AND value IS NOT NULL AND value != ''
AND res_id IN (%s)`, store.Quote(Table), store.Placeholders(len(chunk)))
		args := append([]any{key(model, field), lang}, store.Args(chunk)...)
		rows, err := tx.QueryMaps(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", key(model, field), err)
		}
		for _, row := range rows {
			id, _ := row["res_id"].(int64)
			v, _ := row["value"].(string)
			out[id] = v
		}
	}
	return out, nil
}

// Subquery implements Store.
func (s *SQLStore) Subquery(model, field, lang string, cond func(column string) string) (string, []any) {
	query := fmt.Sprintf("SELECT res_id FROM %s WHERE name = ? AND lang = ? AND type = ? AND %s",
		store.Quote(Table), cond("value"))
	return query, []any{key(model, field), lang, "model"}
}

// Set implements Store.
func (s *SQLStore) Set(ctx context.Context, tx *store.Tx, model, field, lang string, id int64, value string) error {
	res, err := tx.Exec(ctx, fmt.Sprintf(
		"UPDATE %s SET value = ? WHERE name = ? AND lang = ? AND type = 'model' AND res_id = ?",
		store.Quote(Table)), value, key(model, field), lang, id)
	if err != nil {
		return fmt.Errorf("update translation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	nextID, err := tx.NextID(ctx, Table+"_id_seq")
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, name, lang, type, res_id, value) VALUES (?, ?, ?, 'model', ?, ?)",
		store.Quote(Table)), nextID, key(model, field), lang, id, value)
	if err != nil {
		return fmt.Errorf("insert translation: %w", err)
	}
	return nil
}
