// Package schema creates the tables of a model registry.
//
// It is a minimal reference synchronizer for tests and the CLI: tables,
// relation tables, indexes and sequences are created if missing, existing
// tables are never altered. On PostgreSQL foreign keys are added after the
// tables, so CreateTables expects an empty database there.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/translation"
)

// CreateTables creates every table of reg, the translation table and the
// id sequences.
func CreateTables(ctx context.Context, tx *store.Tx, reg *model.Registry) error {
	d := tx.Dialect()
	inlineFK := d.Name() == "sqlite3"

	for _, m := range reg.Models() {
		if _, err := tx.Exec(ctx, TableDDL(d, reg, m, inlineFK)); err != nil {
			return fmt.Errorf("create table %s: %w", m.Table, err)
		}
		if err := d.CreateSequence(ctx, tx, m.Sequence()); err != nil {
			return fmt.Errorf("create sequence %s: %w", m.Sequence(), err)
		}
		slog.Debug("table created", "model", m.Name, "table", m.Table)
	}

	for _, m := range reg.Models() {
		for _, name := range m.ColumnNames() {
			c := m.Columns[name]
			switch {
			case c.Kind == model.KindMany2Many:
				if err := createRelTable(ctx, tx, reg, m, c, inlineFK); err != nil {
					return err
				}
			case c.Index && c.Stored():
				idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
					store.Quote(m.Table+"_"+c.Name+"_index"), store.Quote(m.Table), store.Quote(c.Name))
				if _, err := tx.Exec(ctx, idx); err != nil {
					return fmt.Errorf("create index %s.%s: %w", m.Table, c.Name, err)
				}
			}
		}
	}

	if !inlineFK {
		if err := addForeignKeys(ctx, tx, reg); err != nil {
			return err
		}
	}

	return translation.NewSQLStore().EnsureTable(ctx, tx)
}

// TableDDL renders the CREATE TABLE statement of m. With inlineFK, many2one
// columns carry their REFERENCES clause.
func TableDDL(d store.Dialect, reg *model.Registry, m *model.Model, inlineFK bool) string {
	cols := []string{fmt.Sprintf("%s %s", store.Quote(model.FieldID), d.IDType())}
	for _, name := range m.ColumnNames() {
		c := m.Columns[name]
		if name == model.FieldID || !c.Stored() {
			continue
		}
		def := fmt.Sprintf("%s %s", store.Quote(c.Name), d.ColumnType(string(c.ValueKind())))
		if c.Required && !c.Derived() {
			def += " NOT NULL"
		}
		if inlineFK && c.Kind == model.KindMany2One {
			def += references(reg, c)
		}
		cols = append(cols, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", store.Quote(m.Table), strings.Join(cols, ",\n\t"))
}

func references(reg *model.Registry, c *model.Column) string {
	target := reg.MustModel(c.Relation)
	action := strings.ToUpper(string(c.OnDelete))
	if action == "" {
		action = "SET NULL"
	}
	return fmt.Sprintf(" REFERENCES %s (%s) ON DELETE %s", store.Quote(target.Table), store.Quote(model.FieldID), action)
}

func createRelTable(ctx context.Context, tx *store.Tx, reg *model.Registry, m *model.Model, c *model.Column, inlineFK bool) error {
	d := tx.Dialect()
	co := reg.MustModel(c.Relation)
	col := func(name, table string) string {
		def := fmt.Sprintf("%s %s NOT NULL", store.Quote(name), d.ColumnType("integer"))
		if inlineFK {
			def += fmt.Sprintf(" REFERENCES %s (%s) ON DELETE CASCADE", store.Quote(table), store.Quote(model.FieldID))
		}
		return def
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s,\n\t%s,\n\tUNIQUE (%s, %s)\n)",
		store.Quote(c.RelTable), col(c.Column1, m.Table), col(c.Column2, co.Table),
		store.Quote(c.Column1), store.Quote(c.Column2))
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create relation table %s: %w", c.RelTable, err)
	}
	return nil
}

func addForeignKeys(ctx context.Context, tx *store.Tx, reg *model.Registry) error {
	for _, m := range reg.Models() {
		for _, name := range m.ColumnNames() {
			c := m.Columns[name]
			if c.Kind != model.KindMany2One {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s)%s",
				store.Quote(m.Table), store.Quote(m.Table+"_"+c.Name+"_fkey"), store.Quote(c.Name), references(reg, c))
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("add foreign key %s.%s: %w", m.Table, c.Name, err)
			}
		}
	}
	return nil
}
