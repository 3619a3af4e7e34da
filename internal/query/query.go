package query

import (
	"fmt"
	"strings"

	"github.com/roach88/recordkit/internal/store"
)

// Query is an accumulator of tables, joins and WHERE fragments.
type Query struct {
	tables      []string
	where       []string
	params      []any
	outerJoins  map[string][]outerJoin
	joinAliases map[string]bool
}

type outerJoin struct {
	table string // quoted target table
	alias string // unquoted alias
	on    string
}

// New creates a query over the given unquoted tables.
func New(tables ...string) *Query {
	q := &Query{
		outerJoins:  make(map[string][]outerJoin),
		joinAliases: make(map[string]bool),
	}
	for _, t := range tables {
		q.AddTable(t)
	}
	return q
}

// AddTable adds an unquoted table to the FROM list. Returns false if the
// table was already present.
func (q *Query) AddTable(table string) bool {
	quoted := store.Quote(table)
	for _, t := range q.tables {
		if t == quoted {
			return false
		}
	}
	q.tables = append(q.tables, quoted)
	return true
}

// HasTable reports whether an unquoted table is in the FROM list.
func (q *Query) HasTable(table string) bool {
	quoted := store.Quote(table)
	for _, t := range q.tables {
		if t == quoted {
			return true
		}
	}
	return false
}

// Tables returns the quoted FROM tables in insertion order.
func (q *Query) Tables() []string {
	out := make([]string, len(q.tables))
	copy(out, q.tables)
	return out
}

// AddWhere appends a WHERE fragment and its parameters.
// Empty fragments are ignored.
func (q *Query) AddWhere(clause string, params ...any) {
	if clause == "" {
		return
	}
	q.where = append(q.where, clause)
	q.params = append(q.params, params...)
}

// AddImplicitJoin joins rhsTable to lhsTable with an inner equality:
// "lhsTable"."lhsCol" = "rhsTable"."rhsCol". The condition is added once,
// the first time rhsTable enters the FROM list. Returns false if rhsTable
// was already joined.
func (q *Query) AddImplicitJoin(lhsTable, lhsCol, rhsTable, rhsCol string) bool {
	if !q.AddTable(rhsTable) {
		return false
	}
	q.where = append(q.where, fmt.Sprintf("(%s.%s = %s.%s)",
		store.Quote(lhsTable), store.Quote(lhsCol), store.Quote(rhsTable), store.Quote(rhsCol)))
	return true
}

// AddOuterJoin attaches LEFT OUTER JOIN rhsTable to lhsTable on
// "lhs"."lhsCol" = "alias"."rhsCol" and returns the alias. The alias is
// derived from lhs and lhsCol so that repeated calls reuse the same join.
// lhsTable may itself be an alias returned by an earlier call.
func (q *Query) AddOuterJoin(lhsTable, lhsCol, rhsTable, rhsCol string) string {
	alias := lhsTable + "__" + lhsCol
	if q.joinAliases[alias] {
		return alias
	}
	q.joinAliases[alias] = true

	anchor := q.anchorOf(lhsTable)
	q.outerJoins[anchor] = append(q.outerJoins[anchor], outerJoin{
		table: store.Quote(rhsTable),
		alias: alias,
		on: fmt.Sprintf("(%s.%s = %s.%s)",
			store.Quote(lhsTable), store.Quote(lhsCol), store.Quote(alias), store.Quote(rhsCol)),
	})
	return alias
}

// anchorOf returns the quoted FROM table an alias chain hangs off.
func (q *Query) anchorOf(table string) string {
	if !q.joinAliases[table] {
		return store.Quote(table)
	}
	for anchor, joins := range q.outerJoins {
		for _, j := range joins {
			if j.alias == table {
				return anchor
			}
		}
	}
	return store.Quote(table)
}

// Params returns a copy of the accumulated WHERE parameters.
func (q *Query) Params() []any {
	out := make([]any, len(q.params))
	copy(out, q.params)
	return out
}

// SQL renders the FROM clause, the WHERE clause (empty if none) and params.
func (q *Query) SQL() (from string, where string, params []any) {
	parts := make([]string, 0, len(q.tables))
	for _, t := range q.tables {
		part := t
		for _, j := range q.outerJoins[t] {
			part += fmt.Sprintf(" LEFT OUTER JOIN %s AS %s ON %s", j.table, store.Quote(j.alias), j.on)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", "), strings.Join(q.where, " AND "), q.Params()
}

// Select renders a complete statement "SELECT <columns> FROM ... WHERE ...".
func (q *Query) Select(columns string) (string, []any) {
	from, where, params := q.SQL()
	sql := "SELECT " + columns + " FROM " + from
	if where != "" {
		sql += " WHERE " + where
	}
	return sql, params
}
