package orm

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/security"
	"github.com/roach88/recordkit/internal/store"
)

// Aggregate functions accepted in "field:function" specs.
const (
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggCount = "count"
)

// countKey orders groups by their size.
const countKey = "__count"

// GroupParams are the arguments of ReadGroup.
type GroupParams struct {
	Domain domain.Domain
	// Fields lists the aggregated fields, as "field" or "field:function".
	// A bare numeric field is summed; bare fields of other kinds are skipped.
	Fields []string
	// GroupBy lists stored scalar or many2one fields. No field yields one
	// group over every matching record.
	GroupBy []string
	Offset  int
	Limit   int
	// Order sorts groups by group-by fields, aggregated fields or
	// "__count". Defaults to the group-by fields ascending.
	Order string
}

// Group is one row of ReadGroup.
type Group struct {
	// Values holds the group-by values, many2one ones as ids.
	Values     map[string]any
	Count      int64
	Aggregates map[string]any
	// Domain selects the records of the group.
	Domain domain.Domain
}

type aggregate struct {
	field string
	fn    string
	col   *model.Column
	expr  string
}

// ReadGroup returns the records of modelName matching p.Domain, grouped by
// p.GroupBy, with their count and aggregates, in one SELECT.
func (e *Env) ReadGroup(ctx context.Context, modelName string, p GroupParams) (groups []Group, err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "read_group", metrics.Status(err)).Inc()
	}()

	m, err := e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpRead); err != nil {
		return nil, err
	}
	q, err := e.searchQuery(ctx, m, p.Domain, security.OpRead)
	if err != nil {
		return nil, err
	}

	countExpr := "count(" + qcol(m.Table, model.FieldID) + ")"
	cols := []string{countExpr + " AS " + store.Quote(countKey)}
	exprs := make(map[string]string, len(p.GroupBy))
	keys := make([]string, 0, len(p.GroupBy))
	groupCols := make([]*model.Column, len(p.GroupBy))
	for i, g := range p.GroupBy {
		col, table, err := e.groupColumn(q, m, g)
		if err != nil {
			return nil, err
		}
		expr := qcol(table, col.Name)
		exprs[g] = expr
		keys = append(keys, expr)
		groupCols[i] = col
		cols = append(cols, expr+" AS "+store.Quote(g))
	}

	aggs, err := e.aggregates(q, m, p.Fields, exprs)
	if err != nil {
		return nil, err
	}
	for _, a := range aggs {
		cols = append(cols, a.expr+" AS "+store.Quote(a.field))
		exprs[a.field] = a.expr
	}
	exprs[countKey] = countExpr

	order, err := groupOrder(m, p.Order, p.GroupBy, exprs)
	if err != nil {
		return nil, err
	}

	sql, params := q.Select(strings.Join(cols, ", "))
	if len(keys) > 0 {
		sql += " GROUP BY " + strings.Join(keys, ", ")
	}
	if order != "" {
		sql += " ORDER BY " + order
	}
	sql += e.limitClause(p.Limit, p.Offset)

	rows, err := e.tx.QueryMaps(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("read group %s: %w", m.Name, err)
	}
	groups = make([]Group, 0, len(rows))
	for _, row := range rows {
		count, err := model.AsID(row[countKey])
		if err != nil {
			return nil, fmt.Errorf("read group %s: %w", m.Name, err)
		}
		g := Group{
			Values:     make(map[string]any, len(p.GroupBy)),
			Count:      count,
			Aggregates: make(map[string]any, len(aggs)),
			Domain:     p.Domain,
		}
		for i, name := range p.GroupBy {
			v := groupCols[i].FromDB(row[name])
			g.Values[name] = v
			g.Domain = domain.AndDomains(g.Domain, domain.Domain{groupLeaf(name, v)})
		}
		for _, a := range aggs {
			g.Aggregates[a.field] = aggregateValue(a, row[a.field])
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// groupColumn resolves a stored field of m, joining delegated parents,
// and returns it with the table holding it. x2many fields are not stored.
func (e *Env) groupColumn(q *query.Query, m *model.Model, field string) (*model.Column, string, error) {
	res, err := e.reg.ResolveField(m.Name, field)
	if err != nil {
		return nil, "", err
	}
	if !res.Column.Stored() {
		return nil, "", fmt.Errorf("cannot group %s on non-stored field %s", m.Name, field)
	}
	table := m.Table
	if res.Inherited() {
		table = e.joinPath(q, m, res.Path)
	}
	return res.Column, table, nil
}

// aggregates parses the aggregated field specs, skipping group-by fields.
func (e *Env) aggregates(q *query.Query, m *model.Model, specs []string, grouped map[string]string) ([]aggregate, error) {
	var out []aggregate
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		field, fn, _ := strings.Cut(spec, ":")
		if field == model.FieldID || seen[field] {
			continue
		}
		if _, ok := grouped[field]; ok {
			continue
		}
		col, table, err := e.groupColumn(q, m, field)
		if err != nil {
			return nil, err
		}
		numeric := col.ValueKind() == model.KindInteger || col.ValueKind() == model.KindFloat
		switch fn {
		case "":
			if !numeric {
				continue
			}
			fn = AggSum
		case AggSum, AggAvg:
			if !numeric {
				return nil, fmt.Errorf("cannot %s non-numeric field %s.%s", fn, m.Name, field)
			}
		case AggMin, AggMax, AggCount:
		default:
			return nil, fmt.Errorf("unknown aggregate %q on %s.%s", fn, m.Name, field)
		}
		seen[field] = true
		out = append(out, aggregate{
			field: field,
			fn:    fn,
			col:   col,
			expr:  fn + "(" + qcol(table, col.Name) + ")",
		})
	}
	return out, nil
}

// groupOrder renders the ORDER BY of a grouped query. Terms must name a
// group-by field, an aggregate or the group count.
func groupOrder(m *model.Model, spec string, groupBy []string, exprs map[string]string) (string, error) {
	if spec == "" {
		spec = strings.Join(groupBy, ", ")
	}
	if spec == "" {
		return "", nil
	}
	specs, ok := model.ParseOrder(spec)
	if !ok {
		return "", fmt.Errorf("invalid order %q on %s", spec, m.Name)
	}
	terms := make([]string, 0, len(specs))
	for _, s := range specs {
		expr, ok := exprs[s.Field]
		if !ok {
			return "", fmt.Errorf("cannot order groups of %s by %s: not grouped or aggregated", m.Name, s.Field)
		}
		terms = append(terms, expr+direction(s.Desc))
	}
	return strings.Join(terms, ", "), nil
}

func groupLeaf(field string, v any) domain.Leaf {
	if v == nil {
		return domain.Leaf{Field: field, Op: domain.OpEq, Value: false}
	}
	return domain.Leaf{Field: field, Op: domain.OpEq, Value: v}
}

func aggregateValue(a aggregate, v any) any {
	switch a.fn {
	case AggCount:
		n, _ := model.AsID(v)
		return n
	case AggAvg:
		if v == nil {
			return nil
		}
		return (&model.Column{Kind: model.KindFloat}).FromDB(v)
	}
	return a.col.FromDB(v)
}
