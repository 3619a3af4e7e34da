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

// SearchParams are the arguments of SearchWith.
type SearchParams struct {
	Domain domain.Domain
	Offset int
	// Limit caps the number of ids; zero means no limit.
	Limit int
	// Order overrides the model order, e.g. "name desc, id".
	Order string
}

// Search returns the ids of modelName matching d, in the model order.
func (e *Env) Search(ctx context.Context, modelName string, d domain.Domain) ([]int64, error) {
	return e.SearchWith(ctx, modelName, SearchParams{Domain: d})
}

// SearchWith returns the ids of modelName matching p.Domain with one SELECT.
func (e *Env) SearchWith(ctx context.Context, modelName string, p SearchParams) (ids []int64, err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "search", metrics.Status(err)).Inc()
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
	order, err := e.orderBy(q, m, p.Order)
	if err != nil {
		return nil, err
	}

	sql, params := q.Select(qcol(m.Table, model.FieldID))
	if order != "" {
		sql += " ORDER BY " + order
	}
	sql += e.limitClause(p.Limit, p.Offset)
	return e.tx.QueryInts(ctx, sql, params...)
}

// SearchCount returns the number of records of modelName matching d.
func (e *Env) SearchCount(ctx context.Context, modelName string, d domain.Domain) (n int64, err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "search_count", metrics.Status(err)).Inc()
	}()

	m, err := e.reg.Model(modelName)
	if err != nil {
		return 0, err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpRead); err != nil {
		return 0, err
	}
	q, err := e.searchQuery(ctx, m, d, security.OpRead)
	if err != nil {
		return 0, err
	}
	sql, params := q.Select("count(" + qcol(m.Table, model.FieldID) + ")")
	if err := e.tx.QueryRow(ctx, sql, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", m.Name, err)
	}
	return n, nil
}

// Exists returns the ids that still have a row, in input order.
func (e *Env) Exists(ctx context.Context, modelName string, ids []int64) ([]int64, error) {
	m, err := e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	return e.existing(ctx, m, ids)
}

// searchQuery compiles d, plus the implicit active filter and the row-level
// rules of op, into a query over the model table.
func (e *Env) searchQuery(ctx context.Context, m *model.Model, d domain.Domain, op security.Operation) (*query.Query, error) {
	q := query.New(m.Table)
	if err := e.compiler.CompileInto(ctx, q, m, e.withActive(m, d)); err != nil {
		return nil, err
	}
	if err := e.applyRules(ctx, q, m, op); err != nil {
		return nil, err
	}
	return q, nil
}

// withActive restricts d to active records unless d filters on active
// itself or the context disables the test.
func (e *Env) withActive(m *model.Model, d domain.Domain) domain.Domain {
	if !m.HasActive() || !e.activeTest() || d.HasField(model.FieldActive) {
		return d
	}
	return domain.AndDomains(domain.Domain{domain.Leaf{Field: model.FieldActive, Op: domain.OpEq, Value: true}}, d)
}

func (e *Env) applyRules(ctx context.Context, q *query.Query, m *model.Model, op security.Operation) error {
	rule, err := e.opts.Rules.RulesFor(ctx, m.Name, op, e.opts.Principal)
	if err != nil {
		return fmt.Errorf("rules of %s: %w", m.Name, err)
	}
	if rule.Empty() {
		return nil
	}
	for _, t := range rule.Tables {
		q.AddTable(t)
	}
	q.AddWhere("("+strings.Join(rule.Clauses, ") AND (")+")", rule.Params...)
	return nil
}

// checkRules fails with an AccessError when some existing ids are hidden
// by the row-level rules of op.
func (e *Env) checkRules(ctx context.Context, m *model.Model, ids []int64, op security.Operation) error {
	rule, err := e.opts.Rules.RulesFor(ctx, m.Name, op, e.opts.Principal)
	if err != nil {
		return fmt.Errorf("rules of %s: %w", m.Name, err)
	}
	if rule.Empty() {
		return nil
	}
	for _, chunk := range e.tx.SplitForIn(ids) {
		q := query.New(m.Table)
		q.AddWhere(inClause(qcol(m.Table, model.FieldID), len(chunk)), store.Args(chunk)...)
		if err := e.applyRules(ctx, q, m, op); err != nil {
			return err
		}
		sql, params := q.Select("DISTINCT " + qcol(m.Table, model.FieldID))
		visible, err := e.tx.QueryInts(ctx, sql, params...)
		if err != nil {
			return fmt.Errorf("check rules of %s: %w", m.Name, err)
		}
		if len(visible) == len(chunk) {
			continue
		}
		existing, err := e.existing(ctx, m, chunk)
		if err != nil {
			return err
		}
		if len(visible) < len(existing) {
			e.logger.Info("row-level rule denied access", "model", m.Name, "operation", op, "principal", e.opts.Principal)
			return security.NewAccessError(e.opts.Principal, m.Name, op)
		}
	}
	return nil
}

// orderBy renders spec, or the model order when spec is empty, as ORDER BY
// terms. Many2one fields order by the default order of their comodel
// through an outer join, one level deep.
func (e *Env) orderBy(q *query.Query, m *model.Model, spec string) (string, error) {
	if spec == "" {
		spec = m.Order
	}
	specs, ok := model.ParseOrder(spec)
	if !ok {
		return "", fmt.Errorf("invalid order %q on %s", spec, m.Name)
	}

	var terms []string
	for _, s := range specs {
		res, err := e.reg.ResolveField(m.Name, s.Field)
		if err != nil {
			return "", err
		}
		table := m.Table
		if res.Inherited() {
			table = e.joinPath(q, m, res.Path)
		}
		col := res.Column
		if !col.Stored() {
			e.logger.Debug("ignoring order on a non-stored field", "model", m.Name, "field", s.Field)
			continue
		}
		if col.ValueKind() == model.KindMany2One {
			terms = append(terms, e.many2oneOrder(q, table, col, s.Desc)...)
			continue
		}
		terms = append(terms, qcol(table, col.Name)+direction(s.Desc))
	}
	return strings.Join(terms, ", "), nil
}

func (e *Env) many2oneOrder(q *query.Query, table string, col *model.Column, desc bool) []string {
	co := e.reg.MustModel(col.Relation)
	alias := q.AddOuterJoin(table, col.Name, co.Table, model.FieldID)
	specs, _ := model.ParseOrder(co.Order)

	var terms []string
	for _, s := range specs {
		c, ok := co.Columns[s.Field]
		if !ok || !c.Stored() || c.ValueKind() == model.KindMany2One {
			continue
		}
		terms = append(terms, qcol(alias, c.Name)+direction(s.Desc != desc))
	}
	if len(terms) == 0 {
		terms = append(terms, qcol(alias, model.FieldID)+direction(desc))
	}
	return terms
}

// joinPath adds the inner joins from m through the delegation path and
// returns the table owning the last link.
func (e *Env) joinPath(q *query.Query, m *model.Model, path []model.Delegation) string {
	cur := m
	for _, d := range path {
		parent := e.reg.MustModel(d.Parent)
		q.AddImplicitJoin(cur.Table, d.Field, parent.Table, model.FieldID)
		cur = parent
	}
	return cur.Table
}

func (e *Env) limitClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	if offset > 0 {
		if limit <= 0 && e.tx.Dialect().Name() == "sqlite3" {
			b.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

// existing returns the ids of m that have a row, in input order.
func (e *Env) existing(ctx context.Context, m *model.Model, ids []int64) ([]int64, error) {
	ids = uniqueIDs(ids)
	found := make(map[int64]bool, len(ids))
	for _, chunk := range e.tx.SplitForIn(ids) {
		rows, err := e.tx.QueryInts(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s",
			store.Quote(model.FieldID), store.Quote(m.Table), inClause(store.Quote(model.FieldID), len(chunk))),
			store.Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("check existence of %s: %w", m.Name, err)
		}
		for _, id := range rows {
			found[id] = true
		}
	}
	out := make([]int64, 0, len(found))
	for _, id := range ids {
		if found[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// mustExist fails with a MissingRecordError naming the ids without a row.
func (e *Env) mustExist(ctx context.Context, m *model.Model, ids []int64) error {
	existing, err := e.existing(ctx, m, ids)
	if err != nil {
		return err
	}
	if len(existing) == len(ids) {
		return nil
	}
	return missingError(m.Name, ids, existing)
}

func direction(desc bool) string {
	if desc {
		return " DESC"
	}
	return " ASC"
}
