package expression

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/translation"
)

// maxRewrites bounds the rewriting pass; search functions returning their
// own leaf would otherwise never terminate.
const maxRewrites = 100000

// Resolver gives the compiler access to the current transaction.
type Resolver interface {
	model.Env

	// NameSearch returns the ids of model whose display name matches text
	// with op. Inactive records are included.
	NameSearch(ctx context.Context, model, text, op string) ([]int64, error)

	// Translations returns the translation store, or nil when translated
	// values are not searched.
	Translations() translation.Store
}

// Compiler turns domains into WHERE fragments.
type Compiler struct {
	r   Resolver
	reg *model.Registry
}

// NewCompiler creates a compiler working in the transaction of r.
func NewCompiler(r Resolver) *Compiler {
	return &Compiler{r: r, reg: r.Registry()}
}

// item is one term of the domain being rewritten, with the model whose
// table its field belongs to.
type item struct {
	term  domain.Term
	model *model.Model
	done  bool
}

// Compile compiles d against modelName into a new query over the model's
// table. An empty domain yields a query without WHERE clause.
func (c *Compiler) Compile(ctx context.Context, modelName string, d domain.Domain) (*query.Query, error) {
	m, err := c.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	q := query.New(m.Table)
	if err := c.CompileInto(ctx, q, m, d); err != nil {
		return nil, err
	}
	return q, nil
}

// CompileInto adds the tables, joins and WHERE fragment of d to q. The table
// of m must already be part of q.
func (c *Compiler) CompileInto(ctx context.Context, q *query.Query, m *model.Model, d domain.Domain) error {
	if len(d) == 0 {
		return nil
	}
	if err := domain.Validate(d, true); err != nil {
		return err
	}

	items := make([]item, len(d))
	for i, t := range d {
		items[i] = item{term: t, model: m}
	}
	items, err := c.rewrite(ctx, q, items)
	if err != nil {
		return err
	}
	where, params, err := c.render(items)
	if err != nil {
		return err
	}
	q.AddWhere(where, params...)
	return nil
}

// Rewrite returns the domain the rendering pass sees, for debugging and
// tests. Joins are discarded.
func (c *Compiler) Rewrite(ctx context.Context, modelName string, d domain.Domain) (domain.Domain, error) {
	m, err := c.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	if err := domain.Validate(d, true); err != nil {
		return nil, err
	}
	items := make([]item, len(d))
	for i, t := range d {
		items[i] = item{term: t, model: m}
	}
	items, err = c.rewrite(ctx, query.New(m.Table), items)
	if err != nil {
		return nil, err
	}
	out := make(domain.Domain, len(items))
	for i, it := range items {
		out[i] = it.term
	}
	return out, nil
}

// rewrite replaces leaves until every leaf renders to SQL directly.
func (c *Compiler) rewrite(ctx context.Context, q *query.Query, items []item) ([]item, error) {
	steps := 0
	for i := 0; i < len(items); {
		it := items[i]
		leaf, ok := it.term.(domain.Leaf)
		if !ok || it.done || leaf.IsDummy() {
			i++
			continue
		}
		if steps++; steps > maxRewrites {
			return nil, fmt.Errorf("domain on %s does not converge after %d rewrites", it.model.Name, maxRewrites)
		}

		repl, err := c.rewriteLeaf(ctx, q, it.model, leaf)
		if err != nil {
			return nil, err
		}
		if repl == nil {
			items[i].done = true
			i++
			continue
		}
		items = splice(items, i, repl)
	}
	return items, nil
}

func splice(items []item, i int, repl []item) []item {
	out := make([]item, 0, len(items)+len(repl)-1)
	out = append(out, items[:i]...)
	out = append(out, repl...)
	return append(out, items[i+1:]...)
}

// final wraps terms on m that need no further rewriting.
func final(m *model.Model, terms ...domain.Term) []item {
	out := make([]item, len(terms))
	for i, t := range terms {
		out[i] = item{term: t, model: m, done: true}
	}
	return out
}

// pending wraps terms on m that go through the rewriting pass again.
func pending(m *model.Model, terms ...domain.Term) []item {
	out := make([]item, len(terms))
	for i, t := range terms {
		out[i] = item{term: t, model: m}
	}
	return out
}

// rewriteLeaf returns the replacement of leaf, or nil when the leaf renders
// as is.
func (c *Compiler) rewriteLeaf(ctx context.Context, q *query.Query, m *model.Model, leaf domain.Leaf) ([]item, error) {
	head, tail := leaf.Head(), leaf.Tail()

	if head == model.FieldID && tail == "" {
		if leaf.Op == domain.OpChildOf {
			ids, err := c.targetIDs(ctx, m.Name, leaf.Value, domain.OpLike)
			if err != nil {
				return nil, err
			}
			d, err := c.childOf(ctx, m, ids)
			if err != nil {
				return nil, err
			}
			return final(m, d...), nil
		}
		return nil, nil
	}

	res, err := c.reg.ResolveField(m.Name, head)
	if err != nil {
		if model.IsUnknownField(err) {
			slog.Debug("ignoring domain leaf on unknown field", "model", m.Name, "field", leaf.Field)
			return final(m, domain.Tautology), nil
		}
		return nil, err
	}
	working := res.Owner
	if res.Inherited() {
		c.joinPath(q, m, res.Path)
	}
	col := res.Column

	if col.Kind == model.KindRelated && !col.Store {
		path := strings.Join(col.Related, ".")
		if tail != "" {
			path += "." + tail
		}
		return pending(working, domain.Leaf{Field: path, Op: leaf.Op, Value: leaf.Value}), nil
	}

	if tail != "" {
		if !col.Relational() {
			slog.Debug("ignoring dotted domain leaf through a non-relational field", "model", m.Name, "field", leaf.Field)
			return final(working, domain.Tautology), nil
		}
		ids, err := c.r.Search(ctx, col.Relation, domain.Domain{domain.Leaf{Field: tail, Op: leaf.Op, Value: leaf.Value}})
		if err != nil {
			return nil, fmt.Errorf("search %s for %s: %w", col.Relation, leaf.Field, err)
		}
		return pending(working, domain.Leaf{Field: head, Op: domain.OpIn, Value: idList(ids)}), nil
	}

	if col.Kind == model.KindComputed && !col.Store {
		if col.Search == nil {
			return final(working, domain.Tautology), nil
		}
		sub, err := col.Search(ctx, c.r, working.Name, leaf)
		if err != nil {
			return nil, fmt.Errorf("search function of %s.%s: %w", working.Name, head, err)
		}
		sub = domain.Normalize(sub)
		if err := domain.Validate(sub, true); err != nil {
			return nil, fmt.Errorf("search function of %s.%s: %w", working.Name, head, err)
		}
		if len(sub) == 0 {
			return final(working, domain.Tautology), nil
		}
		out := final(working, domain.And, domain.Tautology)
		return append(out, pending(working, sub...)...), nil
	}

	var repl []item
	switch col.ValueKind() {
	case model.KindOne2Many:
		repl, err = c.rewriteOne2Many(ctx, working, col, leaf)
	case model.KindMany2Many:
		repl, err = c.rewriteMany2Many(ctx, working, col, leaf)
	case model.KindMany2One:
		repl, err = c.rewriteMany2One(ctx, working, col, leaf)
	default:
		repl, err = c.rewriteScalar(working, col, leaf)
	}
	if err != nil {
		return nil, err
	}
	if repl == nil && working != m {
		// Rendered against the delegated parent's table joined above.
		return final(working, leaf), nil
	}
	return repl, nil
}

// joinPath adds the inner joins from m through the delegation path.
func (c *Compiler) joinPath(q *query.Query, m *model.Model, path []model.Delegation) {
	cur := m
	for _, d := range path {
		parent := c.reg.MustModel(d.Parent)
		q.AddImplicitJoin(cur.Table, d.Field, parent.Table, model.FieldID)
		cur = parent
	}
}

// targetIDs resolves the right-hand side of a relational leaf: a name is
// searched with op, a list may mix ids and names, anything else is read as
// ids.
func (c *Compiler) targetIDs(ctx context.Context, modelName string, v any, op string) ([]int64, error) {
	switch x := v.(type) {
	case string:
		ids, err := c.r.NameSearch(ctx, modelName, x, op)
		if err != nil {
			return nil, fmt.Errorf("name search %s: %w", modelName, err)
		}
		return ids, nil
	case []any:
		var out []int64
		seen := make(map[int64]bool)
		add := func(ids ...int64) {
			for _, id := range ids {
				if id != 0 && !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
		}
		for _, e := range x {
			if name, ok := e.(string); ok {
				ids, err := c.r.NameSearch(ctx, modelName, name, listNameOp(op))
				if err != nil {
					return nil, fmt.Errorf("name search %s: %w", modelName, err)
				}
				add(ids...)
				continue
			}
			if isFalsy(e) {
				continue
			}
			id, err := model.AsID(e)
			if err != nil {
				return nil, &model.TypeMismatchError{Code: model.ErrCodeTypeMismatch, Model: modelName, Field: model.FieldID, Expected: model.KindInteger, Value: v}
			}
			add(id)
		}
		return out, nil
	}
	ids, err := model.AsIDs(v)
	if err != nil {
		return nil, &model.TypeMismatchError{Code: model.ErrCodeTypeMismatch, Model: modelName, Field: model.FieldID, Expected: model.KindInteger, Value: v}
	}
	return ids, nil
}

// listNameOp is the operator names in a list are searched with. Membership
// operators match names exactly; the leaf's negation is applied to the
// resolved ids by the caller.
func listNameOp(op string) string {
	switch op {
	case domain.OpLike, domain.OpILike, domain.OpEqLike:
		return op
	case domain.OpNotLike:
		return domain.OpLike
	case domain.OpNotILike:
		return domain.OpILike
	}
	return domain.OpEq
}

// selectIn collects column of table for the rows whose key is in ids.
func (c *Compiler) selectIn(ctx context.Context, table, column, key string, ids []int64) ([]int64, error) {
	tx := c.r.Tx()
	var out []int64
	for _, chunk := range tx.SplitForIn(ids) {
		rows, err := tx.QueryInts(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
			store.Quote(column), store.Quote(table), store.Quote(key), store.Placeholders(len(chunk))),
			store.Args(chunk)...)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// selectNotNull collects the non-NULL values of column in table.
func (c *Compiler) selectNotNull(ctx context.Context, table, column string) ([]int64, error) {
	return c.r.Tx().QueryInts(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL",
		store.Quote(column), store.Quote(table), store.Quote(column)))
}

func idList(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func isFalsy(v any) bool {
	return v == nil || v == false
}

func (c *Compiler) rewriteOne2Many(ctx context.Context, m *model.Model, col *model.Column, leaf domain.Leaf) ([]item, error) {
	co := c.reg.MustModel(col.Relation)

	if isFalsy(leaf.Value) && (leaf.Op == domain.OpEq || leaf.Op == domain.OpNe || leaf.Op == domain.OpNeAlt) {
		owners, err := c.selectNotNull(ctx, co.Table, col.InverseName)
		if err != nil {
			return nil, err
		}
		op := domain.OpNotIn
		if leaf.Op != domain.OpEq {
			op = domain.OpIn
		}
		return final(m, domain.Leaf{Field: model.FieldID, Op: op, Value: idList(owners)}), nil
	}

	ids, err := c.targetIDs(ctx, co.Name, leaf.Value, leaf.Op)
	if err != nil {
		return nil, err
	}
	_, isName := leaf.Value.(string)
	negate := !isName && domain.IsNegative(leaf.Op)
	if len(ids) == 0 {
		if negate {
			return final(m, domain.Tautology), nil
		}
		return final(m, domain.Leaf{Field: model.FieldID, Op: domain.OpEq, Value: int64(0)}), nil
	}
	owners, err := c.selectIn(ctx, co.Table, col.InverseName, model.FieldID, ids)
	if err != nil {
		return nil, err
	}
	op := domain.OpIn
	if negate {
		op = domain.OpNotIn
	}
	return final(m, domain.Leaf{Field: model.FieldID, Op: op, Value: idList(owners)}), nil
}

func (c *Compiler) rewriteMany2Many(ctx context.Context, m *model.Model, col *model.Column, leaf domain.Leaf) ([]item, error) {
	co := c.reg.MustModel(col.Relation)

	if isFalsy(leaf.Value) && (leaf.Op == domain.OpEq || leaf.Op == domain.OpNe || leaf.Op == domain.OpNeAlt) {
		owners, err := c.selectNotNull(ctx, col.RelTable, col.Column1)
		if err != nil {
			return nil, err
		}
		op := domain.OpNotIn
		if leaf.Op != domain.OpEq {
			op = domain.OpIn
		}
		return final(m, domain.Leaf{Field: model.FieldID, Op: op, Value: idList(owners)}), nil
	}

	if leaf.Op == domain.OpChildOf {
		ids, err := c.targetIDs(ctx, co.Name, leaf.Value, domain.OpLike)
		if err != nil {
			return nil, err
		}
		d, err := c.childOf(ctx, co, ids)
		if err != nil {
			return nil, err
		}
		ids, err = c.r.Search(ctx, co.Name, d)
		if err != nil {
			return nil, err
		}
		if co.Name != m.Name {
			if ids, err = c.selectIn(ctx, col.RelTable, col.Column1, col.Column2, ids); err != nil {
				return nil, err
			}
		}
		return final(m, domain.Leaf{Field: model.FieldID, Op: domain.OpIn, Value: idList(ids)}), nil
	}

	ids, err := c.targetIDs(ctx, co.Name, leaf.Value, leaf.Op)
	if err != nil {
		return nil, err
	}
	_, isName := leaf.Value.(string)
	negate := !isName && domain.IsNegative(leaf.Op)
	owners, err := c.selectIn(ctx, col.RelTable, col.Column1, col.Column2, ids)
	if err != nil {
		return nil, err
	}
	if negate {
		if len(owners) == 0 {
			return final(m, domain.Tautology), nil
		}
		return final(m, domain.Leaf{Field: model.FieldID, Op: domain.OpNotIn, Value: idList(owners)}), nil
	}
	if len(owners) == 0 {
		owners = []int64{0}
	}
	return final(m, domain.Leaf{Field: model.FieldID, Op: domain.OpIn, Value: idList(owners)}), nil
}

func (c *Compiler) rewriteMany2One(ctx context.Context, m *model.Model, col *model.Column, leaf domain.Leaf) ([]item, error) {
	if leaf.Op == domain.OpChildOf {
		co := c.reg.MustModel(col.Relation)
		ids, err := c.targetIDs(ctx, co.Name, leaf.Value, domain.OpLike)
		if err != nil {
			return nil, err
		}
		d, err := c.childOf(ctx, co, ids)
		if err != nil {
			return nil, err
		}
		if co.Name == m.Name {
			return final(m, d...), nil
		}
		ids, err = c.r.Search(ctx, co.Name, d)
		if err != nil {
			return nil, err
		}
		return final(m, domain.Leaf{Field: leaf.Field, Op: domain.OpIn, Value: idList(ids)}), nil
	}

	if s, ok := leaf.Value.(string); ok {
		ids, err := c.r.NameSearch(ctx, col.Relation, s, leaf.Op)
		if err != nil {
			return nil, fmt.Errorf("name search %s: %w", col.Relation, err)
		}
		return final(m, domain.Leaf{Field: leaf.Field, Op: domain.OpIn, Value: idList(ids)}), nil
	}
	return nil, nil
}

func (c *Compiler) rewriteScalar(m *model.Model, col *model.Column, leaf domain.Leaf) ([]item, error) {
	changed := false
	if col.ValueKind() == model.KindDatetime {
		if s, ok := leaf.Value.(string); ok && len(s) == len(model.DateLayout) {
			switch leaf.Op {
			case domain.OpGt, domain.OpGe:
				leaf.Value = s + " 00:00:00"
				changed = true
			case domain.OpLt, domain.OpLe:
				leaf.Value = s + " 23:59:59"
				changed = true
			}
		}
	}

	if col.Translate {
		if sub, ok, err := c.translated(m, col, leaf); err != nil {
			return nil, err
		} else if ok {
			return final(m, domain.Leaf{Field: model.FieldID, Op: domain.OpInSelect, Value: sub}), nil
		}
	}

	if changed {
		return final(m, leaf), nil
	}
	return nil, nil
}

// translated builds the sub-select matching either the translation of the
// field in the current language or its stored value.
func (c *Compiler) translated(m *model.Model, col *model.Column, leaf domain.Leaf) (domain.SubSelect, bool, error) {
	ts := c.r.Translations()
	lang := c.r.Lang()
	if ts == nil || lang == "" || lang == translation.DefaultLang || isFalsy(leaf.Value) || leaf.Op == domain.OpEqMaybe {
		return domain.SubSelect{}, false, nil
	}

	op := leaf.Op
	var values []any
	switch op {
	case domain.OpIn, domain.OpNotIn:
		list, _ := leaf.Value.([]any)
		if len(list) == 0 {
			return domain.SubSelect{}, false, nil
		}
		values = list
	case domain.OpLike, domain.OpNotLike, domain.OpILike, domain.OpNotILike:
		values = []any{likePattern(leaf.Value)}
	case domain.OpEqLike:
		op = domain.OpLike
		values = []any{fmt.Sprint(leaf.Value)}
	default:
		v, err := scalarParam(m, col, leaf.Value)
		if err != nil {
			return domain.SubSelect{}, false, err
		}
		values = []any{v}
	}

	cond := func(column string) string {
		return c.comparison(column, op, len(values))
	}
	sub, params := ts.Subquery(m.Name, col.Name, lang, cond)
	params = append(params, values...)
	base := fmt.Sprintf("SELECT %s FROM %s WHERE %s", quoteCol(m.Table, model.FieldID), quoteTable(m.Table),
		cond(quoteCol(m.Table, col.Name)))
	params = append(params, values...)
	return domain.SubSelect{SQL: sub + " UNION " + base, Params: params}, true, nil
}
