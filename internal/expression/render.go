package expression

import (
	"fmt"
	"strings"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/store"
)

// render folds the rewritten domain right to left into one SQL fragment.
// Leaf parameters are returned in the textual order of their placeholders.
func (c *Compiler) render(items []item) (string, []any, error) {
	var stack []string
	var leafParams [][]any

	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		switch t := it.term.(type) {
		case domain.Leaf:
			sql, params, err := c.leafSQL(it.model, t)
			if err != nil {
				return "", nil, err
			}
			stack = append(stack, sql)
			leafParams = append(leafParams, params)
		case domain.Operator:
			if t == domain.Not {
				top := len(stack) - 1
				stack[top] = "(NOT " + stack[top] + ")"
				continue
			}
			joiner := " AND "
			if t == domain.Or {
				joiner = " OR "
			}
			n := len(stack)
			q1, q2 := stack[n-1], stack[n-2]
			stack = append(stack[:n-2], "("+q1+joiner+q2+")")
		}
	}

	parts := make([]string, len(stack))
	for i, s := range stack {
		parts[len(stack)-1-i] = s
	}
	var params []any
	for i := len(leafParams) - 1; i >= 0; i-- {
		params = append(params, leafParams[i]...)
	}
	return strings.Join(parts, " AND "), params, nil
}

func quoteTable(table string) string {
	return store.Quote(table)
}

func quoteCol(table, column string) string {
	return store.Quote(table) + "." + store.Quote(column)
}

// leafSQL renders one leaf against the table of m.
func (c *Compiler) leafSQL(m *model.Model, leaf domain.Leaf) (string, []any, error) {
	switch {
	case leaf.IsTautology():
		return "(1=1)", nil, nil
	case leaf.IsContradiction():
		return "(1=0)", nil, nil
	case leaf.IsDummy():
		return "", nil, fmt.Errorf("unexpected placeholder leaf %s", leaf)
	}

	expr := quoteCol(m.Table, leaf.Field)
	switch leaf.Op {
	case domain.OpInSelect, domain.OpNotInSelect:
		sub, ok := leaf.Value.(domain.SubSelect)
		if !ok {
			return "", nil, domain.NewSyntaxError(0, "operator %q needs a sub-select", leaf.Op)
		}
		return fmt.Sprintf("(%s %s (%s))", expr, sqlOp(leaf.Op), sub.SQL), sub.Params, nil
	case domain.OpIn, domain.OpNotIn:
		return c.inSQL(m, expr, leaf)
	}

	col, ok := m.Columns[leaf.Field]
	if !ok {
		return "", nil, model.NewUnknownFieldError(m.Name, leaf.Field)
	}
	boolean := col.ValueKind() == model.KindBoolean
	op := leaf.Op
	if op == domain.OpNeAlt {
		op = domain.OpNe
	}

	if isFalsy(leaf.Value) {
		switch op {
		case domain.OpEq:
			if boolean {
				return fmt.Sprintf("(%s IS NULL OR %s = false)", expr, expr), nil, nil
			}
			return fmt.Sprintf("(%s IS NULL)", expr), nil, nil
		case domain.OpNe:
			if boolean {
				return fmt.Sprintf("(%s IS NOT NULL AND %s != false)", expr, expr), nil, nil
			}
			return fmt.Sprintf("(%s IS NOT NULL)", expr), nil, nil
		case domain.OpEqMaybe:
			return "(1=1)", nil, nil
		}
	}
	if op == domain.OpEqMaybe {
		op = domain.OpEq
	}

	if domain.IsLikeOp(op) {
		var pattern string
		if op == domain.OpEqLike {
			pattern = fmt.Sprint(leaf.Value)
			op = domain.OpLike
		} else {
			pattern = likePattern(leaf.Value)
		}
		sql := c.comparison(expr, op, 1)
		if s, _ := leaf.Value.(string); s == "" {
			return fmt.Sprintf("(%s OR %s IS NULL)", sql, expr), []any{pattern}, nil
		}
		return "(" + sql + ")", []any{pattern}, nil
	}

	p, err := scalarParam(m, col, leaf.Value)
	if err != nil {
		return "", nil, err
	}
	return "(" + c.comparison(expr, op, 1) + ")", []any{p}, nil
}

// inSQL renders in and not in. false and nil entries mean NULL; long lists
// are split into several IN clauses.
func (c *Compiler) inSQL(m *model.Model, expr string, leaf domain.Leaf) (string, []any, error) {
	list, ok := leaf.Value.([]any)
	if !ok {
		return "", nil, domain.NewSyntaxError(0, "operator %q on %q needs a list value", leaf.Op, leaf.Field)
	}
	col, ok := m.Columns[leaf.Field]
	if !ok {
		return "", nil, model.NewUnknownFieldError(m.Name, leaf.Field)
	}
	negate := leaf.Op == domain.OpNotIn

	var values []any
	hasNull := false
	for _, v := range list {
		if isFalsy(v) {
			hasNull = true
			continue
		}
		p, err := scalarParam(m, col, v)
		if err != nil {
			return "", nil, err
		}
		values = append(values, p)
	}

	if len(values) == 0 {
		switch {
		case hasNull && negate:
			return fmt.Sprintf("(%s IS NOT NULL)", expr), nil, nil
		case hasNull:
			return fmt.Sprintf("(%s IS NULL)", expr), nil, nil
		case negate:
			return "(1=1)", nil, nil
		default:
			return "(1=0)", nil, nil
		}
	}

	// Chunks bound each IN list, not the parameters of the statement.
	limit := c.inMax()
	var parts []string
	for start := 0; start < len(values); start += limit {
		n := min(limit, len(values)-start)
		parts = append(parts, c.comparison(expr, leaf.Op, n))
	}
	joiner := " OR "
	if negate {
		joiner = " AND "
	}
	sql := strings.Join(parts, joiner)

	switch {
	case hasNull && negate:
		return fmt.Sprintf("(%s AND %s IS NOT NULL)", sql, expr), values, nil
	case hasNull:
		return fmt.Sprintf("(%s OR %s IS NULL)", sql, expr), values, nil
	}
	return "(" + sql + ")", values, nil
}

func (c *Compiler) inMax() int {
	if tx := c.r.Tx(); tx != nil && tx.InMax() > 0 {
		return tx.InMax()
	}
	return store.DefaultInMax
}

// comparison renders "expr op ?" for one value, or "expr IN (?, ...)" for n
// values of in and not in.
func (c *Compiler) comparison(expr, op string, n int) string {
	switch op {
	case domain.OpIn, domain.OpNotIn:
		return fmt.Sprintf("%s %s (%s)", expr, sqlOp(op), store.Placeholders(n))
	case domain.OpILike, domain.OpNotILike:
		return c.dialect().ILike(expr, op == domain.OpNotILike)
	case domain.OpEqLike:
		return expr + " LIKE ?"
	}
	return fmt.Sprintf("%s %s ?", expr, sqlOp(op))
}

func (c *Compiler) dialect() store.Dialect {
	if tx := c.r.Tx(); tx != nil {
		return tx.Dialect()
	}
	d, _ := store.DialectFor("sqlite3")
	return d
}

func sqlOp(op string) string {
	switch op {
	case domain.OpNeAlt:
		return "!="
	case domain.OpInSelect:
		return "IN"
	case domain.OpNotInSelect:
		return "NOT IN"
	}
	return strings.ToUpper(op)
}

func likePattern(v any) string {
	if isFalsy(v) {
		return "%%"
	}
	return "%" + fmt.Sprint(v) + "%"
}

// scalarParam converts a leaf value into the parameter compared with col.
func scalarParam(m *model.Model, col *model.Column, v any) (any, error) {
	mismatch := &model.TypeMismatchError{Code: model.ErrCodeTypeMismatch, Model: m.Name, Field: col.Name, Expected: col.ValueKind(), Value: v}
	switch col.ValueKind() {
	case model.KindInteger, model.KindFloat:
		switch x := domain.NormalizeValue(v).(type) {
		case int64, float64:
			return x, nil
		}
		return nil, mismatch
	case model.KindMany2One:
		id, err := model.AsID(v)
		if err != nil {
			return nil, mismatch
		}
		return id, nil
	}
	return col.ToDB(m.Name, v)
}
