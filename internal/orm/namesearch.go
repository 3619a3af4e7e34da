package orm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/query"
)

// NameSearcher finds records of one model by display name. It replaces the
// default search on the rec-name field for the models it is registered for
// in Options.NameSearchers.
type NameSearcher func(ctx context.Context, env *Env, text, op string) ([]int64, error)

// NamePair is a record id with its display name.
type NamePair struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NameSearch returns the ids of modelName whose display name matches text
// with op, ilike when empty. Archived records are included.
func (e *Env) NameSearch(ctx context.Context, modelName, text, op string) ([]int64, error) {
	m, err := e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	if op == "" {
		op = domain.OpILike
	}
	if custom, ok := e.opts.NameSearchers[m.Name]; ok {
		return custom(ctx, e, text, op)
	}

	field := m.RecName
	var value any = text
	if field == model.FieldID {
		id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return []int64{}, nil
		}
		value = id
		if op != domain.OpNe && op != domain.OpNeAlt {
			op = domain.OpEq
		}
	}

	all := e.WithContext(map[string]any{ContextActiveTest: false})
	q := query.New(m.Table)
	d := domain.Domain{domain.Leaf{Field: field, Op: op, Value: value}}
	if err := all.compiler.CompileInto(ctx, q, m, d); err != nil {
		return nil, err
	}
	order, err := e.orderBy(q, m, "")
	if err != nil {
		return nil, err
	}
	sql, params := q.Select(qcol(m.Table, model.FieldID))
	if order != "" {
		sql += " ORDER BY " + order
	}
	ids, err := e.tx.QueryInts(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("name search %s: %w", m.Name, err)
	}
	return uniqueIDs(ids), nil
}

// NameGet returns the display names of ids, in ids order.
func (e *Env) NameGet(ctx context.Context, modelName string, ids []int64) (pairs []NamePair, err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "name_get", metrics.Status(err)).Inc()
	}()
	m, err := e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	if m.RecName == model.FieldID {
		if _, err := e.Read(ctx, m.Name, ids, []string{model.FieldID}); err != nil {
			return nil, err
		}
		for _, id := range uniqueIDs(ids) {
			pairs = append(pairs, NamePair{ID: id, Name: strconv.FormatInt(id, 10)})
		}
		return pairs, nil
	}
	rows, err := e.Read(ctx, m.Name, ids, []string{m.RecName})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		id, _ := model.AsID(r[model.FieldID])
		pairs = append(pairs, NamePair{ID: id, Name: displayName(r[m.RecName])})
	}
	return pairs, nil
}

func displayName(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	return fmt.Sprint(v)
}
