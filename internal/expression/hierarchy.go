package expression

import (
	"context"
	"fmt"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/store"
)

// childOf returns a domain on m selecting ids and all their descendants.
// Models keeping a nested set use interval tests; the others expand the
// parent relation until no new record appears.
func (c *Compiler) childOf(ctx context.Context, m *model.Model, ids []int64) (domain.Domain, error) {
	if len(ids) == 0 {
		return domain.Domain{domain.Contradiction}, nil
	}
	if m.ParentStore {
		return c.nestedSetDomain(ctx, m, ids)
	}
	if m.ParentName == "" {
		return domain.Domain{domain.Leaf{Field: model.FieldID, Op: domain.OpIn, Value: idList(ids)}}, nil
	}
	all, err := c.closure(ctx, m, ids)
	if err != nil {
		return nil, err
	}
	return domain.Domain{domain.Leaf{Field: model.FieldID, Op: domain.OpIn, Value: idList(all)}}, nil
}

func (c *Compiler) nestedSetDomain(ctx context.Context, m *model.Model, ids []int64) (domain.Domain, error) {
	tx := c.r.Tx()
	type bounds struct{ left, right int64 }
	found := make(map[int64]bounds, len(ids))
	for _, chunk := range tx.SplitForIn(ids) {
		rows, err := tx.QueryMaps(ctx, fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s IN (%s)",
			store.Quote(model.FieldID), store.Quote(model.FieldParentLeft), store.Quote(model.FieldParentRight),
			store.Quote(m.Table), store.Quote(model.FieldID), store.Placeholders(len(chunk))), store.Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("read nested set of %s: %w", m.Name, err)
		}
		for _, row := range rows {
			id, _ := row[model.FieldID].(int64)
			left, okL := row[model.FieldParentLeft].(int64)
			right, okR := row[model.FieldParentRight].(int64)
			if okL && okR {
				found[id] = bounds{left, right}
			}
		}
	}

	var d domain.Domain
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		b, ok := found[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		if len(d) > 0 {
			d = append(domain.Domain{domain.Or}, d...)
		}
		d = append(d, domain.And,
			domain.Leaf{Field: model.FieldParentLeft, Op: domain.OpLt, Value: b.right},
			domain.Leaf{Field: model.FieldParentLeft, Op: domain.OpGe, Value: b.left},
		)
	}
	if len(d) == 0 {
		return domain.Domain{domain.Contradiction}, nil
	}
	return d, nil
}

// closure expands ids with their transitive children through the parent
// field. Cycles stop the expansion.
func (c *Compiler) closure(ctx context.Context, m *model.Model, ids []int64) ([]int64, error) {
	seen := make(map[int64]bool, len(ids))
	var all []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			all = append(all, id)
		}
	}
	frontier := all
	for len(frontier) > 0 {
		children, err := c.r.Search(ctx, m.Name, domain.Domain{
			domain.Leaf{Field: m.ParentName, Op: domain.OpIn, Value: idList(frontier)},
		})
		if err != nil {
			return nil, fmt.Errorf("expand children of %s: %w", m.Name, err)
		}
		frontier = nil
		for _, id := range children {
			if !seen[id] {
				seen[id] = true
				all = append(all, id)
				frontier = append(frontier, id)
			}
		}
	}
	return all, nil
}
