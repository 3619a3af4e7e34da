package orm

import (
	"context"
	"fmt"

	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/query"
	"github.com/roach88/recordkit/internal/store"
)

// Nested-set maintenance. Every node of a ParentStore model owns the
// interval [parent_left, parent_right]; descendants nest strictly inside it
// and siblings follow ParentOrder (or the model order) left to right.

// lockTree takes row locks on the whole hierarchy where the dialect has them.
func (e *Env) lockTree(ctx context.Context, m *model.Model) error {
	lock := e.tx.Dialect().LockClause()
	if lock == "" {
		return nil
	}
	_, err := e.tx.QueryInts(ctx, fmt.Sprintf("SELECT %s FROM %s%s",
		store.Quote(model.FieldID), store.Quote(m.Table), lock))
	if err != nil {
		return fmt.Errorf("lock %s: %w", m.Name, err)
	}
	return nil
}

type span struct {
	left, right int64
}

func (s span) contains(v int64) bool {
	return v >= s.left && v <= s.right
}

func (s span) width() int64 {
	return s.right - s.left + 1
}

// node returns the parent and the interval of id; ok is false when the node
// has no interval yet.
func (e *Env) node(ctx context.Context, m *model.Model, id int64) (parent int64, s span, ok bool, err error) {
	rows, err := e.tx.QueryMaps(ctx, fmt.Sprintf("SELECT %s AS %s, %s AS %s, %s AS %s FROM %s WHERE %s = ?",
		store.Quote(m.ParentName), store.Quote("parent"),
		store.Quote(model.FieldParentLeft), store.Quote("l"),
		store.Quote(model.FieldParentRight), store.Quote("r"),
		store.Quote(m.Table), store.Quote(model.FieldID)), id)
	if err != nil {
		return 0, span{}, false, fmt.Errorf("read interval of %s %d: %w", m.Name, id, err)
	}
	if len(rows) == 0 {
		return 0, span{}, false, missingError(m.Name, []int64{id}, nil)
	}
	parent, _ = model.AsID(rows[0]["parent"])
	if rows[0]["l"] == nil || rows[0]["r"] == nil {
		return parent, span{}, false, nil
	}
	s.left, _ = model.AsID(rows[0]["l"])
	s.right, _ = model.AsID(rows[0]["r"])
	return parent, s, true, nil
}

// anchor returns the position right after which the subtree of id belongs:
// the right bound of its previous sibling, else the left bound of its
// parent, else 0. Siblings inside skip, the block being moved, are ignored.
func (e *Env) anchor(ctx context.Context, m *model.Model, id, parent int64, skip span) (int64, error) {
	q := query.New(m.Table)
	if parent == 0 {
		q.AddWhere(qcol(m.Table, m.ParentName) + " IS NULL")
	} else {
		q.AddWhere(qcol(m.Table, m.ParentName)+" = ?", parent)
	}
	order, err := e.orderBy(q, m, m.ParentOrder)
	if err != nil {
		return 0, err
	}
	sql, params := q.Select(qcol(m.Table, model.FieldID) + " AS " + store.Quote("id") + ", " +
		qcol(m.Table, model.FieldParentRight) + " AS " + store.Quote("r"))
	if order != "" {
		sql += " ORDER BY " + order
	}
	siblings, err := e.tx.QueryMaps(ctx, sql, params...)
	if err != nil {
		return 0, fmt.Errorf("read siblings in %s: %w", m.Name, err)
	}

	prev, found := int64(0), false
	for _, s := range siblings {
		sid, _ := model.AsID(s["id"])
		if sid == id {
			break
		}
		if s["r"] == nil {
			continue
		}
		r, _ := model.AsID(s["r"])
		if skip.contains(r) {
			continue
		}
		prev, found = r, true
	}
	if found {
		return prev, nil
	}
	if parent == 0 {
		return 0, nil
	}
	_, ps, ok, err := e.node(ctx, m, parent)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("parent %s %d has no interval", m.Name, parent)
	}
	return ps.left, nil
}

// nestedInsert gives the leaf id its interval.
func (e *Env) nestedInsert(ctx context.Context, m *model.Model, id int64) error {
	if err := e.lockTree(ctx, m); err != nil {
		return err
	}
	parent, _, _, err := e.node(ctx, m, id)
	if err != nil {
		return err
	}
	pos, err := e.anchor(ctx, m, id, parent, span{1, 0})
	if err != nil {
		return err
	}
	left, right := store.Quote(model.FieldParentLeft), store.Quote(model.FieldParentRight)
	table := store.Quote(m.Table)
	stmts := []struct {
		sql  string
		args []any
	}{
		{fmt.Sprintf("UPDATE %s SET %s = %s + 2 WHERE %s > ?", table, left, left, left), []any{pos}},
		{fmt.Sprintf("UPDATE %s SET %s = %s + 2 WHERE %s > ?", table, right, right, right), []any{pos}},
		{fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ?", table, left, right, store.Quote(model.FieldID)),
			[]any{pos + 1, pos + 2, id}},
	}
	for _, s := range stmts {
		if _, err := e.tx.Exec(ctx, s.sql, s.args...); err != nil {
			return fmt.Errorf("insert %s %d in tree: %w", m.Name, id, err)
		}
	}
	e.cache.Invalidate(m.Name, nil, []string{model.FieldParentLeft, model.FieldParentRight})
	return nil
}

// nestedMove relocates the subtrees of ids after their parent changed.
func (e *Env) nestedMove(ctx context.Context, m *model.Model, ids []int64) error {
	if err := e.lockTree(ctx, m); err != nil {
		return err
	}
	for _, id := range ids {
		if err := e.moveSubtree(ctx, m, id); err != nil {
			return err
		}
	}
	e.cache.Invalidate(m.Name, nil, []string{model.FieldParentLeft, model.FieldParentRight})
	return nil
}

func (e *Env) moveSubtree(ctx context.Context, m *model.Model, id int64) error {
	parent, block, ok, err := e.node(ctx, m, id)
	if err != nil {
		return err
	}
	if !ok {
		return e.nestedInsert(ctx, m, id)
	}
	if parent != 0 {
		_, ps, pok, err := e.node(ctx, m, parent)
		if err != nil {
			return err
		}
		if pok && block.contains(ps.left) {
			return newRecursionError(m.Name, id)
		}
	}
	pos, err := e.anchor(ctx, m, id, parent, block)
	if err != nil {
		return err
	}

	// The block shifts by shift; the nodes it jumps over, [lo, hi], shift
	// the other way by its width.
	var shift, lo, hi, back int64
	switch {
	case pos > block.right:
		shift, lo, hi, back = pos-block.right, block.right+1, pos, -block.width()
	case pos < block.left-1:
		shift, lo, hi, back = pos+1-block.left, pos+1, block.left-1, block.width()
	default:
		return nil
	}

	left, right := store.Quote(model.FieldParentLeft), store.Quote(model.FieldParentRight)
	set := func(col string) string {
		return fmt.Sprintf("%s = CASE WHEN %s BETWEEN ? AND ? THEN %s + ? WHEN %s BETWEEN ? AND ? THEN %s + ? ELSE %s END",
			col, col, col, col, col, col)
	}
	args := []any{
		block.left, block.right, shift, lo, hi, back,
		block.left, block.right, shift, lo, hi, back,
		min(block.left, lo), max(block.right, hi),
		min(block.left, lo), max(block.right, hi),
	}
	_, err = e.tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s, %s WHERE %s BETWEEN ? AND ? OR %s BETWEEN ? AND ?",
		store.Quote(m.Table), set(left), set(right), left, right), args...)
	if err != nil {
		return fmt.Errorf("move %s %d in tree: %w", m.Name, id, err)
	}
	e.logger.Debug("subtree moved", "model", m.Name, "id", id, "shift", shift)
	return nil
}

// ParentStoreCompute rebuilds every interval of modelName from the parent
// links, siblings in ParentOrder.
func (e *Env) ParentStoreCompute(ctx context.Context, modelName string) (err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "parent_store_compute", metrics.Status(err)).Inc()
	}()
	m, err := e.reg.Model(modelName)
	if err != nil {
		return err
	}
	if !m.ParentStore {
		return fmt.Errorf("%s does not store its hierarchy", m.Name)
	}
	return e.atomic(ctx, func() error {
		return e.parentStoreCompute(ctx, m)
	})
}

func (e *Env) parentStoreCompute(ctx context.Context, m *model.Model) error {
	if err := e.lockTree(ctx, m); err != nil {
		return err
	}
	q := query.New(m.Table)
	order, err := e.orderBy(q, m, m.ParentOrder)
	if err != nil {
		return err
	}
	sql, params := q.Select(qcol(m.Table, model.FieldID) + " AS " + store.Quote("id") + ", " +
		qcol(m.Table, m.ParentName) + " AS " + store.Quote("parent"))
	if order != "" {
		sql += " ORDER BY " + order
	}
	rows, err := e.tx.QueryMaps(ctx, sql, params...)
	if err != nil {
		return fmt.Errorf("read %s hierarchy: %w", m.Name, err)
	}

	var roots, all []int64
	children := make(map[int64][]int64)
	for _, r := range rows {
		id, _ := model.AsID(r["id"])
		parent, _ := model.AsID(r["parent"])
		all = append(all, id)
		if parent == 0 {
			roots = append(roots, id)
		} else {
			children[parent] = append(children[parent], id)
		}
	}

	spans := make(map[int64]span, len(all))
	next := int64(1)
	var walk func(id int64) error
	walk = func(id int64) error {
		if _, seen := spans[id]; seen {
			return newRecursionError(m.Name, id)
		}
		s := span{left: next}
		spans[id] = s
		next++
		for _, c := range children[id] {
			if err := walk(c); err != nil {
				return err
			}
		}
		s.right = next
		spans[id] = s
		next++
		return nil
	}
	for _, id := range roots {
		if err := walk(id); err != nil {
			return err
		}
	}
	var orphans []int64
	for _, id := range all {
		if _, ok := spans[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		return newRecursionError(m.Name, orphans...)
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ?", store.Quote(m.Table),
		store.Quote(model.FieldParentLeft), store.Quote(model.FieldParentRight), store.Quote(model.FieldID))
	for _, id := range all {
		s := spans[id]
		if _, err := e.tx.Exec(ctx, stmt, s.left, s.right, id); err != nil {
			return fmt.Errorf("store interval of %s %d: %w", m.Name, id, err)
		}
	}
	e.cache.Invalidate(m.Name, nil, []string{model.FieldParentLeft, model.FieldParentRight})
	e.logger.Debug("hierarchy rebuilt", "model", m.Name, "nodes", len(all))
	return nil
}

// CheckRecursion reports whether following the parent links from ids
// terminates without coming back to where it started.
func (e *Env) CheckRecursion(ctx context.Context, modelName string, ids []int64) (bool, error) {
	m, err := e.reg.Model(modelName)
	if err != nil {
		return false, err
	}
	if m.ParentName == "" {
		return true, nil
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		store.Quote(m.ParentName), store.Quote(m.Table), store.Quote(model.FieldID))
	for _, id := range uniqueIDs(ids) {
		seen := map[int64]bool{id: true}
		cur := id
		for {
			parents, err := e.tx.QueryInts(ctx, stmt, cur)
			if err != nil {
				return false, fmt.Errorf("follow %s.%s: %w", m.Name, m.ParentName, err)
			}
			if len(parents) == 0 {
				break
			}
			if seen[parents[0]] {
				return false, nil
			}
			seen[parents[0]] = true
			cur = parents[0]
		}
	}
	return true, nil
}

// VerifyParentStore checks the intervals of modelName: every node has one,
// left is below right, two intervals are either disjoint or nested, and
// each node nests strictly inside its parent.
func (e *Env) VerifyParentStore(ctx context.Context, modelName string) error {
	m, err := e.reg.Model(modelName)
	if err != nil {
		return err
	}
	if !m.ParentStore {
		return fmt.Errorf("%s does not store its hierarchy", m.Name)
	}
	rows, err := e.tx.QueryMaps(ctx, fmt.Sprintf("SELECT %s AS %s, %s AS %s, %s AS %s, %s AS %s FROM %s ORDER BY %s",
		store.Quote(model.FieldID), store.Quote("id"),
		store.Quote(m.ParentName), store.Quote("parent"),
		store.Quote(model.FieldParentLeft), store.Quote("l"),
		store.Quote(model.FieldParentRight), store.Quote("r"),
		store.Quote(m.Table), store.Quote(model.FieldParentLeft)))
	if err != nil {
		return fmt.Errorf("read %s hierarchy: %w", m.Name, err)
	}

	spans := make(map[int64]span, len(rows))
	parents := make(map[int64]int64, len(rows))
	var order []int64
	for _, r := range rows {
		id, _ := model.AsID(r["id"])
		if r["l"] == nil || r["r"] == nil {
			return fmt.Errorf("%s %d has no interval", m.Name, id)
		}
		var s span
		s.left, _ = model.AsID(r["l"])
		s.right, _ = model.AsID(r["r"])
		if s.left >= s.right {
			return fmt.Errorf("%s %d has interval [%d, %d]", m.Name, id, s.left, s.right)
		}
		spans[id] = s
		parents[id], _ = model.AsID(r["parent"])
		order = append(order, id)
	}
	for i, a := range order {
		sa := spans[a]
		for _, b := range order[i+1:] {
			sb := spans[b]
			disjoint := sa.right < sb.left || sb.right < sa.left
			nested := (sa.left < sb.left && sb.right < sa.right) || (sb.left < sa.left && sa.right < sb.right)
			if !disjoint && !nested {
				return fmt.Errorf("%s intervals of %d [%d, %d] and %d [%d, %d] overlap",
					m.Name, a, sa.left, sa.right, b, sb.left, sb.right)
			}
		}
		if p := parents[a]; p != 0 {
			sp, ok := spans[p]
			if !ok || sp.left >= sa.left || sa.right >= sp.right {
				return fmt.Errorf("%s %d is not nested inside its parent %d", m.Name, a, p)
			}
		}
	}
	return nil
}
