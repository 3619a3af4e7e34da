package orm

import (
	"context"
	"fmt"

	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/store"
)

// maxRecomputeSteps bounds one flush; stored computes that keep
// re-triggering each other never settle.
const maxRecomputeSteps = 10000

// pendingCompute is a stored computed field waiting to be recomputed.
type pendingCompute struct {
	target   string
	field    string
	priority int
	seq      int
	ids      []int64
	queued   map[int64]bool
}

func (p *pendingCompute) key() string {
	return p.target + "." + p.field
}

// recomputeQueue holds the pending recomputations of one transaction,
// merged per target field and served in ascending priority.
type recomputeQueue struct {
	items map[string]*pendingCompute
	seq   int
}

func newRecomputeQueue() *recomputeQueue {
	return &recomputeQueue{items: make(map[string]*pendingCompute)}
}

func (q *recomputeQueue) add(target, field string, priority int, ids []int64) {
	if len(ids) == 0 {
		return
	}
	k := target + "." + field
	p, ok := q.items[k]
	if !ok {
		q.seq++
		p = &pendingCompute{target: target, field: field, priority: priority, seq: q.seq, queued: make(map[int64]bool)}
		q.items[k] = p
	}
	if priority < p.priority {
		p.priority = priority
	}
	for _, id := range ids {
		if id == 0 || p.queued[id] {
			continue
		}
		p.queued[id] = true
		p.ids = append(p.ids, id)
	}
}

// pop removes and returns the pending field of lowest priority, oldest
// first among equals.
func (q *recomputeQueue) pop() *pendingCompute {
	var best *pendingCompute
	for _, p := range q.items {
		if best == nil || p.priority < best.priority || (p.priority == best.priority && p.seq < best.seq) {
			best = p
		}
	}
	if best != nil {
		delete(q.items, best.key())
	}
	return best
}

func (q *recomputeQueue) len() int {
	return len(q.items)
}

func (q *recomputeQueue) reset() {
	clear(q.items)
}

// schedule queues the stored computes depending on fields of source for
// the records the trigger mappers return. Nil fields means every field.
func (e *Env) schedule(ctx context.Context, source string, ids []int64, fields []string) error {
	for _, t := range e.reg.Triggers(source) {
		if !t.Matches(fields) {
			continue
		}
		targets, err := t.Mapper(ctx, e.sudo(), ids)
		if err != nil {
			return fmt.Errorf("map %s to %s.%s: %w", source, t.Target, t.Field, err)
		}
		e.state.todo.add(t.Target, t.Field, t.Priority, targets)
	}
	return nil
}

type dependent struct {
	trigger *model.StoreTrigger
	ids     []int64
}

// dependents maps ids of m to the records of other models whose stored
// computes depend on fields, as they are before a change.
func (e *Env) dependents(ctx context.Context, m *model.Model, ids []int64, fields []string) ([]dependent, error) {
	var out []dependent
	for _, t := range e.reg.Triggers(m.Name) {
		if t.Target == m.Name || !t.Matches(fields) {
			continue
		}
		targets, err := t.Mapper(ctx, e.sudo(), ids)
		if err != nil {
			return nil, fmt.Errorf("map %s to %s.%s: %w", m.Name, t.Target, t.Field, err)
		}
		out = append(out, dependent{trigger: t, ids: targets})
	}
	return out, nil
}

func (e *Env) queueDependents(deps []dependent) {
	for _, d := range deps {
		e.state.todo.add(d.trigger.Target, d.trigger.Field, d.trigger.Priority, d.ids)
	}
}

// flushRecompute recomputes every pending stored field. A record is
// recomputed at most once per field and flush.
func (e *Env) flushRecompute(ctx context.Context) error {
	todo := e.state.todo
	done := make(map[string]map[int64]bool)
	for steps := 0; todo.len() > 0; steps++ {
		if steps >= maxRecomputeSteps {
			return fmt.Errorf("stored computes did not settle after %d steps", maxRecomputeSteps)
		}
		p := todo.pop()
		if done[p.key()] == nil {
			done[p.key()] = make(map[int64]bool)
		}
		var ids []int64
		for _, id := range p.ids {
			if !done[p.key()][id] {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		for _, id := range ids {
			done[p.key()][id] = true
		}
		if err := e.recompute(ctx, p.target, p.field, ids); err != nil {
			return err
		}
	}
	return nil
}

func (e *Env) recompute(ctx context.Context, target, field string, ids []int64) error {
	m, err := e.reg.Model(target)
	if err != nil {
		return err
	}
	col := m.Columns[field]
	if ids, err = e.existing(ctx, m, ids); err != nil {
		return err
	}
	if ids, err = e.stale(ctx, m, col, ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?",
		store.Quote(m.Table), store.Quote(field), store.Quote(model.FieldID))
	for _, chunk := range e.tx.SplitForIn(ids) {
		values, err := col.Compute(ctx, e.sudo(), chunk, []string{field})
		if err != nil {
			return fmt.Errorf("compute %s.%s: %w", m.Name, field, err)
		}
		for _, id := range chunk {
			v := fieldValue(col, values[id][field])
			dbv, err := col.ToDB(m.Name, v)
			if err != nil {
				return err
			}
			if _, err := e.tx.Exec(ctx, stmt, dbv, id); err != nil {
				return fmt.Errorf("store %s.%s: %w", m.Name, field, err)
			}
		}
	}
	metrics.Recomputes.WithLabelValues(m.Name).Add(float64(len(ids)))
	e.cache.Invalidate(m.Name, ids, []string{field})
	e.logger.Debug("stored field recomputed", "model", m.Name, "field", field, "records", len(ids))
	return e.schedule(ctx, m.Name, ids, []string{field})
}

// stale drops the ids written less than the column horizon ago.
func (e *Env) stale(ctx context.Context, m *model.Model, col *model.Column, ids []int64) ([]int64, error) {
	if col.Horizon <= 0 || !m.LogAccess {
		return ids, nil
	}
	cutoff := e.Now().Add(-col.Horizon).UTC().Format(model.StampLayout)
	wd := store.Quote(model.FieldWriteDate)
	keep := make(map[int64]bool, len(ids))
	for _, chunk := range e.tx.SplitForIn(ids) {
		found, err := e.tx.QueryInts(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s AND (%s IS NULL OR %s < ?)",
			store.Quote(model.FieldID), store.Quote(m.Table), inClause(store.Quote(model.FieldID), len(chunk)), wd, wd),
			append(store.Args(chunk), cutoff)...)
		if err != nil {
			return nil, fmt.Errorf("check horizon of %s.%s: %w", m.Name, col.Name, err)
		}
		for _, id := range found {
			keep[id] = true
		}
	}
	out := ids[:0:0]
	for _, id := range ids {
		if keep[id] {
			out = append(out, id)
		}
	}
	if skipped := len(ids) - len(out); skipped > 0 {
		e.logger.Debug("recompute skipped within horizon", "model", m.Name, "field", col.Name, "records", skipped)
	}
	return out, nil
}
