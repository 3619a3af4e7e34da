package orm

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/recordkit/internal/hooks"
	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/security"
	"github.com/roach88/recordkit/internal/store"
)

// Unlink deletes ids of modelName. Rows referencing them follow the
// on-delete policy of their many2one. Stored computes of other models that
// depended on the deleted records are recomputed afterwards.
func (e *Env) Unlink(ctx context.Context, modelName string, ids []int64) (err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "unlink", metrics.Status(err)).Inc()
	}()

	m, err := e.reg.Model(modelName)
	if err != nil {
		return err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpUnlink); err != nil {
		return err
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	err = e.atomic(ctx, func() error {
		if err := e.mustExist(ctx, m, ids); err != nil {
			return err
		}
		if err := e.checkRules(ctx, m, ids, security.OpUnlink); err != nil {
			return err
		}
		return e.unlink(ctx, m, ids)
	})
	if err != nil {
		e.logger.Debug("unlink failed", "model", m.Name, "ids", ids, "error", err)
		return err
	}
	e.logger.Debug("records deleted", "model", m.Name, "ids", ids)
	return nil
}

func (e *Env) unlink(ctx context.Context, m *model.Model, ids []int64) error {
	ids, err := e.existing(ctx, m, ids)
	if err != nil || len(ids) == 0 {
		return err
	}
	if err := e.checkDefaultReferences(m, ids); err != nil {
		return err
	}

	// Dependents must be mapped while the rows still exist.
	dependents, err := e.dependents(ctx, m, ids, nil)
	if err != nil {
		return err
	}

	var removed []span
	if m.ParentStore {
		if removed, err = e.intervals(ctx, m, ids); err != nil {
			return err
		}
	}

	for _, chunk := range e.tx.SplitForIn(ids) {
		_, err := e.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s",
			store.Quote(m.Table), inClause(store.Quote(model.FieldID), len(chunk))), store.Args(chunk)...)
		if err != nil {
			return fmt.Errorf("delete %s: %w", m.Name, err)
		}
	}
	// Cascades may have removed rows of any model.
	e.cache.Clear()

	if m.ParentStore {
		if err := e.closeGaps(ctx, m, removed); err != nil {
			return err
		}
	}
	e.queueDependents(dependents)
	e.notify(hooks.KindUnlink, m.Name, ids, nil)
	return nil
}

// checkDefaultReferences refuses to delete records other columns use as
// their static default.
func (e *Env) checkDefaultReferences(m *model.Model, ids []int64) error {
	doomed := make(map[int64]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	var failures []Failure
	for _, ref := range e.reg.ReferencesTo(m.Name) {
		if ref.Column.Default == nil {
			continue
		}
		id, err := model.AsID(ref.Column.Default)
		if err != nil || !doomed[id] {
			continue
		}
		failures = append(failures, Failure{
			Field:   ref.Model.Name + "." + ref.Column.Name,
			Message: fmt.Sprintf("record %d is used as a default value", id),
		})
	}
	if len(failures) > 0 {
		return newValidationError(m.Name, failures...)
	}
	return nil
}

func (e *Env) intervals(ctx context.Context, m *model.Model, ids []int64) ([]span, error) {
	var out []span
	for _, chunk := range e.tx.SplitForIn(ids) {
		rows, err := e.tx.QueryMaps(ctx, fmt.Sprintf("SELECT %s AS %s, %s AS %s FROM %s WHERE %s AND %s IS NOT NULL",
			store.Quote(model.FieldParentLeft), store.Quote("l"),
			store.Quote(model.FieldParentRight), store.Quote("r"),
			store.Quote(m.Table), inClause(store.Quote(model.FieldID), len(chunk)),
			store.Quote(model.FieldParentLeft)), store.Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("read intervals of %s: %w", m.Name, err)
		}
		for _, r := range rows {
			var s span
			s.left, _ = model.AsID(r["l"])
			s.right, _ = model.AsID(r["r"])
			out = append(out, s)
		}
	}
	return out, nil
}

// closeGaps shifts the intervals after each removed one. Survivors left
// inside a removed interval, children whose link was set null, get the
// whole hierarchy rebuilt instead.
func (e *Env) closeGaps(ctx context.Context, m *model.Model, removed []span) error {
	if len(removed) == 0 {
		return nil
	}
	left, right := store.Quote(model.FieldParentLeft), store.Quote(model.FieldParentRight)
	for _, s := range removed {
		orphans, err := e.tx.QueryInts(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s BETWEEN ? AND ?",
			store.Quote(model.FieldID), store.Quote(m.Table), left), s.left, s.right)
		if err != nil {
			return fmt.Errorf("check %s hierarchy: %w", m.Name, err)
		}
		if len(orphans) > 0 {
			e.logger.Debug("orphans left in the hierarchy, rebuilding", "model", m.Name, "orphans", len(orphans))
			return e.parentStoreCompute(ctx, m)
		}
	}

	// Outermost intervals only, rightmost first, so each shift leaves the
	// bounds of the remaining ones valid.
	sort.Slice(removed, func(i, j int) bool { return removed[i].left > removed[j].left })
	var outer []span
	for _, s := range removed {
		nested := false
		for _, o := range removed {
			if o != s && o.left < s.left && o.right > s.right {
				nested = true
				break
			}
		}
		if !nested {
			outer = append(outer, s)
		}
	}
	table := store.Quote(m.Table)
	for _, s := range outer {
		for _, col := range []string{left, right} {
			_, err := e.tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s = %s - ? WHERE %s > ?", table, col, col, col),
				s.width(), s.right)
			if err != nil {
				return fmt.Errorf("close gap in %s: %w", m.Name, err)
			}
		}
	}
	return nil
}
