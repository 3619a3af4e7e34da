package orm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/recordkit/internal/hooks"
	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/security"
	"github.com/roach88/recordkit/internal/store"
)

// Write updates ids of modelName with values.
func (e *Env) Write(ctx context.Context, modelName string, ids []int64, values map[string]any) error {
	return e.WriteWithTokens(ctx, modelName, ids, values, nil)
}

// WriteWithTokens is Write with an optimistic concurrency check: tokens
// maps ids to the value ConcurrencyToken returned when the caller read
// them. The write fails with a ConcurrencyError when one of these records
// was modified since.
func (e *Env) WriteWithTokens(ctx context.Context, modelName string, ids []int64, values map[string]any, tokens map[int64]string) (err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "write", metrics.Status(err)).Inc()
	}()

	m, err := e.reg.Model(modelName)
	if err != nil {
		return err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpWrite); err != nil {
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
		if err := e.checkRules(ctx, m, ids, security.OpWrite); err != nil {
			return err
		}
		if err := e.checkConcurrency(ctx, m, ids, tokens); err != nil {
			return err
		}
		return e.write(ctx, m, ids, values)
	})
	if err != nil {
		e.logger.Debug("write failed", "model", m.Name, "ids", ids, "error", err)
	}
	return err
}

func (e *Env) write(ctx context.Context, m *model.Model, ids []int64, values map[string]any) error {
	vals, err := e.prepareValues(m, values)
	if err != nil {
		return err
	}
	b, err := e.split(m, vals)
	if err != nil {
		return err
	}

	translated := make(map[string]string)
	if e.translating() {
		for f, v := range b.local {
			col := m.Columns[f]
			if !col.Translate {
				continue
			}
			dbv, err := col.ToDB(m.Name, v)
			if err != nil {
				return err
			}
			s, _ := dbv.(string)
			translated[f] = s
			delete(b.local, f)
		}
	}

	if failures := checkValues(m, b.local, false); len(failures) > 0 {
		return newValidationError(m.Name, failures...)
	}

	var moved []int64
	parentValue, parentWritten := b.local[m.ParentName]
	if m.ParentStore && parentWritten {
		if moved, err = e.parentChanged(ctx, m, ids, parentValue); err != nil {
			return err
		}
	}

	// Records depending on the old values need recomputing too.
	before, err := e.dependents(ctx, m, ids, sortedKeys(vals))
	if err != nil {
		return err
	}

	if err := e.update(ctx, m, ids, b.local); err != nil {
		return err
	}
	for _, f := range sortedKeys(translated) {
		for _, id := range ids {
			if err := e.opts.Translations.Set(ctx, e.tx, m.Name, f, e.opts.Lang, id, translated[f]); err != nil {
				return fmt.Errorf("translate %s.%s: %w", m.Name, f, err)
			}
		}
	}

	rel := e.withoutDefaults()
	for _, f := range b.deferred {
		for _, id := range ids {
			if err := rel.setDeferred(ctx, m, id, f, vals[f]); err != nil {
				return err
			}
		}
	}

	for _, d := range m.Inherits {
		parent := e.reg.MustModel(d.Parent)
		pv := b.parents[d.Parent]
		_, relinked := b.local[d.Field]
		relinked = relinked && parent.HasVTable()
		if len(pv) == 0 && !relinked {
			continue
		}
		pids, err := e.linkedIDs(ctx, m, ids, d.Field)
		if err != nil {
			return err
		}
		if len(pv) > 0 {
			if err := e.write(ctx, parent, pids, pv); err != nil {
				return err
			}
		}
		if relinked {
			if err := e.setVPtr(ctx, parent, pids, m.Name); err != nil {
				return err
			}
		}
	}

	e.cache.Invalidate(m.Name, ids, nil)

	if m.ParentName != "" && parentWritten {
		ok, err := e.CheckRecursion(ctx, m.Name, ids)
		if err != nil {
			return err
		}
		if !ok {
			return newRecursionError(m.Name, ids...)
		}
	}
	if len(moved) > 0 {
		if err := e.nestedMove(ctx, m, moved); err != nil {
			return err
		}
	}

	written := sortedKeys(vals)
	if err := e.validate(ctx, m, ids, written); err != nil {
		return err
	}
	e.queueDependents(before)
	if err := e.schedule(ctx, m.Name, ids, written); err != nil {
		return err
	}
	e.notify(hooks.KindWrite, m.Name, ids, written)
	return nil
}

// update stores classic values, plus write_date on logged models.
func (e *Env) update(ctx context.Context, m *model.Model, ids []int64, local map[string]any) error {
	var sets []string
	var args []any
	for _, name := range m.ColumnNames() {
		v, ok := local[name]
		if !ok {
			continue
		}
		dbv, err := m.Columns[name].ToDB(m.Name, v)
		if err != nil {
			return err
		}
		sets = append(sets, store.Quote(name)+" = ?")
		args = append(args, dbv)
	}
	if m.LogAccess {
		sets = append(sets, store.Quote(model.FieldWriteDate)+" = ?")
		args = append(args, e.now())
	}
	if len(sets) == 0 {
		return nil
	}
	for _, chunk := range e.tx.SplitForIn(ids) {
		_, err := e.tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			store.Quote(m.Table), strings.Join(sets, ", "), inClause(store.Quote(model.FieldID), len(chunk))),
			append(append([]any{}, args...), store.Args(chunk)...)...)
		if err != nil {
			return fmt.Errorf("update %s: %w", m.Name, err)
		}
	}
	return nil
}

// linkedIDs returns the distinct values of the many2one link of ids.
func (e *Env) linkedIDs(ctx context.Context, m *model.Model, ids []int64, link string) ([]int64, error) {
	var out []int64
	for _, chunk := range e.tx.SplitForIn(ids) {
		found, err := e.tx.QueryInts(ctx, fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s",
			store.Quote(link), store.Quote(m.Table), inClause(store.Quote(model.FieldID), len(chunk))),
			store.Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("read %s.%s: %w", m.Name, link, err)
		}
		out = append(out, found...)
	}
	return uniqueIDs(out), nil
}

// parentChanged returns the ids whose parent differs from value.
func (e *Env) parentChanged(ctx context.Context, m *model.Model, ids []int64, value any) ([]int64, error) {
	pid, err := model.AsID(value)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", m.Name, m.ParentName, err)
	}
	parent := store.Quote(m.ParentName)
	var out []int64
	for _, chunk := range e.tx.SplitForIn(ids) {
		var cond string
		args := store.Args(chunk)
		if pid != 0 {
			cond = fmt.Sprintf("(%s != ? OR %s IS NULL)", parent, parent)
			args = append(args, pid)
		} else {
			cond = parent + " IS NOT NULL"
		}
		found, err := e.tx.QueryInts(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s AND %s",
			store.Quote(model.FieldID), store.Quote(m.Table), inClause(store.Quote(model.FieldID), len(chunk)), cond),
			args...)
		if err != nil {
			return nil, fmt.Errorf("compare parents of %s: %w", m.Name, err)
		}
		out = append(out, found...)
	}
	return out, nil
}

// ConcurrencyToken returns, per existing id of a logged model, the token a
// later WriteWithTokens compares against: the last write date, or the
// creation date of records never written. Models without access logging
// have no tokens.
func (e *Env) ConcurrencyToken(ctx context.Context, modelName string, ids []int64) (map[int64]string, error) {
	m, err := e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string)
	if !m.LogAccess {
		return out, nil
	}
	for _, chunk := range e.tx.SplitForIn(uniqueIDs(ids)) {
		rows, err := e.tx.QueryMaps(ctx, fmt.Sprintf("SELECT %s AS %s, COALESCE(%s, %s) AS %s FROM %s WHERE %s",
			store.Quote(model.FieldID), store.Quote("id"),
			store.Quote(model.FieldWriteDate), store.Quote(model.FieldCreateDate), store.Quote("token"),
			store.Quote(m.Table), inClause(store.Quote(model.FieldID), len(chunk))), store.Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("read tokens of %s: %w", m.Name, err)
		}
		for _, r := range rows {
			id, _ := model.AsID(r["id"])
			if s, ok := model.FormatStamp(r["token"]); ok {
				out[id] = s
			}
		}
	}
	return out, nil
}

// RecordStamps holds the access log of one record.
type RecordStamps struct {
	ID         int64
	CreateDate string
	WriteDate  string
}

// PermRead returns the creation and last write dates of the existing ids,
// in input order. Dates keep microseconds; models without access logging
// report empty dates.
func (e *Env) PermRead(ctx context.Context, modelName string, ids []int64) ([]RecordStamps, error) {
	m, err := e.reg.Model(modelName)
	if err != nil {
		return nil, err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpRead); err != nil {
		return nil, err
	}
	ids = uniqueIDs(ids)
	if err := e.checkRules(ctx, m, ids, security.OpRead); err != nil {
		return nil, err
	}
	if !m.LogAccess {
		existing, err := e.existing(ctx, m, ids)
		if err != nil {
			return nil, err
		}
		out := make([]RecordStamps, len(existing))
		for i, id := range existing {
			out[i] = RecordStamps{ID: id}
		}
		return out, nil
	}

	byID := make(map[int64]RecordStamps, len(ids))
	for _, chunk := range e.tx.SplitForIn(ids) {
		rows, err := e.tx.QueryMaps(ctx, fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s",
			store.Quote(model.FieldID), store.Quote(model.FieldCreateDate), store.Quote(model.FieldWriteDate),
			store.Quote(m.Table), inClause(store.Quote(model.FieldID), len(chunk))), store.Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("read stamps of %s: %w", m.Name, err)
		}
		for _, r := range rows {
			id, _ := model.AsID(r[model.FieldID])
			rs := RecordStamps{ID: id}
			rs.CreateDate, _ = model.FormatStamp(r[model.FieldCreateDate])
			rs.WriteDate, _ = model.FormatStamp(r[model.FieldWriteDate])
			byID[id] = rs
		}
	}
	out := make([]RecordStamps, 0, len(byID))
	for _, id := range ids {
		if rs, ok := byID[id]; ok {
			out = append(out, rs)
		}
	}
	return out, nil
}

func (e *Env) checkConcurrency(ctx context.Context, m *model.Model, ids []int64, tokens map[int64]string) error {
	if len(tokens) == 0 || !m.LogAccess {
		return nil
	}
	current, err := e.ConcurrencyToken(ctx, m.Name, ids)
	if err != nil {
		return err
	}
	var stale []int64
	for _, id := range ids {
		seen, ok := tokens[id]
		if !ok || seen == "" {
			continue
		}
		if cur, ok := current[id]; ok && newer(cur, seen) {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		e.logger.Info("stale write rejected", "model", m.Name, "ids", stale)
		return &ConcurrencyError{Code: ErrCodeConcurrency, Model: m.Name, IDs: stale}
	}
	return nil
}

// newer reports whether the stamp a is after b. Tokens of either
// precision are accepted.
func newer(a, b string) bool {
	sa, okA := model.FormatStamp(a)
	sb, okB := model.FormatStamp(b)
	if !okA || !okB {
		return a > b
	}
	ta, _ := time.Parse(model.StampLayout, sa)
	tb, _ := time.Parse(model.StampLayout, sb)
	return ta.After(tb)
}
