package orm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/recordkit/internal/hooks"
	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/security"
	"github.com/roach88/recordkit/internal/store"
)

// Create inserts a record of modelName and returns its id.
//
// Missing fields get their defaults. Values of inherited fields go to the
// delegated parent rows, created first unless the link is given. Relational
// and computed values are set after the insert, in ascending column
// priority. Constraints run last; any failure undoes the whole create.
func (e *Env) Create(ctx context.Context, modelName string, values map[string]any) (id int64, err error) {
	defer func() {
		metrics.Operations.WithLabelValues(modelName, "create", metrics.Status(err)).Inc()
	}()

	m, err := e.reg.Model(modelName)
	if err != nil {
		return 0, err
	}
	if err := e.checkAccess(ctx, m.Name, security.OpCreate); err != nil {
		return 0, err
	}
	err = e.atomic(ctx, func() error {
		var err error
		id, err = e.create(ctx, m, values)
		return err
	})
	if err != nil {
		e.logger.Debug("create failed", "model", m.Name, "error", err)
		return 0, err
	}
	e.logger.Debug("record created", "model", m.Name, "id", id)
	return id, nil
}

// buckets splits written values by where they are stored.
type buckets struct {
	local    map[string]any
	parents  map[string]map[string]any
	deferred []string
}

func (e *Env) split(m *model.Model, vals map[string]any) (buckets, error) {
	b := buckets{local: make(map[string]any), parents: make(map[string]map[string]any)}
	for f, v := range vals {
		res, err := e.reg.ResolveField(m.Name, f)
		if err != nil {
			return buckets{}, err
		}
		if res.Inherited() {
			p := res.Path[0].Parent
			if b.parents[p] == nil {
				b.parents[p] = make(map[string]any)
			}
			b.parents[p][f] = v
			continue
		}
		if res.Column.Classic() {
			b.local[f] = v
		} else {
			b.deferred = append(b.deferred, f)
		}
	}
	sort.Slice(b.deferred, func(i, j int) bool {
		ci, cj := m.Columns[b.deferred[i]], m.Columns[b.deferred[j]]
		if ci.Priority != cj.Priority {
			return ci.Priority < cj.Priority
		}
		return ci.Name < cj.Name
	})
	return b, nil
}

// prepareValues rejects unknown fields, drops the magic ones and
// normalizes numbers.
func (e *Env) prepareValues(m *model.Model, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for f, v := range values {
		if !m.HasField(f) {
			return nil, model.NewUnknownFieldError(m.Name, f)
		}
		if isMagicField(f) {
			e.logger.Debug("ignoring value of a magic field", "model", m.Name, "field", f)
			continue
		}
		out[f] = normalizeValue(v)
	}
	return out, nil
}

func (e *Env) create(ctx context.Context, m *model.Model, values map[string]any) (int64, error) {
	vals, err := e.prepareValues(m, values)
	if err != nil {
		return 0, err
	}
	var missing []string
	for _, f := range m.FieldNames() {
		if _, ok := vals[f]; !ok && !isMagicField(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		defaults, err := e.DefaultGet(ctx, m.Name, missing)
		if err != nil {
			return 0, err
		}
		for f, v := range defaults {
			if _, ok := vals[f]; !ok {
				vals[f] = normalizeValue(v)
			}
		}
	}

	b, err := e.split(m, vals)
	if err != nil {
		return 0, err
	}

	id, err := e.tx.NextID(ctx, m.Sequence())
	if err != nil {
		return 0, err
	}

	for _, d := range m.Inherits {
		parent := e.reg.MustModel(d.Parent)
		link, err := model.AsID(b.local[d.Field])
		if err != nil {
			return 0, fmt.Errorf("%s.%s: %w", m.Name, d.Field, err)
		}
		pv := b.parents[d.Parent]
		if link == 0 {
			link, err = e.create(ctx, parent, pv)
			if err != nil {
				return 0, err
			}
			b.local[d.Field] = link
		} else if len(pv) > 0 {
			if err := e.write(ctx, parent, []int64{link}, pv); err != nil {
				return 0, err
			}
		}
		if parent.HasVTable() {
			if err := e.setVPtr(ctx, parent, []int64{link}, m.Name); err != nil {
				return 0, err
			}
		}
	}

	if failures := checkValues(m, b.local, true); len(failures) > 0 {
		return 0, newValidationError(m.Name, failures...)
	}

	row := map[string]any{model.FieldID: id}
	if m.HasVTable() {
		row[model.FieldVPtr] = m.Name
	}
	if m.LogAccess {
		row[model.FieldCreateDate] = e.now()
	}
	for f, v := range b.local {
		dbv, err := m.Columns[f].ToDB(m.Name, v)
		if err != nil {
			return 0, err
		}
		row[f] = dbv
	}
	if err := e.insert(ctx, m, row); err != nil {
		return 0, err
	}

	// The node gets its interval before the deferred setters run, since
	// they may attach children to it.
	if m.ParentStore {
		if err := e.nestedInsert(ctx, m, id); err != nil {
			return 0, err
		}
	}

	rel := e.withoutDefaults()
	for _, f := range b.deferred {
		if err := rel.setDeferred(ctx, m, id, f, vals[f]); err != nil {
			return 0, err
		}
	}

	e.cache.Invalidate(m.Name, []int64{id}, nil)
	if err := e.validate(ctx, m, []int64{id}, nil); err != nil {
		return 0, err
	}
	if err := e.schedule(ctx, m.Name, []int64{id}, nil); err != nil {
		return 0, err
	}
	// A new row has no stored computed value yet, whatever its triggers.
	for _, name := range m.ColumnNames() {
		if col := m.Columns[name]; col.Derived() && col.Store {
			e.state.todo.add(m.Name, name, col.Priority, []int64{id})
		}
	}
	e.notify(hooks.KindCreate, m.Name, []int64{id}, nil)
	return id, nil
}

func (e *Env) insert(ctx context.Context, m *model.Model, row map[string]any) error {
	cols := []string{store.Quote(model.FieldID)}
	args := []any{row[model.FieldID]}
	for _, name := range m.ColumnNames() {
		if name == model.FieldID {
			continue
		}
		if v, ok := row[name]; ok {
			cols = append(cols, store.Quote(name))
			args = append(args, v)
		}
	}
	_, err := e.tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		store.Quote(m.Table), strings.Join(cols, ", "), store.Placeholders(len(cols))), args...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", m.Name, err)
	}
	return nil
}

// checkValues returns the required and selection failures of the classic
// values about to be stored. On create, absent required fields fail too.
func checkValues(m *model.Model, local map[string]any, creating bool) []Failure {
	var out []Failure
	for _, name := range m.ColumnNames() {
		col := m.Columns[name]
		if !col.Classic() || col.Magic {
			continue
		}
		v, present := local[name]
		if !present && !creating {
			continue
		}
		dbv, err := col.ToDB(m.Name, v)
		if err != nil {
			// reported with its type when stored
			continue
		}
		if dbv == nil {
			if col.Required {
				out = append(out, Failure{Field: name, Message: "field is required"})
			}
			continue
		}
		if col.Kind == model.KindSelection && !col.HasOption(dbv.(string)) {
			out = append(out, Failure{Field: name, Message: fmt.Sprintf("value %q is not in the selection", dbv)})
		}
	}
	return out
}

func (e *Env) setVPtr(ctx context.Context, m *model.Model, ids []int64, subtype string) error {
	for _, chunk := range e.tx.SplitForIn(ids) {
		args := append([]any{subtype}, store.Args(chunk)...)
		_, err := e.tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s",
			store.Quote(m.Table), store.Quote(model.FieldVPtr), inClause(store.Quote(model.FieldID), len(chunk))), args...)
		if err != nil {
			return fmt.Errorf("set subtype of %s: %w", m.Name, err)
		}
	}
	e.cache.Invalidate(m.Name, ids, []string{model.FieldVPtr})
	return nil
}

// setDeferred stores the value of a non-classic field of one record.
func (e *Env) setDeferred(ctx context.Context, m *model.Model, id int64, field string, value any) error {
	col := m.Columns[field]
	switch {
	case col.Kind == model.KindOne2Many:
		return e.setOne2Many(ctx, m, id, col, value)
	case col.Kind == model.KindMany2Many:
		return e.setMany2Many(ctx, m, id, col, value)
	case col.Kind == model.KindComputed && col.Inverse != nil:
		if err := col.Inverse(ctx, e, id, field, value); err != nil {
			return fmt.Errorf("inverse of %s.%s: %w", m.Name, field, err)
		}
		return nil
	case col.Kind == model.KindRelated:
		return e.setRelated(ctx, m, id, col, value)
	}
	e.logger.Debug("ignoring value of a computed field without inverse", "model", m.Name, "field", field)
	return nil
}

// setRelated writes value through the related path.
func (e *Env) setRelated(ctx context.Context, m *model.Model, id int64, col *model.Column, value any) error {
	target, last, err := e.followPath(ctx, m, []int64{id}, col.Related)
	if err != nil {
		return err
	}
	tid := target.ids[id]
	if tid == 0 {
		e.logger.Debug("related path is empty, value dropped", "model", m.Name, "field", col.Name, "id", id)
		return nil
	}
	return e.write(ctx, target.model, []int64{tid}, map[string]any{last: value})
}
