package browse

import (
	"context"
	"log/slog"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
)

// Record is a handle on one cached row.
type Record struct {
	cache *Cache
	model string
	id    int64
}

// RecordList is an ordered list of handles of one model.
type RecordList []*Record

// IDs returns the ids of the list.
func (l RecordList) IDs() []int64 {
	out := make([]int64, len(l))
	for i, r := range l {
		out[i] = r.id
	}
	return out
}

// ID returns the record id.
func (r *Record) ID() int64 { return r.id }

// Model returns the model name.
func (r *Record) Model() string { return r.model }

// Get returns the value of field, loading it on a cache miss. Many2one
// values are *Record (nil when empty) and x2many values RecordList.
func (r *Record) Get(ctx context.Context, field string) (any, error) {
	return r.get(ctx, field, nil)
}

// Values returns the values of fields.
func (r *Record) Values(ctx context.Context, fields ...string) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := r.Get(ctx, f)
		if err != nil {
			return nil, err
		}
		out[f] = v
	}
	return out, nil
}

func (r *Record) get(ctx context.Context, field string, visited []string) (any, error) {
	if field == model.FieldID {
		return r.id, nil
	}
	m, err := r.cache.reg.Model(r.model)
	if err != nil {
		return nil, err
	}
	if !m.HasField(field) {
		return nil, model.NewUnknownFieldError(r.model, field)
	}
	r.cache.stats.Hit(r.model, field)

	if m.IsVirtual(field) {
		target, err := r.dispatch(ctx, m, field, visited)
		if err != nil {
			return nil, err
		}
		if target != nil {
			return target.get(ctx, field, extend(visited, r.model))
		}
	}
	return r.load(ctx, m, field)
}

// load returns field from the cache, fetching it on a miss.
func (r *Record) load(ctx context.Context, m *model.Model, field string) (any, error) {
	a := r.cache.arena(r.model)
	row := a.row(r.id)
	if v, ok := row[field]; ok {
		metrics.CacheHits.WithLabelValues(r.model).Inc()
		return v, nil
	}
	if !a.missing[r.id] {
		if err := r.cache.fetch(ctx, m, r.id, field); err != nil {
			return nil, err
		}
	}
	if a.missing[r.id] {
		return nil, NewMissingRecordError(r.model, r.id)
	}
	return row[field], nil
}

// dispatch returns the record of the subtype named by the row's _vptr, or
// nil when the row is read on its own model.
func (r *Record) dispatch(ctx context.Context, m *model.Model, field string, visited []string) (*Record, error) {
	raw, err := r.load(ctx, m, model.FieldVPtr)
	if err != nil {
		return nil, err
	}
	vptr, _ := raw.(string)
	if vptr == "" || vptr == r.model {
		return nil, nil
	}

	reg := r.cache.reg
	var sub *model.Model
	for _, child := range reg.Children(r.model) {
		if child.Name == vptr || delegatesTo(reg, vptr, child.Name) {
			sub = child
			break
		}
	}
	if sub == nil {
		slog.Debug("virtual field read locally: no subtype path", "model", r.model, "field", field, "vptr", vptr)
		return nil, nil
	}

	path := extend(visited, r.model)
	for _, seen := range path {
		if seen == sub.Name {
			return nil, &VirtualCycleError{Code: ErrCodeVirtualCycle, Field: field, Path: extend(path, sub.Name)}
		}
	}

	link, _ := sub.LinkField(r.model)
	ids, err := r.cache.loader.Search(ctx, sub.Name, domain.Domain{
		domain.Leaf{Field: link, Op: domain.OpEq, Value: r.id},
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.cache.Browse(sub.Name, ids[0]), nil
}

// delegatesTo reports whether model from reaches model to through
// delegations.
func delegatesTo(reg *model.Registry, from, to string) bool {
	seen := map[string]bool{}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		m, err := reg.Model(cur)
		if err != nil {
			continue
		}
		for _, d := range m.Inherits {
			if d.Parent == to {
				return true
			}
			if !seen[d.Parent] {
				seen[d.Parent] = true
				queue = append(queue, d.Parent)
			}
		}
	}
	return false
}

func extend(path []string, name string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, name)
}
