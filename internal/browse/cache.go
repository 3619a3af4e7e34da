package browse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/metrics"
	"github.com/roach88/recordkit/internal/model"
)

// Mode selects the fields a cache miss fetches besides the missing one.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeSingle Mode = "single"
	ModeFields Mode = "fields"
	ModeAuto   Mode = "auto"
)

// DefaultTopK is the number of fields the auto mode prefetches.
const DefaultTopK = 4

// ParseMode validates a prefetch mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAll, ModeSingle, ModeFields, ModeAuto:
		return m, nil
	case "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown prefetch mode %q", s)
}

// Policy configures prefetching.
type Policy struct {
	Mode Mode
	// Fields is the explicit prefetch set of ModeFields.
	Fields []string
	// TopK and Fraction tune ModeAuto. Zero values mean DefaultTopK and 1/TopK.
	TopK     int
	Fraction float64
}

// DefaultPolicy returns the auto policy with default tuning.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeAuto, TopK: DefaultTopK}
}

func (p Policy) topK() int {
	if p.TopK > 0 {
		return p.TopK
	}
	return DefaultTopK
}

func (p Policy) fraction() float64 {
	if p.Fraction > 0 {
		return p.Fraction
	}
	return 1 / float64(p.topK())
}

// Loader reads raw field values. Read returns one map per existing id with
// an "id" key; many2one values are ids and x2many values id lists.
type Loader interface {
	Registry() *model.Registry
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error)
	// Search returns the ids matching d, archived records included.
	Search(ctx context.Context, model string, d domain.Domain) ([]int64, error)
}

// arena holds the cached rows of one model.
type arena struct {
	rows    map[int64]map[string]any
	order   []int64
	missing map[int64]bool
}

func newArena() *arena {
	return &arena{rows: make(map[int64]map[string]any), missing: make(map[int64]bool)}
}

// row returns the value map of id, creating it on first use.
func (a *arena) row(id int64) map[string]any {
	r, ok := a.rows[id]
	if !ok {
		r = make(map[string]any)
		a.rows[id] = r
		a.order = append(a.order, id)
	}
	return r
}

// Cache is the record cache of one transaction. Not safe for concurrent use.
type Cache struct {
	loader Loader
	reg    *model.Registry
	stats  *Stats
	policy Policy
	arenas map[string]*arena
}

// New creates an empty cache. A nil stats uses DefaultStats.
func New(loader Loader, stats *Stats, policy Policy) *Cache {
	if stats == nil {
		stats = DefaultStats
	}
	if policy.Mode == "" {
		policy.Mode = ModeAuto
	}
	return &Cache{
		loader: loader,
		reg:    loader.Registry(),
		stats:  stats,
		policy: policy,
		arenas: make(map[string]*arena),
	}
}

// Policy returns the prefetch policy.
func (c *Cache) Policy() Policy {
	return c.policy
}

// Stats returns the read counters the cache feeds.
func (c *Cache) Stats() *Stats {
	return c.stats
}

func (c *Cache) arena(modelName string) *arena {
	a, ok := c.arenas[modelName]
	if !ok {
		a = newArena()
		c.arenas[modelName] = a
	}
	return a
}

// Browse returns a handle on (model, id). No I/O happens.
func (c *Cache) Browse(modelName string, id int64) *Record {
	c.arena(modelName).row(id)
	return &Record{cache: c, model: modelName, id: id}
}

// BrowseList returns handles on ids of model, in order.
func (c *Cache) BrowseList(modelName string, ids []int64) RecordList {
	out := make(RecordList, len(ids))
	for i, id := range ids {
		out[i] = c.Browse(modelName, id)
	}
	return out
}

// Invalidate forgets cached values. Nil ids means every cached id of the
// model; nil fields means every field. Value maps keep their identity so
// existing Records observe the change.
func (c *Cache) Invalidate(modelName string, ids []int64, fields []string) {
	a, ok := c.arenas[modelName]
	if !ok {
		return
	}
	if ids == nil {
		ids = a.order
	}
	for _, id := range ids {
		delete(a.missing, id)
		r, ok := a.rows[id]
		if !ok {
			continue
		}
		if fields == nil {
			clear(r)
			continue
		}
		for _, f := range fields {
			delete(r, f)
		}
	}
}

// Clear drops every cached value.
func (c *Cache) Clear() {
	for _, a := range c.arenas {
		for _, r := range a.rows {
			clear(r)
		}
		clear(a.missing)
	}
}

// Cached returns the cached value of model.field for id without loading it.
func (c *Cache) Cached(modelName string, id int64, field string) (any, bool) {
	a, ok := c.arenas[modelName]
	if !ok {
		return nil, false
	}
	v, ok := a.rows[id][field]
	return v, ok
}

// fetch loads field, plus the prefetch set, for id and every other cached
// id of m lacking it.
func (c *Cache) fetch(ctx context.Context, m *model.Model, id int64, field string) error {
	a := c.arena(m.Name)
	fields := c.prefetchFields(m, field)

	ids := []int64{id}
	for _, other := range a.order {
		if other == id || a.missing[other] {
			continue
		}
		if _, ok := a.rows[other][field]; !ok {
			ids = append(ids, other)
		}
	}

	metrics.CacheFetches.WithLabelValues(m.Name).Inc()
	slog.Debug("cache fetch", "model", m.Name, "field", field, "ids", len(ids), "fields", fields)

	rows, err := c.loader.Read(ctx, m.Name, ids, fields)
	if err != nil {
		return fmt.Errorf("fetch %s.%s: %w", m.Name, field, err)
	}
	found := make(map[int64]bool, len(rows))
	for _, row := range rows {
		rid, err := model.AsID(row[model.FieldID])
		if err != nil || rid == 0 {
			continue
		}
		found[rid] = true
		cached := a.row(rid)
		for _, f := range fields {
			if _, ok := cached[f]; ok {
				continue
			}
			if v, ok := row[f]; ok {
				cached[f] = c.materialize(m, f, v)
			}
		}
	}
	for _, rid := range ids {
		if !found[rid] {
			a.missing[rid] = true
		}
	}
	return nil
}

// prefetchFields returns field followed by the fields fetched with it.
func (c *Cache) prefetchFields(m *model.Model, field string) []string {
	col, ok := m.Field(field)
	if !ok || !col.Prefetchable() {
		return []string{field}
	}

	var extra []string
	switch c.policy.Mode {
	case ModeAll:
		extra = m.FieldNames()
	case ModeFields:
		extra = c.policy.Fields
	case ModeAuto:
		extra = c.stats.Top(m.Name, c.policy.topK(), c.policy.fraction())
	}

	out := []string{field}
	seen := map[string]bool{field: true, model.FieldID: true}
	for _, f := range extra {
		if seen[f] {
			continue
		}
		seen[f] = true
		if fc, ok := m.Field(f); ok && fc.Prefetchable() {
			out = append(out, f)
		}
	}
	return out
}

// materialize turns relational values into handles sharing this cache.
func (c *Cache) materialize(m *model.Model, field string, v any) any {
	col, ok := m.Field(field)
	if !ok || col.Relation == "" {
		return v
	}
	switch col.ValueKind() {
	case model.KindMany2One:
		id, err := model.AsID(v)
		if err != nil || id == 0 {
			return nil
		}
		return c.Browse(col.Relation, id)
	case model.KindOne2Many, model.KindMany2Many:
		ids, err := model.AsIDs(v)
		if err != nil {
			return RecordList{}
		}
		return c.BrowseList(col.Relation, ids)
	}
	return v
}
