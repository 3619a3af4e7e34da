package browse

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
)

type readCall struct {
	model  string
	ids    []int64
	fields []string
}

// memLoader serves rows from memory and records every Read.
type memLoader struct {
	reg   *model.Registry
	data  map[string]map[int64]map[string]any
	reads []readCall
}

func (l *memLoader) Registry() *model.Registry { return l.reg }

func (l *memLoader) Read(_ context.Context, name string, ids []int64, fields []string) ([]map[string]any, error) {
	l.reads = append(l.reads, readCall{model: name, ids: append([]int64(nil), ids...), fields: append([]string(nil), fields...)})
	var out []map[string]any
	for _, id := range ids {
		src, ok := l.data[name][id]
		if !ok {
			continue
		}
		row := map[string]any{"id": id}
		for _, f := range fields {
			row[f] = src[f]
		}
		out = append(out, row)
	}
	return out, nil
}

func (l *memLoader) Search(_ context.Context, name string, d domain.Domain) ([]int64, error) {
	leaf := d[0].(domain.Leaf)
	var out []int64
	for id, row := range l.data[name] {
		if row[leaf.Field] == leaf.Value {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func newLoader(t *testing.T) *memLoader {
	t.Helper()
	r := model.NewRegistry()
	require.NoError(t, r.Register(&model.Model{
		Name: "res.partner",
		Fields: []*model.Column{
			{Name: "name", Kind: model.KindChar},
			{Name: "email", Kind: model.KindChar},
			{Name: "phone", Kind: model.KindChar},
			{Name: "label", Kind: model.KindChar},
			{Name: "parent_id", Kind: model.KindMany2One, Relation: "res.partner"},
			{Name: "child_ids", Kind: model.KindOne2Many, Relation: "res.partner", InverseName: "parent_id"},
		},
	}))
	require.NoError(t, r.Register(&model.Model{
		Name:     "res.user",
		Inherits: []model.Delegation{{Parent: "res.partner", Field: "partner_id"}},
		Virtuals: []string{"label"},
		Fields: []*model.Column{
			{Name: "login", Kind: model.KindChar},
			{Name: "label", Kind: model.KindChar},
		},
	}))
	require.NoError(t, r.Finalize())

	return &memLoader{reg: r, data: map[string]map[int64]map[string]any{
		"res.partner": {
			1: {"name": "Root", "email": "root@example.com", "phone": "1", "label": "partner label", "parent_id": nil, "child_ids": []int64{2, 3}, "_vptr": nil},
			2: {"name": "Kid", "email": "kid@example.com", "phone": "2", "label": "stale", "parent_id": int64(1), "child_ids": []int64{}, "_vptr": "res.user"},
			3: {"name": "Other", "email": "other@example.com", "phone": "3", "parent_id": int64(1), "child_ids": []int64{}, "_vptr": nil},
		},
		"res.user": {
			10: {"partner_id": int64(2), "login": "kid", "label": "user label", "_vptr": "res.user"},
		},
	}}
}

func TestBrowse_SharedValueMap(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)
	c := New(l, NewStats(), Policy{Mode: ModeSingle})

	a := c.Browse("res.partner", 1)
	b := c.Browse("res.partner", 1)
	assert.Empty(t, l.reads, "browsing does no I/O")

	name, err := a.Get(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Root", name)
	require.Len(t, l.reads, 1)

	name, err = b.Get(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Root", name)
	assert.Len(t, l.reads, 1, "second handle reads the shared map")

	l.data["res.partner"][1]["name"] = "Renamed"
	c.Invalidate("res.partner", []int64{1}, []string{"name"})
	name, err = b.Get(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", name)
	v, ok := c.Cached("res.partner", 1, "name")
	assert.True(t, ok)
	assert.Equal(t, "Renamed", v)
}

func TestBrowse_BatchFetch(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)
	c := New(l, NewStats(), Policy{Mode: ModeSingle})

	list := c.BrowseList("res.partner", []int64{1, 2, 3})
	assert.Equal(t, []int64{1, 2, 3}, list.IDs())

	_, err := list[1].Get(ctx, "email")
	require.NoError(t, err)
	require.Len(t, l.reads, 1)
	assert.Equal(t, []int64{2, 1, 3}, l.reads[0].ids, "the missing id first, then the rest of the arena")

	for _, r := range list {
		_, err := r.Get(ctx, "email")
		require.NoError(t, err)
	}
	assert.Len(t, l.reads, 1)
}

func TestBrowse_PrefetchModes(t *testing.T) {
	ctx := context.Background()

	t.Run("all", func(t *testing.T) {
		l := newLoader(t)
		_, err := New(l, NewStats(), Policy{Mode: ModeAll}).Browse("res.partner", 1).Get(ctx, "name")
		require.NoError(t, err)
		fields := l.reads[0].fields
		assert.Equal(t, "name", fields[0])
		assert.Subset(t, fields, []string{"email", "phone", "label", "parent_id", "_vptr"})
		assert.NotContains(t, fields, "child_ids")
		assert.NotContains(t, fields, "id")
	})

	t.Run("single", func(t *testing.T) {
		l := newLoader(t)
		_, err := New(l, NewStats(), Policy{Mode: ModeSingle}).Browse("res.partner", 1).Get(ctx, "name")
		require.NoError(t, err)
		assert.Equal(t, []string{"name"}, l.reads[0].fields)
	})

	t.Run("fields", func(t *testing.T) {
		l := newLoader(t)
		p := Policy{Mode: ModeFields, Fields: []string{"email", "child_ids", "nope", "name"}}
		_, err := New(l, NewStats(), p).Browse("res.partner", 1).Get(ctx, "name")
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "email"}, l.reads[0].fields)
	})

	t.Run("auto", func(t *testing.T) {
		l := newLoader(t)
		stats := NewStats()
		for i := 0; i < 3; i++ {
			stats.Hit("res.partner", "name")
		}
		stats.Hit("res.partner", "email")
		stats.Hit("res.partner", "email")
		stats.Hit("res.partner", "phone")

		_, err := New(l, stats, Policy{Mode: ModeAuto, TopK: 2}).Browse("res.partner", 1).Get(ctx, "phone")
		require.NoError(t, err)
		assert.Equal(t, []string{"phone", "name", "email"}, l.reads[0].fields)
		assert.Equal(t, int64(2), stats.Count("res.partner", "phone"))
	})

	t.Run("non stored field alone", func(t *testing.T) {
		l := newLoader(t)
		_, err := New(l, NewStats(), Policy{Mode: ModeAll}).Browse("res.partner", 1).Get(ctx, "child_ids")
		require.NoError(t, err)
		assert.Equal(t, []string{"child_ids"}, l.reads[0].fields)
	})
}

func TestStatsTop(t *testing.T) {
	s := NewStats()
	assert.Nil(t, s.Top("m", 4, 0.25))

	for f, n := range map[string]int{"a": 8, "b": 4, "c": 2, "d": 2, "e": 1} {
		for i := 0; i < n; i++ {
			s.Hit("m", f)
		}
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Top("m", 4, 0.125))
	assert.Equal(t, []string{"a", "b"}, s.Top("m", 4, 0.25), "counts equal to the threshold are excluded")
	assert.Equal(t, []string{"a"}, s.Top("m", 1, 0))
	assert.Nil(t, s.Top("m", 0, 0))

	s.Hit("other", "x")
	s.Reset("m")
	assert.Zero(t, s.Count("m", "a"))
	assert.Equal(t, int64(1), s.Count("other", "x"))
	s.Reset("")
	assert.Zero(t, s.Count("other", "x"))
}

func TestBrowse_Relational(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)
	c := New(l, NewStats(), Policy{Mode: ModeSingle})

	parent, err := c.Browse("res.partner", 2).Get(ctx, "parent_id")
	require.NoError(t, err)
	rec, ok := parent.(*Record)
	require.True(t, ok, "many2one materializes as a record, got %T", parent)
	assert.Equal(t, int64(1), rec.ID())
	assert.Equal(t, "res.partner", rec.Model())

	children, err := rec.Get(ctx, "child_ids")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, children.(RecordList).IDs())

	none, err := rec.Get(ctx, "parent_id")
	require.NoError(t, err)
	assert.Nil(t, none)

	vals, err := c.Browse("res.partner", 3).Values(ctx, "id", "name")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(3), "name": "Other"}, vals)
}

func TestBrowse_MissingAndUnknown(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)
	c := New(l, NewStats(), Policy{Mode: ModeSingle})

	_, err := c.Browse("res.partner", 99).Get(ctx, "name")
	assert.True(t, IsMissingRecord(err), "got %v", err)
	_, err = c.Browse("res.partner", 99).Get(ctx, "email")
	assert.True(t, IsMissingRecord(err))
	assert.Len(t, l.reads, 1, "missing ids are not fetched again")

	_, err = c.Browse("res.partner", 1).Get(ctx, "nope")
	assert.True(t, model.IsUnknownField(err), "got %v", err)
}

func TestBrowse_VirtualDispatch(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)
	c := New(l, NewStats(), Policy{Mode: ModeSingle})

	label, err := c.Browse("res.partner", 2).Get(ctx, "label")
	require.NoError(t, err)
	assert.Equal(t, "user label", label, "read on the subtype named by _vptr")

	label, err = c.Browse("res.partner", 1).Get(ctx, "label")
	require.NoError(t, err)
	assert.Equal(t, "partner label", label)

	_, err = c.Browse("res.partner", 2).get(ctx, "label", []string{"res.user"})
	require.Error(t, err)
	assert.True(t, IsVirtualCycle(err), "got %v", err)
	assert.Contains(t, err.Error(), "res.user -> res.partner -> res.user")
}

func TestBrowse_ClearAndParseMode(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t)
	c := New(l, nil, Policy{Mode: ModeSingle})
	assert.Same(t, DefaultStats, c.Stats())

	r := c.Browse("res.partner", 1)
	_, err := r.Get(ctx, "name")
	require.NoError(t, err)
	c.Clear()
	_, ok := c.Cached("res.partner", 1, "name")
	assert.False(t, ok)
	_, err = r.Get(ctx, "name")
	require.NoError(t, err)
	assert.Len(t, l.reads, 2)

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)
	_, err = ParseMode("eager")
	assert.Error(t, err)
}
