package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/domain"
)

// tree holds the ids of
//
//	R
//	└── N
//	    ├── N1
//	    │   └── N1a
//	    └── N2
//	S
type tree struct {
	R, N, N1, N1a, N2, S int64
}

func newTree(t *testing.T, f *fixture) tree {
	t.Helper()
	var tr tree
	tr.R = f.create(t, "res.partner", map[string]any{"name": "R"})
	tr.N = f.create(t, "res.partner", map[string]any{"name": "N", "parent_id": tr.R})
	tr.N1 = f.create(t, "res.partner", map[string]any{"name": "N1", "parent_id": tr.N})
	tr.N1a = f.create(t, "res.partner", map[string]any{"name": "N1a", "parent_id": tr.N1})
	tr.N2 = f.create(t, "res.partner", map[string]any{"name": "N2", "parent_id": tr.N})
	tr.S = f.create(t, "res.partner", map[string]any{"name": "S"})
	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))
	return tr
}

func (f *fixture) interval(t *testing.T, id int64) span {
	t.Helper()
	row := f.read(t, "res.partner", id, "parent_left", "parent_right")
	return span{left: row["parent_left"].(int64), right: row["parent_right"].(int64)}
}

func (f *fixture) childOf(t *testing.T, id int64) []int64 {
	t.Helper()
	ids, err := f.env.Search(f.ctx, "res.partner", domain.Domain{leaf("id", "child_of", id)})
	require.NoError(t, err)
	return ids
}

func TestNestedSet_Insert(t *testing.T) {
	f := newFixture(t)
	tr := newTree(t, f)

	assert.Equal(t, span{1, 10}, f.interval(t, tr.R))
	assert.Equal(t, span{2, 9}, f.interval(t, tr.N))
	assert.Equal(t, span{3, 6}, f.interval(t, tr.N1))
	assert.Equal(t, span{4, 5}, f.interval(t, tr.N1a))
	assert.Equal(t, span{7, 8}, f.interval(t, tr.N2))
	assert.Equal(t, span{11, 12}, f.interval(t, tr.S))
}

func TestNestedSet_SiblingsFollowOrder(t *testing.T) {
	f := newFixture(t)
	root := f.create(t, "res.partner", map[string]any{"name": "Root"})
	b := f.create(t, "res.partner", map[string]any{"name": "B", "parent_id": root})
	a := f.create(t, "res.partner", map[string]any{"name": "A", "parent_id": root})

	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))
	assert.Less(t, f.interval(t, a).left, f.interval(t, b).left)
}

func TestNestedSet_MoveSubtree(t *testing.T) {
	f := newFixture(t)
	tr := newTree(t, f)

	require.NoError(t, f.env.Write(f.ctx, "res.partner", []int64{tr.N}, map[string]any{"parent_id": tr.S}))
	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))

	assert.Equal(t, span{1, 2}, f.interval(t, tr.R))
	assert.Equal(t, span{3, 12}, f.interval(t, tr.S))
	assert.Equal(t, int64(8), f.interval(t, tr.N).width())
	assert.Less(t, f.interval(t, tr.N1).left, f.interval(t, tr.N2).left)
	assert.ElementsMatch(t, []int64{tr.S, tr.N, tr.N1, tr.N1a, tr.N2}, f.childOf(t, tr.S))
	assert.Equal(t, []int64{tr.R}, f.childOf(t, tr.R))
}

func TestNestedSet_MoveToRoot(t *testing.T) {
	f := newFixture(t)
	tr := newTree(t, f)

	require.NoError(t, f.env.Write(f.ctx, "res.partner", []int64{tr.N1}, map[string]any{"parent_id": false}))
	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))

	assert.ElementsMatch(t, []int64{tr.N1, tr.N1a}, f.childOf(t, tr.N1))
	assert.ElementsMatch(t, []int64{tr.R, tr.N, tr.N2}, f.childOf(t, tr.R))
}

func TestNestedSet_RejectsCycles(t *testing.T) {
	f := newFixture(t)
	tr := newTree(t, f)

	err := f.env.Write(f.ctx, "res.partner", []int64{tr.N}, map[string]any{"parent_id": tr.N1a})
	require.Error(t, err)
	assert.True(t, IsRecursionError(err))

	err = f.env.Write(f.ctx, "res.partner", []int64{tr.S}, map[string]any{"parent_id": tr.S})
	require.Error(t, err)
	assert.True(t, IsRecursionError(err))

	assert.Equal(t, tr.R, f.read(t, "res.partner", tr.N, "parent_id")["parent_id"])
	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))

	ok, err := f.env.CheckRecursion(f.ctx, "res.partner", []int64{tr.N1a, tr.S})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNestedSet_UnlinkLeafClosesGap(t *testing.T) {
	f := newFixture(t)
	tr := newTree(t, f)

	require.NoError(t, f.env.Unlink(f.ctx, "res.partner", []int64{tr.N2}))
	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))

	assert.Equal(t, span{1, 8}, f.interval(t, tr.R))
	assert.Equal(t, span{9, 10}, f.interval(t, tr.S))
}

func TestNestedSet_UnlinkInnerNodeKeepsOrphans(t *testing.T) {
	f := newFixture(t)
	tr := newTree(t, f)

	require.NoError(t, f.env.Unlink(f.ctx, "res.partner", []int64{tr.N1}))
	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))

	assert.Nil(t, f.read(t, "res.partner", tr.N1a, "parent_id")["parent_id"])
	assert.ElementsMatch(t, []int64{tr.R, tr.N, tr.N2}, f.childOf(t, tr.R))
}

func TestParentStoreCompute_Rebuilds(t *testing.T) {
	f := newFixture(t)
	tr := newTree(t, f)

	_, err := f.tx.Exec(f.ctx, `UPDATE "res_partner" SET "parent_left" = 1, "parent_right" = 2`)
	require.NoError(t, err)
	require.Error(t, f.env.VerifyParentStore(f.ctx, "res.partner"))

	require.NoError(t, f.env.ParentStoreCompute(f.ctx, "res.partner"))
	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))
	assert.Equal(t, span{2, 9}, f.interval(t, tr.N))

	err = f.env.ParentStoreCompute(f.ctx, "res.tag")
	assert.Error(t, err)
}
