package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/security"
)

func TestRowRules(t *testing.T) {
	f := newFixture(t)
	adult := f.create(t, "res.partner", map[string]any{"name": "Adult", "age": 30})
	minor := f.create(t, "res.partner", map[string]any{"name": "Minor", "age": 12})

	rules := security.NewStaticRules()
	rules.Add("res.partner", security.Rule{Clauses: []string{`"res_partner"."age" >= ?`}, Params: []any{int64(18)}},
		security.OpRead, security.OpWrite)
	bob := f.newEnv(Options{Principal: "bob", Rules: rules})

	found, err := bob.Search(f.ctx, "res.partner", nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{adult}, found)

	n, err := bob.SearchCount(f.ctx, "res.partner", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = bob.Read(f.ctx, "res.partner", []int64{adult, minor}, []string{"name"})
	require.Error(t, err)
	assert.True(t, security.IsAccessError(err))

	err = bob.Write(f.ctx, "res.partner", []int64{minor}, map[string]any{"name": "Changed"})
	require.Error(t, err)
	assert.True(t, security.IsAccessError(err))
	assert.Equal(t, "Minor", f.read(t, "res.partner", minor, "name")["name"])

	require.NoError(t, bob.Write(f.ctx, "res.partner", []int64{adult}, map[string]any{"name": "Grown"}))
	assert.Equal(t, "Grown", f.read(t, "res.partner", adult, "display_name")["display_name"])

	// Unlink carries no rule.
	require.NoError(t, bob.Unlink(f.ctx, "res.partner", []int64{minor}))
}

func TestModelAccess(t *testing.T) {
	f := newFixture(t)
	acl, err := security.NewCasbinAccess()
	require.NoError(t, err)
	require.NoError(t, acl.Grant("clerk", "res.partner", security.OpCreate, security.OpRead, security.OpWrite))
	require.NoError(t, acl.Assign("bob", "clerk"))
	bob := f.newEnv(Options{Principal: "bob", Access: acl})

	// Stored computes reach res.stat and res.tag, which bob cannot read.
	id, err := bob.Create(f.ctx, "res.partner", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, bob.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"age": 3}))

	err = bob.Unlink(f.ctx, "res.partner", []int64{id})
	require.Error(t, err)
	assert.True(t, security.IsAccessError(err))

	_, err = bob.Search(f.ctx, "res.tag", nil)
	assert.True(t, security.IsAccessError(err))

	_, err = bob.Copy(f.ctx, "res.partner", id, nil)
	require.NoError(t, err)
}
