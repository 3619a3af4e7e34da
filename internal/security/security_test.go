package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowAll(t *testing.T) {
	assert.NoError(t, AllowAll{}.Check(context.Background(), "anyone", "res.partner", OpUnlink))
}

func TestCasbinAccess(t *testing.T) {
	ctx := context.Background()
	acl, err := NewCasbinAccess()
	require.NoError(t, err)

	require.NoError(t, acl.Grant("sales", "res.partner", OpRead, OpWrite))
	require.NoError(t, acl.Grant("manager", "*"))
	require.NoError(t, acl.Assign("alice", "sales"))
	require.NoError(t, acl.Assign("bob", "manager"))

	assert.NoError(t, acl.Check(ctx, "alice", "res.partner", OpRead))
	assert.NoError(t, acl.Check(ctx, "alice", "res.partner", OpWrite))

	err = acl.Check(ctx, "alice", "res.partner", OpUnlink)
	require.Error(t, err)
	assert.True(t, IsAccessError(err))
	assert.Contains(t, err.Error(), "ACCESS")

	assert.True(t, IsAccessError(acl.Check(ctx, "alice", "res.user", OpRead)))
	assert.NoError(t, acl.Check(ctx, "bob", "res.user", OpUnlink))
	assert.True(t, IsAccessError(acl.Check(ctx, "nobody", "res.partner", OpRead)))
	assert.NoError(t, acl.Check(ctx, Superuser, "res.partner", OpUnlink))
}

func TestStaticRules(t *testing.T) {
	ctx := context.Background()
	rules := NewStaticRules()
	rules.Add("res.partner", Rule{Clauses: []string{`"res_partner"."company_id" = ?`}, Params: []any{int64(1)}}, OpRead)
	rules.Add("res.partner", Rule{Clauses: []string{`"res_partner"."active" = ?`}, Params: []any{true}})

	r, err := rules.RulesFor(ctx, "res.partner", OpRead, "alice")
	require.NoError(t, err)
	assert.Len(t, r.Clauses, 2)
	assert.Equal(t, []any{int64(1), true}, r.Params)

	r, err = rules.RulesFor(ctx, "res.partner", OpWrite, "alice")
	require.NoError(t, err)
	assert.Len(t, r.Clauses, 1)

	r, err = rules.RulesFor(ctx, "res.partner", OpRead, Superuser)
	require.NoError(t, err)
	assert.True(t, r.Empty())

	r, err = NoRules{}.RulesFor(ctx, "res.partner", OpRead, "alice")
	require.NoError(t, err)
	assert.True(t, r.Empty())
}
