package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/store"
)

func testRegistry(t *testing.T) *model.Registry {
	t.Helper()
	r := model.NewRegistry()
	require.NoError(t, r.Register(&model.Model{
		Name:        "res.partner",
		ParentName:  "parent_id",
		ParentStore: true,
		LogAccess:   true,
		Fields: []*model.Column{
			{Name: "name", Kind: model.KindChar, Required: true, Index: true},
			{Name: "parent_id", Kind: model.KindMany2One, Relation: "res.partner", OnDelete: model.OnDeleteCascade},
			{Name: "child_ids", Kind: model.KindOne2Many, Relation: "res.partner", InverseName: "parent_id"},
			{Name: "tag_ids", Kind: model.KindMany2Many, Relation: "res.tag"},
			{Name: "active", Kind: model.KindBoolean},
		},
	}))
	require.NoError(t, r.Register(&model.Model{
		Name:   "res.tag",
		Fields: []*model.Column{{Name: "name", Kind: model.KindChar}},
	}))
	require.NoError(t, r.Finalize())
	return r
}

func TestTableDDL(t *testing.T) {
	r := testRegistry(t)
	d, err := store.DialectFor("sqlite3")
	require.NoError(t, err)

	ddl := TableDDL(d, r, r.MustModel("res.partner"), true)
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "res_partner"`)
	assert.Contains(t, ddl, `"id" INTEGER PRIMARY KEY`)
	assert.Contains(t, ddl, `"name" TEXT NOT NULL`)
	assert.Contains(t, ddl, `"parent_id" INTEGER REFERENCES "res_partner" ("id") ON DELETE CASCADE`)
	assert.Contains(t, ddl, `"parent_left" INTEGER`)
	assert.Contains(t, ddl, `"write_date" TEXT`)
	assert.NotContains(t, ddl, "child_ids")
	assert.NotContains(t, ddl, "tag_ids")
}

func TestCreateTables(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "schema.db")})
	require.NoError(t, err)
	defer db.Close()

	r := testRegistry(t)
	for i := 0; i < 2; i++ {
		tx, err := db.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, CreateTables(ctx, tx, r), "run %d", i)
		require.NoError(t, tx.Commit())
	}

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	rows, err := tx.QueryMaps(ctx, `SELECT name FROM sqlite_master WHERE type IN ('table', 'index') ORDER BY name`)
	require.NoError(t, err)
	var names []string
	for _, row := range rows {
		names = append(names, row["name"].(string))
	}
	assert.Contains(t, names, "res_partner")
	assert.Contains(t, names, "res_tag")
	assert.Contains(t, names, "res_partner_res_tag_rel")
	assert.Contains(t, names, "res_partner_name_index")
	assert.Contains(t, names, "ir_translation")

	id, err := tx.NextID(ctx, "res_partner_id_seq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}
