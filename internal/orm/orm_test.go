package orm

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/schema"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/testutil"
	"github.com/roach88/recordkit/internal/translation"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func computeDisplayName(ctx context.Context, env model.Env, ids []int64, _ []string) (map[int64]map[string]any, error) {
	rows, err := env.Read(ctx, "res.partner", ids, []string{"name", "ref"})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]map[string]any, len(rows))
	for _, r := range rows {
		name, _ := r["name"].(string)
		if ref, ok := r["ref"].(string); ok {
			name += " [" + ref + "]"
		}
		out[r["id"].(int64)] = map[string]any{"display_name": name}
	}
	return out, nil
}

func computePartnerCount(ctx context.Context, env model.Env, ids []int64, _ []string) (map[int64]map[string]any, error) {
	out := make(map[int64]map[string]any, len(ids))
	for _, id := range ids {
		found, err := env.Search(ctx, "res.partner", domain.Domain{
			domain.Leaf{Field: "tag_ids", Op: domain.OpIn, Value: []any{id}},
		})
		if err != nil {
			return nil, err
		}
		out[id] = map[string]any{"partner_count": int64(len(found))}
	}
	return out, nil
}

func partnerTags(ctx context.Context, env model.Env, ids []int64) ([]int64, error) {
	rows, err := env.Read(ctx, "res.partner", ids, []string{"tag_ids"})
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, r := range rows {
		out = append(out, r["tag_ids"].([]int64)...)
	}
	return out, nil
}

func computeAgeTotal(ctx context.Context, env model.Env, ids []int64, _ []string) (map[int64]map[string]any, error) {
	partners, err := env.Search(ctx, "res.partner", nil)
	if err != nil {
		return nil, err
	}
	rows, err := env.Read(ctx, "res.partner", partners, []string{"age"})
	if err != nil {
		return nil, err
	}
	var total int64
	for _, r := range rows {
		total += r["age"].(int64)
	}
	out := make(map[int64]map[string]any, len(ids))
	for _, id := range ids {
		out[id] = map[string]any{"age_total": total}
	}
	return out, nil
}

func allStats(ctx context.Context, env model.Env, _ []int64) ([]int64, error) {
	return env.Search(ctx, "res.stat", nil)
}

// testRegistry declares:
//
//	res.partner  hierarchy with nested set, tags, a stored display name
//	res.tag      translatable name, stored partner count
//	res.user     delegates to res.partner
//	res.stat     stored total of partner ages with a one hour horizon
func testRegistry(t *testing.T) *model.Registry {
	t.Helper()
	r := model.NewRegistry()
	require.NoError(t, r.Register(&model.Model{
		Name:        "res.partner",
		Order:       "name",
		ParentName:  "parent_id",
		ParentStore: true,
		LogAccess:   true,
		Fields: []*model.Column{
			{Name: "name", Kind: model.KindChar, Required: true},
			{Name: "ref", Kind: model.KindChar, NoCopy: true},
			{Name: "age", Kind: model.KindInteger, Default: int64(0)},
			{Name: "active", Kind: model.KindBoolean},
			{Name: "lang", Kind: model.KindSelection, Selection: []model.SelectionOption{
				{Value: "en_US", Label: "English"},
				{Value: "fr_FR", Label: "French"},
			}},
			{Name: "parent_id", Kind: model.KindMany2One, Relation: "res.partner"},
			{Name: "child_ids", Kind: model.KindOne2Many, Relation: "res.partner", InverseName: "parent_id"},
			{Name: "tag_ids", Kind: model.KindMany2Many, Relation: "res.tag"},
			{Name: "display_name", Kind: model.KindComputed, Type: model.KindChar, Store: true,
				Compute: computeDisplayName, Triggers: []model.Trigger{{Model: "res.partner", Fields: []string{"name", "ref"}}}},
		},
		Constraints: []*model.Constraint{
			{Name: "age_positive", Fields: []string{"age"}, Message: "age must not be negative", Expr: "record.age >= 0"},
		},
	}))
	require.NoError(t, r.Register(&model.Model{
		Name: "res.tag",
		Fields: []*model.Column{
			{Name: "name", Kind: model.KindChar, Required: true, Translate: true},
			{Name: "partner_count", Kind: model.KindComputed, Type: model.KindInteger, Store: true,
				Compute: computePartnerCount, Triggers: []model.Trigger{{Model: "res.partner", Fields: []string{"tag_ids"}, Mapper: partnerTags}}},
		},
	}))
	require.NoError(t, r.Register(&model.Model{
		Name:     "res.user",
		RecName:  "login",
		Inherits: []model.Delegation{{Parent: "res.partner", Field: "partner_id"}},
		Fields: []*model.Column{
			{Name: "login", Kind: model.KindChar, Required: true},
			{Name: "partner_id", Kind: model.KindMany2One, Relation: "res.partner"},
		},
	}))
	require.NoError(t, r.Register(&model.Model{
		Name:      "res.stat",
		LogAccess: true,
		Fields: []*model.Column{
			{Name: "label", Kind: model.KindChar},
			{Name: "age_total", Kind: model.KindComputed, Type: model.KindInteger, Store: true, Horizon: time.Hour,
				Compute: computeAgeTotal, Triggers: []model.Trigger{{Model: "res.partner", Fields: []string{"age"}, Mapper: allStats}}},
		},
	}))
	require.NoError(t, r.Finalize())
	return r
}

type fixture struct {
	ctx   context.Context
	reg   *model.Registry
	tx    *store.Tx
	clock *testutil.DeterministicClock
	env   *Env
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, testRegistry(t))
}

// newFixtureWith creates the tables of reg in a fresh database.
func newFixtureWith(t *testing.T, reg *model.Registry) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.Config{Driver: "sqlite3", DSN: filepath.Join(t.TempDir(), "orm.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })

	require.NoError(t, schema.CreateTables(ctx, tx, reg))

	f := &fixture{ctx: ctx, reg: reg, tx: tx, clock: testutil.NewDeterministicClock()}
	f.env = f.newEnv(Options{})
	return f
}

// newEnv binds another env to the fixture transaction.
func (f *fixture) newEnv(opts Options) *Env {
	opts.Clock = f.clock.Now
	if opts.IDs == nil {
		opts.IDs = testutil.NewSequenceGenerator("")
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.Translations == nil {
		opts.Translations = translation.NewSQLStore()
	}
	return NewEnv(f.reg, f.tx, opts)
}

func (f *fixture) create(t *testing.T, modelName string, values map[string]any) int64 {
	t.Helper()
	id, err := f.env.Create(f.ctx, modelName, values)
	require.NoError(t, err)
	return id
}

func (f *fixture) read(t *testing.T, modelName string, id int64, fields ...string) map[string]any {
	t.Helper()
	rows, err := f.env.Read(f.ctx, modelName, []int64{id}, fields)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestCreate_RoundTrip(t *testing.T) {
	f := newFixture(t)

	id := f.create(t, "res.partner", map[string]any{"name": "Ada", "ref": "A1", "age": 36, "lang": "fr_FR"})

	row := f.read(t, "res.partner", id, "name", "ref", "age", "lang", "active", "parent_id", "child_ids", "display_name")
	assert.Equal(t, map[string]any{
		"id":           id,
		"name":         "Ada",
		"ref":          "A1",
		"age":          int64(36),
		"lang":         "fr_FR",
		"active":       true,
		"parent_id":    nil,
		"child_ids":    []int64{},
		"display_name": "Ada [A1]",
	}, row)
}

func TestCreate_LogsCreationOnly(t *testing.T) {
	f := newFixture(t)

	id := f.create(t, "res.partner", map[string]any{"name": "Ada"})

	row := f.read(t, "res.partner", id, "create_date", "write_date")
	assert.NotNil(t, row["create_date"])
	assert.Nil(t, row["write_date"])
}

func TestCreate_IgnoresMagicFields(t *testing.T) {
	f := newFixture(t)

	id := f.create(t, "res.partner", map[string]any{"name": "Ada", "id": 99, "parent_left": 500})

	assert.NotEqual(t, int64(99), id)
	row := f.read(t, "res.partner", id, "parent_left", "parent_right")
	assert.Equal(t, int64(1), row["parent_left"])
	assert.Equal(t, int64(2), row["parent_right"])
}

func TestCreate_UnknownField(t *testing.T) {
	f := newFixture(t)

	_, err := f.env.Create(f.ctx, "res.partner", map[string]any{"name": "Ada", "nickname": "ada"})
	require.Error(t, err)
	assert.True(t, model.IsUnknownField(err))
}

func TestCreate_RequiredAndSelection(t *testing.T) {
	f := newFixture(t)

	_, err := f.env.Create(f.ctx, "res.partner", map[string]any{"lang": "de_DE"})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ErrCodeValidation, verr.Code)
	assert.ElementsMatch(t, []Failure{
		{Field: "name", Message: "field is required"},
		{Field: "lang", Message: `value "de_DE" is not in the selection`},
	}, verr.Failures)
}

func TestCreate_ConstraintRollsBack(t *testing.T) {
	f := newFixture(t)
	f.create(t, "res.partner", map[string]any{"name": "Ada"})

	_, err := f.env.Create(f.ctx, "res.partner", map[string]any{
		"name":      "Bad",
		"age":       -1,
		"child_ids": []any{[]any{0, 0, map[string]any{"name": "Kid"}}},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "age must not be negative")

	// Neither the parent nor its child survived, and the env is still usable.
	n, err := f.env.SearchCount(f.ctx, "res.partner", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	f.create(t, "res.partner", map[string]any{"name": "Bob"})
	require.NoError(t, f.env.VerifyParentStore(f.ctx, "res.partner"))
}

func TestDefaultGet_Precedence(t *testing.T) {
	f := newFixture(t)

	defaults, err := f.env.DefaultGet(f.ctx, "res.partner", []string{"age", "active", "lang"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": int64(0), "active": true}, defaults)

	withCtx := f.env.WithContext(map[string]any{"default_age": 7, "default_lang": "fr_FR"})
	defaults, err = withCtx.DefaultGet(f.ctx, "res.partner", []string{"age", "active", "lang"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": 7, "active": true, "lang": "fr_FR"}, defaults)
}

func TestDefaults_DoNotLeakIntoRelations(t *testing.T) {
	f := newFixture(t)
	env := f.env.WithContext(map[string]any{"default_age": 40})

	id, err := env.Create(f.ctx, "res.partner", map[string]any{
		"name":      "Parent",
		"child_ids": []any{[]any{0, 0, map[string]any{"name": "Kid"}}},
	})
	require.NoError(t, err)

	parent := f.read(t, "res.partner", id, "age", "child_ids")
	assert.Equal(t, int64(40), parent["age"])
	kids := parent["child_ids"].([]int64)
	require.Len(t, kids, 1)
	assert.Equal(t, int64(0), f.read(t, "res.partner", kids[0], "age")["age"])
}

func TestDelegation_CreateReadWrite(t *testing.T) {
	f := newFixture(t)

	uid := f.create(t, "res.user", map[string]any{"login": "ada", "name": "Ada Lovelace", "age": 36})

	user := f.read(t, "res.user", uid, "login", "name", "age", "partner_id")
	assert.Equal(t, "ada", user["login"])
	assert.Equal(t, "Ada Lovelace", user["name"])
	assert.Equal(t, int64(36), user["age"])
	pid := user["partner_id"].(int64)
	assert.Equal(t, "Ada Lovelace", f.read(t, "res.partner", pid, "display_name")["display_name"])

	require.NoError(t, f.env.Write(f.ctx, "res.user", []int64{uid}, map[string]any{"name": "Countess"}))
	assert.Equal(t, "Countess", f.read(t, "res.partner", pid, "name")["name"])

	ids, err := f.env.Search(f.ctx, "res.user", domain.Domain{domain.Leaf{Field: "name", Op: domain.OpEq, Value: "Countess"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{uid}, ids)
}

func TestRead_MissingRecord(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "res.partner", map[string]any{"name": "Ada"})

	_, err := f.env.Read(f.ctx, "res.partner", []int64{id, 404}, []string{"name"})
	require.Error(t, err)
	assert.True(t, IsMissingRecord(err))

	existing, err := f.env.Exists(f.ctx, "res.partner", []int64{404, id})
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, existing)
}

func TestBrowse_SeesWrites(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "res.partner", map[string]any{"name": "Ada"})

	rec := f.env.Browse("res.partner", id)
	name, err := rec.Get(f.ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)

	require.NoError(t, f.env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"name": "Grace"}))
	name, err = rec.Get(f.ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "Grace", name)
}

func TestBrowse_VirtualDispatchToArchivedSubtype(t *testing.T) {
	reg := model.NewRegistry()
	require.NoError(t, reg.Register(&model.Model{
		Name: "doc.base",
		Fields: []*model.Column{
			{Name: "name", Kind: model.KindChar},
			{Name: "label", Kind: model.KindChar},
		},
	}))
	require.NoError(t, reg.Register(&model.Model{
		Name:     "doc.note",
		Inherits: []model.Delegation{{Parent: "doc.base", Field: "base_id"}},
		Virtuals: []string{"label"},
		Fields: []*model.Column{
			{Name: "base_id", Kind: model.KindMany2One, Relation: "doc.base"},
			{Name: "label", Kind: model.KindChar},
			{Name: "active", Kind: model.KindBoolean},
		},
	}))
	require.NoError(t, reg.Finalize())
	f := newFixtureWith(t, reg)

	note := f.create(t, "doc.note", map[string]any{"name": "N", "label": "note label", "active": false})
	base := f.read(t, "doc.note", note, "base_id")["base_id"].(int64)

	label, err := f.env.Browse("doc.base", base).Get(f.ctx, "label")
	require.NoError(t, err)
	assert.Equal(t, "note label", label)
}

func TestEnv_TransactionID(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "tx-1", f.env.ID())

	gen := NewFixedGenerator("a", "b")
	env := f.newEnv(Options{IDs: gen})
	assert.Equal(t, "a", env.ID())
}
