package orm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recordkit/internal/domain"
	"github.com/roach88/recordkit/internal/hooks"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/testutil"
)

func TestWrite_UpdatesValuesAndWriteDate(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "res.partner", map[string]any{"name": "Ada", "ref": "A1"})

	require.NoError(t, f.env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"name": "Grace", "age": 85}))

	row := f.read(t, "res.partner", id, "name", "age", "display_name", "write_date")
	assert.Equal(t, "Grace", row["name"])
	assert.Equal(t, int64(85), row["age"])
	assert.Equal(t, "Grace [A1]", row["display_name"])
	assert.NotNil(t, row["write_date"])
}

func TestWrite_MissingRecord(t *testing.T) {
	f := newFixture(t)

	err := f.env.Write(f.ctx, "res.partner", []int64{404}, map[string]any{"name": "Ghost"})
	require.Error(t, err)
	assert.True(t, IsMissingRecord(err))

	assert.NoError(t, f.env.Write(f.ctx, "res.partner", nil, map[string]any{"name": "Nobody"}))
}

func TestWrite_ConstraintRollsBack(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "res.partner", map[string]any{"name": "Ada", "age": 36})

	err := f.env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"name": "Bad", "age": -5})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	row := f.read(t, "res.partner", id, "name", "age")
	assert.Equal(t, "Ada", row["name"])
	assert.Equal(t, int64(36), row["age"])
}

func TestWriteWithTokens_RejectsStaleWrites(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "res.partner", map[string]any{"name": "Ada"})

	seen, err := f.env.ConcurrencyToken(f.ctx, "res.partner", []int64{id})
	require.NoError(t, err)
	require.Contains(t, seen, id)

	// Unchanged since read: accepted.
	require.NoError(t, f.env.WriteWithTokens(f.ctx, "res.partner", []int64{id}, map[string]any{"age": 1}, seen))

	// The write above moved the token past what was seen.
	err = f.env.WriteWithTokens(f.ctx, "res.partner", []int64{id}, map[string]any{"age": 2}, seen)
	require.Error(t, err)
	assert.True(t, IsConcurrencyError(err))
	var cerr *ConcurrencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []int64{id}, cerr.IDs)
	assert.Equal(t, int64(1), f.read(t, "res.partner", id, "age")["age"])

	fresh, err := f.env.ConcurrencyToken(f.ctx, "res.partner", []int64{id})
	require.NoError(t, err)
	require.NoError(t, f.env.WriteWithTokens(f.ctx, "res.partner", []int64{id}, map[string]any{"age": 2}, fresh))
}

func TestWriteWithTokens_SubSecondWrites(t *testing.T) {
	clocks := map[string]func() time.Time{
		"millisecond step": testutil.NewSteppedClock(time.Millisecond).Now,
		"wall clock":       time.Now,
	}
	for name, clock := range clocks {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			env := f.newEnv(Options{})
			env.opts.Clock = clock
			id, err := env.Create(f.ctx, "res.partner", map[string]any{"name": "Ada"})
			require.NoError(t, err)

			seen, err := env.ConcurrencyToken(f.ctx, "res.partner", []int64{id})
			require.NoError(t, err)
			require.NoError(t, env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"age": 1}))

			// Same second as the token; the write must still be seen.
			err = env.WriteWithTokens(f.ctx, "res.partner", []int64{id}, map[string]any{"age": 2}, seen)
			require.Error(t, err)
			assert.True(t, IsConcurrencyError(err))
			assert.Equal(t, int64(1), f.read(t, "res.partner", id, "age")["age"])
		})
	}
}

func TestNewer_MixedPrecision(t *testing.T) {
	assert.True(t, newer("2024-01-01 00:00:00.000200", "2024-01-01 00:00:00.000100"))
	assert.False(t, newer("2024-01-01 00:00:00.000100", "2024-01-01 00:00:00.000100"))
	assert.True(t, newer("2024-01-01 00:00:00.500000", "2024-01-01 00:00:00"))
	assert.False(t, newer("2024-01-01 00:00:00", "2024-01-01 00:00:00.000000"))
}

func TestConcurrencyToken_UnloggedModel(t *testing.T) {
	f := newFixture(t)
	tag := f.create(t, "res.tag", map[string]any{"name": "Red"})

	tokens, err := f.env.ConcurrencyToken(f.ctx, "res.tag", []int64{tag})
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestWrite_TranslatableField(t *testing.T) {
	f := newFixture(t)
	tag := f.create(t, "res.tag", map[string]any{"name": "Red"})
	fr := f.newEnv(Options{Lang: "fr_FR"})

	require.NoError(t, fr.Write(f.ctx, "res.tag", []int64{tag}, map[string]any{"name": "Rouge"}))

	rows, err := fr.Read(f.ctx, "res.tag", []int64{tag}, []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, "Rouge", rows[0]["name"])
	assert.Equal(t, "Red", f.read(t, "res.tag", tag, "name")["name"])

	found, err := fr.Search(f.ctx, "res.tag", domain.Domain{leaf("name", "=", "Rouge")})
	require.NoError(t, err)
	assert.Equal(t, []int64{tag}, found)

	found, err = f.env.Search(f.ctx, "res.tag", domain.Domain{leaf("name", "=", "Rouge")})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestWrite_SelectionValidated(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "res.partner", map[string]any{"name": "Ada"})

	err := f.env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"lang": "xx_XX"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	require.NoError(t, f.env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"lang": false}))
	assert.Nil(t, f.read(t, "res.partner", id, "lang")["lang"])
}

func TestWrite_TypeMismatch(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "res.partner", map[string]any{"name": "Ada"})

	err := f.env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"age": "old"})
	require.Error(t, err)
	var mismatch *model.TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestHooks_DeliveredAfterSuccess(t *testing.T) {
	f := newFixture(t)
	d := hooks.NewDispatcher(quietLogger())
	var got []hooks.Event
	d.Subscribe("res.partner", func(_ context.Context, ev hooks.Event) error {
		got = append(got, ev)
		return nil
	})
	env := f.newEnv(Options{Hooks: d})

	id, err := env.Create(f.ctx, "res.partner", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"name": "Grace"}))
	assert.Equal(t, 2, d.Pending())

	_, err = env.Create(f.ctx, "res.partner", map[string]any{"age": -1})
	require.Error(t, err)
	assert.Equal(t, 2, d.Pending(), "failed operations emit nothing")

	_, err = env.Create(f.ctx, "res.tag", map[string]any{"name": "Red"})
	require.NoError(t, err)

	assert.Equal(t, 3, d.Drain(f.ctx))
	require.Len(t, got, 2, "only res.partner events reach the subscriber")
	assert.Equal(t, hooks.KindCreate, got[0].Kind)
	assert.Equal(t, []int64{id}, got[0].IDs)
	assert.Equal(t, hooks.KindWrite, got[1].Kind)
	assert.Equal(t, []string{"name"}, got[1].Fields)
	assert.Equal(t, env.ID(), got[1].Tx)
}

func TestErrorCode(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, "res.partner", map[string]any{"name": "Ada"})

	_, err := f.env.Create(f.ctx, "res.partner", map[string]any{})
	assert.Equal(t, ErrCodeValidation, ErrorCode(err))

	_, err = f.env.Read(f.ctx, "res.partner", []int64{404}, nil)
	assert.Equal(t, "MISSING_RECORD", ErrorCode(err))

	err = f.env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"nickname": "x"})
	assert.Equal(t, model.ErrCodeUnknownField, ErrorCode(err))

	err = f.env.Write(f.ctx, "res.partner", []int64{id}, map[string]any{"parent_id": id})
	assert.Equal(t, ErrCodeRecursion, ErrorCode(err))

	assert.Empty(t, ErrorCode(nil))
}
