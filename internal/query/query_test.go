package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuery_TablesDeduplicated(t *testing.T) {
	q := New("res_partner")
	assert.False(t, q.AddTable("res_partner"))
	assert.True(t, q.AddTable("res_users"))
	assert.Equal(t, []string{`"res_partner"`, `"res_users"`}, q.Tables())
	assert.True(t, q.HasTable("res_users"))
	assert.False(t, q.HasTable("res_country"))
}

func TestQuery_Where(t *testing.T) {
	q := New("person")
	q.AddWhere(`("person"."age" >= ?)`, 18)
	q.AddWhere("")
	q.AddWhere(`("person"."age" < ?)`, 65)

	from, where, params := q.SQL()
	assert.Equal(t, `"person"`, from)
	assert.Equal(t, `("person"."age" >= ?) AND ("person"."age" < ?)`, where)
	assert.Equal(t, []any{18, 65}, params)
}

func TestQuery_ImplicitJoin(t *testing.T) {
	q := New("res_users")
	assert.True(t, q.AddImplicitJoin("res_users", "partner_id", "res_partner", "id"))
	assert.False(t, q.AddImplicitJoin("res_users", "partner_id", "res_partner", "id"))

	from, where, _ := q.SQL()
	assert.Equal(t, `"res_users", "res_partner"`, from)
	assert.Equal(t, `("res_users"."partner_id" = "res_partner"."id")`, where)
}

func TestQuery_OuterJoin(t *testing.T) {
	q := New("res_partner")
	alias := q.AddOuterJoin("res_partner", "country_id", "res_country", "id")
	assert.Equal(t, "res_partner__country_id", alias)
	assert.Equal(t, alias, q.AddOuterJoin("res_partner", "country_id", "res_country", "id"))

	nested := q.AddOuterJoin(alias, "zone_id", "res_zone", "id")
	assert.Equal(t, "res_partner__country_id__zone_id", nested)

	sql, params := q.Select(`"res_partner"."id"`)
	assert.Equal(t,
		`SELECT "res_partner"."id" FROM "res_partner"`+
			` LEFT OUTER JOIN "res_country" AS "res_partner__country_id" ON ("res_partner"."country_id" = "res_partner__country_id"."id")`+
			` LEFT OUTER JOIN "res_zone" AS "res_partner__country_id__zone_id" ON ("res_partner__country_id"."zone_id" = "res_partner__country_id__zone_id"."id")`,
		sql)
	assert.Empty(t, params)
}

func TestQuery_Deterministic(t *testing.T) {
	build := func() string {
		q := New("a")
		q.AddImplicitJoin("a", "b_id", "b", "id")
		q.AddOuterJoin("a", "c_id", "c", "id")
		q.AddWhere(`("a"."x" = ?)`, 1)
		sql, _ := q.Select("*")
		return sql
	}
	assert.Equal(t, build(), build())
}
