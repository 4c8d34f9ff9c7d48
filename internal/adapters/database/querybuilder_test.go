package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryBuilder_PostgresSelectWithSearch(t *testing.T) {
	qb := NewQueryBuilder("postgres").
		Select("id", "title", "content").
		From("runbooks").
		WhereStatic(map[string]string{"team": "sre"}).
		WhereSearch([]string{"title", "content"}, "disk full", false).
		OrderBy("updated_at", true).
		Paginate(20, 40)

	query, args := qb.Build()

	assert.Contains(t, query, `FROM "runbooks"`)
	assert.Contains(t, query, `"team" = $1`)
	assert.Contains(t, query, `"title" ILIKE $2 OR "content" ILIKE $3`)
	assert.Contains(t, query, "ORDER BY \"updated_at\" DESC")
	assert.Contains(t, query, "LIMIT 20 OFFSET 40")
	assert.Equal(t, []interface{}{"sre", "%disk full%", "%disk full%"}, args)
}

func TestQueryBuilder_MySQLUsesBackticksAndPlaceholders(t *testing.T) {
	qb := NewQueryBuilder("mysql").Select("id").From("docs").WhereEquals("category", "guide")
	query, args := qb.Build()

	assert.Contains(t, query, "SELECT `id` FROM `docs`")
	assert.Contains(t, query, "`category` = ?")
	assert.Equal(t, []interface{}{"guide"}, args)
}

func TestQueryBuilder_SQLServerUsesOffsetFetch(t *testing.T) {
	qb := NewQueryBuilder("sqlserver").Select("id").From("docs").Paginate(10, 5)
	query, _ := qb.Build()

	assert.Contains(t, query, "SELECT [id] FROM [docs]")
	assert.Contains(t, query, "OFFSET 5 ROWS FETCH NEXT 10 ROWS ONLY")
}

func TestQueryBuilder_DocumentDialectUsesRegexAlternation(t *testing.T) {
	qb := NewQueryBuilder("document").Select("*").From("pages").WhereSearch([]string{"body"}, "escalate", false)
	query, args := qb.Build()

	assert.Contains(t, query, `"body" ~* $1`)
	assert.Equal(t, []interface{}{"escalate"}, args)
}
