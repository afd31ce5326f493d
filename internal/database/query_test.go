package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/errs"
)

func TestSelect_Postgres(t *testing.T) {
	sql, args, err := Select("documents", DialectPostgres).
		Columns("storage_key", "display_name").
		Where("category", "=", "invoice").
		WhereNull("owner_id").
		OrderBy("created_at", Desc).
		Limit(11).
		Offset(10).
		Build()

	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "storage_key", "display_name" FROM "documents" WHERE "category" = $1 AND "owner_id" IS NULL ORDER BY "created_at" DESC LIMIT $2 OFFSET $3`,
		sql)
	assert.Equal(t, []any{"invoice", 11, 10}, args)
}

func TestSelect_MySQL(t *testing.T) {
	sql, args, err := Select("documents", DialectMySQL).
		Where("display_name", "ilike", "%fatura%").
		WhereIn("category", "invoice", "tax").
		Build()

	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM `documents` WHERE `display_name` LIKE ? AND `category` IN (?, ?)",
		sql)
	assert.Equal(t, []any{"%fatura%", "invoice", "tax"}, args)
}

func TestSelect_RejectsOperator(t *testing.T) {
	_, _, err := Select("documents", DialectPostgres).Where("id", "; DROP", 1).Build()
	assert.True(t, errs.IsInvalidInput(err))
}

func TestInsert_OnConflictDoNothing(t *testing.T) {
	pg, pgArgs, err := Insert("documents", DialectPostgres).
		Columns("storage_key", "category").
		Values("invoice/a.pdf", "invoice").
		Values("invoice/b.pdf", "invoice").
		OnConflictDoNothing("storage_key").
		Build()
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "documents" ("storage_key", "category") VALUES ($1, $2), ($3, $4) ON CONFLICT ("storage_key") DO NOTHING`,
		pg)
	assert.Len(t, pgArgs, 4)

	my, _, err := Insert("documents", DialectMySQL).
		Columns("storage_key", "category").
		Values("invoice/a.pdf", "invoice").
		OnConflictDoNothing("storage_key").
		Build()
	require.NoError(t, err)
	assert.Equal(t, "INSERT IGNORE INTO `documents` (`storage_key`, `category`) VALUES (?, ?)", my)
}

func TestInsert_OnConflictUpdate(t *testing.T) {
	pg, _, err := Insert("documents", DialectPostgres).
		Columns("storage_key", "display_name").
		Values("k", "n").
		OnConflictUpdate([]string{"storage_key"}, "display_name").
		Build()
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "documents" ("storage_key", "display_name") VALUES ($1, $2) ON CONFLICT ("storage_key") DO UPDATE SET "display_name" = EXCLUDED."display_name"`,
		pg)

	my, _, err := Insert("documents", DialectMySQL).
		Columns("storage_key", "display_name").
		Values("k", "n").
		OnConflictUpdate([]string{"storage_key"}, "display_name").
		Build()
	require.NoError(t, err)
	assert.Equal(t,
		"INSERT INTO `documents` (`storage_key`, `display_name`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `display_name` = VALUES(`display_name`)",
		my)
}

func TestInsert_Validation(t *testing.T) {
	_, _, err := Insert("t", DialectPostgres).Values(1).Build()
	assert.True(t, errs.IsInvalidInput(err))

	_, _, err = Insert("t", DialectPostgres).Columns("a").Build()
	assert.True(t, errs.IsInvalidInput(err))

	_, _, err = Insert("t", DialectPostgres).Columns("a", "b").Values(1).Build()
	assert.True(t, errs.IsInvalidInput(err))

	_, _, err = Insert("t", DialectPostgres).Columns("a").Values(1).OnConflictUpdate(nil, "a").Build()
	assert.True(t, errs.IsInvalidInput(err))
}

func TestDelete(t *testing.T) {
	sql, args, err := Delete("documents", DialectPostgres).
		WhereIn("storage_key", "a", "b", "c").
		Build()
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "documents" WHERE "storage_key" IN ($1, $2, $3)`, sql)
	assert.Equal(t, []any{"a", "b", "c"}, args)

	sql, args, err = Delete("documents", DialectMySQL).WhereIn("storage_key").Build()
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM `documents` WHERE 1 = 0", sql)
	assert.Empty(t, args)

	_, _, err = Delete("documents", DialectPostgres).Build()
	assert.True(t, errs.IsInvalidInput(err))
}
