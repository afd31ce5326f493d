package schema

import (
	"context"

	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/errs"
)

const pgTableExists = `
	SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	)`

const mysqlTableExists = `
	SELECT COUNT(*) > 0
	FROM information_schema.tables
	WHERE table_schema = DATABASE() AND table_name = ?`

const pgColumns = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES'          AS is_nullable,
		COALESCE(pk.is_pk, false)      AS is_primary_key,
		COALESCE(uq.is_unique, false)  AS is_unique
	FROM information_schema.columns c

	-- Primary key check
	LEFT JOIN (
		SELECT kcu.column_name, true AS is_pk
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = current_schema()
		  AND tc.table_name   = $1
	) pk ON pk.column_name = c.column_name

	-- Unique constraint check
	LEFT JOIN (
		SELECT kcu.column_name, true AS is_unique
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'UNIQUE'
		  AND tc.table_schema = current_schema()
		  AND tc.table_name   = $1
	) uq ON uq.column_name = c.column_name

	WHERE c.table_schema = current_schema() AND c.table_name = $1
	ORDER BY c.ordinal_position`

const mysqlColumns = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES'   AS is_nullable,
		(c.column_key = 'PRI')  AS is_primary_key,
		(c.column_key = 'UNI')  AS is_unique
	FROM information_schema.columns c
	WHERE c.table_schema = DATABASE()
	  AND c.table_name   = ?
	ORDER BY c.ordinal_position`

// TableExists checks whether a specific table exists
func (i *Inspector) TableExists(ctx context.Context, table string) (bool, error) {
	q := pgTableExists
	if i.db.Dialect() == database.DialectMySQL {
		q = mysqlTableExists
	}

	var exists bool
	if err := i.db.QueryRow(ctx, q, table).Scan(&exists); err != nil {
		return false, errs.Wrap(errs.KindOf(err), "table exists check", err)
	}
	return exists, nil
}

// InspectTable returns column details for a single table. A table with no
// visible columns is reported as errs.ErrKindNotFound.
func (i *Inspector) InspectTable(ctx context.Context, table string) (*TableInfo, error) {
	q := pgColumns
	if i.db.Dialect() == database.DialectMySQL {
		q = mysqlColumns
	}

	rows, err := i.db.Query(ctx, q, table)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "inspect table "+table, err)
	}
	defer rows.Close()

	info := &TableInfo{Name: table}
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(
			&col.Name,
			&col.DataType,
			&col.IsNullable,
			&col.IsPrimaryKey,
			&col.IsUnique,
		); err != nil {
			return nil, err
		}
		info.Columns = append(info.Columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(info.Columns) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "table %s not found or has no columns", table)
	}
	return info, nil
}
