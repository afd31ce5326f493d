// Package schema introspects the index database through information_schema.
// docrelay uses it to confirm the migrated tables are present before serving.
package schema

import (
	"context"
	"sort"
	"strings"

	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/errs"
)

// ColumnInfo describes a single column in a table
type ColumnInfo struct {
	Name         string
	DataType     string
	IsNullable   bool
	IsPrimaryKey bool
	IsUnique     bool
}

// TableInfo describes a table and its columns
type TableInfo struct {
	Name    string
	Columns []ColumnInfo
}

// Column returns the named column, if present.
func (t *TableInfo) Column(name string) (ColumnInfo, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// Inspector reads table structure from the connected database's current
// schema (Postgres current_schema(), MySQL DATABASE()).
type Inspector struct {
	db database.DB
}

// NewInspector returns an Inspector using db's dialect.
func NewInspector(db database.DB) *Inspector {
	return &Inspector{db: db}
}

// Verify checks that every table in want exists with at least the listed
// columns. The returned error is errs.ErrKindNotFound naming what is missing.
func (i *Inspector) Verify(ctx context.Context, want map[string][]string) error {
	tables := make([]string, 0, len(want))
	for t := range want {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var missing []string
	for _, table := range tables {
		info, err := i.InspectTable(ctx, table)
		if errs.IsNotFound(err) {
			missing = append(missing, table)
			continue
		}
		if err != nil {
			return err
		}
		for _, col := range want[table] {
			if _, ok := info.Column(col); !ok {
				missing = append(missing, table+"."+col)
			}
		}
	}

	if len(missing) > 0 {
		return errs.Newf(errs.ErrKindNotFound, "index schema incomplete, missing %s (run `docrelay migrate`)",
			strings.Join(missing, ", "))
	}
	return nil
}
