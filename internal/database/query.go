package database

import (
	"fmt"
	"strings"

	"github.com/koustreak/docrelay/internal/errs"
)

// Dialect controls which SQL placeholder, quoting and upsert style the
// query builders emit.
type Dialect int

const (
	// DialectPostgres uses $1, $2, … placeholders and "double quoted" identifiers.
	DialectPostgres Dialect = iota

	// DialectMySQL uses ? placeholders and `backtick` identifiers.
	DialectMySQL
)

// validOps is the allowlist of comparison operators for WHERE clauses.
// Any operator not in this list is rejected to prevent SQL injection
// through the operator position (which cannot be parameterized).
var validOps = map[string]bool{
	"=":     true,
	"!=":    true,
	"<>":    true,
	"<":     true,
	">":     true,
	"<=":    true,
	">=":    true,
	"LIKE":  true,
	"ILIKE": true,
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

type whereClause struct {
	column string
	op     string // "IN" and "IS NULL" are produced by WhereIn / WhereNull only
	values []any
}

type orderClause struct {
	column string
	dir    SortDirection
}

// conditions is the WHERE state shared by the SELECT and DELETE builders.
type conditions struct {
	where []whereClause
}

func (c *conditions) add(column, op string, values ...any) {
	c.where = append(c.where, whereClause{column: column, op: op, values: values})
}

// render appends the WHERE clause to sb, numbering placeholders from *argIdx.
func (c *conditions) render(sb *strings.Builder, d Dialect, args *[]any, argIdx *int) error {
	if len(c.where) == 0 {
		return nil
	}

	parts := make([]string, 0, len(c.where))
	for _, w := range c.where {
		switch w.op {
		case "IS NULL":
			parts = append(parts, quoteIdent(d, w.column)+" IS NULL")
		case "IN":
			if len(w.values) == 0 {
				// An empty IN list matches nothing.
				parts = append(parts, "1 = 0")
				continue
			}
			phs := make([]string, len(w.values))
			for i, v := range w.values {
				phs[i] = placeholder(d, *argIdx)
				*args = append(*args, v)
				*argIdx++
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", quoteIdent(d, w.column), strings.Join(phs, ", ")))
		default:
			op := strings.ToUpper(w.op)
			if !validOps[op] {
				return errs.Newf(errs.ErrKindInvalidInput, "unsupported WHERE operator: %q", w.op)
			}
			if op == "ILIKE" && d == DialectMySQL {
				// MySQL's default collations are already case-insensitive.
				op = "LIKE"
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", quoteIdent(d, w.column), op, placeholder(d, *argIdx)))
			*args = append(*args, w.values[0])
			*argIdx++
		}
	}

	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(parts, " AND "))
	return nil
}

// SelectBuilder constructs a parameterized SELECT query using a fluent API.
// Values are never interpolated into the SQL string; they are always passed as args.
//
// Usage (Postgres):
//
//	sql, args, err := Select("documents", DialectPostgres).
//	    Columns("storage_key", "display_name").
//	    Where("category", "=", "invoice").
//	    OrderBy("created_at", Desc).
//	    Limit(11).
//	    Offset(0).
//	    Build()
type SelectBuilder struct {
	conditions
	table   string
	dialect Dialect
	columns []string
	orderBy []orderClause
	limit   *int
	offset  *int
}

// Select starts a new SelectBuilder for the given table and dialect.
func Select(table string, d Dialect) *SelectBuilder {
	return &SelectBuilder{table: table, dialect: d}
}

// Columns restricts the SELECT to the specified columns.
// If not called, SELECT * is used.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Where adds a WHERE condition. op must be one of the allowed comparison
// operators (=, !=, <, >, <=, >=, LIKE, ILIKE).
// Multiple calls are combined with AND.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.add(column, op, value)
	return b
}

// WhereNull adds a "column IS NULL" condition.
func (b *SelectBuilder) WhereNull(column string) *SelectBuilder {
	b.add(column, "IS NULL")
	return b
}

// WhereIn adds a "column IN (...)" condition.
func (b *SelectBuilder) WhereIn(column string, values ...any) *SelectBuilder {
	b.add(column, "IN", values...)
	return b
}

// OrderBy appends an ORDER BY clause for the given column and direction.
func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	b.orderBy = append(b.orderBy, orderClause{column, dir})
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Offset sets the number of rows to skip (for pagination).
func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = &n
	return b
}

// Build produces the final SQL string and argument slice.
// Returns an error if any WHERE operator is not in the allowlist.
func (b *SelectBuilder) Build() (string, []any, error) {
	cols := "*"
	if len(b.columns) > 0 {
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = quoteIdent(b.dialect, c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(b.dialect, b.table))

	var args []any
	argIdx := 1

	if err := b.render(&sb, b.dialect, &args, &argIdx); err != nil {
		return "", nil, err
	}

	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			dir := "ASC"
			if o.dir == Desc {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", quoteIdent(b.dialect, o.column), dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if b.limit != nil {
		sb.WriteString(" LIMIT " + placeholder(b.dialect, argIdx))
		args = append(args, *b.limit)
		argIdx++
	}

	if b.offset != nil {
		sb.WriteString(" OFFSET " + placeholder(b.dialect, argIdx))
		args = append(args, *b.offset)
	}

	return sb.String(), args, nil
}

// conflictMode selects what an INSERT does with a duplicate key.
type conflictMode int

const (
	conflictFail conflictMode = iota
	conflictIgnore
	conflictUpdate
)

// InsertBuilder constructs a parameterized multi-row INSERT with optional
// per-dialect conflict handling.
//
//	sql, args, err := Insert("documents", DialectPostgres).
//	    Columns("storage_key", "display_name").
//	    Values("invoice/x.pdf", "x.pdf").
//	    OnConflictUpdate([]string{"storage_key"}, "display_name").
//	    Build()
type InsertBuilder struct {
	table      string
	dialect    Dialect
	columns    []string
	rows       [][]any
	mode       conflictMode
	conflictOn []string
	updateCols []string
}

// Insert starts a new InsertBuilder for the given table and dialect.
func Insert(table string, d Dialect) *InsertBuilder {
	return &InsertBuilder{table: table, dialect: d}
}

// Columns sets the inserted column list.
func (b *InsertBuilder) Columns(cols ...string) *InsertBuilder {
	b.columns = cols
	return b
}

// Values appends one row. Its arity must match Columns.
func (b *InsertBuilder) Values(vals ...any) *InsertBuilder {
	b.rows = append(b.rows, vals)
	return b
}

// OnConflictDoNothing skips rows that collide with an existing unique key.
// Postgres: ON CONFLICT (cols) DO NOTHING. MySQL: INSERT IGNORE.
func (b *InsertBuilder) OnConflictDoNothing(conflictCols ...string) *InsertBuilder {
	b.mode = conflictIgnore
	b.conflictOn = conflictCols
	return b
}

// OnConflictUpdate overwrites updateCols of the existing row on a key collision.
// Postgres: ON CONFLICT (cols) DO UPDATE SET c = EXCLUDED.c.
// MySQL: ON DUPLICATE KEY UPDATE c = VALUES(c).
func (b *InsertBuilder) OnConflictUpdate(conflictCols []string, updateCols ...string) *InsertBuilder {
	b.mode = conflictUpdate
	b.conflictOn = conflictCols
	b.updateCols = updateCols
	return b
}

// Build produces the final SQL string and argument slice.
func (b *InsertBuilder) Build() (string, []any, error) {
	if len(b.columns) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "insert without columns")
	}
	if len(b.rows) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "insert without values")
	}
	if b.mode == conflictUpdate && len(b.updateCols) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "upsert without update columns")
	}

	var sb strings.Builder
	if b.mode == conflictIgnore && b.dialect == DialectMySQL {
		sb.WriteString("INSERT IGNORE INTO ")
	} else {
		sb.WriteString("INSERT INTO ")
	}
	sb.WriteString(quoteIdent(b.dialect, b.table))
	sb.WriteString(" (")
	sb.WriteString(quoteList(b.dialect, b.columns))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(b.rows)*len(b.columns))
	argIdx := 1
	tuples := make([]string, len(b.rows))
	for i, row := range b.rows {
		if len(row) != len(b.columns) {
			return "", nil, errs.Newf(errs.ErrKindInvalidInput,
				"insert row %d has %d values for %d columns", i, len(row), len(b.columns))
		}
		phs := make([]string, len(row))
		for j, v := range row {
			phs[j] = placeholder(b.dialect, argIdx)
			args = append(args, v)
			argIdx++
		}
		tuples[i] = "(" + strings.Join(phs, ", ") + ")"
	}
	sb.WriteString(strings.Join(tuples, ", "))

	switch {
	case b.mode == conflictIgnore && b.dialect == DialectPostgres:
		sb.WriteString(" ON CONFLICT")
		if len(b.conflictOn) > 0 {
			sb.WriteString(" (" + quoteList(b.dialect, b.conflictOn) + ")")
		}
		sb.WriteString(" DO NOTHING")

	case b.mode == conflictUpdate && b.dialect == DialectPostgres:
		if len(b.conflictOn) == 0 {
			return "", nil, errs.New(errs.ErrKindInvalidInput, "postgres upsert needs conflict columns")
		}
		sets := make([]string, len(b.updateCols))
		for i, c := range b.updateCols {
			q := quoteIdent(b.dialect, c)
			sets[i] = q + " = EXCLUDED." + q
		}
		sb.WriteString(" ON CONFLICT (" + quoteList(b.dialect, b.conflictOn) + ") DO UPDATE SET ")
		sb.WriteString(strings.Join(sets, ", "))

	case b.mode == conflictUpdate && b.dialect == DialectMySQL:
		sets := make([]string, len(b.updateCols))
		for i, c := range b.updateCols {
			q := quoteIdent(b.dialect, c)
			sets[i] = q + " = VALUES(" + q + ")"
		}
		sb.WriteString(" ON DUPLICATE KEY UPDATE ")
		sb.WriteString(strings.Join(sets, ", "))
	}

	return sb.String(), args, nil
}

// DeleteBuilder constructs a parameterized DELETE. A DELETE without any
// condition is refused.
type DeleteBuilder struct {
	conditions
	table   string
	dialect Dialect
}

// Delete starts a new DeleteBuilder for the given table and dialect.
func Delete(table string, d Dialect) *DeleteBuilder {
	return &DeleteBuilder{table: table, dialect: d}
}

// Where adds a WHERE condition; see SelectBuilder.Where.
func (b *DeleteBuilder) Where(column, op string, value any) *DeleteBuilder {
	b.add(column, op, value)
	return b
}

// WhereIn adds a "column IN (...)" condition.
func (b *DeleteBuilder) WhereIn(column string, values ...any) *DeleteBuilder {
	b.add(column, "IN", values...)
	return b
}

// Build produces the final SQL string and argument slice.
func (b *DeleteBuilder) Build() (string, []any, error) {
	if len(b.where) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "refusing DELETE without WHERE")
	}

	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(quoteIdent(b.dialect, b.table))

	var args []any
	argIdx := 1
	if err := b.render(&sb, b.dialect, &args, &argIdx); err != nil {
		return "", nil, err
	}
	return sb.String(), args, nil
}

// placeholder returns the correct parameter placeholder for the dialect.
// Postgres: $1, $2, …   MySQL: ? (index is ignored)
func placeholder(d Dialect, idx int) string {
	if d == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", idx)
}

// quoteIdent quotes a SQL identifier for the dialect, which safely handles
// reserved words and mixed-case names.
func quoteIdent(d Dialect, name string) string {
	if d == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(d, n)
	}
	return strings.Join(quoted, ", ")
}
