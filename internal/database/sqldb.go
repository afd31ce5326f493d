package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/koustreak/docrelay/internal/errs"
)

// ErrorMapper converts a driver-native error into *errs.Error.
type ErrorMapper func(err error, msg string) *errs.Error

// SQLDB adapts a *sql.DB to DB. The MySQL driver is built on it, and tests
// wrap a go-sqlmock connection with it.
type SQLDB struct {
	db      *sql.DB
	dialect Dialect
	mapErr  ErrorMapper
}

var _ DB = (*SQLDB)(nil)

// WrapSQL returns a DB backed by db. A nil mapErr uses MapSQLError.
func WrapSQL(db *sql.DB, d Dialect, mapErr ErrorMapper) *SQLDB {
	if mapErr == nil {
		mapErr = MapSQLError
	}
	return &SQLDB{db: db, dialect: d, mapErr: mapErr}
}

func (s *SQLDB) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return s.mapErr(err, "ping failed")
	}
	return nil
}

func (s *SQLDB) Close() {
	_ = s.db.Close()
}

func (s *SQLDB) Dialect() Dialect {
	return s.dialect
}

// Raw exposes the pool for tooling that needs *sql.DB (migrations).
func (s *SQLDB) Raw() *sql.DB {
	return s.db
}

func (s *SQLDB) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.mapErr(err, "query failed")
	}
	return &sqlRows{rows: rows, mapErr: s.mapErr}, nil
}

func (s *SQLDB) QueryRow(ctx context.Context, query string, args ...any) Row {
	return &sqlRow{row: s.db.QueryRowContext(ctx, query, args...), mapErr: s.mapErr}
}

func (s *SQLDB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.mapErr(err, "exec failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.mapErr(err, "rows affected unavailable")
	}
	return n, nil
}

type sqlRows struct {
	rows   *sql.Rows
	mapErr ErrorMapper
}

func (r *sqlRows) Next() bool { return r.rows.Next() }
func (r *sqlRows) Close()     { _ = r.rows.Close() }

func (r *sqlRows) Scan(dest ...any) error {
	if err := r.rows.Scan(dest...); err != nil {
		return r.mapErr(err, "scan failed")
	}
	return nil
}

func (r *sqlRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return r.mapErr(err, "row iteration failed")
	}
	return nil
}

type sqlRow struct {
	row    *sql.Row
	mapErr ErrorMapper
}

func (r *sqlRow) Scan(dest ...any) error {
	if err := r.row.Scan(dest...); err != nil {
		return r.mapErr(err, "scan failed")
	}
	return nil
}

// MapSQLError handles the engine-independent database/sql errors.
func MapSQLError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	case errors.Is(err, sql.ErrConnDone):
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
