// Package migrations embeds the index schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/pressly/goose/v3"

	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/errs"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// Tables lists the tables the migrations create, with the columns the index
// repositories read and write.
var Tables = map[string][]string{
	"clients":   {"id", "name", "email", "whatsapp", "created_at"},
	"documents": {"id", "client_id", "document_type", "file_path", "filename", "url", "created_at"},
}

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, p *goose.Provider) error {
	_, err := p.Up(ctx)
	return err
}

// Source returns the migration files for the driver.
func Source(driver database.Driver) (fs.FS, error) {
	switch driver {
	case database.DriverPostgres, database.DriverMySQL:
		return fs.Sub(files, string(driver))
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "no migrations for driver %q", driver)
}

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB, driver database.Driver) error {
	p, err := provider(db, driver)
	if err != nil {
		return err
	}
	if err := gooseUp(ctx, p); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "apply migrations", err)
	}
	return nil
}

// Status reports the applied version and whether migrations are pending.
func Status(ctx context.Context, db *sql.DB, driver database.Driver) (version int64, pending bool, err error) {
	p, err := provider(db, driver)
	if err != nil {
		return 0, false, err
	}
	if version, err = p.GetDBVersion(ctx); err != nil {
		return 0, false, errs.Wrap(errs.ErrKindQueryFailed, "read schema version", err)
	}
	if pending, err = p.HasPending(ctx); err != nil {
		return 0, false, errs.Wrap(errs.ErrKindQueryFailed, "check pending migrations", err)
	}
	return version, pending, nil
}

func provider(db *sql.DB, driver database.Driver) (*goose.Provider, error) {
	src, err := Source(driver)
	if err != nil {
		return nil, err
	}

	dialect := goose.DialectPostgres
	if driver == database.DriverMySQL {
		dialect = goose.DialectMySQL
	}

	p, err := goose.NewProvider(dialect, db, src)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "load migrations", err)
	}
	return p, nil
}
