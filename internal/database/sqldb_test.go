package database

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/errs"
)

func newMock(t *testing.T) (*SQLDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return WrapSQL(db, DialectPostgres, nil), mock
}

func TestSQLDB_Query(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT").
		WithArgs("invoice").
		WillReturnRows(sqlmock.NewRows([]string{"storage_key"}).AddRow("invoice/a.pdf").AddRow("invoice/b.pdf"))

	rows, err := db.Query(context.Background(), "SELECT storage_key FROM documents WHERE category = $1", "invoice")
	require.NoError(t, err)
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"invoice/a.pdf", "invoice/b.pdf"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDB_QueryRowNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

	var n int
	err := db.QueryRow(context.Background(), "SELECT 1").Scan(&n)
	assert.True(t, errs.IsNotFound(err))
}

func TestSQLDB_Exec(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec("DELETE FROM").WithArgs("k").WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := db.Exec(context.Background(), "DELETE FROM documents WHERE storage_key = $1", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, DialectPostgres, db.Dialect())
}

func TestSQLDB_CustomMapper(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db := WrapSQL(sqlDB, DialectMySQL, func(err error, msg string) *errs.Error {
		return errs.Wrap(errs.ErrKindConflict, msg, err)
	})
	mock.ExpectExec("INSERT").WillReturnError(assert.AnError)

	_, err = db.Exec(context.Background(), "INSERT INTO t VALUES (1)")
	assert.True(t, errs.IsConflict(err))
}
