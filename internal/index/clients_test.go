package index

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/errs"
)

func newClients(t *testing.T) (*Clients, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewClients(database.WrapSQL(db, database.DialectPostgres, nil)), mock
}

func TestClients_Create(t *testing.T) {
	repo, mock := newClients(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "clients" ("id", "name", "email", "whatsapp", "created_at") VALUES ($1, $2, $3, $4, $5)`)).
		WithArgs(sqlmock.AnyArg(), "Acme", "ops@acme.test", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &Client{Name: "  Acme ", Email: "ops@acme.test"}
	require.NoError(t, repo.Create(context.Background(), c))
	assert.Equal(t, "Acme", c.Name)
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
}

func TestClients_CreateValidation(t *testing.T) {
	repo, _ := newClients(t)

	err := repo.Create(context.Background(), &Client{Email: "a@b"})
	assert.True(t, errs.IsInvalidInput(err))

	err = repo.Create(context.Background(), &Client{Name: "No contact"})
	assert.True(t, errs.IsInvalidInput(err))
}

func TestClients_Get(t *testing.T) {
	repo, mock := newClients(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "clients" WHERE "id" = $1`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(clientColumns).AddRow("c1", "Acme", "", "+55 11 99999-0000", now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "clients" WHERE "id" = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	c, err := repo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "+55 11 99999-0000", c.WhatsApp)

	_, err = repo.Get(context.Background(), "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestClients_List(t *testing.T) {
	repo, mock := newClients(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "clients" ORDER BY "name" ASC`)).
		WillReturnRows(sqlmock.NewRows(clientColumns).
			AddRow("c1", "Acme", "a@acme", "", time.Now()).
			AddRow("c2", "Beta", "", "5511", time.Now()))

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Beta", list[1].Name)
}
