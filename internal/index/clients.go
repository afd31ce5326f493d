package index

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/errs"
)

const clientsTable = "clients"

var clientColumns = []string{"id", "name", "email", "whatsapp", "created_at"}

// Client is a registered delivery recipient.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	WhatsApp  string    `json:"whatsapp,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Clients reads and writes the clients table.
type Clients struct {
	db  database.DB
	now func() time.Time
}

// NewClients returns a Clients repository over db.
func NewClients(db database.DB) *Clients {
	return &Clients{db: db, now: time.Now}
}

// Create validates and stores c, assigning its ID and CreatedAt.
func (r *Clients) Create(ctx context.Context, c *Client) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.WhatsApp = strings.TrimSpace(c.WhatsApp)
	if c.Name == "" {
		return errs.New(errs.ErrKindInvalidInput, "client name is required")
	}
	if c.Email == "" && c.WhatsApp == "" {
		return errs.New(errs.ErrKindInvalidInput, "client needs an email or a WhatsApp number")
	}

	c.ID = uuid.NewString()
	c.CreatedAt = r.now().UTC()

	query, args, err := database.Insert(clientsTable, r.db.Dialect()).
		Columns(clientColumns...).
		Values(c.ID, c.Name, c.Email, c.WhatsApp, c.CreatedAt).
		Build()
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, query, args...)
	return err
}

// Get returns the client with id, or errs.ErrKindNotFound.
func (r *Clients) Get(ctx context.Context, id string) (*Client, error) {
	query, args, err := database.Select(clientsTable, r.db.Dialect()).
		Columns(clientColumns...).
		Where("id", "=", id).
		Build()
	if err != nil {
		return nil, err
	}

	var c Client
	if err := r.db.QueryRow(ctx, query, args...).Scan(&c.ID, &c.Name, &c.Email, &c.WhatsApp, &c.CreatedAt); err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.Newf(errs.ErrKindNotFound, "client %q not found", id)
		}
		return nil, err
	}
	return &c, nil
}

// List returns every client ordered by name.
func (r *Clients) List(ctx context.Context) ([]Client, error) {
	query, args, err := database.Select(clientsTable, r.db.Dialect()).
		Columns(clientColumns...).
		OrderBy("name", database.Asc).
		Build()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]Client, 0)
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.WhatsApp, &c.CreatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
