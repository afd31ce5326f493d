// Package index is the relational index of stored documents and the clients
// they are delivered to.
package index

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/errs"
)

const documentsTable = "documents"

var documentColumns = []string{"id", "client_id", "document_type", "file_path", "filename", "url", "created_at"}

// Document is one indexed storage object.
type Document struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"client_id,omitempty"` // "" when the document belongs to no client
	Category    string    `json:"document_type"`
	StorageKey  string    `json:"file_path"`
	DisplayName string    `json:"filename"`
	URL         string    `json:"url"` // last known URL; advisory
	CreatedAt   time.Time `json:"created_at"`
}

// Filter selects documents by category and, optionally, owner.
// An empty OwnerID matches documents of every owner.
type Filter struct {
	OwnerID  string
	Category string
}

// Documents reads and writes the documents table.
type Documents struct {
	db  database.DB
	now func() time.Time
}

// NewDocuments returns a Documents repository over db.
func NewDocuments(db database.DB) *Documents {
	return &Documents{db: db, now: time.Now}
}

func (r *Documents) filtered(b *database.SelectBuilder, f Filter) *database.SelectBuilder {
	if f.Category != "" {
		b.Where("document_type", "=", f.Category)
	}
	if f.OwnerID != "" {
		b.Where("client_id", "=", f.OwnerID)
	}
	return b
}

// Page returns up to limit documents matching f, newest first, skipping offset.
func (r *Documents) Page(ctx context.Context, f Filter, offset, limit int) ([]Document, error) {
	b := r.filtered(database.Select(documentsTable, r.db.Dialect()).Columns(documentColumns...), f).
		OrderBy("created_at", database.Desc).
		OrderBy("file_path", database.Asc).
		Limit(limit).
		Offset(offset)
	return r.query(ctx, b)
}

// Recent returns the newest documents across every category and owner.
func (r *Documents) Recent(ctx context.Context, limit int) ([]Document, error) {
	b := database.Select(documentsTable, r.db.Dialect()).
		Columns(documentColumns...).
		OrderBy("created_at", database.Desc).
		Limit(limit)
	return r.query(ctx, b)
}

// ByKeys returns the documents stored under keys, in no particular order.
// Unknown keys are skipped.
func (r *Documents) ByKeys(ctx context.Context, keys []string) ([]Document, error) {
	b := database.Select(documentsTable, r.db.Dialect()).
		Columns(documentColumns...).
		WhereIn("file_path", toAny(keys)...)
	return r.query(ctx, b)
}

// Get returns the document stored under key, or errs.ErrKindNotFound.
func (r *Documents) Get(ctx context.Context, key string) (*Document, error) {
	docs, err := r.ByKeys(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "document %q is not indexed", key)
	}
	return &docs[0], nil
}

// Keys returns the storage keys of every document matching f.
func (r *Documents) Keys(ctx context.Context, f Filter) ([]string, error) {
	query, args, err := r.filtered(database.Select(documentsTable, r.db.Dialect()).Columns("file_path"), f).Build()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// InsertIfAbsent indexes doc unless its storage key is already indexed.
// It reports whether a row was written. Used by reconciliation, which must
// never create a second row for the same object.
func (r *Documents) InsertIfAbsent(ctx context.Context, doc *Document) (bool, error) {
	r.prepare(doc)
	query, args, err := database.Insert(documentsTable, r.db.Dialect()).
		Columns(documentColumns...).
		Values(documentValues(doc)...).
		OnConflictDoNothing("file_path").
		Build()
	if err != nil {
		return false, err
	}

	n, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, errs.Wrap(errs.ErrKindIndexWriteFailed, "index "+doc.StorageKey, err)
	}
	return n > 0, nil
}

// Upsert indexes doc, replacing the display name, owner and URL of an
// existing row with the same storage key. The original id and created_at
// are kept.
func (r *Documents) Upsert(ctx context.Context, doc *Document) error {
	r.prepare(doc)
	query, args, err := database.Insert(documentsTable, r.db.Dialect()).
		Columns(documentColumns...).
		Values(documentValues(doc)...).
		OnConflictUpdate([]string{"file_path"}, "client_id", "document_type", "filename", "url").
		Build()
	if err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return errs.Wrap(errs.ErrKindIndexWriteFailed, "index "+doc.StorageKey, err)
	}
	return nil
}

// DeleteByKey removes the row for key and reports whether one existed.
func (r *Documents) DeleteByKey(ctx context.Context, key string) (bool, error) {
	n, err := r.DeleteByKeys(ctx, []string{key})
	return n > 0, err
}

// DeleteByKeys removes the rows for keys and returns how many were removed.
func (r *Documents) DeleteByKeys(ctx context.Context, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	query, args, err := database.Delete(documentsTable, r.db.Dialect()).
		WhereIn("file_path", toAny(keys)...).
		Build()
	if err != nil {
		return 0, err
	}

	n, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, errs.Wrap(errs.ErrKindIndexWriteFailed, "remove index rows", err)
	}
	return n, nil
}

// prepare assigns the id and timestamp the index owns.
func (r *Documents) prepare(doc *Document) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = r.now().UTC()
	}
}

func (r *Documents) query(ctx context.Context, b *database.SelectBuilder) ([]Document, error) {
	query, args, err := b.Build()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var (
			d     Document
			owner sql.NullString
		)
		if err := rows.Scan(&d.ID, &owner, &d.Category, &d.StorageKey, &d.DisplayName, &d.URL, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.OwnerID = owner.String
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func documentValues(d *Document) []any {
	return []any{d.ID, nullable(d.OwnerID), d.Category, d.StorageKey, d.DisplayName, d.URL, d.CreatedAt}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
