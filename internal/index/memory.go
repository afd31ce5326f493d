package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koustreak/docrelay/internal/errs"
)

// MemoryDocuments is an in-process DocumentStore. It backs the "memory"
// database driver and tests; writes can be made to fail on demand.
type MemoryDocuments struct {
	mu         sync.Mutex
	docs       map[string]Document // by storage key
	now        func() time.Time
	failWrites int
	writeErr   error
	failDelete int
	deleteErr  error
}

// NewMemoryDocuments returns an empty MemoryDocuments.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: map[string]Document{}, now: time.Now}
}

// FailWrites makes the next n inserts/upserts fail with err.
func (m *MemoryDocuments) FailWrites(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites, m.writeErr = n, err
}

// FailDeletes makes the next n deletes fail with err.
func (m *MemoryDocuments) FailDeletes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failDelete, m.deleteErr = n, err
}

// Len returns the number of indexed documents.
func (m *MemoryDocuments) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

func (f Filter) matches(d Document) bool {
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	return f.OwnerID == "" || d.OwnerID == f.OwnerID
}

// sorted returns the matching documents newest first, ties by key.
// The caller must hold m.mu.
func (m *MemoryDocuments) sorted(f Filter) []Document {
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		if f.matches(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].StorageKey < out[j].StorageKey
	})
	return out
}

func (m *MemoryDocuments) Page(ctx context.Context, f Filter, offset, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "page", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.sorted(f)
	if offset >= len(all) {
		return []Document{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]Document(nil), all[offset:end]...), nil
}

func (m *MemoryDocuments) Recent(_ context.Context, limit int) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.sorted(Filter{})
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryDocuments) ByKeys(_ context.Context, keys []string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Document, 0, len(keys))
	for _, k := range keys {
		if d, ok := m.docs[k]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MemoryDocuments) Get(ctx context.Context, key string) (*Document, error) {
	docs, _ := m.ByKeys(ctx, []string{key})
	if len(docs) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "document %q is not indexed", key)
	}
	return &docs[0], nil
}

func (m *MemoryDocuments) Keys(_ context.Context, f Filter) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k, d := range m.docs {
		if f.matches(d) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// writeFault consumes one injected write failure. The caller must hold m.mu.
func (m *MemoryDocuments) writeFault(key string) error {
	if m.failWrites == 0 {
		return nil
	}
	m.failWrites--
	return errs.Wrap(errs.ErrKindIndexWriteFailed, "index "+key, m.writeErr)
}

func (m *MemoryDocuments) prepare(doc *Document) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = m.now().UTC()
	}
}

func (m *MemoryDocuments) InsertIfAbsent(_ context.Context, doc *Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writeFault(doc.StorageKey); err != nil {
		return false, err
	}
	if strings.TrimSpace(doc.StorageKey) == "" {
		return false, errs.New(errs.ErrKindInvalidInput, "storage key is empty")
	}
	if _, ok := m.docs[doc.StorageKey]; ok {
		return false, nil
	}
	m.prepare(doc)
	m.docs[doc.StorageKey] = *doc
	return true, nil
}

func (m *MemoryDocuments) Upsert(_ context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writeFault(doc.StorageKey); err != nil {
		return err
	}
	if strings.TrimSpace(doc.StorageKey) == "" {
		return errs.New(errs.ErrKindInvalidInput, "storage key is empty")
	}
	if existing, ok := m.docs[doc.StorageKey]; ok {
		doc.ID = existing.ID
		doc.CreatedAt = existing.CreatedAt
	}
	m.prepare(doc)
	m.docs[doc.StorageKey] = *doc
	return nil
}

func (m *MemoryDocuments) DeleteByKey(ctx context.Context, key string) (bool, error) {
	n, err := m.DeleteByKeys(ctx, []string{key})
	return n > 0, err
}

func (m *MemoryDocuments) DeleteByKeys(_ context.Context, keys []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failDelete > 0 {
		m.failDelete--
		return 0, errs.Wrap(errs.ErrKindIndexWriteFailed, "remove index rows", m.deleteErr)
	}

	var n int64
	for _, k := range keys {
		if _, ok := m.docs[k]; ok {
			delete(m.docs, k)
			n++
		}
	}
	return n, nil
}

// MemoryClients is an in-process ClientStore.
type MemoryClients struct {
	mu      sync.Mutex
	clients map[string]Client
}

// NewMemoryClients returns an empty MemoryClients.
func NewMemoryClients() *MemoryClients {
	return &MemoryClients{clients: map[string]Client{}}
}

func (m *MemoryClients) Create(_ context.Context, c *Client) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.WhatsApp = strings.TrimSpace(c.WhatsApp)
	if c.Name == "" {
		return errs.New(errs.ErrKindInvalidInput, "client name is required")
	}
	if c.Email == "" && c.WhatsApp == "" {
		return errs.New(errs.ErrKindInvalidInput, "client needs an email or a WhatsApp number")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	m.clients[c.ID] = *c
	return nil
}

func (m *MemoryClients) Get(_ context.Context, id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "client %q not found", id)
	}
	return &c, nil
}

func (m *MemoryClients) List(context.Context) ([]Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
