package index

import "context"

// DocumentStore is the index contract the catalog and pipelines depend on.
// *Documents implements it over SQL; *MemoryDocuments in memory.
type DocumentStore interface {
	Page(ctx context.Context, f Filter, offset, limit int) ([]Document, error)
	Recent(ctx context.Context, limit int) ([]Document, error)
	ByKeys(ctx context.Context, keys []string) ([]Document, error)
	Get(ctx context.Context, key string) (*Document, error)
	Keys(ctx context.Context, f Filter) ([]string, error)
	InsertIfAbsent(ctx context.Context, doc *Document) (bool, error)
	Upsert(ctx context.Context, doc *Document) error
	DeleteByKey(ctx context.Context, key string) (bool, error)
	DeleteByKeys(ctx context.Context, keys []string) (int64, error)
}

// ClientStore is the client registry contract used by the API and delivery.
type ClientStore interface {
	Create(ctx context.Context, c *Client) error
	Get(ctx context.Context, id string) (*Client, error)
	List(ctx context.Context) ([]Client, error)
}

var (
	_ DocumentStore = (*Documents)(nil)
	_ DocumentStore = (*MemoryDocuments)(nil)
	_ ClientStore   = (*Clients)(nil)
	_ ClientStore   = (*MemoryClients)(nil)
)
