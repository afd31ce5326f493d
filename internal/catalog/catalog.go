// Package catalog serves a paginated, cached view of stored documents and
// keeps the index in step with the object store.
//
// Forward reconciliation inserts index rows for objects that have none.
// Sweep is its reverse: it drops rows whose object is gone.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/index"
	"github.com/koustreak/docrelay/internal/logger"
	"github.com/koustreak/docrelay/internal/metrics"
)

// Entry is one catalog row.
type Entry = index.Document

// Scope selects the documents of one category, optionally of one owner.
// An empty OwnerID is the unscoped view over every owner.
type Scope struct {
	OwnerID  string
	Category Category
}

// Filter converts the scope to an index filter.
func (s Scope) Filter() index.Filter {
	return index.Filter{OwnerID: s.OwnerID, Category: string(s.Category)}
}

// Prefix returns the storage prefix holding the scope's objects. The
// unscoped view spans several prefixes and lists the whole bucket.
func (s Scope) Prefix() string {
	if s.OwnerID == "" {
		return ""
	}
	return ownerDirPrefix + s.OwnerID + "/" + string(s.Category) + "/"
}

// Validate checks the category and the owner id.
func (s Scope) Validate() error {
	if !s.Category.Valid() {
		return errs.Newf(errs.ErrKindInvalidInput, "unknown document type %q", s.Category)
	}
	return ValidateOwner(s.OwnerID)
}

// contains reports whether a parsed key falls inside the scope.
func (s Scope) contains(info KeyInfo) bool {
	if info.Category != s.Category {
		return false
	}
	return s.OwnerID == "" || info.OwnerID == s.OwnerID
}

// PageKey identifies one cached page.
type PageKey struct {
	Scope Scope
	Page  int
}

// Page is one window of a scope, newest first.
type Page struct {
	Entries []Entry `json:"entries"`
	HasMore bool    `json:"has_more"`
	Page    int     `json:"page"`
}

func (p Page) clone() Page {
	p.Entries = append([]Entry(nil), p.Entries...)
	return p
}

// URLResolver resolves object URLs. *urlresolve.Resolver implements it.
type URLResolver interface {
	Resolve(ctx context.Context, bucket, key string) string
	Forget(bucket, key string)
}

// Readiness is the bucket state the catalog consults before touching the
// store. *bucket.Provisioner implements it.
type Readiness interface {
	Ensure(ctx context.Context, bucket string, force bool) error
	Reset(bucket string)
}

// Config tunes a Catalog. Zero values pick the defaults.
type Config struct {
	PageSize       int // default 10
	CachePages     int // default 256
	URLConcurrency int // default 4
}

// Catalog is the reconciling document catalog. It is the only writer of its
// page cache.
type Catalog struct {
	store   filestore.Store
	bucket  string
	docs    index.DocumentStore
	urls    URLResolver
	ready   Readiness
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	pageSize       int
	urlConcurrency int

	pages *lru.Cache[PageKey, Page]
	mu    sync.Mutex
	gen   uint64 // bumped by every invalidation; stale fetches are not cached
}

// Deps are the collaborators of a Catalog. Ready, Log and Metrics may be nil.
type Deps struct {
	Store   filestore.Store
	Bucket  string
	Docs    index.DocumentStore
	URLs    URLResolver
	Ready   Readiness
	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// New returns a Catalog.
func New(d Deps, cfg Config) (*Catalog, error) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.CachePages <= 0 {
		cfg.CachePages = 256
	}
	if cfg.URLConcurrency <= 0 {
		cfg.URLConcurrency = 4
	}
	pages, err := lru.New[PageKey, Page](cfg.CachePages)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "page cache", err)
	}
	return &Catalog{
		store:          d.Store,
		bucket:         d.Bucket,
		docs:           d.Docs,
		urls:           d.URLs,
		ready:          d.Ready,
		log:            logger.OrNop(d.Log).Component("catalog"),
		metrics:        d.Metrics,
		now:            time.Now,
		pageSize:       cfg.PageSize,
		urlConcurrency: cfg.URLConcurrency,
		pages:          pages,
	}, nil
}

// PageSize returns the fixed window size.
func (c *Catalog) PageSize() int { return c.pageSize }

// List returns page n of scope. Cached pages are served unless force is
// set; force invalidates the scope, reconciles it and restarts at page 0.
// hasMore is true iff the page is a full window.
func (c *Catalog) List(ctx context.Context, scope Scope, n int, force bool) (*Page, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "page %d is negative", n)
	}

	reconciled := false
	if force {
		c.Invalidate(scope)
		n = 0
		if _, err := c.Reconcile(ctx, scope); err != nil {
			if errs.IsProvisioningFailed(err) {
				return nil, err
			}
			c.log.WarnWith("reconcile during refresh failed", err, scopeFields(scope))
		}
		reconciled = true
	} else if p, ok := c.pages.Get(PageKey{Scope: scope, Page: n}); ok {
		c.metrics.PageLookup("cache")
		p = p.clone()
		return &p, nil
	}

	gen := c.generation()
	entries, err := c.docs.Page(ctx, scope.Filter(), n*c.pageSize, c.pageSize)
	if err != nil {
		return nil, err
	}
	c.metrics.PageLookup("index")

	// An empty first page may mean the index never saw objects that are
	// already stored.
	if n == 0 && len(entries) == 0 && !reconciled {
		rep, rerr := c.Reconcile(ctx, scope)
		switch {
		case rerr != nil:
			c.log.WarnWith("reconcile of empty scope failed", rerr, scopeFields(scope))
		case rep.Inserted > 0:
			gen = c.generation()
			if entries, err = c.docs.Page(ctx, scope.Filter(), 0, c.pageSize); err != nil {
				return nil, err
			}
		}
	}

	if err := c.resolveURLs(ctx, entries); err != nil {
		return nil, err
	}

	page := Page{Entries: entries, HasMore: len(entries) == c.pageSize, Page: n}
	c.cachePage(PageKey{Scope: scope, Page: n}, page, gen)
	return &page, nil
}

// Recent returns the newest documents across every scope, uncached.
func (c *Catalog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = c.pageSize
	}
	entries, err := c.docs.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := c.resolveURLs(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// resolveURLs fills Entry.URL concurrently. Resolution never fails; only
// context cancellation stops it.
func (c *Catalog) resolveURLs(ctx context.Context, entries []Entry) error {
	if c.urls == nil || len(entries) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.urlConcurrency)
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entries[i].URL = c.urls.Resolve(gctx, c.bucket, entries[i].StorageKey)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "resolve urls", err)
	}
	return nil
}

func (c *Catalog) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// cachePage caches page unless an invalidation happened since gen was read.
func (c *Catalog) cachePage(key PageKey, page Page, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.pages.Add(key, page.clone())
}

// Invalidate drops every cached page of scope.
func (c *Catalog) Invalidate(scope Scope) {
	c.invalidate(func(k PageKey) bool { return k.Scope == scope })
}

// InvalidateCategory drops every cached page of every scope of cat.
func (c *Catalog) InvalidateCategory(cat Category) {
	c.invalidate(func(k PageKey) bool { return k.Scope.Category == cat })
}

func (c *Catalog) invalidate(match func(PageKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, k := range c.pages.Keys() {
		if match(k) {
			c.pages.Remove(k)
		}
	}
}

// Purge removes the entry with storage key from every cached page that
// holds it, leaving the rest of the cache intact, and forgets its URL.
func (c *Catalog) Purge(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	for _, k := range c.pages.Keys() {
		p, ok := c.pages.Peek(k)
		if !ok {
			continue
		}
		kept := make([]Entry, 0, len(p.Entries))
		for _, e := range p.Entries {
			if e.StorageKey != key {
				kept = append(kept, e)
			}
		}
		if len(kept) != len(p.Entries) {
			p.Entries = kept
			c.pages.Add(k, p)
		}
	}
	if c.urls != nil {
		c.urls.Forget(c.bucket, key)
	}
}

// ReconcileReport summarises one forward reconciliation.
type ReconcileReport struct {
	Scope    Scope `json:"-"`
	Listed   int   `json:"listed"`
	Missing  int   `json:"missing"`
	Inserted int   `json:"inserted"`
	Failed   int   `json:"failed"`
}

// Reconcile indexes every object in the scope's storage prefix that has no
// index row. Each insert is conditional on the storage key so repeated or
// concurrent runs never create duplicates; failed inserts are logged and
// left for the next run. Index keys are read before the store is listed,
// so an object deleted in between is absent from the listing and its row
// is not backfilled.
func (c *Catalog) Reconcile(ctx context.Context, scope Scope) (*ReconcileReport, error) {
	rep := &ReconcileReport{Scope: scope}
	if err := scope.Validate(); err != nil {
		return rep, err
	}

	known, err := c.knownKeys(ctx, scope)
	if err != nil {
		return rep, err
	}
	objects, err := c.listScope(ctx, scope)
	if err != nil {
		return rep, err
	}

	log := c.log.With().Str("category", string(scope.Category)).Str("owner", scope.OwnerID).Logger()
	for _, o := range objects {
		info, ok := ParseKey(o.Key)
		if !ok || !scope.contains(info) {
			continue
		}
		rep.Listed++
		if _, ok := known[o.Key]; ok {
			continue
		}
		rep.Missing++

		created := o.LastModified
		if created.IsZero() {
			created = c.now()
		}
		doc := &Entry{
			OwnerID:     info.OwnerID,
			Category:    string(info.Category),
			StorageKey:  o.Key,
			DisplayName: info.Leaf,
			CreatedAt:   created.UTC(),
		}
		if c.urls != nil {
			doc.URL = c.urls.Resolve(ctx, c.bucket, o.Key)
		}

		inserted, err := c.docs.InsertIfAbsent(ctx, doc)
		if err != nil {
			rep.Failed++
			log.WarnWith("backfill skipped", err, map[string]interface{}{"key": o.Key})
			continue
		}
		if inserted {
			rep.Inserted++
		}
	}

	c.metrics.Backfilled(rep.Inserted, rep.Failed)
	if rep.Inserted > 0 {
		c.InvalidateCategory(scope.Category)
		log.WarnWith("index backfilled from storage", nil, map[string]interface{}{
			"inserted": rep.Inserted,
			"failed":   rep.Failed,
		})
	}
	return rep, nil
}

// SweepReport summarises one reverse reconciliation.
type SweepReport struct {
	Scope   Scope `json:"-"`
	Indexed int   `json:"indexed"`
	Removed int   `json:"removed"`
}

// Sweep removes index rows of the scope whose object no longer exists.
// Index keys are read before the store is listed, so a row written by an
// upload that finished in between always finds its object.
func (c *Catalog) Sweep(ctx context.Context, scope Scope) (*SweepReport, error) {
	rep := &SweepReport{Scope: scope}
	if err := scope.Validate(); err != nil {
		return rep, err
	}

	keys, err := c.docs.Keys(ctx, scope.Filter())
	if err != nil {
		return rep, err
	}
	rep.Indexed = len(keys)
	if len(keys) == 0 {
		return rep, nil
	}

	objects, err := c.listScope(ctx, scope)
	if err != nil {
		return rep, err
	}
	present := make(map[string]struct{}, len(objects))
	for _, o := range objects {
		present[o.Key] = struct{}{}
	}

	var orphans []string
	for _, k := range keys {
		if _, ok := present[k]; !ok {
			orphans = append(orphans, k)
		}
	}
	if len(orphans) == 0 {
		return rep, nil
	}

	n, err := c.docs.DeleteByKeys(ctx, orphans)
	if err != nil {
		c.metrics.IndexWriteFailed("sweep")
		return rep, err
	}
	rep.Removed = int(n)
	c.metrics.Swept(rep.Removed)
	for _, k := range orphans {
		c.Purge(k)
	}
	c.log.WarnWith("orphan index rows removed", nil, map[string]interface{}{
		"category": string(scope.Category),
		"owner":    scope.OwnerID,
		"removed":  rep.Removed,
	})
	return rep, nil
}

// AuditReport is the result of Audit for each category.
type AuditReport struct {
	Reconciled []*ReconcileReport `json:"reconciled"`
	Swept      []*SweepReport     `json:"swept"`
}

// Audit reconciles and sweeps the unscoped view of every category. A
// failure in one category does not stop the others; all failures are
// returned joined.
func (c *Catalog) Audit(ctx context.Context, categories ...Category) (*AuditReport, error) {
	if len(categories) == 0 {
		categories = Categories()
	}

	rep := &AuditReport{}
	var errList []error
	for _, cat := range categories {
		scope := Scope{Category: cat}
		r, err := c.Reconcile(ctx, scope)
		rep.Reconciled = append(rep.Reconciled, r)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		s, err := c.Sweep(ctx, scope)
		rep.Swept = append(rep.Swept, s)
		if err != nil {
			errList = append(errList, err)
		}
	}
	return rep, errors.Join(errList...)
}

// Watch lists page 0 of scope every interval, without invalidating the
// cache, and hands the result to fn. It returns when ctx ends.
func (c *Catalog) Watch(ctx context.Context, scope Scope, interval time.Duration, fn func(*Page, error)) {
	if interval <= 0 {
		interval = 45 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p, err := c.List(ctx, scope, 0, false)
			if ctx.Err() != nil {
				return
			}
			fn(p, err)
		}
	}
}

// listScope lists the objects that may belong to scope, after making sure
// the bucket is believed ready. A failed listing resets that belief.
func (c *Catalog) listScope(ctx context.Context, scope Scope) ([]filestore.ObjectInfo, error) {
	if c.ready != nil {
		if err := c.ready.Ensure(ctx, c.bucket, false); err != nil {
			return nil, err
		}
	}
	objects, err := c.store.ListObjects(ctx, c.bucket, filestore.ListOptions{
		Prefix:    scope.Prefix(),
		Recursive: true,
	})
	if err != nil {
		if c.ready != nil {
			c.ready.Reset(c.bucket)
		}
		return nil, err
	}
	return objects, nil
}

func (c *Catalog) knownKeys(ctx context.Context, scope Scope) (map[string]struct{}, error) {
	keys, err := c.docs.Keys(ctx, scope.Filter())
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		known[k] = struct{}{}
	}
	return known, nil
}

func scopeFields(s Scope) map[string]interface{} {
	return map[string]interface{}{"category": string(s.Category), "owner": s.OwnerID}
}
