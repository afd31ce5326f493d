// Package pipeline stores and removes documents, keeping the object store,
// the index and the catalog cache consistent.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/index"
	"github.com/koustreak/docrelay/internal/logger"
	"github.com/koustreak/docrelay/internal/metrics"
)

// File is one file of an upload batch. Open is called once per put
// attempt, so it must return the content from the start every time.
type File struct {
	Name        string
	ContentType string
	Size        int64 // -1 when unknown
	Open        func() (io.ReadCloser, error)
}

// BytesFile returns a File over an in-memory body.
func BytesFile(name, contentType string, body []byte) File {
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(body)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
	}
}

// Refresher force-refreshes catalog scopes. *catalog.Catalog implements it.
type Refresher interface {
	List(ctx context.Context, scope catalog.Scope, page int, force bool) (*catalog.Page, error)
}

// Deps are the collaborators shared by Uploader and Deleter.
type Deps struct {
	Store   filestore.Store
	Bucket  string
	Docs    index.DocumentStore
	URLs    catalog.URLResolver
	Ready   catalog.Readiness
	Catalog *catalog.Catalog
	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// UploadConfig tunes the put retry budget.
type UploadConfig struct {
	PutAttempts int           // total attempts per file, default 2
	PutDelay    time.Duration // pause between attempts, default 1s
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Uploader stores batches of files and indexes them.
type Uploader struct {
	store     filestore.Store
	bucket    string
	docs      index.DocumentStore
	urls      catalog.URLResolver
	ready     catalog.Readiness
	refresher Refresher
	log       *logger.Logger
	metrics   *metrics.Metrics
	cfg       UploadConfig
	now       func() time.Time
}

// NewUploader returns an Uploader.
func NewUploader(d Deps, cfg UploadConfig) *Uploader {
	if cfg.PutAttempts < 1 {
		cfg.PutAttempts = 2
	}
	if cfg.PutDelay <= 0 {
		cfg.PutDelay = time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	u := &Uploader{
		store:   d.Store,
		bucket:  d.Bucket,
		docs:    d.Docs,
		urls:    d.URLs,
		ready:   d.Ready,
		log:     logger.OrNop(d.Log).Component("upload"),
		metrics: d.Metrics,
		cfg:     cfg,
		now:     time.Now,
	}
	if d.Catalog != nil {
		u.refresher = d.Catalog
	}
	return u
}

// Upload stores files one at a time under ownerID and category. A failing
// file does not stop the batch. The returned error is reserved for
// conditions that affect every file: an invalid category or owner id, or a
// bucket that cannot be provisioned. Per-file failures are in the result; see
// BatchResult.Err.
func (u *Uploader) Upload(ctx context.Context, files []File, ownerID string, category catalog.Category) (*BatchResult, error) {
	if !category.Valid() {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "unknown document type %q", category)
	}
	if err := catalog.ValidateOwner(ownerID); err != nil {
		return nil, err
	}
	if err := u.ensure(ctx); err != nil {
		return nil, err
	}

	log := u.log.With().Str("owner", ownerID).Str("category", string(category)).Logger()
	res := &BatchResult{Files: make([]FileResult, 0, len(files))}
	for _, f := range files {
		r := u.uploadOne(ctx, f, ownerID, category)
		u.metrics.FileUploaded(f.Size, r.Err)
		if r.Err != nil {
			log.ErrorWith("file upload failed", r.Err, map[string]interface{}{"file": f.Name})
		}
		res.add(r)
	}

	if res.SuccessCount > 0 {
		u.refresh(ctx, ownerID, category)
	}

	outcome := res.Outcome()
	u.metrics.BatchFinished(string(outcome))
	log.InfoWith("upload batch finished", map[string]interface{}{
		"outcome": string(outcome),
		"success": res.SuccessCount,
		"failure": res.FailureCount,
	})
	return res, nil
}

func (u *Uploader) ensure(ctx context.Context) error {
	if u.ready == nil {
		return nil
	}
	return u.ready.Ensure(ctx, u.bucket, false)
}

func (u *Uploader) uploadOne(ctx context.Context, f File, ownerID string, category catalog.Category) FileResult {
	r := FileResult{Name: f.Name}
	if f.Open == nil {
		r.Err = errs.Newf(errs.ErrKindInvalidInput, "file %q has no content", f.Name)
		return r
	}
	if err := u.ensure(ctx); err != nil {
		r.Err = err
		return r
	}

	now := u.now().UTC()
	key := catalog.BuildKey(ownerID, category, f.Name, now)
	r.StorageKey = key

	if err := u.put(ctx, key, f); err != nil {
		if u.ready != nil {
			u.ready.Reset(u.bucket)
		}
		r.Err = err
		return r
	}

	if u.urls != nil {
		u.urls.Forget(u.bucket, key)
		r.URL = u.urls.Resolve(ctx, u.bucket, key)
	}

	doc := &index.Document{
		OwnerID:     ownerID,
		Category:    string(category),
		StorageKey:  key,
		DisplayName: f.Name,
		URL:         r.URL,
		CreatedAt:   now,
	}
	if err := u.docs.Upsert(ctx, doc); err != nil {
		r.IndexErr = err
		u.metrics.IndexWriteFailed("upsert")
		u.log.WarnWith("stored file was not indexed; reconciliation will backfill it", err,
			map[string]interface{}{"key": key})
	}
	return r
}

// put writes the object, retrying transient failures. Overwrite is allowed
// so a client retry under the same key succeeds.
func (u *Uploader) put(ctx context.Context, key string, f File) error {
	var lastErr error
	for attempt := 1; attempt <= u.cfg.PutAttempts; attempt++ {
		lastErr = u.putOnce(ctx, key, f)
		if lastErr == nil {
			return nil
		}
		if !errs.IsTransient(lastErr) || attempt == u.cfg.PutAttempts {
			break
		}
		u.log.WarnWith("put failed, retrying", lastErr, map[string]interface{}{"key": key, "attempt": attempt})
		if err := u.cfg.Sleep(ctx, u.cfg.PutDelay); err != nil {
			return errs.Wrap(errs.ErrKindTimeout, "upload interrupted", err)
		}
	}
	return lastErr
}

func (u *Uploader) putOnce(ctx context.Context, key string, f File) error {
	rc, err := f.Open()
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, fmt.Sprintf("open %q", f.Name), err)
	}
	defer rc.Close()

	size := f.Size
	if size == 0 {
		size = -1
	}
	_, err = u.store.PutObject(ctx, u.bucket, key, rc, filestore.PutOptions{
		Size:        size,
		ContentType: f.ContentType,
		Overwrite:   true,
	})
	return err
}

// refresh force-refreshes the owner's scope and the unscoped view of the
// category so both show the new files.
func (u *Uploader) refresh(ctx context.Context, ownerID string, category catalog.Category) {
	if u.refresher == nil {
		return
	}
	scopes := []catalog.Scope{{Category: category}}
	if ownerID != "" {
		scopes = append(scopes, catalog.Scope{OwnerID: ownerID, Category: category})
	}
	for _, s := range scopes {
		if _, err := u.refresher.List(ctx, s, 0, true); err != nil {
			u.log.WarnWith("catalog refresh after upload failed", err, map[string]interface{}{
				"owner":    s.OwnerID,
				"category": string(s.Category),
			})
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
