package pipeline

import (
	"context"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/index"
	"github.com/koustreak/docrelay/internal/logger"
	"github.com/koustreak/docrelay/internal/metrics"
)

// Purger drops a key from cached catalog pages. *catalog.Catalog
// implements it.
type Purger interface {
	Purge(key string)
}

// Deleter removes documents from the store and the index.
type Deleter struct {
	store   filestore.Store
	bucket  string
	docs    index.DocumentStore
	ready   interface{ Reset(bucket string) }
	purger  Purger
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewDeleter returns a Deleter.
func NewDeleter(d Deps) *Deleter {
	del := &Deleter{
		store:   d.Store,
		bucket:  d.Bucket,
		docs:    d.Docs,
		log:     logger.OrNop(d.Log).Component("delete"),
		metrics: d.Metrics,
	}
	if d.Ready != nil {
		del.ready = d.Ready
	}
	if d.Catalog != nil {
		del.purger = d.Catalog
	}
	return del
}

// Delete removes the object at key, then its index row.
//
// When the object cannot be removed the index is left untouched. When the
// object is gone but the row is not, Delete returns an
// ErrKindIndexWriteFailed error; the caller should retry, and the catalog
// sweep removes the row otherwise. Only on success are cached pages purged.
func (d *Deleter) Delete(ctx context.Context, key string) (err error) {
	defer func() { d.metrics.Deleted(err) }()

	if key == "" {
		return errs.New(errs.ErrKindInvalidInput, "storage key is empty")
	}
	log := d.log.With().Str("key", key).Logger()

	if err := d.store.RemoveObjects(ctx, d.bucket, []string{key}); err != nil {
		if d.ready != nil {
			d.ready.Reset(d.bucket)
		}
		log.ErrorWith("object removal failed; index untouched", err, nil)
		return errs.Wrap(errs.KindOf(err), "remove object "+key, err)
	}

	removed, err := d.docs.DeleteByKey(ctx, key)
	if err != nil {
		d.metrics.IndexWriteFailed("delete")
		log.ErrorWith("object removed but index row remains", err, nil)
		return errs.Wrap(errs.ErrKindIndexWriteFailed, "object "+key+" removed but its index row remains", err)
	}
	if !removed {
		log.Debug("no index row for removed object")
	}

	if d.purger != nil {
		d.purger.Purge(key)
	}
	log.Info("document deleted")
	return nil
}
