// Package filestore defines the unified interface for file/object storage backends.
//
// All providers (MinIO, S3, in-memory) implement the Store interface.
// Callers depend only on this package — never on a specific provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	err = store.CreateBucket(ctx, "documents", filestore.BucketOptions{Public: true})
//	if err != nil && !errs.IsAlreadyExists(err) { ... }
package filestore

import (
	"context"
	"io"
	"time"
)

// Store is the single interface all file storage providers must implement.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources (connections, goroutines, etc.).
	Close() error

	// CreateBucket creates bucket. When the bucket already exists it returns
	// an errs.ErrKindAlreadyExists error; callers racing on creation treat
	// that as success. opts.Public is (re)applied in both cases.
	CreateBucket(ctx context.Context, bucket string, opts BucketOptions) error

	// ListBuckets returns all buckets / containers accessible with the configured credentials.
	ListBuckets(ctx context.Context) ([]BucketInfo, error)

	// ListObjects returns the objects in bucket that match opts.
	// Virtual directory entries (common prefixes) are included when opts.Recursive is false.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// PutObject writes the content of r to key inside bucket.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, opts PutOptions) (*ObjectInfo, error)

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// StatObject returns metadata for the object at key inside bucket
	// without downloading its content.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// RemoveObjects deletes keys from bucket. Keys that do not exist are
	// ignored.
	RemoveObjects(ctx context.Context, bucket string, keys []string) error

	// PublicURL returns the permanent anonymous URL of key, or "" when the
	// backend has no public endpoint. It does not check reachability.
	PublicURL(ctx context.Context, bucket, key string) (string, error)

	// PresignGetURL returns a time-limited URL that allows anyone to download
	// the object at key inside bucket without credentials.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
