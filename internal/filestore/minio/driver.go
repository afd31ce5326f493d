// Package minio provides a MinIO implementation of filestore.Store.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	buckets, err := store.ListBuckets(ctx)
package minio

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Driver is a MinIO implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client  *miniogo.Client
	region  string
	baseURL string
}

var _ filestore.Store = (*Driver)(nil)

// New connects to MinIO using the provided Config and returns a Driver.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{
		client:  client,
		region:  cfg.Region,
		baseURL: cfg.BaseURL(),
	}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// --- filestore.Store implementation ---

// Ping verifies the MinIO server is reachable by listing buckets.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.client.ListBuckets(ctx)
	if err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op for MinIO — the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

// CreateBucket creates bucket and, when opts.Public is set, attaches the
// anonymous read policy. The policy is applied even when the bucket already
// existed, so repeated calls converge on the same configuration.
func (d *Driver) CreateBucket(ctx context.Context, bucket string, opts filestore.BucketOptions) error {
	var existed *errs.Error
	if err := d.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: d.region}); err != nil {
		mapped := mapError(err, "failed to create bucket")
		if !errs.IsAlreadyExists(mapped) {
			return mapped
		}
		existed = mapped
	}

	if opts.Public {
		if err := d.client.SetBucketPolicy(ctx, bucket, filestore.PublicReadPolicy(bucket)); err != nil {
			return mapError(err, "failed to set public read policy")
		}
	}

	if existed != nil {
		return existed
	}
	return nil
}

// ListBuckets returns all buckets accessible with the configured credentials.
func (d *Driver) ListBuckets(ctx context.Context) ([]filestore.BucketInfo, error) {
	raw, err := d.client.ListBuckets(ctx)
	if err != nil {
		return nil, mapError(err, "failed to list buckets")
	}

	buckets := make([]filestore.BucketInfo, len(raw))
	for i, b := range raw {
		buckets[i] = filestore.BucketInfo{
			Name:      b.Name,
			CreatedAt: b.CreationDate,
		}
	}
	return buckets, nil
}

// ListObjects returns objects in bucket that match opts.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listOpts := miniogo.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Recursive,
	}

	var results []filestore.ObjectInfo
	for obj := range d.client.ListObjects(ctx, bucket, listOpts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}

		results = append(results, filestore.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
			IsDir:        strings.HasSuffix(obj.Key, "/"),
		})

		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

// PutObject uploads r to key. Without opts.Overwrite an existing key is
// reported as errs.ErrKindAlreadyExists.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	if !opts.Overwrite {
		_, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
		if err == nil {
			return nil, errs.Newf(errs.ErrKindAlreadyExists, "object %q already exists", key)
		}
		if mapped := mapError(err, "failed to stat object"); !errs.IsNotFound(mapped) {
			return nil, mapped
		}
	}

	size := opts.Size
	if size == 0 {
		size = -1
	}

	info, err := d.client.PutObject(ctx, bucket, key, r, size, miniogo.PutObjectOptions{
		ContentType: opts.ContentTypeOrDefault(),
	})
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}

	return &filestore.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ContentType:  opts.ContentTypeOrDefault(),
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// GetObject opens a streaming handle to the object at key inside bucket.
// The caller MUST call Object.Close() after reading.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	obj, err := d.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, mapError(err, "failed to stat object after get")
	}

	return &object{
		ReadCloser: obj,
		info: &filestore.ObjectInfo{
			Key:          key,
			Size:         stat.Size,
			ContentType:  stat.ContentType,
			ETag:         stat.ETag,
			LastModified: stat.LastModified,
		},
	}, nil
}

// StatObject returns metadata for the object at key inside bucket
// without downloading its content.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	stat, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	return &filestore.ObjectInfo{
		Key:          stat.Key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		ETag:         stat.ETag,
		LastModified: stat.LastModified,
	}, nil
}

// RemoveObjects deletes keys in one multi-object delete request.
func (d *Driver) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objects := make(chan miniogo.ObjectInfo, len(keys))
	for _, k := range keys {
		objects <- miniogo.ObjectInfo{Key: k}
	}
	close(objects)

	for rerr := range d.client.RemoveObjects(ctx, bucket, objects, miniogo.RemoveObjectsOptions{}) {
		if rerr.Err == nil {
			continue
		}
		mapped := mapError(rerr.Err, "failed to remove object "+rerr.ObjectName)
		if errs.IsNotFound(mapped) {
			continue
		}
		return mapped
	}
	return nil
}

// PublicURL returns baseURL/bucket/key. MinIO serves anonymous reads on the
// same endpoint once the public read policy is attached.
func (d *Driver) PublicURL(_ context.Context, bucket, key string) (string, error) {
	if d.baseURL == "" {
		return "", nil
	}
	return filestore.ObjectURL(d.baseURL, bucket, key), nil
}

// PresignGetURL returns a time-limited public download URL for the object.
// ttl is clamped to filestore.MaxPresignTTL.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if ttl > filestore.MaxPresignTTL {
		ttl = filestore.MaxPresignTTL
	}
	u, err := d.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return u.String(), nil
}

// --- internal types ---

// object wraps a MinIO GetObject response and exposes filestore.Object.
type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}
