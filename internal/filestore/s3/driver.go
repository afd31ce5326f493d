// Package s3 provides an AWS S3 (and S3-compatible) implementation of
// filestore.Store built on aws-sdk-go-v2.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
)

// deleteBatch is the DeleteObjects request limit.
const deleteBatch = 1000

// Driver implements filestore.Store on S3.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client  *s3.Client
	presign *s3.PresignClient
	region  string
	baseURL string
}

var _ filestore.Store = (*Driver)(nil)

// New builds an S3 client from cfg and pings the backend.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "load aws config", err)
	}

	endpoint := endpointURL(cfg)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	d := &Driver{
		client:  client,
		presign: s3.NewPresignClient(client),
		region:  region,
		baseURL: cfg.BaseURL(),
	}
	if endpoint == "" && cfg.PublicBaseURL == "" {
		d.baseURL = ""
	}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// endpointURL returns the custom endpoint with a scheme, or "" for AWS.
func endpointURL(cfg *filestore.Config) string {
	if cfg.Endpoint == "" {
		return ""
	}
	if strings.Contains(cfg.Endpoint, "://") {
		return cfg.Endpoint
	}
	if cfg.UseSSL {
		return "https://" + cfg.Endpoint
	}
	return "http://" + cfg.Endpoint
}

// Ping lists buckets to verify credentials and connectivity.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.ListBuckets(ctx, &s3.ListBucketsInput{}); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op; the SDK's HTTP client needs no teardown.
func (d *Driver) Close() error {
	return nil
}

// CreateBucket creates bucket and attaches the public read policy when
// requested. On AWS the bucket-level public access block is removed first,
// otherwise the policy is rejected.
func (d *Driver) CreateBucket(ctx context.Context, bucket string, opts filestore.BucketOptions) error {
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if d.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(d.region),
		}
	}

	var existed *errs.Error
	if _, err := d.client.CreateBucket(ctx, input); err != nil {
		mapped := mapError(err, "failed to create bucket")
		if !errs.IsAlreadyExists(mapped) {
			return mapped
		}
		existed = mapped
	}

	if opts.Public {
		// Not every S3-compatible backend implements public access blocks.
		_, _ = d.client.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{Bucket: aws.String(bucket)})

		_, err := d.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
			Bucket: aws.String(bucket),
			Policy: aws.String(filestore.PublicReadPolicy(bucket)),
		})
		if err != nil {
			return mapError(err, "failed to set public read policy")
		}
	}

	if existed != nil {
		return existed
	}
	return nil
}

// ListBuckets returns every bucket owned by the credentials.
func (d *Driver) ListBuckets(ctx context.Context) ([]filestore.BucketInfo, error) {
	out, err := d.client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, mapError(err, "failed to list buckets")
	}

	buckets := make([]filestore.BucketInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, filestore.BucketInfo{
			Name:      aws.ToString(b.Name),
			CreatedAt: aws.ToTime(b.CreationDate),
		})
	}
	return buckets, nil
}

// ListObjects pages through ListObjectsV2 until exhausted or opts.Limit.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(opts.Prefix),
	}
	if !opts.Recursive {
		input.Delimiter = aws.String("/")
	}

	var results []filestore.ObjectInfo
	pager := s3.NewListObjectsV2Paginator(d.client, input)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err, "failed to list objects")
		}

		for _, p := range page.CommonPrefixes {
			results = append(results, filestore.ObjectInfo{Key: aws.ToString(p.Prefix), Size: -1, IsDir: true})
		}
		for _, obj := range page.Contents {
			results = append(results, filestore.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}

		if opts.Limit > 0 && len(results) >= opts.Limit {
			return results[:opts.Limit], nil
		}
	}
	return results, nil
}

// PutObject uploads r. Without opts.Overwrite the write is conditional
// (If-None-Match: *) and an existing key yields errs.ErrKindAlreadyExists.
func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	body, size, err := seekable(r, opts.Size)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read upload body", err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(opts.ContentTypeOrDefault()),
		ContentLength: aws.Int64(size),
	}
	if !opts.Overwrite {
		input.IfNoneMatch = aws.String("*")
	}

	out, err := d.client.PutObject(ctx, input)
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}

	return &filestore.ObjectInfo{
		Key:          key,
		Size:         size,
		ContentType:  opts.ContentTypeOrDefault(),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: time.Now().UTC(),
	}, nil
}

// seekable returns a ReadSeeker for r, buffering it when necessary, and the
// content length.
func seekable(r io.Reader, size int64) (io.ReadSeeker, int64, error) {
	if rs, ok := r.(io.ReadSeeker); ok && size > 0 {
		return rs, size, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(b), int64(len(b)), nil
}

// GetObject opens a streaming handle to key.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	return &object{
		ReadCloser: out.Body,
		info: &filestore.ObjectInfo{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ContentType:  aws.ToString(out.ContentType),
			ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
			LastModified: aws.ToTime(out.LastModified),
		},
	}, nil
}

// StatObject issues HeadObject.
func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	out, err := d.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}

	return &filestore.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// RemoveObjects deletes keys in batches of deleteBatch.
func (d *Driver) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := d.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return mapError(err, "failed to remove objects")
		}
		for _, e := range out.Errors {
			if aws.ToString(e.Code) == "NoSuchKey" {
				continue
			}
			return errs.Newf(errs.ErrKindQueryFailed, "failed to remove object %s: %s %s",
				aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}
	return nil
}

// PublicURL returns the anonymous URL of key: the configured base URL when
// present, otherwise the regional virtual-hosted AWS URL.
func (d *Driver) PublicURL(_ context.Context, bucket, key string) (string, error) {
	if d.baseURL != "" {
		return filestore.ObjectURL(d.baseURL, bucket, key), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, d.region, filestore.EscapeKey(key)), nil
}

// PresignGetURL signs a GetObject request. ttl is clamped to
// filestore.MaxPresignTTL.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if ttl > filestore.MaxPresignTTL {
		ttl = filestore.MaxPresignTTL
	}
	req, err := d.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return req.URL, nil
}

// object wraps a GetObject body.
type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}
