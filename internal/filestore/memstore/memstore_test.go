package memstore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
)

func TestCreateBucket(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateBucket(ctx, "docs", filestore.BucketOptions{}))
	assert.False(t, s.IsPublic("docs"))

	err := s.CreateBucket(ctx, "docs", filestore.BucketOptions{Public: true})
	assert.True(t, errs.IsAlreadyExists(err))
	assert.True(t, s.IsPublic("docs"), "policy is applied to an existing bucket")

	buckets, err := s.ListBuckets(ctx)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "docs", buckets[0].Name)
}

func TestPutGetRemove(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateBucket(ctx, "docs", filestore.BucketOptions{Public: true}))

	oi, err := s.PutObject(ctx, "docs", "invoice/a.pdf", strings.NewReader("hello"), filestore.PutOptions{ContentType: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), oi.Size)
	assert.NotEmpty(t, oi.ETag)

	_, err = s.PutObject(ctx, "docs", "invoice/a.pdf", strings.NewReader("again"), filestore.PutOptions{})
	assert.True(t, errs.IsAlreadyExists(err))

	obj, err := s.GetObject(ctx, "docs", "invoice/a.pdf")
	require.NoError(t, err)
	body, _ := io.ReadAll(obj)
	require.NoError(t, obj.Close())
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "application/pdf", obj.Info().ContentType)

	u, err := s.PublicURL(ctx, "docs", "invoice/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "http://memstore.local/docs/invoice/a.pdf", u)

	require.NoError(t, s.RemoveObjects(ctx, "docs", []string{"invoice/a.pdf", "missing"}))
	_, err = s.StatObject(ctx, "docs", "invoice/a.pdf")
	assert.True(t, errs.IsNotFound(err))
}

func TestListObjects(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateBucket(ctx, "docs", filestore.BucketOptions{}))
	for _, k := range []string{"invoice/b.pdf", "invoice/a.pdf", "tax/c.pdf", "client_7/invoice/d.pdf"} {
		_, err := s.PutObject(ctx, "docs", k, strings.NewReader("x"), filestore.PutOptions{})
		require.NoError(t, err)
	}

	objs, err := s.ListObjects(ctx, "docs", filestore.ListOptions{Prefix: "invoice/", Recursive: true})
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "invoice/a.pdf", objs[0].Key)

	top, err := s.ListObjects(ctx, "docs", filestore.ListOptions{})
	require.NoError(t, err)
	require.Len(t, top, 3)
	for _, o := range top {
		assert.True(t, o.IsDir)
	}

	limited, err := s.ListObjects(ctx, "docs", filestore.ListOptions{Recursive: true, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPrivateBucketHasNoPublicURL(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateBucket(ctx, "docs", filestore.BucketOptions{}))

	u, err := s.PublicURL(ctx, "docs", "x")
	require.NoError(t, err)
	assert.Empty(t, u)
}

func TestPresignClampsTTL(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateBucket(ctx, "docs", filestore.BucketOptions{}))
	_, err := s.PutObject(ctx, "docs", "k", strings.NewReader("x"), filestore.PutOptions{})
	require.NoError(t, err)

	u, err := s.PresignGetURL(ctx, "docs", "k", 365*24*time.Hour)
	require.NoError(t, err)
	assert.Contains(t, u, "X-Expires="+filestore.MaxPresignTTL.String())

	_, err = s.PresignGetURL(ctx, "docs", "missing", time.Hour)
	assert.True(t, errs.IsNotFound(err))
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errs.New(errs.ErrKindTimeout, "boom")
	s.FailNext(OpCreateBucket, 2, boom)

	assert.ErrorIs(t, s.CreateBucket(ctx, "docs", filestore.BucketOptions{}), boom)
	assert.ErrorIs(t, s.CreateBucket(ctx, "docs", filestore.BucketOptions{}), boom)
	assert.NoError(t, s.CreateBucket(ctx, "docs", filestore.BucketOptions{}))
	assert.Equal(t, 3, s.Calls(OpCreateBucket))
}

func TestPutIntoMissingBucket(t *testing.T) {
	_, err := New().PutObject(context.Background(), "nope", "k", strings.NewReader("x"), filestore.PutOptions{})
	assert.True(t, errs.IsNotFound(err))
}
