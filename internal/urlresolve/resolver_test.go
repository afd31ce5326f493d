package urlresolve

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/filestore/memstore"
	"github.com/koustreak/docrelay/internal/metrics"
)

const key = "invoice/2026-01-02T03-04-05-000Z_a.pdf"

func setup(t *testing.T, public bool) *memstore.Store {
	t.Helper()
	ctx := context.Background()
	store := memstore.New(memstore.WithBaseURL("http://cdn.test"))
	require.NoError(t, store.CreateBucket(ctx, "documents", filestore.BucketOptions{Public: public}))
	_, err := store.PutObject(ctx, "documents", key, bytes.NewReader([]byte("pdf")), filestore.PutOptions{Size: 3, Overwrite: true})
	require.NoError(t, err)
	return store
}

type verifierFunc func(ctx context.Context, url string) error

func (f verifierFunc) Verify(ctx context.Context, url string) error { return f(ctx, url) }

func TestResolve_PublicTier(t *testing.T) {
	r := New(setup(t, true), Config{}, nil, nil)

	res := r.ResolveTier(context.Background(), "documents", key)
	assert.Equal(t, TierPublic, res.Tier)
	assert.False(t, res.Degraded())
	assert.Equal(t, "http://cdn.test/documents/"+key, res.URL)
}

func TestResolve_SignedWhenNotPublic(t *testing.T) {
	r := New(setup(t, false), Config{SignedTTL: time.Hour}, nil, nil)

	res := r.ResolveTier(context.Background(), "documents", key)
	assert.Equal(t, TierSigned, res.Tier)
	assert.True(t, res.Degraded())
	assert.Contains(t, res.URL, "X-Expires=1h0m0s")
}

func TestResolve_ConstructedNeverEmpty(t *testing.T) {
	store := setup(t, false)
	store.FailNext(memstore.OpPresign, 10, errs.New(errs.ErrKindConnectionFailed, "down"))
	m := metrics.New()
	r := New(store, Config{BaseURL: "https://files.example.com/"}, nil, m)

	res := r.ResolveTier(context.Background(), "documents", key)
	assert.Equal(t, TierConstructed, res.Tier)
	assert.Equal(t, "https://files.example.com/documents/"+key, res.URL)

	// not cached: the store is asked again
	_ = r.Resolve(context.Background(), "documents", key)
	assert.Equal(t, 2, store.Calls(memstore.OpPresign))
}

func TestResolve_ConstructedWithoutBase(t *testing.T) {
	store := memstore.New()
	store.FailNext(memstore.OpPublicURL, 1, errs.New(errs.ErrKindTimeout, "slow"))
	r := New(store, Config{}, nil, nil)

	u := r.Resolve(context.Background(), "missing", "tax/a b.pdf")
	assert.Equal(t, "/missing/tax/a%20b.pdf", u)
}

func TestResolve_VerifierGatesPublicTier(t *testing.T) {
	var checked []string
	v := verifierFunc(func(_ context.Context, u string) error {
		checked = append(checked, u)
		if strings.Contains(u, "X-Expires") {
			return nil
		}
		return errs.New(errs.ErrKindPermissionDenied, "403")
	})
	r := New(setup(t, true), Config{Verifier: v}, nil, nil)

	res := r.ResolveTier(context.Background(), "documents", key)
	assert.Equal(t, TierSigned, res.Tier)
	assert.Len(t, checked, 2)
}

func TestResolve_SignedVerificationIsAdvisory(t *testing.T) {
	v := verifierFunc(func(context.Context, string) error {
		return errs.New(errs.ErrKindNotFound, "404")
	})
	r := New(setup(t, false), Config{Verifier: v}, nil, nil)

	res := r.ResolveTier(context.Background(), "documents", key)
	assert.Equal(t, TierSigned, res.Tier)
	assert.NotEmpty(t, res.URL)
}

func TestResolve_CacheAndForget(t *testing.T) {
	store := setup(t, true)
	r := New(store, Config{}, nil, nil)
	ctx := context.Background()

	first := r.Resolve(ctx, "documents", key)
	second := r.Resolve(ctx, "documents", key)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Calls(memstore.OpPublicURL))

	r.Forget("documents", key)
	_ = r.Resolve(ctx, "documents", key)
	assert.Equal(t, 2, store.Calls(memstore.OpPublicURL))

	r.Purge()
	_ = r.Resolve(ctx, "documents", key)
	assert.Equal(t, 3, store.Calls(memstore.OpPublicURL))
}

func TestHTTPVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/private":
			w.WriteHeader(http.StatusForbidden)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	v := NewHTTPVerifier(time.Second)
	ctx := context.Background()

	assert.NoError(t, v.Verify(ctx, srv.URL+"/ok"))
	assert.True(t, errs.IsPermissionDenied(v.Verify(ctx, srv.URL+"/private")))
	assert.True(t, errs.IsNotFound(v.Verify(ctx, srv.URL+"/gone")))
	assert.True(t, errs.IsQueryFailed(v.Verify(ctx, srv.URL+"/broken")))

	srv.Close()
	assert.True(t, errs.IsConnectionFailed(v.Verify(ctx, srv.URL+"/ok")))
}
