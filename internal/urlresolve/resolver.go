// Package urlresolve turns storage keys into URLs a recipient can fetch.
//
// Resolution walks a fixed chain and never fails:
//
//	public      the store's permanent anonymous URL, verified when a Verifier is set
//	signed      a long-lived presigned URL
//	constructed base/bucket/key built locally, correct only for public buckets
//
// Falling past the first tier is telemetry, not an error.
package urlresolve

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/logger"
	"github.com/koustreak/docrelay/internal/metrics"
)

// Tier names the step of the chain that produced a URL.
type Tier string

const (
	TierPublic      Tier = "public"
	TierSigned      Tier = "signed"
	TierConstructed Tier = "constructed"
)

// Resolution is a resolved URL and the tier that produced it.
type Resolution struct {
	URL  string
	Tier Tier
}

// Degraded reports whether a fallback tier was used.
func (r Resolution) Degraded() bool {
	return r.Tier != TierPublic
}

// Verifier checks that a URL is reachable.
type Verifier interface {
	Verify(ctx context.Context, url string) error
}

type cacheKey struct {
	bucket string
	key    string
}

// Resolver resolves and caches object URLs.
type Resolver struct {
	store     filestore.Store
	base      string
	signedTTL time.Duration
	verifier  Verifier
	cache     *expirable.LRU[cacheKey, Resolution]
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// Config tunes a Resolver. Zero values pick the defaults.
type Config struct {
	// BaseURL is the public base used by the constructed tier.
	BaseURL string
	// SignedTTL is the requested presign lifetime (default one year; drivers
	// clamp it to what the backend accepts).
	SignedTTL time.Duration
	// CacheSize and CacheTTL bound the URL cache (defaults 1024, 1h).
	CacheSize int
	CacheTTL  time.Duration
	// Verifier, when set, gates the public tier and reports on the signed one.
	Verifier Verifier
}

// New returns a Resolver for store.
func New(store filestore.Store, cfg Config, log *logger.Logger, m *metrics.Metrics) *Resolver {
	if cfg.SignedTTL <= 0 {
		cfg.SignedTTL = 8760 * time.Hour
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Resolver{
		store:     store,
		base:      cfg.BaseURL,
		signedTTL: cfg.SignedTTL,
		verifier:  cfg.Verifier,
		cache:     expirable.NewLRU[cacheKey, Resolution](cfg.CacheSize, nil, cfg.CacheTTL),
		log:       logger.OrNop(log).Component("urlresolve"),
		metrics:   m,
	}
}

// Resolve returns a non-empty URL for key.
func (r *Resolver) Resolve(ctx context.Context, bucket, key string) string {
	return r.ResolveTier(ctx, bucket, key).URL
}

// ResolveTier is Resolve, also reporting which tier answered.
func (r *Resolver) ResolveTier(ctx context.Context, bucket, key string) Resolution {
	ck := cacheKey{bucket: bucket, key: key}
	if res, ok := r.cache.Get(ck); ok {
		return res
	}

	log := r.log.With().Str("bucket", bucket).Str("key", key).Logger()

	if u, err := r.store.PublicURL(ctx, bucket, key); err != nil {
		log.WarnWith("public url unavailable", err, nil)
	} else if u != "" {
		if verr := r.verify(ctx, u); verr != nil {
			log.WarnWith("public url failed verification", verr, map[string]interface{}{"url": u})
		} else {
			return r.keep(ck, Resolution{URL: u, Tier: TierPublic})
		}
	}

	if u, err := r.store.PresignGetURL(ctx, bucket, key, r.signedTTL); err != nil {
		log.WarnWith("signed url unavailable", err, nil)
	} else if u != "" {
		if verr := r.verify(ctx, u); verr != nil {
			log.WarnWith("signed url failed verification", verr, nil)
		}
		return r.degraded(log, r.keep(ck, Resolution{URL: u, Tier: TierSigned}))
	}

	// Constructed URLs are not cached so the next call retries the store.
	res := Resolution{URL: r.construct(bucket, key), Tier: TierConstructed}
	return r.degraded(log, res)
}

// Forget drops the cached URL for key.
func (r *Resolver) Forget(bucket, key string) {
	r.cache.Remove(cacheKey{bucket: bucket, key: key})
}

// Purge empties the URL cache.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

func (r *Resolver) keep(ck cacheKey, res Resolution) Resolution {
	r.cache.Add(ck, res)
	if res.Tier == TierPublic {
		r.metrics.URLResolved(string(res.Tier))
	}
	return res
}

func (r *Resolver) degraded(log *logger.Logger, res Resolution) Resolution {
	r.metrics.URLResolved(string(res.Tier))
	log.WarnWith("url resolution degraded", nil, map[string]interface{}{"tier": string(res.Tier)})
	return res
}

func (r *Resolver) verify(ctx context.Context, u string) error {
	if r.verifier == nil {
		return nil
	}
	err := r.verifier.Verify(ctx, u)
	if err != nil {
		r.metrics.URLVerifyFailed()
	}
	return err
}

func (r *Resolver) construct(bucket, key string) string {
	if r.base == "" {
		return "/" + filestore.EscapeKey(bucket) + "/" + filestore.EscapeKey(key)
	}
	return filestore.ObjectURL(r.base, bucket, key)
}
