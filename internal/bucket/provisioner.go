// Package bucket makes the document bucket exist, be publicly readable and
// accept writes, and keeps the process-wide belief about its readiness.
package bucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/logger"
	"github.com/koustreak/docrelay/internal/metrics"
)

// ProbePrefix holds disposable probe objects. Keys under it never follow the
// document layout and are never indexed.
const ProbePrefix = "_probe/"

// State is the cached belief about a bucket.
type State int

const (
	StateUnknown State = iota
	StateReady
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Provisioner owns bucket readiness for one process.
type Provisioner struct {
	store       filestore.Store
	log         *logger.Logger
	metrics     *metrics.Metrics
	maxAttempts int
	delay       time.Duration
	sleep       SleepFunc
	probeKey    func() string

	group  singleflight.Group
	mu     sync.RWMutex
	states map[string]State
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Provisioner) { p.log = logger.OrNop(l).Component("bucket") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provisioner) { p.metrics = m }
}

// WithMaxAttempts sets the attempt budget used by Ensure.
func WithMaxAttempts(n int) Option {
	return func(p *Provisioner) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithDelay sets the fixed pause between attempts.
func WithDelay(d time.Duration) Option {
	return func(p *Provisioner) { p.delay = d }
}

// WithSleep replaces the wait between attempts. Tests use it to avoid
// real delays.
func WithSleep(fn SleepFunc) Option {
	return func(p *Provisioner) { p.sleep = fn }
}

// New returns a Provisioner for store. Defaults: 3 attempts, 2s apart.
func New(store filestore.Store, opts ...Option) *Provisioner {
	p := &Provisioner{
		store:       store,
		log:         logger.Nop(),
		maxAttempts: 3,
		delay:       2 * time.Second,
		sleep:       sleepCtx,
		probeKey:    func() string { return ProbePrefix + uuid.NewString() },
		states:      map[string]State{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// State returns the cached state of bucket.
func (p *Provisioner) State(bucket string) State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.states[bucket]
}

// Reset forgets what is known about bucket so the next Ensure provisions it
// again. Callers reset after any operation against the bucket fails.
func (p *Provisioner) Reset(bucket string) {
	if p.setState(bucket, StateUnknown) != StateUnknown {
		p.log.With().Str("bucket", bucket).Logger().Info("bucket state reset")
	}
}

func (p *Provisioner) setState(bucket string, s State) State {
	p.mu.Lock()
	prev := p.states[bucket]
	p.states[bucket] = s
	p.mu.Unlock()

	switch s {
	case StateReady:
		p.metrics.SetBucketReady(1)
	case StateBroken:
		p.metrics.SetBucketReady(-1)
	default:
		p.metrics.SetBucketReady(0)
	}
	return prev
}

// Ensure returns immediately when bucket is believed ready, and provisions
// it otherwise. force skips the cached belief.
func (p *Provisioner) Ensure(ctx context.Context, bucket string, force bool) error {
	if !force && p.State(bucket) == StateReady {
		return nil
	}
	return p.EnsureReady(ctx, bucket, p.maxAttempts)
}

// EnsureReady makes bucket exist, be public and pass an end-to-end probe,
// trying at most maxAttempts times with a fixed delay in between. On
// exhaustion the bucket is marked broken and an ErrKindProvisioningFailed
// error wrapping the last failure is returned.
//
// Concurrent calls for the same bucket share one provisioning run, bounded
// by the maxAttempts of the call that started it. The run does not inherit
// cancellation from any caller; a caller whose ctx ends stops waiting and
// gets ErrKindProvisioningFailed while the others still get the outcome.
func (p *Provisioner) EnsureReady(ctx context.Context, bucket string, maxAttempts int) error {
	if bucket == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket name is empty")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	runCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(bucket, func() (any, error) {
		return nil, p.provision(runCtx, bucket, maxAttempts)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return errs.Wrap(errs.ErrKindProvisioningFailed,
			fmt.Sprintf("stopped waiting for bucket %q", bucket), ctx.Err())
	}
}

func (p *Provisioner) provision(ctx context.Context, bucket string, maxAttempts int) error {
	log := p.log.With().Str("bucket", bucket).Int("max_attempts", maxAttempts).Logger()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.attempt(ctx, bucket)
		p.metrics.ProvisionAttempt(lastErr)
		if lastErr == nil {
			p.setState(bucket, StateReady)
			log.InfoWith("bucket ready", map[string]interface{}{"attempt": attempt})
			return nil
		}

		log.WarnWith("provisioning attempt failed", lastErr, map[string]interface{}{"attempt": attempt})
		if attempt == maxAttempts {
			break
		}
		if err := p.sleep(ctx, p.delay); err != nil {
			lastErr = errs.Wrap(errs.ErrKindTimeout, "provisioning interrupted", err)
			break
		}
	}

	p.setState(bucket, StateBroken)
	log.ErrorWith("bucket could not be provisioned", lastErr, nil)
	return errs.Wrap(errs.ErrKindProvisioningFailed,
		fmt.Sprintf("bucket %q is not ready after %d attempt(s)", bucket, maxAttempts), lastErr)
}

// attempt runs one provisioning pass: create with the public policy, fall
// back to a membership check when creation is inconclusive, then probe.
func (p *Provisioner) attempt(ctx context.Context, bucket string) error {
	err := p.store.CreateBucket(ctx, bucket, filestore.BucketOptions{Public: true})
	if err != nil && !errs.IsAlreadyExists(err) {
		found, listErr := p.listed(ctx, bucket)
		if listErr != nil {
			return fmt.Errorf("create bucket: %w (list buckets: %v)", err, listErr)
		}
		if !found {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return p.probe(ctx, bucket)
}

func (p *Provisioner) listed(ctx context.Context, bucket string) (bool, error) {
	buckets, err := p.store.ListBuckets(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range buckets {
		if b.Name == bucket {
			return true, nil
		}
	}
	return false, nil
}

// probe writes, reads back and removes a disposable object and checks that
// the store can produce a public URL for it.
func (p *Provisioner) probe(ctx context.Context, bucket string) (err error) {
	key := p.probeKey()
	payload := []byte("docrelay probe " + key)

	if _, err := p.store.PutObject(ctx, bucket, key, bytes.NewReader(payload), filestore.PutOptions{
		Size:        int64(len(payload)),
		ContentType: "text/plain",
		Overwrite:   true,
	}); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	defer func() {
		if rmErr := p.store.RemoveObjects(ctx, bucket, []string{key}); rmErr != nil && err == nil {
			err = fmt.Errorf("probe remove: %w", rmErr)
		}
	}()

	obj, err := p.store.GetObject(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	got, err := io.ReadAll(obj)
	_ = obj.Close()
	if err != nil {
		return fmt.Errorf("probe read: %w", err)
	}
	if !bytes.Equal(got, payload) {
		return errs.New(errs.ErrKindQueryFailed, "probe read returned different content")
	}

	u, err := p.store.PublicURL(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("probe public url: %w", err)
	}
	if u == "" {
		return errs.New(errs.ErrKindPermissionDenied, "bucket has no public URL")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
