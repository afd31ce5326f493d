package bucket

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/filestore/memstore"
)

type sleeps struct {
	mu    sync.Mutex
	delay []time.Duration
}

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = append(s.delay, d)
	return nil
}

func newProvisioner(store filestore.Store, opts ...Option) (*Provisioner, *sleeps) {
	s := &sleeps{}
	opts = append([]Option{WithSleep(s.sleep), WithDelay(2 * time.Second)}, opts...)
	return New(store, opts...), s
}

func transient() error {
	return errs.New(errs.ErrKindConnectionFailed, "backend unavailable")
}

func TestEnsureReady_FailsTwiceThenReady(t *testing.T) {
	store := memstore.New()
	store.FailNext(memstore.OpCreateBucket, 2, transient())
	p, s := newProvisioner(store)

	err := p.EnsureReady(context.Background(), "documents", 3)
	require.NoError(t, err)
	assert.Equal(t, StateReady, p.State("documents"))
	assert.Equal(t, 3, store.Calls(memstore.OpCreateBucket))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, s.delay)
	assert.True(t, store.IsPublic("documents"))
}

func TestEnsureReady_ExhaustsAttempts(t *testing.T) {
	store := memstore.New()
	store.FailNext(memstore.OpCreateBucket, 3, transient())
	p, s := newProvisioner(store)

	err := p.EnsureReady(context.Background(), "documents", 2)
	require.Error(t, err)
	assert.True(t, errs.IsProvisioningFailed(err))
	assert.ErrorContains(t, err, "backend unavailable")
	assert.Equal(t, StateBroken, p.State("documents"))
	assert.Equal(t, 2, store.Calls(memstore.OpCreateBucket))
	assert.Len(t, s.delay, 1)
}

func TestEnsureReady_Idempotent(t *testing.T) {
	store := memstore.New()
	p, _ := newProvisioner(store)
	ctx := context.Background()

	require.NoError(t, p.EnsureReady(ctx, "documents", 3))
	require.NoError(t, p.EnsureReady(ctx, "documents", 3))
	assert.Equal(t, StateReady, p.State("documents"))
	assert.Empty(t, store.Keys("documents"), "probe objects must be removed")
}

func TestEnsureReady_ListedAfterInconclusiveCreate(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.CreateBucket(context.Background(), "documents", filestore.BucketOptions{Public: true}))
	store.FailNext(memstore.OpCreateBucket, 1, transient())
	p, s := newProvisioner(store)

	require.NoError(t, p.EnsureReady(context.Background(), "documents", 1))
	assert.Equal(t, 1, store.Calls(memstore.OpListBuckets))
	assert.Empty(t, s.delay)
}

func TestEnsureReady_ProbeFailures(t *testing.T) {
	tests := []struct {
		name     string
		op       memstore.Op
		leftover int
	}{
		{"write", memstore.OpPutObject, 0},
		{"read", memstore.OpGetObject, 0},
		{"public url", memstore.OpPublicURL, 0},
		{"remove", memstore.OpRemoveObjects, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New()
			store.FailNext(tt.op, 1, transient())
			p, s := newProvisioner(store)

			require.NoError(t, p.EnsureReady(context.Background(), "documents", 2))
			assert.Len(t, s.delay, 1)
			keys := store.Keys("documents")
			assert.Len(t, keys, tt.leftover)
			for _, k := range keys {
				assert.True(t, strings.HasPrefix(k, ProbePrefix))
			}
		})
	}
}

// privateStore never applies the public policy.
type privateStore struct{ *memstore.Store }

func (s privateStore) CreateBucket(ctx context.Context, name string, _ filestore.BucketOptions) error {
	return s.Store.CreateBucket(ctx, name, filestore.BucketOptions{})
}

func TestEnsureReady_PrivateBucketFailsProbe(t *testing.T) {
	p, _ := newProvisioner(privateStore{memstore.New()})

	err := p.EnsureReady(context.Background(), "documents", 2)
	assert.True(t, errs.IsProvisioningFailed(err))
	assert.ErrorContains(t, err, "no public URL")
	assert.Equal(t, StateBroken, p.State("documents"))
}

func TestEnsure_UsesCachedState(t *testing.T) {
	store := memstore.New()
	p, _ := newProvisioner(store)
	ctx := context.Background()

	require.NoError(t, p.Ensure(ctx, "documents", false))
	require.NoError(t, p.Ensure(ctx, "documents", false))
	assert.Equal(t, 1, store.Calls(memstore.OpCreateBucket))

	require.NoError(t, p.Ensure(ctx, "documents", true))
	assert.Equal(t, 2, store.Calls(memstore.OpCreateBucket))

	p.Reset("documents")
	assert.Equal(t, StateUnknown, p.State("documents"))
	require.NoError(t, p.Ensure(ctx, "documents", false))
	assert.Equal(t, 3, store.Calls(memstore.OpCreateBucket))
}

func TestEnsureReady_ConcurrentCallers(t *testing.T) {
	store := memstore.New()
	p, _ := newProvisioner(store)

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- p.EnsureReady(context.Background(), "documents", 3)
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		assert.NoError(t, err)
	}
	assert.Equal(t, StateReady, p.State("documents"))
}

// gate blocks every delay until released or the run's ctx ends.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) sleep(ctx context.Context, _ time.Duration) error {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestEnsureReady_CancelledCallerStopsWaiting(t *testing.T) {
	store := memstore.New()
	store.FailNext(memstore.OpCreateBucket, 1, transient())
	g := newGate()
	t.Cleanup(func() { close(g.release) })
	p := New(store, WithSleep(g.sleep))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.EnsureReady(ctx, "documents", 3) }()

	<-g.entered
	cancel()
	err := <-done
	assert.True(t, errs.IsProvisioningFailed(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsureReady_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := memstore.New()
	store.FailNext(memstore.OpCreateBucket, 1, transient())
	g := newGate()
	p := New(store, WithSleep(g.sleep))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- p.EnsureReady(ctx, "documents", 3) }()
	<-g.entered

	second := make(chan error, 1)
	go func() { second <- p.EnsureReady(context.Background(), "documents", 3) }()

	cancel()
	assert.True(t, errs.IsProvisioningFailed(<-first))

	close(g.release)
	require.NoError(t, <-second)
	assert.Equal(t, StateReady, p.State("documents"))
}

func TestEnsureReady_EmptyName(t *testing.T) {
	p, _ := newProvisioner(memstore.New())
	assert.True(t, errs.IsInvalidInput(p.EnsureReady(context.Background(), "", 3)))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "broken", StateBroken.String())
}
