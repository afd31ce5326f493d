// Package memstore is an in-memory filestore.Store. It backs the "memory"
// provider for local runs and lets tests inject failures per operation.
package memstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/koustreak/docrelay/internal/errs"
	"github.com/koustreak/docrelay/internal/filestore"
)

// Op names a Store method for fault injection and call counting.
type Op string

const (
	OpPing          Op = "ping"
	OpCreateBucket  Op = "create_bucket"
	OpListBuckets   Op = "list_buckets"
	OpListObjects   Op = "list_objects"
	OpPutObject     Op = "put_object"
	OpGetObject     Op = "get_object"
	OpStatObject    Op = "stat_object"
	OpRemoveObjects Op = "remove_objects"
	OpPublicURL     Op = "public_url"
	OpPresign       Op = "presign"
)

type bucket struct {
	created time.Time
	public  bool
	objects map[string]*stored
}

type stored struct {
	data        []byte
	contentType string
	etag        string
	modified    time.Time
}

type fault struct {
	remaining int
	err       error
}

// Store is an in-memory filestore.Store. The zero value is not usable; call New.
type Store struct {
	mu      sync.Mutex
	baseURL string
	now     func() time.Time
	buckets map[string]*bucket
	faults  map[Op]*fault
	calls   map[Op]int
}

var _ filestore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithBaseURL sets the base used by PublicURL and PresignGetURL.
func WithBaseURL(base string) Option {
	return func(s *Store) { s.baseURL = strings.TrimRight(base, "/") }
}

// WithClock replaces time.Now for object timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		baseURL: "http://memstore.local",
		now:     time.Now,
		buckets: map[string]*bucket{},
		faults:  map[Op]*fault{},
		calls:   map[Op]int{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FailNext makes the next n calls of op return err.
func (s *Store) FailNext(op Op, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{remaining: n, err: err}
}

// Calls returns how many times op was invoked, failed calls included.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// IsPublic reports whether bucket carries the public read policy.
func (s *Store) IsPublic(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	return ok && b.public
}

// Keys returns the sorted object keys of bucket.
func (s *Store) Keys(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// enter records a call and returns the injected fault, if any.
// The caller must hold s.mu.
func (s *Store) enter(op Op) error {
	s.calls[op]++
	f, ok := s.faults[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	f.remaining--
	return f.err
}

func (s *Store) bucket(name string) (*bucket, error) {
	b, ok := s.buckets[name]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "bucket %q does not exist", name)
	}
	return b, nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.ErrKindTimeout, "ping failed", err)
	}
	return s.enter(OpPing)
}

func (s *Store) Close() error {
	return nil
}

// CreateBucket mirrors the S3 drivers: an existing bucket still receives the
// requested policy and the call reports errs.ErrKindAlreadyExists.
func (s *Store) CreateBucket(_ context.Context, name string, opts filestore.BucketOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateBucket); err != nil {
		return err
	}
	if name == "" {
		return errs.New(errs.ErrKindInvalidInput, "bucket name is empty")
	}

	b, ok := s.buckets[name]
	if !ok {
		s.buckets[name] = &bucket{
			created: s.now().UTC(),
			public:  opts.Public,
			objects: map[string]*stored{},
		}
		return nil
	}
	if opts.Public {
		b.public = true
	}
	return errs.Newf(errs.ErrKindAlreadyExists, "bucket %q already exists", name)
}

func (s *Store) ListBuckets(context.Context) ([]filestore.BucketInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListBuckets); err != nil {
		return nil, err
	}

	out := make([]filestore.BucketInfo, 0, len(s.buckets))
	for name, b := range s.buckets {
		out = append(out, filestore.BucketInfo{Name: name, CreatedAt: b.created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListObjects returns matching objects sorted by key.
func (s *Store) ListObjects(_ context.Context, name string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListObjects); err != nil {
		return nil, err
	}
	b, err := s.bucket(name)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out []filestore.ObjectInfo
	seenDirs := map[string]bool{}
	for _, k := range keys {
		if !opts.Recursive {
			rest := k[len(opts.Prefix):]
			if i := strings.Index(rest, "/"); i >= 0 {
				dir := opts.Prefix + rest[:i+1]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					out = append(out, filestore.ObjectInfo{Key: dir, Size: -1, IsDir: true})
				}
				continue
			}
		}
		out = append(out, info(k, b.objects[k]))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PutObject(_ context.Context, name, key string, r io.Reader, opts filestore.PutOptions) (*filestore.ObjectInfo, error) {
	// Read outside the lock; r may be slow.
	data, readErr := io.ReadAll(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPutObject); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, errs.Wrap(errs.ErrKindQueryFailed, "failed to read object body", readErr)
	}
	if key == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "object key is empty")
	}
	b, err := s.bucket(name)
	if err != nil {
		return nil, err
	}
	if _, exists := b.objects[key]; exists && !opts.Overwrite {
		return nil, errs.Newf(errs.ErrKindAlreadyExists, "object %q already exists", key)
	}

	sum := md5.Sum(data)
	obj := &stored{
		data:        data,
		contentType: opts.ContentTypeOrDefault(),
		etag:        hex.EncodeToString(sum[:]),
		modified:    s.now().UTC(),
	}
	b.objects[key] = obj

	oi := info(key, obj)
	return &oi, nil
}

func (s *Store) GetObject(_ context.Context, name, key string) (filestore.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetObject); err != nil {
		return nil, err
	}
	obj, err := s.object(name, key)
	if err != nil {
		return nil, err
	}
	oi := info(key, obj)
	return &object{Reader: bytes.NewReader(obj.data), info: &oi}, nil
}

func (s *Store) StatObject(_ context.Context, name, key string) (*filestore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStatObject); err != nil {
		return nil, err
	}
	obj, err := s.object(name, key)
	if err != nil {
		return nil, err
	}
	oi := info(key, obj)
	return &oi, nil
}

// RemoveObjects ignores keys that do not exist.
func (s *Store) RemoveObjects(_ context.Context, name string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpRemoveObjects); err != nil {
		return err
	}
	b, err := s.bucket(name)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(b.objects, k)
	}
	return nil
}

// PublicURL returns a URL only for public buckets.
func (s *Store) PublicURL(_ context.Context, name, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPublicURL); err != nil {
		return "", err
	}
	b, err := s.bucket(name)
	if err != nil {
		return "", err
	}
	if !b.public {
		return "", nil
	}
	return filestore.ObjectURL(s.baseURL, name, key), nil
}

func (s *Store) PresignGetURL(_ context.Context, name, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPresign); err != nil {
		return "", err
	}
	if _, err := s.object(name, key); err != nil {
		return "", err
	}
	if ttl > filestore.MaxPresignTTL {
		ttl = filestore.MaxPresignTTL
	}
	return filestore.ObjectURL(s.baseURL, name, key) + "?X-Expires=" + ttl.String(), nil
}

func (s *Store) object(name, key string) (*stored, error) {
	b, err := s.bucket(name)
	if err != nil {
		return nil, err
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "object %q not found", key)
	}
	return obj, nil
}

func info(key string, o *stored) filestore.ObjectInfo {
	return filestore.ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ContentType:  o.contentType,
		ETag:         o.etag,
		LastModified: o.modified,
	}
}

type object struct {
	*bytes.Reader
	info *filestore.ObjectInfo
}

func (o *object) Close() error {
	return nil
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}
