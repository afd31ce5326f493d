package filestore

import (
	"io"
	"net/url"
	"strings"
	"time"
)

// BucketInfo describes a storage bucket / container.
type BucketInfo struct {
	// Name is the bucket name.
	Name string

	// CreatedAt is when the bucket was created.
	// May be zero if the backend does not expose creation time.
	CreatedAt time.Time
}

// BucketOptions controls bucket creation.
type BucketOptions struct {
	// Public grants anonymous read access to every object in the bucket.
	Public bool
}

// ObjectInfo describes a single object stored in a bucket.
type ObjectInfo struct {
	// Key is the full object path within the bucket (e.g. "invoice/2026-01-01T00-00-00-000Z_a.pdf").
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	// ContentType is the MIME type (e.g. "application/pdf").
	ContentType string

	// ETag is the object's entity tag / hash, as returned by the backend.
	ETag string

	// LastModified is when the object was last written.
	// Zero when the backend did not report it.
	LastModified time.Time

	// IsDir is true when the entry represents a virtual directory (prefix),
	// not an actual stored object.
	IsDir bool
}

// Object is a streaming handle to an object's content.
// The caller MUST call Close() after reading to avoid resource leaks.
type Object interface {
	io.ReadCloser

	// Info returns the metadata for this object.
	Info() *ObjectInfo
}

// ListOptions controls how ListObjects filters and paginates results.
type ListOptions struct {
	// Prefix restricts results to objects whose key starts with this string.
	// Use "" to list everything in the bucket.
	Prefix string

	// Recursive, when true, lists all objects under the prefix without
	// grouping by virtual directories. When false (default), common prefixes
	// (virtual "folders") are returned as IsDir entries.
	Recursive bool

	// Limit caps the number of results returned. 0 means no cap.
	Limit int
}

// PutOptions controls how PutObject writes an object.
type PutOptions struct {
	// Size is the exact content length, or -1 when unknown.
	Size int64

	// ContentType is stored with the object; defaults to
	// "application/octet-stream".
	ContentType string

	// Overwrite allows replacing an existing object at the same key.
	// When false, PutObject fails with errs.ErrKindAlreadyExists.
	Overwrite bool
}

// ContentTypeOrDefault returns o.ContentType or the generic binary type.
func (o PutOptions) ContentTypeOrDefault() string {
	if o.ContentType == "" {
		return "application/octet-stream"
	}
	return o.ContentType
}

// ObjectURL joins base, bucket and key into a URL, escaping each key
// segment. It is the deterministic layout used for public objects.
func ObjectURL(base, bucket, key string) string {
	return trimSlash(base) + "/" + url.PathEscape(bucket) + "/" + EscapeKey(key)
}

// EscapeKey path-escapes every "/"-separated segment of key.
func EscapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
