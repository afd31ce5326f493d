package filestore

import (
	"strings"
	"time"
)

// Provider identifies the file storage backend.
type Provider string

const (
	ProviderMinIO  Provider = "minio"
	ProviderS3     Provider = "s3"
	ProviderMemory Provider = "memory"
)

// MaxPresignTTL is the longest expiry S3-compatible backends accept for a
// SigV4 presigned URL. Drivers clamp longer requests to it.
const MaxPresignTTL = 7 * 24 * time.Hour

// Config holds all settings needed to connect to a file storage backend.
type Config struct {
	// Provider is the storage backend (e.g. ProviderMinIO).
	Provider Provider

	// Endpoint is the host:port of the storage server.
	// Example: "localhost:9000" for local MinIO.
	Endpoint string

	// AccessKey is the access key ID (MinIO / S3 style).
	AccessKey string

	// SecretKey is the secret access key.
	SecretKey string

	// UseSSL controls whether TLS is used for the connection.
	UseSSL bool

	// Region is used by region-aware backends (e.g. AWS S3).
	// Leave empty for MinIO.
	Region string

	// DefaultBucket is the bucket documents are stored in.
	DefaultBucket string

	// PublicBaseURL is the externally reachable base under which public
	// objects are served, e.g. "https://cdn.example.com". Objects resolve to
	// PublicBaseURL/<bucket>/<key>. When empty, drivers derive it from
	// Endpoint and UseSSL.
	PublicBaseURL string

	// PathStyle forces path-style addressing on S3 (required by MinIO and
	// most self-hosted S3 implementations).
	PathStyle bool
}

// DefaultConfig returns a sensible local-dev config for MinIO.
func DefaultConfig(endpoint, accessKey, secretKey string) *Config {
	return &Config{
		Provider:      ProviderMinIO,
		Endpoint:      endpoint,
		AccessKey:     accessKey,
		SecretKey:     secretKey,
		UseSSL:        false,
		DefaultBucket: "documents",
		PathStyle:     true,
	}
}

// BaseURL returns the public base URL, derived from Endpoint when
// PublicBaseURL is not set.
func (c *Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return trimSlash(c.PublicBaseURL)
	}
	if c.Endpoint == "" {
		return ""
	}
	if strings.Contains(c.Endpoint, "://") {
		return trimSlash(c.Endpoint)
	}
	scheme := "http://"
	if c.UseSSL {
		scheme = "https://"
	}
	return scheme + trimSlash(c.Endpoint)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
