package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/filestore"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Catalog.PageSize)
	assert.Equal(t, 3, cfg.Provisioning.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Provisioning.Delay)
	assert.Equal(t, 8760*time.Hour, cfg.URLs.SignedTTL)
	assert.Equal(t, 45*time.Second, cfg.Catalog.RefreshInterval)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "memory", cfg.Storage.Provider)
	assert.Equal(t, "55", cfg.Delivery.WhatsApp.CountryCode)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
database:
  driver: postgres
  dsn: postgres://u:p@localhost/docrelay
storage:
  provider: minio
  endpoint: localhost:9000
  bucket: client-docs
catalog:
  page_size: 25
provisioning:
  max_attempts: 5
  delay: 500ms
urls:
  signed_ttl: 72h
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 25, cfg.Catalog.PageSize)
	assert.Equal(t, 5, cfg.Provisioning.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Provisioning.Delay)
	assert.Equal(t, 72*time.Hour, cfg.URLs.SignedTTL)
	assert.Equal(t, "client-docs", cfg.Storage.Bucket)

	dc := cfg.DatabaseConfig()
	assert.Equal(t, database.DriverPostgres, dc.Driver)
	assert.Equal(t, "postgres://u:p@localhost/docrelay", dc.DSN)

	sc := cfg.StoreConfig()
	assert.Equal(t, filestore.ProviderMinIO, sc.Provider)
	assert.Equal(t, "client-docs", sc.DefaultBucket)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "catalog: [unterminated"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DOCRELAY_STORAGE_SECRET_KEY":    "s3cret",
		"DOCRELAY_STORAGE_USE_SSL":       "true",
		"DOCRELAY_DATABASE_DSN":          "root@tcp(db)/docrelay",
		"DOCRELAY_WHATSAPP_TOKEN":        "tok",
		"DOCRELAY_DATABASE_AUTO_MIGRATE": "1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "s3cret", cfg.Storage.SecretKey)
	assert.True(t, cfg.Storage.UseSSL)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "root@tcp(db)/docrelay", cfg.Database.DSN)
	assert.Equal(t, "tok", cfg.Delivery.WhatsApp.Token)

	env["DOCRELAY_STORAGE_USE_SSL"] = "maybe"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"unknown provider", func(c *Config) { c.Storage.Provider = "gcs" }},
		{"minio without endpoint", func(c *Config) { c.Storage.Provider = "minio" }},
		{"blank bucket", func(c *Config) { c.Storage.Bucket = " " }},
		{"zero page size", func(c *Config) { c.Catalog.PageSize = 0 }},
		{"zero attempts", func(c *Config) { c.Provisioning.MaxAttempts = 0 }},
		{"negative delay", func(c *Config) { c.Upload.PutDelay = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
