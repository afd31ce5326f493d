// Package config loads docrelay configuration from YAML with environment
// overrides for secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCRELAY_"

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig configures the relational index.
type DatabaseConfig struct {
	Driver         string        `yaml:"driver"` // postgres, mysql, memory
	DSN            string        `yaml:"dsn"`
	MaxConns       int32         `yaml:"max_conns"`
	MinConns       int32         `yaml:"min_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	AutoMigrate    bool          `yaml:"auto_migrate"`
}

// StorageConfig configures the object store.
type StorageConfig struct {
	Provider      string `yaml:"provider"` // minio, s3, memory
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"public_base_url"`
	PathStyle     bool   `yaml:"path_style"`
}

// CatalogConfig configures listing, caching and the audit loop.
type CatalogConfig struct {
	PageSize        int           `yaml:"page_size"`
	CachePages      int           `yaml:"cache_pages"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	AuditInterval   time.Duration `yaml:"audit_interval"`
	URLConcurrency  int           `yaml:"url_concurrency"`
}

// ProvisioningConfig configures bucket provisioning retries.
type ProvisioningConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// URLConfig configures URL resolution.
type URLConfig struct {
	SignedTTL     time.Duration `yaml:"signed_ttl"`
	Verify        bool          `yaml:"verify"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// UploadConfig configures the upload pipeline.
type UploadConfig struct {
	PutAttempts int           `yaml:"put_attempts"`
	PutDelay    time.Duration `yaml:"put_delay"`
}

// DeliveryConfig configures the email and WhatsApp senders.
type DeliveryConfig struct {
	Timeout  time.Duration  `yaml:"timeout"`
	Email    EmailConfig    `yaml:"email"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
}

// EmailConfig configures the Resend email sender.
type EmailConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	From     string `yaml:"from"`
}

// WhatsAppConfig configures the WhatsApp Cloud API sender.
type WhatsAppConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Token         string `yaml:"token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	CountryCode   string `yaml:"country_code"`
}

// Config is the complete docrelay configuration.
type Config struct {
	Log          LogConfig          `yaml:"log"`
	HTTP         HTTPConfig         `yaml:"http"`
	Database     DatabaseConfig     `yaml:"database"`
	Storage      StorageConfig      `yaml:"storage"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	URLs         URLConfig          `yaml:"urls"`
	Upload       UploadConfig       `yaml:"upload"`
	Delivery     DeliveryConfig     `yaml:"delivery"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies defaults and environment overrides, and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8080"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 30 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 2 * time.Minute
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 15 * time.Second
	}
	if c.HTTP.MaxUploadBytes == 0 {
		c.HTTP.MaxUploadBytes = 32 << 20
	}

	if c.Database.Driver == "" {
		c.Database.Driver = string(database.DriverMemory)
	}
	defaults := database.DefaultConfig("")
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = defaults.MaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = defaults.MinConns
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = defaults.QueryTimeout
	}

	if c.Storage.Provider == "" {
		c.Storage.Provider = string(filestore.ProviderMemory)
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "documents"
	}

	if c.Catalog.PageSize == 0 {
		c.Catalog.PageSize = 10
	}
	if c.Catalog.CachePages == 0 {
		c.Catalog.CachePages = 256
	}
	if c.Catalog.RefreshInterval == 0 {
		c.Catalog.RefreshInterval = 45 * time.Second
	}
	if c.Catalog.AuditInterval == 0 {
		c.Catalog.AuditInterval = 10 * time.Minute
	}
	if c.Catalog.URLConcurrency == 0 {
		c.Catalog.URLConcurrency = 4
	}

	if c.Provisioning.MaxAttempts == 0 {
		c.Provisioning.MaxAttempts = 3
	}
	if c.Provisioning.Delay == 0 {
		c.Provisioning.Delay = 2 * time.Second
	}

	if c.URLs.SignedTTL == 0 {
		c.URLs.SignedTTL = 8760 * time.Hour
	}
	if c.URLs.VerifyTimeout == 0 {
		c.URLs.VerifyTimeout = 5 * time.Second
	}
	if c.URLs.CacheSize == 0 {
		c.URLs.CacheSize = 1024
	}
	if c.URLs.CacheTTL == 0 {
		c.URLs.CacheTTL = time.Hour
	}

	if c.Upload.PutAttempts == 0 {
		c.Upload.PutAttempts = 2
	}
	if c.Upload.PutDelay == 0 {
		c.Upload.PutDelay = time.Second
	}

	if c.Delivery.Timeout == 0 {
		c.Delivery.Timeout = 20 * time.Second
	}
	if c.Delivery.Email.Endpoint == "" {
		c.Delivery.Email.Endpoint = "https://api.resend.com/emails"
	}
	if c.Delivery.WhatsApp.Endpoint == "" {
		c.Delivery.WhatsApp.Endpoint = "https://graph.facebook.com/v18.0"
	}
	if c.Delivery.WhatsApp.CountryCode == "" {
		c.Delivery.WhatsApp.CountryCode = "55"
	}
}

// applyEnv overrides fields from DOCRELAY_* variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LOG_LEVEL":                &c.Log.Level,
		"LOG_FORMAT":               &c.Log.Format,
		"HTTP_LISTEN":              &c.HTTP.Listen,
		"DATABASE_DRIVER":          &c.Database.Driver,
		"DATABASE_DSN":             &c.Database.DSN,
		"STORAGE_PROVIDER":         &c.Storage.Provider,
		"STORAGE_ENDPOINT":         &c.Storage.Endpoint,
		"STORAGE_ACCESS_KEY":       &c.Storage.AccessKey,
		"STORAGE_SECRET_KEY":       &c.Storage.SecretKey,
		"STORAGE_REGION":           &c.Storage.Region,
		"STORAGE_BUCKET":           &c.Storage.Bucket,
		"STORAGE_PUBLIC_BASE_URL":  &c.Storage.PublicBaseURL,
		"EMAIL_API_KEY":            &c.Delivery.Email.APIKey,
		"EMAIL_FROM":               &c.Delivery.Email.From,
		"WHATSAPP_TOKEN":           &c.Delivery.WhatsApp.Token,
		"WHATSAPP_PHONE_NUMBER_ID": &c.Delivery.WhatsApp.PhoneNumberID,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"STORAGE_USE_SSL":       &c.Storage.UseSSL,
		"STORAGE_PATH_STYLE":    &c.Storage.PathStyle,
		"DATABASE_AUTO_MIGRATE": &c.Database.AutoMigrate,
	}
	for name, dst := range flags {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}

	switch database.Driver(c.Database.Driver) {
	case database.DriverPostgres, database.DriverMySQL:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	case database.DriverMemory:
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}

	switch filestore.Provider(c.Storage.Provider) {
	case filestore.ProviderMinIO:
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("storage.endpoint is required for provider %q", c.Storage.Provider)
		}
	case filestore.ProviderS3, filestore.ProviderMemory:
	default:
		return fmt.Errorf("storage.provider: unknown provider %q", c.Storage.Provider)
	}
	if strings.TrimSpace(c.Storage.Bucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}

	if c.Catalog.PageSize < 1 {
		return fmt.Errorf("catalog.page_size must be positive")
	}
	if c.Provisioning.MaxAttempts < 1 {
		return fmt.Errorf("provisioning.max_attempts must be at least 1")
	}
	if c.Upload.PutAttempts < 1 {
		return fmt.Errorf("upload.put_attempts must be at least 1")
	}
	if c.Provisioning.Delay < 0 || c.Upload.PutDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	return nil
}

// LoggerConfig converts the log section for logger.New.
func (c *Config) LoggerConfig() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	return lc
}

// DatabaseConfig converts the database section for the index drivers.
func (c *Config) DatabaseConfig() *database.Config {
	dc := database.DefaultConfig(c.Database.DSN)
	dc.Driver = database.Driver(c.Database.Driver)
	dc.MaxConns = c.Database.MaxConns
	dc.MinConns = c.Database.MinConns
	dc.ConnectTimeout = c.Database.ConnectTimeout
	dc.QueryTimeout = c.Database.QueryTimeout
	return dc
}

// StoreConfig converts the storage section for the object store drivers.
func (c *Config) StoreConfig() *filestore.Config {
	return &filestore.Config{
		Provider:      filestore.Provider(c.Storage.Provider),
		Endpoint:      c.Storage.Endpoint,
		AccessKey:     c.Storage.AccessKey,
		SecretKey:     c.Storage.SecretKey,
		UseSSL:        c.Storage.UseSSL,
		Region:        c.Storage.Region,
		DefaultBucket: c.Storage.Bucket,
		PublicBaseURL: c.Storage.PublicBaseURL,
		PathStyle:     c.Storage.PathStyle,
	}
}
