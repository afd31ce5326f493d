package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/koustreak/docrelay/internal/bucket"
	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/config"
	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/database/migrations"
	"github.com/koustreak/docrelay/internal/database/mysql"
	"github.com/koustreak/docrelay/internal/database/postgres"
	"github.com/koustreak/docrelay/internal/delivery"
	"github.com/koustreak/docrelay/internal/filestore"
	"github.com/koustreak/docrelay/internal/filestore/memstore"
	miniostore "github.com/koustreak/docrelay/internal/filestore/minio"
	s3store "github.com/koustreak/docrelay/internal/filestore/s3"
	"github.com/koustreak/docrelay/internal/index"
	"github.com/koustreak/docrelay/internal/logger"
	"github.com/koustreak/docrelay/internal/metrics"
	"github.com/koustreak/docrelay/internal/pipeline"
	"github.com/koustreak/docrelay/internal/schema"
	"github.com/koustreak/docrelay/internal/urlresolve"
)

// app holds every service built from one config.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics

	store   filestore.Store
	db      database.DB // nil with the memory driver
	docs    index.DocumentStore
	clients index.ClientStore

	prov     *bucket.Provisioner
	urls     *urlresolve.Resolver
	catalog  *catalog.Catalog
	uploader *pipeline.Uploader
	deleter  *pipeline.Deleter
	delivery *delivery.Dispatcher
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newApp loads the config and builds the services.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.LoggerConfig())
	logger.SetGlobal(log)

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	if err := a.openIndex(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("open index: %w", err)
	}

	a.prov = bucket.New(a.store,
		bucket.WithLogger(log),
		bucket.WithMetrics(a.metrics),
		bucket.WithMaxAttempts(cfg.Provisioning.MaxAttempts),
		bucket.WithDelay(cfg.Provisioning.Delay),
	)

	ucfg := urlresolve.Config{
		BaseURL:   cfg.StoreConfig().BaseURL(),
		SignedTTL: cfg.URLs.SignedTTL,
		CacheSize: cfg.URLs.CacheSize,
		CacheTTL:  cfg.URLs.CacheTTL,
	}
	if cfg.URLs.Verify {
		ucfg.Verifier = urlresolve.NewHTTPVerifier(cfg.URLs.VerifyTimeout)
	}
	a.urls = urlresolve.New(a.store, ucfg, log, a.metrics)

	a.catalog, err = catalog.New(catalog.Deps{
		Store:   a.store,
		Bucket:  cfg.Storage.Bucket,
		Docs:    a.docs,
		URLs:    a.urls,
		Ready:   a.prov,
		Log:     log,
		Metrics: a.metrics,
	}, catalog.Config{
		PageSize:       cfg.Catalog.PageSize,
		CachePages:     cfg.Catalog.CachePages,
		URLConcurrency: cfg.Catalog.URLConcurrency,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	pd := pipeline.Deps{
		Store:   a.store,
		Bucket:  cfg.Storage.Bucket,
		Docs:    a.docs,
		URLs:    a.urls,
		Ready:   a.prov,
		Catalog: a.catalog,
		Log:     log,
		Metrics: a.metrics,
	}
	a.uploader = pipeline.NewUploader(pd, pipeline.UploadConfig{
		PutAttempts: cfg.Upload.PutAttempts,
		PutDelay:    cfg.Upload.PutDelay,
	})
	a.deleter = pipeline.NewDeleter(pd)
	a.delivery = newDispatcher(cfg, log, a.metrics)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (filestore.Store, error) {
	sc := cfg.StoreConfig()
	switch sc.Provider {
	case filestore.ProviderMinIO:
		return miniostore.New(ctx, sc)
	case filestore.ProviderS3:
		return s3store.New(ctx, sc)
	case filestore.ProviderMemory:
		var opts []memstore.Option
		if sc.PublicBaseURL != "" {
			opts = append(opts, memstore.WithBaseURL(sc.PublicBaseURL))
		}
		return memstore.New(opts...), nil
	}
	return nil, fmt.Errorf("unknown storage provider %q", sc.Provider)
}

// rawDB is implemented by the SQL drivers for goose.
type rawDB interface {
	Raw() *sql.DB
}

func (a *app) openIndex(ctx context.Context) error {
	dc := a.cfg.DatabaseConfig()
	switch dc.Driver {
	case database.DriverMemory:
		a.docs = index.NewMemoryDocuments()
		a.clients = index.NewMemoryClients()
		a.log.Warn("using the in-memory index; documents are re-indexed from the bucket on restart")
		return nil
	case database.DriverPostgres:
		d, err := postgres.New(ctx, dc)
		if err != nil {
			return err
		}
		a.db = d
	case database.DriverMySQL:
		d, err := mysql.New(ctx, dc)
		if err != nil {
			return err
		}
		a.db = d
	default:
		return fmt.Errorf("unknown database driver %q", dc.Driver)
	}

	if a.cfg.Database.AutoMigrate {
		if err := migrations.Up(ctx, a.db.(rawDB).Raw(), dc.Driver); err != nil {
			return err
		}
	}
	if err := schema.NewInspector(a.db).Verify(ctx, migrations.Tables); err != nil {
		return fmt.Errorf("index schema (run 'docrelay migrate'): %w", err)
	}

	a.docs = index.NewDocuments(a.db)
	a.clients = index.NewClients(a.db)
	return nil
}

func newDispatcher(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) *delivery.Dispatcher {
	var email, whatsapp delivery.Sender
	if dc := cfg.Delivery.Email; dc.APIKey != "" {
		email = delivery.NewEmailSender(delivery.EmailOptions{
			Endpoint: dc.Endpoint,
			APIKey:   dc.APIKey,
			From:     dc.From,
			Timeout:  cfg.Delivery.Timeout,
		})
	}
	if wc := cfg.Delivery.WhatsApp; wc.Token != "" && wc.PhoneNumberID != "" {
		whatsapp = delivery.NewWhatsAppSender(delivery.WhatsAppOptions{
			Endpoint:      wc.Endpoint,
			Token:         wc.Token,
			PhoneNumberID: wc.PhoneNumberID,
			CountryCode:   wc.CountryCode,
			Timeout:       cfg.Delivery.Timeout,
		})
	}
	return delivery.NewDispatcher(email, whatsapp, log, m)
}

// Close releases the index and object store connections.
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.ErrorWith("close object store", err, nil)
		}
	}
}
