// Package api serves the document catalog, uploads, deletions, client
// registry and deliveries over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/delivery"
	"github.com/koustreak/docrelay/internal/index"
	"github.com/koustreak/docrelay/internal/logger"
	"github.com/koustreak/docrelay/internal/metrics"
	"github.com/koustreak/docrelay/internal/pipeline"
)

// Deps are the services behind the API.
type Deps struct {
	Bucket   string
	Catalog  *catalog.Catalog
	Uploader *pipeline.Uploader
	Deleter  *pipeline.Deleter
	Docs     index.DocumentStore
	Clients  index.ClientStore
	URLs     catalog.URLResolver
	Ready    catalog.Readiness
	Delivery *delivery.Dispatcher
	Log      *logger.Logger
	Metrics  *metrics.Metrics

	// MaxUploadBytes caps the multipart body of an upload. Zero means 32MB.
	MaxUploadBytes int64
}

// Server is the HTTP API.
type Server struct {
	Deps
	log *logger.Logger
}

// New returns a Server.
func New(d Deps) *Server {
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 32 << 20
	}
	return &Server{Deps: d, log: logger.OrNop(d.Log).Component("api")}
}

// Handler returns the routed handler with request logging and metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/bucket/ensure", s.handleEnsureBucket)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Post("/", s.handleUpload)
			r.Delete("/", s.handleDelete)
			r.Get("/recent", s.handleRecent)
			r.Post("/reconcile", s.handleReconcile)
		})

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", s.handleListClients)
			r.Post("/", s.handleCreateClient)
			r.Get("/{id}", s.handleGetClient)
		})

		r.Post("/send", s.handleSend)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.With().Str("addr", addr).Logger().Info("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
