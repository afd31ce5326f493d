package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/koustreak/docrelay/internal/api"
	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic audit loop",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// A bucket that is not ready yet is provisioned again on first use.
	if err := a.prov.Ensure(ctx, a.cfg.Storage.Bucket, false); err != nil {
		a.log.WarnWith("bucket not ready at startup", err, map[string]interface{}{"bucket": a.cfg.Storage.Bucket})
	}

	srv := api.New(api.Deps{
		Bucket:         a.cfg.Storage.Bucket,
		Catalog:        a.catalog,
		Uploader:       a.uploader,
		Deleter:        a.deleter,
		Docs:           a.docs,
		Clients:        a.clients,
		URLs:           a.urls,
		Ready:          a.prov,
		Delivery:       a.delivery,
		Log:            a.log,
		Metrics:        a.metrics,
		MaxUploadBytes: a.cfg.HTTP.MaxUploadBytes,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h := a.cfg.HTTP
		return srv.ListenAndServe(gctx, h.Listen, h.ReadTimeout, h.WriteTimeout, h.ShutdownTimeout)
	})
	g.Go(func() error {
		auditLoop(gctx, a.catalog, a.cfg.Catalog.AuditInterval, a.log)
		return nil
	})
	return g.Wait()
}

// auditLoop reconciles and sweeps every category on each tick.
func auditLoop(ctx context.Context, cat *catalog.Catalog, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		return
	}
	log = log.Component("audit")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rep, err := cat.Audit(ctx)
			if err != nil {
				log.WarnWith("audit incomplete", err, nil)
			}
			for _, r := range rep.Reconciled {
				if r.Inserted > 0 || r.Failed > 0 {
					log.InfoWith("audit backfilled index", map[string]interface{}{
						"category": string(r.Scope.Category),
						"inserted": r.Inserted,
						"failed":   r.Failed,
					})
				}
			}
			for _, s := range rep.Swept {
				if s.Removed > 0 {
					log.InfoWith("audit removed orphaned rows", map[string]interface{}{
						"category": string(s.Scope.Category),
						"removed":  s.Removed,
					})
				}
			}
		}
	}
}
