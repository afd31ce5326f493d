package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/database"
	"github.com/koustreak/docrelay/internal/database/migrations"
	"github.com/koustreak/docrelay/internal/database/mysql"
	"github.com/koustreak/docrelay/internal/database/postgres"
)

func newMigrateCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply index migrations",
		Long: `Apply pending index migrations to the configured database.

With --check, only report the schema version and exit non-zero when
migrations are pending.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dc := cfg.DatabaseConfig()

			var db interface {
				rawDB
				Close()
			}
			switch dc.Driver {
			case database.DriverPostgres:
				db, err = postgres.New(cmd.Context(), dc)
			case database.DriverMySQL:
				db, err = mysql.New(cmd.Context(), dc)
			default:
				return fmt.Errorf("driver %q has no migrations", dc.Driver)
			}
			if err != nil {
				return err
			}
			defer db.Close()

			if check {
				version, pending, err := migrations.Status(cmd.Context(), db.Raw(), dc.Driver)
				if err != nil {
					return err
				}
				fmt.Printf("schema version %d, pending: %t\n", version, pending)
				if pending {
					return fmt.Errorf("migrations are pending")
				}
				return nil
			}

			if err := migrations.Up(cmd.Context(), db.Raw(), dc.Driver); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "report status without applying")
	return cmd
}

func newBucketCmd() *cobra.Command {
	bucketCmd := &cobra.Command{
		Use:   "bucket",
		Short: "Manage the document bucket",
	}

	bucketCmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create the bucket if needed, make it public and probe it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			name := a.cfg.Storage.Bucket
			if err := a.prov.Ensure(cmd.Context(), name, true); err != nil {
				return err
			}
			fmt.Printf("bucket %s: %s\n", name, a.prov.State(name))
			return nil
		},
	})
	return bucketCmd
}

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit [type...]",
		Short: "Reconcile the index with the bucket in both directions",
		Long: `Backfill index rows for objects that have none, then remove rows whose
object is gone. Without arguments every document type is audited.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cats := make([]catalog.Category, 0, len(args))
			for _, arg := range args {
				c, err := catalog.ParseCategory(arg)
				if err != nil {
					return err
				}
				cats = append(cats, c)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rep, auditErr := a.catalog.Audit(cmd.Context(), cats...)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TYPE\tLISTED\tMISSING\tINSERTED\tFAILED")
			for _, r := range rep.Reconciled {
				_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", r.Scope.Category, r.Listed, r.Missing, r.Inserted, r.Failed)
			}
			_ = w.Flush()

			w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "\nTYPE\tINDEXED\tREMOVED")
			for _, s := range rep.Swept {
				_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", s.Scope.Category, s.Indexed, s.Removed)
			}
			_ = w.Flush()
			return auditErr
		},
	}
}
