// docrelay serves and manages the document catalog.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "docrelay",
		Short: "docrelay - document catalog and delivery service",
		Long: `docrelay stores client documents in an object store, keeps an index of
them in sync with the bucket and delivers them by email or WhatsApp.

Examples:
  # Run the HTTP API with the periodic audit loop
  docrelay serve --config docrelay.yaml

  # Apply index migrations
  docrelay migrate

  # Provision the bucket and verify it end to end
  docrelay bucket ensure

  # List a client's invoices
  docrelay ls invoice 42`,
		Version:       fmt.Sprintf("%s (%s)", Version, Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (overrides config)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newBucketCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newRmCmd())
	return rootCmd
}
