package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/koustreak/docrelay/internal/catalog"
	"github.com/koustreak/docrelay/internal/pipeline"
)

func newLsCmd() *cobra.Command {
	var (
		page    int
		refresh bool
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "ls <type> [client]",
		Short: "List documents of a type, optionally for one client",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.ParseCategory(args[0])
			if err != nil {
				return err
			}
			scope := catalog.Scope{Category: cat}
			if len(args) == 2 {
				scope.OwnerID = args[1]
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.catalog.List(cmd.Context(), scope, page, refresh)
			if err != nil {
				return err
			}
			printPage(p)
			if !watch {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			a.catalog.Watch(ctx, scope, a.cfg.Catalog.RefreshInterval, func(p *catalog.Page, err error) {
				if err != nil {
					fmt.Fprintln(os.Stderr, "refresh failed:", err)
					return
				}
				fmt.Printf("\n-- %s\n", time.Now().Format(time.TimeOnly))
				printPage(p)
			})
			return nil
		},
	}
	cmd.Flags().IntVarP(&page, "page", "p", 0, "zero-based page number")
	cmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "reconcile with the bucket before listing")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep listing page 0 at the refresh interval")
	return cmd
}

func printPage(p *catalog.Page) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tCLIENT\tNAME\tPATH")
	for _, e := range p.Entries {
		owner := e.OwnerID
		if owner == "" {
			owner = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.DateTime), owner, e.DisplayName, e.StorageKey)
	}
	_ = w.Flush()
	if p.HasMore {
		fmt.Printf("(more on page %d)\n", p.Page+1)
	}
}

func newUploadCmd() *cobra.Command {
	var client string
	cmd := &cobra.Command{
		Use:   "upload <type> <file>...",
		Short: "Upload local files as documents",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.ParseCategory(args[0])
			if err != nil {
				return err
			}
			files := make([]pipeline.File, 0, len(args)-1)
			for _, path := range args[1:] {
				f, err := localFile(path)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.uploader.Upload(cmd.Context(), files, client, cat)
			if err != nil {
				return err
			}
			for _, r := range res.Files {
				switch {
				case r.Err != nil:
					fmt.Printf("FAIL  %s: %v\n", r.Name, r.Err)
				case r.IndexErr != nil:
					fmt.Printf("OK    %s -> %s (not indexed: %v)\n", r.Name, r.StorageKey, r.IndexErr)
				default:
					fmt.Printf("OK    %s -> %s\n", r.Name, r.URL)
				}
			}
			fmt.Printf("%d uploaded, %d failed\n", res.SuccessCount, res.FailureCount)
			return res.Err()
		},
	}
	cmd.Flags().StringVar(&client, "client", "", "owning client id")
	return cmd
}

func localFile(path string) (pipeline.File, error) {
	st, err := os.Stat(path)
	if err != nil {
		return pipeline.File{}, err
	}
	if st.IsDir() {
		return pipeline.File{}, fmt.Errorf("%s is a directory", path)
	}
	return pipeline.File{
		Name:        filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Size:        st.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "Delete documents by storage path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return removeAll(cmd.Context(), a.deleter, args)
		},
	}
}

func removeAll(ctx context.Context, d *pipeline.Deleter, keys []string) error {
	var failed int
	for _, key := range keys {
		if err := d.Delete(ctx, key); err != nil {
			fmt.Fprintf(os.Stderr, "rm %s: %v\n", key, err)
			failed++
			continue
		}
		fmt.Println("removed", key)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(keys))
	}
	return nil
}
