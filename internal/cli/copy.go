package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Coursepulse/internal/store"
)

type CopyOptions struct {
	*RootOptions
	From string
	To   string
}

func NewCopyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CopyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy every table from one workbook to another",
		Long: `Copy all survey tables between workbooks, for example to seed a local
SQLite file from the production spreadsheet or to move onto Google Sheets.

Tables that already hold rows in the destination are skipped, so an
interrupted copy can be rerun.

Example:
  coursepulse copy --from google --to sqlite:data/backup.db
  coursepulse copy --from sqlite:data/workbook.db --to google:1AbC...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log := opts.cfg, opts.log
			from, err := ParseTarget(opts.From, cfg)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			to, err := ParseTarget(opts.To, cfg)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if from == to {
				return fmt.Errorf("source and destination are both %s", from)
			}

			srcBackend, srcCloser, err := openBackend(ctx, from, cfg)
			if err != nil {
				return err
			}
			defer srcCloser.Close()
			dstBackend, dstCloser, err := openBackend(ctx, to, cfg)
			if err != nil {
				return err
			}
			defer dstCloser.Close()

			storeOpts := store.Options{Timeout: cfg.StoreTimeout, Logger: log}
			log.Info("starting copy", slog.String("from", from.String()), slog.String("to", to.String()))
			report, err := store.Copy(ctx, store.New(srcBackend, storeOpts), store.New(dstBackend, storeOpts))
			if err != nil {
				return fmt.Errorf("copy data: %w", err)
			}
			log.Info("copy completed")
			return emit(cmd.OutOrStdout(), opts.Format, report, func(w io.Writer) {
				printCopyReport(w, report)
			})
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "source workbook (memory, sqlite[:path], google[:spreadsheetId])")
	cmd.Flags().StringVar(&opts.To, "to", "", "destination workbook")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func printCopyReport(w io.Writer, r store.CopyReport) {
	for _, t := range store.AllTables {
		if n, ok := r.Copied[t.Name]; ok {
			fmt.Fprintf(w, "%-16s copied %d rows\n", t.Name, n)
		}
	}
	skipped := make([]string, 0, len(r.Skipped))
	for t := range r.Skipped {
		skipped = append(skipped, t)
	}
	slices.Sort(skipped)
	for _, t := range skipped {
		fmt.Fprintf(w, "%-16s skipped: %s\n", t, r.Skipped[t])
	}
}
