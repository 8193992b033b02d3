package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Coursepulse/internal/store"
)

func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect or repair the workbook schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ensure",
		Short: "Create missing tables and append missing columns",
		Long: `Bring the configured workbook up to the current schema.

Missing tables are created with their canonical header and missing columns
are appended to existing headers. Nothing is renamed, reordered or removed,
so running it twice is safe.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			target := configuredTarget(rootOpts.cfg)
			backend, closer, err := openBackend(ctx, target, rootOpts.cfg)
			if err != nil {
				return err
			}
			defer closer.Close()
			st := store.New(backend, store.Options{Timeout: rootOpts.cfg.StoreTimeout, Logger: rootOpts.log})
			report, err := store.NewGuard(st).EnsureSchema(ctx)
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, report, func(w io.Writer) {
				printReport(w, target, report)
			})
		},
	})
	return cmd
}

func printReport(w io.Writer, target Target, r store.Report) {
	if !r.Changed() {
		fmt.Fprintf(w, "%s: schema up to date\n", target)
		return
	}
	for _, t := range r.Created {
		fmt.Fprintf(w, "created %s\n", t)
	}
	tables := make([]string, 0, len(r.Added))
	for t := range r.Added {
		tables = append(tables, t)
	}
	slices.Sort(tables)
	for _, t := range tables {
		fmt.Fprintf(w, "added to %s: %s\n", t, strings.Join(r.Added[t], ", "))
	}
}
