package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Coursepulse/internal/models"
)

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Maintain per-course response stats",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "recompute [courseId]",
		Short: "Rebuild response stats for one course or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, rootOpts.cfg, rootOpts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				changed, err := a.stats.RecomputeAll(ctx)
				if err != nil {
					return err
				}
				return emit(cmd.OutOrStdout(), rootOpts.Format, map[string]int{"changed": changed}, func(w io.Writer) {
					fmt.Fprintf(w, "recomputed all courses, %d changed\n", changed)
				})
			}
			st, err := a.stats.Recompute(ctx, args[0])
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), rootOpts.Format, st, func(w io.Writer) {
				printStats(w, st)
			})
		},
	})
	return cmd
}

func printStats(w io.Writer, st *models.ResponseStats) {
	rate := "n/a"
	if st.ResponseRate != nil {
		rate = fmt.Sprintf("%.4f", *st.ResponseRate)
	}
	fmt.Fprintf(w, "%s: %d questions, %d responses, rate %s\n", st.CourseID, st.TotalQuestions, st.TotalResponses, rate)
}
