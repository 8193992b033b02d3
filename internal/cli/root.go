// Package cli holds the coursepulse command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Coursepulse/internal/config"
)

// Build metadata, set with -ldflags at release time.
var (
	Commit    = "dev"
	BuildTime = ""
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile     string
	SecretsFile string
	Format      string // "json" | "text"

	cfg *config.Config
	log *slog.Logger
}

var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "coursepulse",
		Short: "Course survey service on a spreadsheet workbook",
		Long: `Coursepulse collects course survey responses into a spreadsheet workbook
(Google Sheets or a local SQLite file), keeps per-course response stats and
records analysis results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.SecretsFile, "secrets", "", "YAML secrets file (default $SURVEY_SECRETS_FILE or secrets.yaml)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewCopyCommand(opts))

	return cmd
}

func (o *RootOptions) load(logOut io.Writer) error {
	cfg, err := config.Load(config.Options{EnvFile: o.EnvFile, SecretsFile: o.SecretsFile})
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.log = config.NewLogger(cfg.LogLevel, logOut)
	for _, w := range cfg.Warnings {
		o.log.Warn(w)
	}
	return nil
}
