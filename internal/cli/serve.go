package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Coursepulse/internal/config"
	"github.com/soaringjerry/Coursepulse/internal/jobs"
)

type ServeOptions struct {
	*RootOptions
	Addr            string
	ShutdownTimeout time.Duration
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the survey API over HTTP.

The workbook schema is ensured before the listener opens. When
RECONCILE_SCHEDULE is set (default "@every 15m"), response stats for every
course are rebuilt on that schedule.

Example:
  coursepulse serve --addr :8080
  COURSEPULSE_BACKEND=google GOOGLE_SHEETS_SPREADSHEET_ID=... coursepulse serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides COURSEPULSE_ADDR)")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 20*time.Second, "grace period for in-flight requests")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, log := opts.cfg, opts.log
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Warn("close workbook", slog.Any("err", cerr))
		}
	}()

	if cfg.ReconcileSchedule != "" {
		sched, err := jobs.NewScheduler(cfg.ReconcileSchedule, a.stats, cfg.StoreTimeout*10, log)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
		log.Info("stats reconciliation scheduled", slog.String("schedule", cfg.ReconcileSchedule))
	}

	frontend, err := frontendHandler(cfg, log)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router(frontend).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", slog.String("addr", cfg.Addr), slog.String("commit", Commit), slog.String("build_time", BuildTime))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// frontendHandler serves static files from StaticDir, or proxies to a dev
// frontend server. Nil when neither is configured.
func frontendHandler(cfg *config.Config, log *slog.Logger) (http.Handler, error) {
	if cfg.StaticDir != "" {
		return http.FileServer(http.Dir(cfg.StaticDir)), nil
	}
	if cfg.DevFrontendURL == "" {
		return nil, nil
	}
	u, err := url.Parse(cfg.DevFrontendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid COURSEPULSE_DEV_FRONTEND_URL %q: %w", cfg.DevFrontendURL, err)
	}
	rp := httputil.NewSingleHostReverseProxy(u)
	// proxied responses must not be cached either
	rp.ModifyResponse = func(res *http.Response) error {
		res.Header.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		res.Header.Set("Pragma", "no-cache")
		res.Header.Set("Expires", "0")
		return nil
	}
	log.Info("proxying frontend", slog.String("url", cfg.DevFrontendURL))
	return rp, nil
}
