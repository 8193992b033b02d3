package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/soaringjerry/Coursepulse/internal/api"
	"github.com/soaringjerry/Coursepulse/internal/config"
	"github.com/soaringjerry/Coursepulse/internal/db"
	"github.com/soaringjerry/Coursepulse/internal/privacy"
	"github.com/soaringjerry/Coursepulse/internal/services"
	"github.com/soaringjerry/Coursepulse/internal/sheets"
	"github.com/soaringjerry/Coursepulse/internal/store"
)

// Target names a workbook: "memory", "sqlite:<path>" or "google:<spreadsheet id>".
type Target struct {
	Kind string
	Arg  string
}

func (t Target) String() string {
	if t.Arg == "" {
		return t.Kind
	}
	return t.Kind + ":" + t.Arg
}

// ParseTarget reads a workbook target. A bare kind takes its argument from
// cfg (the configured SQLite path or spreadsheet id).
func ParseTarget(s string, cfg *config.Config) (Target, error) {
	kind, arg, _ := strings.Cut(strings.TrimSpace(s), ":")
	t := Target{Kind: strings.ToLower(kind), Arg: strings.TrimSpace(arg)}
	switch t.Kind {
	case config.BackendMemory:
		t.Arg = ""
	case config.BackendSQLite:
		if t.Arg == "" {
			t.Arg = cfg.SQLitePath
		}
	case config.BackendGoogle:
		if t.Arg == "" {
			t.Arg = cfg.SpreadsheetID
		}
	default:
		return Target{}, fmt.Errorf("unknown backend %q: want memory, sqlite[:path] or google[:spreadsheetId]", kind)
	}
	if t.Kind != config.BackendMemory && t.Arg == "" {
		return Target{}, fmt.Errorf("backend %s needs a location", t.Kind)
	}
	return t, nil
}

// configuredTarget is the workbook the service itself runs on.
func configuredTarget(cfg *config.Config) Target {
	t, err := ParseTarget(cfg.Backend, cfg)
	if err != nil {
		// Load already validated Backend and its location
		return Target{Kind: config.BackendMemory}
	}
	return t
}

// openBackend connects to t. The returned closer is never nil.
func openBackend(ctx context.Context, t Target, cfg *config.Config) (sheets.Backend, io.Closer, error) {
	switch t.Kind {
	case config.BackendSQLite:
		s, err := db.Open(ctx, t.Arg, cfg.MigrationsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite workbook %s: %w", t.Arg, err)
		}
		return s, s, nil
	case config.BackendGoogle:
		g, err := sheets.NewGoogle(ctx, sheets.GoogleOptions{
			SpreadsheetID:     t.Arg,
			CredentialsJSON:   cfg.CredentialsJSON,
			RequestsPerSecond: cfg.SheetsRPS,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open spreadsheet %s: %w", t.Arg, err)
		}
		return g, nopCloser{}, nil
	default:
		return sheets.NewMemory(), nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// app is the wired service graph over one workbook.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	repo   *store.Repository
	closer io.Closer

	courses   *services.CourseService
	stats     *services.StatsService
	responses *services.ResponseService
	analyses  *services.AnalysisService
	analytics *services.AnalyticsService
	insights  *services.InsightService
	auth      *services.AuthService
}

// newApp opens the configured workbook, ensures its schema and builds the
// services on top of it.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	target := configuredTarget(cfg)
	backend, closer, err := openBackend(ctx, target, cfg)
	if err != nil {
		return nil, err
	}
	a, err := buildApp(ctx, cfg, log, backend)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	a.closer = closer
	log.Info("workbook ready", slog.String("backend", target.Kind))
	return a, nil
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger, backend sheets.Backend) (*app, error) {
	repo := store.NewRepository(store.New(backend, store.Options{Timeout: cfg.StoreTimeout, Logger: log}))
	report, err := repo.Guard.EnsureSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if report.Changed() {
		log.Info("schema updated", slog.Any("created", report.Created), slog.Any("added", report.Added))
	}
	codec, err := privacy.NewCodec(cfg.HashSalt)
	if err != nil {
		return nil, err
	}
	auth, err := services.NewAuthService(cfg.AdminPassword, cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, repo: repo, closer: nopCloser{}, auth: auth}
	a.courses = services.NewCourseService(repo, log)
	a.stats = services.NewStatsService(repo, log)
	a.responses = services.NewResponseService(repo, codec, a.stats, log)
	a.analyses = services.NewAnalysisService(repo, log)
	a.analytics = services.NewAnalyticsService(repo)
	a.insights = services.NewInsightService(services.InsightConfig{
		APIKey:  cfg.AIAPIKey,
		BaseURL: cfg.AIBaseURL,
		Model:   cfg.AIModel,
	}, nil, a.analytics, a.analyses)
	return a, nil
}

func (a *app) router(frontend http.Handler) *api.Router {
	return api.NewRouter(api.Services{
		Courses:   a.courses,
		Responses: a.responses,
		Stats:     a.stats,
		Analyses:  a.analyses,
		Analytics: a.analytics,
		Insights:  a.insights,
		Auth:      a.auth,
		Guard:     a.repo.Guard,
	}, api.Options{
		Logger:          a.log,
		CORSOrigins:     a.cfg.CORSOrigins,
		SubmitPerMinute: a.cfg.SubmitPerMinute,
		TrustedProxies:  a.cfg.TrustedProxies,
		SecureCookies:   a.cfg.SecureCookies,
		Version:         Commit,
		Frontend:        frontend,
	})
}

func (a *app) Close() error { return a.closer.Close() }
