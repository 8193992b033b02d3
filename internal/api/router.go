package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/soaringjerry/Coursepulse/internal/middleware"
	"github.com/soaringjerry/Coursepulse/internal/services"
	"github.com/soaringjerry/Coursepulse/internal/store"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Courses   *services.CourseService
	Responses *services.ResponseService
	Stats     *services.StatsService
	Analyses  *services.AnalysisService
	Analytics *services.AnalyticsService
	Insights  *services.InsightService
	Auth      *services.AuthService
	Guard     *store.Guard
}

type Options struct {
	Logger          *slog.Logger
	CORSOrigins     []string
	SubmitPerMinute int
	// TrustedProxies lists the addresses or CIDR ranges whose forwarding
	// headers name the client; everyone else is keyed by connection address.
	TrustedProxies []string
	// SecureCookies marks session cookies Secure; off only for local HTTP.
	SecureCookies bool
	Version       string
	// Frontend, when set, serves every path the API does not claim.
	Frontend http.Handler
}

type Router struct {
	svc     Services
	opts    Options
	log     *slog.Logger
	limiter *middleware.RateLimiter
	ips     *middleware.IPResolver
}

func NewRouter(svc Services, opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		svc:  svc,
		opts: opts,
		log:  logger.With(slog.String("component", "api")),
	}
	ips, err := middleware.NewIPResolver(opts.TrustedProxies)
	if err != nil {
		rt.log.Warn("ignoring trusted proxies", slog.Any("error", err))
	}
	rt.ips = ips
	if opts.SubmitPerMinute > 0 {
		rt.limiter = middleware.NewRateLimiter(opts.SubmitPerMinute)
		rt.limiter.Resolver = ips
	}
	return rt
}

// Handler builds the full middleware chain around the routes.
func (rt *Router) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", rt.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/admin/login", rt.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/admin/logout", rt.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/courses/{courseId}/form", rt.handleForm).Methods(http.MethodGet)
	api.Handle("/courses/{courseId}/submissions", rt.limiter.Handler(http.HandlerFunc(rt.handleSubmit))).Methods(http.MethodPost)

	requireAdmin := middleware.RequireAdmin(rt.svc.Auth)
	admin := func(path string, h http.HandlerFunc, method string) {
		api.Handle(path, requireAdmin(h)).Methods(method)
	}
	admin("/admin/session", rt.handleSession, http.MethodGet)
	admin("/admin/schema", rt.handleEnsureSchema, http.MethodPost)
	admin("/stats/recompute", rt.handleRecomputeAll, http.MethodPost)

	admin("/courses", rt.handleListCourses, http.MethodGet)
	admin("/courses", rt.handleCreateCourse, http.MethodPost)
	admin("/courses/{courseId}", rt.handleGetCourse, http.MethodGet)
	admin("/courses/{courseId}", rt.handlePutCourse, http.MethodPut)
	admin("/courses/{courseId}", rt.handleDeleteCourse, http.MethodDelete)

	admin("/courses/{courseId}/settings", rt.handleGetSettings, http.MethodGet)
	admin("/courses/{courseId}/settings", rt.handlePutSettings, http.MethodPut)
	admin("/courses/{courseId}/settings/active", rt.handleSetActive, http.MethodPost)

	admin("/courses/{courseId}/questions", rt.handleListQuestions, http.MethodGet)
	admin("/courses/{courseId}/questions", rt.handleCreateQuestion, http.MethodPost)
	admin("/courses/{courseId}/questions/{questionId}", rt.handlePutQuestion, http.MethodPut)
	admin("/courses/{courseId}/questions/{questionId}", rt.handleDeleteQuestion, http.MethodDelete)

	admin("/courses/{courseId}/responses", rt.handleListResponses, http.MethodGet)
	admin("/courses/{courseId}/export", rt.handleExport, http.MethodGet)
	admin("/courses/{courseId}/stats", rt.handleGetStats, http.MethodGet)
	admin("/courses/{courseId}/stats/recompute", rt.handleRecompute, http.MethodPost)
	admin("/courses/{courseId}/summary", rt.handleSummary, http.MethodGet)
	admin("/courses/{courseId}/analyses", rt.handleListAnalyses, http.MethodGet)
	admin("/courses/{courseId}/analyses", rt.handleRecordAnalysis, http.MethodPost)
	admin("/courses/{courseId}/analyses/generate", rt.handleGenerateInsight, http.MethodPost)

	if rt.opts.Frontend != nil {
		r.PathPrefix("/").Handler(rt.opts.Frontend)
	}

	var h http.Handler = r
	h = middleware.SecureHeaders(h)
	h = middleware.NoStore(h)
	h = middleware.CORS(rt.opts.CORSOrigins)(h)
	h = middleware.RequestLogger(rt.log)(h)
	return h
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"name":      "Coursepulse",
		"version":   rt.opts.Version,
		"aiEnabled": rt.svc.Insights.Enabled(),
	})
}
