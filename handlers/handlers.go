package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icco/trendwatch/handlers/templates"
	"github.com/icco/trendwatch/lib/companies"
	"github.com/icco/trendwatch/lib/db"
	"github.com/icco/trendwatch/lib/health"
	"github.com/icco/trendwatch/lib/insights"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/lib/types"
	"github.com/icco/trendwatch/lib/validation"
	"github.com/icco/trendwatch/models"
)

// Digester writes prose digests of trend results.
type Digester interface {
	Digest(ctx context.Context, res *insights.TrendResult, top int) (string, error)
}

// Defaults are used when a request omits a parameter.
type Defaults struct {
	Days             int
	MinChangePercent float64
	CompanyLimit     int
}

// Deps is everything the routes need.
type Deps struct {
	Store    *db.Store
	Insights *insights.Service
	// Digest is nil when no LLM is configured.
	Digest Digester
	// Trigger requests a background collection run. Nil disables /cron.
	Trigger          func() bool
	Defaults         Defaults
	HealthStaleAfter time.Duration
	Logger           *slog.Logger
}

// NewRouter wires every route.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/", HandleDashboard(d))
	r.Get("/trends", HandleTrendsPage(d))

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Get("/dashboard-data", HandleDashboardData(d))
		r.Get("/production-companies", HandleProductionCompanies(d))
		r.Get("/search/{query}", HandleSearch(d))
		r.Get("/trends", HandleTrends(d))
		r.Get("/trends/summary", HandleTrendSummary(d))
		r.Get("/items/{mediaType}/{id}/history", HandleHistory(d))
		r.Get("/stats", HandleStats(d))
	})

	r.Get("/export/snapshots.csv", HandleExportSnapshots(d))
	r.Get("/export/trends.csv", HandleExportTrendsCSV(d))
	r.Get("/export/trends.json", HandleExportTrendsJSON(d))

	r.With(httprate.LimitByIP(6, time.Hour)).Get("/cron", HandleCron(d))
	r.Get("/healthz", health.Check(d.Store, d.HealthStaleAfter))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "Handled request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

type errorData struct {
	Message string
}

func renderError(w http.ResponseWriter, message string, status int) {
	tmpl, err := templates.ParseTemplates("base.html", "error.html")
	if err != nil {
		slog.Error("Failed to parse error template", slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "base", errorData{Message: message}); err != nil {
		slog.Error("Failed to execute error template", slog.Any("error", err))
	}
}

func render(w http.ResponseWriter, page string, data any) {
	tmpl, err := templates.ParseTemplates("base.html", page)
	if err != nil {
		slog.Error("Failed to parse template", slog.String("page", page), slog.Any("error", err))
		renderError(w, "Something went wrong while loading the page.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base", data); err != nil {
		slog.Error("Failed to execute template", slog.String("page", page), slog.Any("error", err))
	}
}

// companyParams reads the companies filter, accepting both repeated
// parameters and a comma separated list.
func companyParams(r *http.Request) []string {
	var out []string
	for _, v := range r.URL.Query()["companies"] {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

type dashboardView struct {
	Stats         types.StatsData
	Filters       []string
	Selected      map[string]bool
	Companies     []companies.Group
	TopMovies     []models.Snapshot
	TopTV         []models.Snapshot
	Trending      []models.Snapshot
	MaxPopularity float64
}

func newDashboardView(data *insights.DashboardData) dashboardView {
	v := dashboardView{
		Stats:     data.Stats,
		Filters:   data.CompanyFilters,
		Selected:  make(map[string]bool, len(data.CompanyFilters)),
		TopMovies: topOf(data.Items, trends.Movie, 10),
		TopTV:     topOf(data.Items, trends.TV, 10),
		Trending:  data.Items,
	}
	for _, f := range data.CompanyFilters {
		v.Selected[f] = true
	}
	if len(v.Trending) > 15 {
		v.Trending = v.Trending[:15]
	}
	for _, it := range data.Items {
		if it.Popularity > v.MaxPopularity {
			v.MaxPopularity = it.Popularity
		}
	}
	return v
}

// topOf keeps the first n items of one media type. items are already
// ordered by popularity.
func topOf(items []models.Snapshot, mt trends.MediaType, n int) []models.Snapshot {
	out := []models.Snapshot{}
	for _, it := range items {
		if it.MediaType != mt {
			continue
		}
		out = append(out, it)
		if len(out) == n {
			break
		}
	}
	return out
}

// HandleDashboard renders the overview page.
func HandleDashboard(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := d.Insights.Dashboard(r.Context(), companyParams(r))
		if err != nil {
			d.Logger.ErrorContext(r.Context(), "Failed to load dashboard", slog.Any("error", err))
			renderError(w, "We couldn't load the dashboard. Please try again later.", http.StatusInternalServerError)
			return
		}

		view := newDashboardView(data)
		groups, err := d.Insights.Companies(r.Context(), d.Defaults.CompanyLimit)
		if err != nil {
			d.Logger.WarnContext(r.Context(), "Failed to load companies", slog.Any("error", err))
		}
		view.Companies = groups

		render(w, "dashboard.html", view)
	}
}

// HandleTrendsPage renders the trend table.
func HandleTrendsPage(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, minChange, err := trendParams(r, d.Defaults)
		if err != nil {
			renderError(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := d.Insights.Trends(r.Context(), days, minChange)
		if err != nil {
			d.Logger.ErrorContext(r.Context(), "Failed to compute trends", slog.Any("error", err))
			renderError(w, "We couldn't compute trends. Please try again later.", http.StatusInternalServerError)
			return
		}

		render(w, "trends.html", struct{ Result *insights.TrendResult }{Result: res})
	}
}

func trendParams(r *http.Request, def Defaults) (int, float64, error) {
	q := r.URL.Query()
	days, err := validation.Days(q.Get("days"), def.Days)
	if err != nil {
		return 0, 0, err
	}
	minChange, err := validation.MinChange(q.Get("min_change"), def.MinChangePercent)
	if err != nil {
		return 0, 0, err
	}
	return days, minChange, nil
}

// HandleCron starts a background collection.
func HandleCron(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if d.Trigger == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Collection is disabled\n"))
			return
		}
		if !d.Trigger() {
			_, _ = w.Write([]byte("Collection already pending\n"))
			return
		}
		d.Logger.InfoContext(r.Context(), "Collection requested via cron")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Started collection\n"))
	}
}
