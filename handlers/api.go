package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/icco/trendwatch/lib/companies"
	"github.com/icco/trendwatch/lib/query"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/lib/validation"
	"github.com/icco/trendwatch/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", slog.Any("error", err))
	}
}

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func serverError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, failure{Error: msg})
}

type dashboardStats struct {
	TotalSnapshots  int64    `json:"total_snapshots"`
	UniqueItems     int64    `json:"unique_items"`
	LastUpdated     string   `json:"last_updated"`
	CompanyFilters  []string `json:"company_filters"`
	FilteredResults int      `json:"filtered_results"`
}

type dashboardResponse struct {
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Stats       dashboardStats    `json:"stats"`
	TopMovies   []models.Snapshot `json:"top_movies"`
	TopTV       []models.Snapshot `json:"top_tv"`
	TopTrending []models.Snapshot `json:"top_trending"`
}

// HandleDashboardData returns the dashboard as JSON. ?companies= takes a
// comma separated list of company or studio family names.
func HandleDashboardData(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := d.Insights.Dashboard(r.Context(), companyParams(r))
		if err != nil {
			serverError(w, r, d.Logger, "Failed to load dashboard data", err)
			return
		}

		view := newDashboardView(data)
		resp := dashboardResponse{
			Success: len(data.Items) > 0,
			Stats: dashboardStats{
				TotalSnapshots:  data.Stats.TotalSnapshots,
				UniqueItems:     data.Stats.UniqueItems,
				LastUpdated:     time.Now().UTC().Format(time.DateTime),
				CompanyFilters:  data.CompanyFilters,
				FilteredResults: len(data.Items),
			},
			TopMovies:   view.TopMovies,
			TopTV:       view.TopTV,
			TopTrending: view.Trending,
		}
		if !resp.Success {
			target := "selected companies"
			if len(data.CompanyFilters) > 0 {
				target = strings.Join(data.CompanyFilters, ", ")
			}
			resp.Error = "No content found for " + target
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleProductionCompanies lists normalized company groups.
func HandleProductionCompanies(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validation.Limit(r.URL.Query().Get("limit"), d.Defaults.CompanyLimit)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		groups, err := d.Insights.Companies(r.Context(), limit)
		if err != nil {
			serverError(w, r, d.Logger, "Failed to load production companies", err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Success   bool              `json:"success"`
			Companies []companies.Group `json:"companies"`
		}{Success: true, Companies: groups})
	}
}

// HandleSearch finds popular items by title.
func HandleSearch(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		term := strings.TrimSpace(chi.URLParam(r, "query"))
		if term == "" {
			validation.WriteError(w, errMissingQuery, http.StatusBadRequest)
			return
		}

		pred := query.Where(
			query.TitleContains(term),
			query.MediaTypes{trends.Movie, trends.TV},
			query.MinPopularity{Value: 10, Exclusive: true},
		)
		rows, err := d.Store.Latest(r.Context(), pred, 20)
		if err != nil {
			serverError(w, r, d.Logger, "Search failed", err)
			return
		}
		if rows == nil {
			rows = []models.Snapshot{}
		}
		writeJSON(w, http.StatusOK, struct {
			Success bool              `json:"success"`
			Results []models.Snapshot `json:"results"`
		}{Success: true, Results: rows})
	}
}

// HandleTrends returns the full analysis for ?days= and ?min_change=,
// capped at ?limit= records.
func HandleTrends(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, minChange, err := trendParams(r, d.Defaults)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		limit, err := validation.Limit(r.URL.Query().Get("limit"), validation.MaxLimit)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		res, err := d.Insights.Trends(r.Context(), days, minChange)
		if err != nil {
			serverError(w, r, d.Logger, "Failed to compute trends", err)
			return
		}
		if len(res.Records) > limit {
			res.Records = res.Records[:limit]
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// HandleTrendSummary returns only the aggregate. summary is null when
// nothing moved enough.
func HandleTrendSummary(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, minChange, err := trendParams(r, d.Defaults)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		res, err := d.Insights.Trends(r.Context(), days, minChange)
		if err != nil {
			serverError(w, r, d.Logger, "Failed to compute trends", err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			WindowStart time.Time       `json:"window_start"`
			WindowEnd   time.Time       `json:"window_end"`
			Days        int             `json:"days"`
			Summary     *trends.Summary `json:"summary"`
		}{res.WindowStart, res.WindowEnd, res.Days, res.Summary})
	}
}

// HandleHistory returns every snapshot of one item, oldest first.
func HandleHistory(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mt, err := validation.MediaType(chi.URLParam(r, "mediaType"))
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		id, err := validation.ContentID(chi.URLParam(r, "id"))
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}

		rows, err := d.Store.History(r.Context(), id, mt)
		if err != nil {
			serverError(w, r, d.Logger, "Failed to load history", err)
			return
		}
		if len(rows) == 0 {
			validation.WriteError(w, errNotFound, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			ContentID int64             `json:"content_id"`
			MediaType trends.MediaType  `json:"media_type"`
			Snapshots []models.Snapshot `json:"snapshots"`
		}{id, mt, rows})
	}
}

// HandleStats returns collection statistics.
func HandleStats(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := d.Store.Stats(r.Context())
		if err != nil {
			serverError(w, r, d.Logger, "Failed to load stats", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
