package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/icco/trendwatch/lib/db"
	"github.com/icco/trendwatch/models"
)

// Checker is what the health endpoint needs from the store.
type Checker interface {
	Ping(ctx context.Context) error
	LastRun(ctx context.Context) (*models.CollectionRun, error)
}

// Health represents the health check response structure.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DB        struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"db"`
	LastRun *RunInfo `json:"last_run,omitempty"`
}

// RunInfo describes the most recent collection run.
type RunInfo struct {
	Plan        string           `json:"plan"`
	Status      models.RunStatus `json:"status"`
	StartedAt   time.Time        `json:"started_at"`
	ItemsStored int              `json:"items_stored"`
	Errors      int              `json:"errors"`
	Stale       bool             `json:"stale"`
}

// Check returns an HTTP handler reporting database reachability and the
// last collection run. A failed or stale last run degrades the status but
// still answers 200; only an unreachable database answers 503.
func Check(store Checker, staleAfter time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		now := time.Now()
		health := Health{
			Status:    "ok",
			Timestamp: now,
		}

		if err := store.Ping(ctx); err != nil {
			slog.WarnContext(ctx, "Database ping failed", slog.Any("error", err))
			health.Status = "degraded"
			health.DB.Status = "error"
			health.DB.Message = "Database ping failed"
			writeHealth(w, health, http.StatusServiceUnavailable)
			return
		}
		health.DB.Status = "ok"

		run, err := store.LastRun(ctx)
		switch {
		case errors.Is(err, db.ErrNoRuns):
		case err != nil:
			slog.WarnContext(ctx, "Failed to load last run", slog.Any("error", err))
		default:
			health.LastRun = &RunInfo{
				Plan:        run.Plan,
				Status:      run.Status,
				StartedAt:   run.StartedAt,
				ItemsStored: run.ItemsStored,
				Errors:      run.Errors,
				Stale:       staleAfter > 0 && now.Sub(run.StartedAt) > staleAfter,
			}
			if run.Status == models.RunFailed || health.LastRun.Stale {
				health.Status = "degraded"
			}
		}

		writeHealth(w, health, http.StatusOK)
	}
}

func writeHealth(w http.ResponseWriter, health Health, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		slog.Error("Failed to encode health response", slog.Any("error", err))
	}
}
