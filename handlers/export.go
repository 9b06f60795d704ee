package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/icco/trendwatch/lib/query"
	"github.com/icco/trendwatch/lib/report"
	"github.com/icco/trendwatch/lib/validation"
	"github.com/icco/trendwatch/models"
)

var (
	errMissingQuery = errors.New("search query is required")
	errNotFound     = errors.New("no snapshots for this item")
)

func attachment(w http.ResponseWriter, contentType, name string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
}

// HandleExportSnapshots streams stored snapshots as CSV, optionally bounded
// by ?from= and ?to= dates (YYYY-MM-DD, inclusive).
func HandleExportSnapshots(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var dr query.DateRange
		for _, p := range []struct {
			name string
			dst  *time.Time
		}{{"from", &dr.From}, {"to", &dr.To}} {
			v := q.Get(p.name)
			if v == "" {
				continue
			}
			if err := validation.ValidateDate(v); err != nil {
				validation.WriteError(w, err, http.StatusBadRequest)
				return
			}
			*p.dst, _ = time.Parse(query.DateLayout, v)
		}

		attachment(w, "text/csv; charset=utf-8", "snapshots.csv")
		out := report.NewSnapshotCSV(w)
		err := d.Store.Each(r.Context(), query.Where(dr), 500, func(rows []models.Snapshot) error {
			return out.Write(rows)
		})
		if err == nil {
			err = out.Flush()
		}
		if err != nil {
			// Headers are gone; all we can do is log and cut the stream.
			d.Logger.ErrorContext(r.Context(), "Failed to export snapshots", slog.Any("error", err))
		}
	}
}

// HandleExportTrendsCSV writes the trend records for ?days= and ?min_change=.
func HandleExportTrendsCSV(d Deps) http.HandlerFunc {
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

		attachment(w, "text/csv; charset=utf-8", fmt.Sprintf("trends-%dd.csv", days))
		if err := report.WriteTrendsCSV(w, res.Records); err != nil {
			d.Logger.ErrorContext(r.Context(), "Failed to export trends", slog.Any("error", err))
		}
	}
}

// HandleExportTrendsJSON writes a schema-checked trend report. ?top= caps
// the records, ?digest=true asks the LLM for a prose digest when one is
// configured.
func HandleExportTrendsJSON(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, minChange, err := trendParams(r, d.Defaults)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		q := r.URL.Query()
		top, err := validation.Limit(q.Get("top"), validation.MaxLimit)
		if err != nil {
			validation.WriteError(w, err, http.StatusBadRequest)
			return
		}
		wantDigest, _ := strconv.ParseBool(q.Get("digest"))

		res, err := d.Insights.Trends(r.Context(), days, minChange)
		if err != nil {
			serverError(w, r, d.Logger, "Failed to compute trends", err)
			return
		}

		rep := report.NewTrendReport(res, top, time.Now())
		if wantDigest && d.Digest != nil && res.Summary != nil {
			text, err := d.Digest.Digest(r.Context(), res, 10)
			if err != nil {
				d.Logger.WarnContext(r.Context(), "Failed to generate digest", slog.Any("error", err))
			} else {
				rep.Digest = text
			}
		}

		attachment(w, "application/json", fmt.Sprintf("trends-%dd.json", days))
		if err := report.WriteJSON(w, rep); err != nil {
			serverError(w, r, d.Logger, "Failed to write trend report", err)
		}
	}
}
