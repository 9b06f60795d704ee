// Package report renders trend analyses and raw snapshots for export.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/icco/trendwatch/lib/insights"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/lib/validation"
	"github.com/icco/trendwatch/models"
)

// TrendReport is the exported form of one trend analysis.
type TrendReport struct {
	GeneratedAt         time.Time            `json:"generated_at"`
	WindowStart         time.Time            `json:"window_start"`
	WindowEnd           time.Time            `json:"window_end"`
	Days                int                  `json:"days"`
	MinChangePercent    float64              `json:"min_change_percent"`
	SkippedObservations int                  `json:"skipped_observations"`
	Summary             *trends.Summary      `json:"summary"`
	Trends              []trends.TrendRecord `json:"trends"`
	Digest              string               `json:"digest,omitempty"`
}

// NewTrendReport builds a report from res keeping at most top records.
// A non-positive top keeps all of them.
func NewTrendReport(res *insights.TrendResult, top int, now time.Time) *TrendReport {
	records := res.Records
	if top > 0 && top < len(records) {
		records = records[:top]
	}
	if records == nil {
		records = []trends.TrendRecord{}
	}
	return &TrendReport{
		GeneratedAt:         now.UTC(),
		WindowStart:         res.WindowStart,
		WindowEnd:           res.WindowEnd,
		Days:                res.Days,
		MinChangePercent:    res.MinChangePercent,
		SkippedObservations: len(res.Diagnostics),
		Summary:             res.Summary,
		Trends:              records,
	}
}

// WriteJSON encodes r, checks it against the report schema and writes it.
func WriteJSON(w io.Writer, r *TrendReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode trend report: %w", err)
	}
	if err := validation.ValidateTrendReport(data); err != nil {
		return fmt.Errorf("trend report failed validation: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write trend report: %w", err)
	}
	return nil
}

var trendsHeader = []string{
	"content_id", "media_type", "title", "trend_type", "change_percent",
	"first_popularity", "last_popularity", "sample_count",
	"first_observed_at", "last_observed_at", "new_entrant", "ambiguous_identity",
}

// WriteTrendsCSV writes one row per trend record.
func WriteTrendsCSV(w io.Writer, records []trends.TrendRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(trendsHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.ContentID, 10),
			string(r.MediaType),
			r.Title,
			string(r.TrendType),
			formatFloat(r.ChangePercent),
			formatFloat(r.FirstPopularity),
			formatFloat(r.LastPopularity),
			strconv.Itoa(r.SampleCount),
			r.FirstObservedAt.UTC().Format(time.RFC3339),
			r.LastObservedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(r.NewEntrant),
			strconv.FormatBool(r.AmbiguousIdentity),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

var snapshotsHeader = []string{
	"content_id", "media_type", "snapshot_date", "snapshot_time", "title",
	"popularity", "vote_average", "vote_count", "release_date", "rank_position",
	"imdb_id", "production_companies", "source",
}

// SnapshotCSV streams snapshot rows as CSV. Call Flush when done.
type SnapshotCSV struct {
	cw     *csv.Writer
	header bool
}

func NewSnapshotCSV(w io.Writer) *SnapshotCSV {
	return &SnapshotCSV{cw: csv.NewWriter(w)}
}

// Write appends rows, writing the header first if needed.
func (s *SnapshotCSV) Write(rows []models.Snapshot) error {
	if !s.header {
		if err := s.cw.Write(snapshotsHeader); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		s.header = true
	}
	for _, r := range rows {
		companies, err := json.Marshal([]string(r.ProductionCompanies))
		if err != nil {
			return fmt.Errorf("failed to encode companies: %w", err)
		}
		if r.ProductionCompanies == nil {
			companies = []byte("[]")
		}
		row := []string{
			strconv.FormatInt(r.ContentID, 10),
			string(r.MediaType),
			r.SnapshotDate,
			r.SnapshotTime.UTC().Format(time.RFC3339),
			r.Title,
			formatFloat(r.Popularity),
			formatFloat(r.VoteAverage),
			strconv.Itoa(r.VoteCount),
			r.ReleaseDate,
			strconv.Itoa(r.RankPosition),
			r.IMDbID,
			string(companies),
			r.Source,
		}
		if err := s.cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	return nil
}

// Flush writes buffered data, including the header for an empty export.
func (s *SnapshotCSV) Flush() error {
	if !s.header {
		if err := s.Write(nil); err != nil {
			return err
		}
	}
	s.cw.Flush()
	return s.cw.Error()
}

// WriteSnapshotsCSV writes rows in one go.
func WriteSnapshotsCSV(w io.Writer, rows []models.Snapshot) error {
	s := NewSnapshotCSV(w)
	if err := s.Write(rows); err != nil {
		return err
	}
	return s.Flush()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
