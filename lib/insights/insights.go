// Package insights loads observation windows from the store and turns them
// into trend reports, company groups and dashboard data.
package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/icco/trendwatch/lib/companies"
	"github.com/icco/trendwatch/lib/metrics"
	"github.com/icco/trendwatch/lib/query"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/lib/types"
	"github.com/icco/trendwatch/models"
)

// NoiseTitles are titles that flood the popularity lists without being
// meaningful to the dashboard.
var NoiseTitles = []string{"Lee Chae-dam", "Nukitashi"}

// Store is the read side of the observation store.
type Store interface {
	Observations(ctx context.Context, pred query.Predicate) ([]trends.Observation, error)
	Latest(ctx context.Context, pred query.Predicate, limit int) ([]models.Snapshot, error)
	Stats(ctx context.Context) (types.StatsData, error)
	CompanyItemCounts(ctx context.Context, minLen int) (map[string]int, error)
}

// Options tune the service. Zero values take defaults.
type Options struct {
	// MinCompanyItems drops companies attributed to fewer items.
	MinCompanyItems int
	// MinCompanyNameLength drops very short company names.
	MinCompanyNameLength int
	Table                companies.Table
}

// Service answers analysis questions.
type Service struct {
	store  Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, opts Options, logger *slog.Logger) *Service {
	if opts.MinCompanyItems <= 0 {
		opts.MinCompanyItems = 3
	}
	if opts.MinCompanyNameLength <= 0 {
		opts.MinCompanyNameLength = 3
	}
	if len(opts.Table.Families) == 0 && len(opts.Table.Exclusions) == 0 {
		opts.Table = companies.DefaultTable()
	}
	return &Service{
		store:  store,
		opts:   opts,
		logger: logger.With(slog.String("component", "insights")),
		now:    time.Now,
	}
}

// TrendResult is one analysis over a window.
type TrendResult struct {
	WindowStart      time.Time            `json:"window_start"`
	WindowEnd        time.Time            `json:"window_end"`
	Days             int                  `json:"days"`
	MinChangePercent float64              `json:"min_change_percent"`
	Records          []trends.TrendRecord `json:"trends"`
	Diagnostics      []trends.Diagnostic  `json:"diagnostics,omitempty"`
	// Summary is nil when no item moved enough.
	Summary *trends.Summary `json:"summary"`
}

// Trends analyzes the last days of observations.
func (s *Service) Trends(ctx context.Context, days int, minChangePercent float64) (*TrendResult, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}

	end := s.now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	obs, err := s.store.Observations(ctx, query.Where(query.TimeRange{From: start, To: end}))
	if err != nil {
		return nil, err
	}

	records, diags := trends.ComputeTrends(obs, start, end, minChangePercent)
	metrics.RecordTrendComputation(len(diags))
	if len(diags) > 0 {
		s.logger.WarnContext(ctx, "Skipped invalid observations",
			slog.Int("count", len(diags)),
			slog.String("first", diags[0].String()))
	}
	if records == nil {
		records = []trends.TrendRecord{}
	}

	res := &TrendResult{
		WindowStart:      start,
		WindowEnd:        end,
		Days:             days,
		MinChangePercent: minChangePercent,
		Records:          records,
		Diagnostics:      diags,
	}

	summary, err := trends.Summarize(records)
	switch {
	case err == nil:
		res.Summary = &summary
	case !errors.Is(err, trends.ErrEmptyInput):
		return nil, err
	}

	s.logger.DebugContext(ctx, "Computed trends",
		slog.Int("observations", len(obs)),
		slog.Int("trends", len(records)),
		slog.Int("days", days))
	return res, nil
}

// Companies returns normalized company groups, largest first, capped at limit.
func (s *Service) Companies(ctx context.Context, limit int) ([]companies.Group, error) {
	raw, err := s.store.CompanyItemCounts(ctx, s.opts.MinCompanyNameLength)
	if err != nil {
		return nil, err
	}
	for name, n := range raw {
		if n < s.opts.MinCompanyItems {
			delete(raw, name)
		}
	}
	groups := companies.Normalize(raw, s.opts.Table)
	if groups == nil {
		groups = []companies.Group{}
	}
	return companies.Top(groups, limit), nil
}

// DashboardData is what the overview page shows.
type DashboardData struct {
	Stats          types.StatsData   `json:"stats"`
	Items          []models.Snapshot `json:"items"`
	CompanyFilters []string          `json:"company_filters"`
}

// Dashboard returns stats and the most popular items. Without company
// filters it shows items seen in the last two days with popularity above 50;
// with filters it searches all history with popularity above 5. Selecting a
// studio family matches every name in that family.
func (s *Service) Dashboard(ctx context.Context, companyFilters []string) (*DashboardData, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	filters := cleanFilters(companyFilters)
	pred := query.Where(
		query.MediaTypes{trends.Movie, trends.TV},
		query.ExcludeTitles(NoiseTitles),
	)
	limit := 100
	if len(filters) > 0 {
		pred = pred.And(
			query.MinPopularity{Value: 5, Exclusive: true},
			query.Companies(s.opts.Table.Expand(filters)),
		)
		limit = 500
	} else {
		pred = pred.And(
			query.DateRange{From: s.now().UTC().AddDate(0, 0, -2)},
			query.MinPopularity{Value: 50, Exclusive: true},
		)
	}

	items, err := s.store.Latest(ctx, pred, limit)
	if err != nil {
		return nil, err
	}

	return &DashboardData{Stats: stats, Items: items, CompanyFilters: filters}, nil
}

func cleanFilters(in []string) []string {
	out := []string{}
	for _, f := range in {
		f = strings.TrimSpace(f)
		if f == "" || strings.EqualFold(f, "all") {
			continue
		}
		out = append(out, f)
	}
	return out
}
