package db

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icco/trendwatch/lib/query"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/models"
)

var day0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gdb, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })
	return NewStore(gdb, logger)
}

func snap(id int64, mt trends.MediaType, title string, at time.Time, popularity float64, companies ...string) models.Snapshot {
	return models.NewSnapshot(trends.Observation{
		ContentID:           id,
		MediaType:           mt,
		Title:               title,
		Popularity:          popularity,
		ObservedAt:          at,
		ProductionCompanies: companies,
	}, "", "test", "run")
}

func TestStore_SaveSnapshotsOverwritesSameDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveSnapshots(ctx, []models.Snapshot{snap(42, trends.Movie, "Dune", day0, 100)})
	require.NoError(t, err)
	_, err = s.SaveSnapshots(ctx, []models.Snapshot{snap(42, trends.Movie, "Dune", day0.Add(3*time.Hour), 120)})
	require.NoError(t, err)
	_, err = s.SaveSnapshots(ctx, []models.Snapshot{snap(42, trends.TV, "Dune: Prophecy", day0, 30)})
	require.NoError(t, err)

	history, err := s.History(ctx, 42, trends.Movie)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 120.0, history[0].Popularity)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalSnapshots)
	assert.Equal(t, int64(2), stats.UniqueItems)
	assert.Equal(t, int64(1), stats.UniqueMovies)
	assert.Equal(t, int64(1), stats.UniqueTVShows)
	assert.Equal(t, "2025-06-01", stats.FirstDate)
	assert.Nil(t, stats.LastRun)
}

func TestStore_ObservationsAndWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveSnapshots(ctx, []models.Snapshot{
		snap(42, trends.Movie, "Dune", day0.AddDate(0, 0, 2), 160),
		snap(42, trends.Movie, "Dune", day0, 100),
		snap(7, trends.TV, "The Bear", day0.AddDate(0, 0, -10), 50),
	})
	require.NoError(t, err)

	obs, err := s.Observations(ctx, query.Where(query.TimeRange{From: day0.Add(-time.Hour)}))
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, 100.0, obs[0].Popularity)
	assert.Equal(t, 160.0, obs[1].Popularity)

	records, diags := trends.ComputeTrends(obs, time.Time{}, time.Time{}, 15)
	assert.Empty(t, diags)
	require.Len(t, records, 1)
	assert.InDelta(t, 60.0, records[0].ChangePercent, 1e-9)
}

func TestStore_LatestAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveSnapshots(ctx, []models.Snapshot{
		snap(1, trends.Movie, "Dune", day0, 300),
		snap(1, trends.Movie, "Dune", day0.AddDate(0, 0, 1), 80),
		snap(2, trends.Movie, "Dune: Part Two", day0, 90),
		snap(3, trends.TV, "Severance", day0, 200),
	})
	require.NoError(t, err)

	latest, err := s.Latest(ctx, query.Where(), 0)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	assert.Equal(t, int64(3), latest[0].ContentID)
	assert.Equal(t, int64(2), latest[1].ContentID)
	assert.Equal(t, 80.0, latest[2].Popularity, "latest row wins over the more popular older one")

	found, err := s.Search(ctx, "dune", 10)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	none, err := s.Search(ctx, "100%", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_SameDayRerunKeepsDetails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := snap(42, trends.Movie, "Dune", day0, 100, "Legendary Pictures")
	first.IMDbID = "tt1160419"
	_, err := s.SaveSnapshots(ctx, []models.Snapshot{first})
	require.NoError(t, err)

	// Detail lookups failed on the second run.
	_, err = s.SaveSnapshots(ctx, []models.Snapshot{snap(42, trends.Movie, "Dune", day0.Add(2*time.Hour), 130)})
	require.NoError(t, err)

	history, err := s.History(ctx, 42, trends.Movie)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 130.0, history[0].Popularity)
	assert.Equal(t, models.StringList{"Legendary Pictures"}, history[0].ProductionCompanies)
	assert.Equal(t, "tt1160419", history[0].IMDbID)

	// A non-empty list from a later run still replaces the stored one.
	_, err = s.SaveSnapshots(ctx, []models.Snapshot{snap(42, trends.Movie, "Dune", day0.Add(4*time.Hour), 140, "Warner Bros. Pictures")})
	require.NoError(t, err)
	history, err = s.History(ctx, 42, trends.Movie)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StringList{"Warner Bros. Pictures"}, history[0].ProductionCompanies)
}

func TestStore_CompanyFilterIsExact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveSnapshots(ctx, []models.Snapshot{
		snap(1, trends.Movie, "Spirited Away", day0, 60, "Studio Ghibli"),
		snap(2, trends.Movie, "Unrelated", day0, 70, "ANIMAL Pictures"),
		snap(3, trends.TV, "Solo", day0, 80, "ANIMA"),
	})
	require.NoError(t, err)

	rows, err := s.Latest(ctx, query.Where(query.Companies{"ANIMA"}), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].ContentID)
}

func TestStore_CompanyFilterIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveSnapshots(ctx, []models.Snapshot{
		snap(1, trends.Movie, "Lower", day0, 60, "anima"),
		snap(2, trends.Movie, "Upper", day0, 70, "ANIMA"),
		snap(3, trends.Movie, "Both", day0, 80, "Studio Ghibli", "anima"),
	})
	require.NoError(t, err)

	rows, err := s.Latest(ctx, query.Where(query.Companies{"ANIMA"}), 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Upper", rows[0].Title)

	rows, err = s.Latest(ctx, query.Where(query.Companies{"anima", "Nobody"}), 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Both", rows[0].Title)
	assert.Equal(t, "Lower", rows[1].Title)
}

func TestStore_CompanyItemCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveSnapshots(ctx, []models.Snapshot{
		snap(1, trends.Movie, "A", day0, 10, "Old Studio"),
		snap(1, trends.Movie, "A", day0.AddDate(0, 0, 1), 10, "Walt Disney Pictures", "Pixar Animation Studios"),
		snap(2, trends.Movie, "B", day0, 10, "Walt Disney Pictures", "Walt Disney Pictures"),
		snap(3, trends.TV, "C", day0, 10, "HB"),
		snap(4, trends.TV, "D", day0, 10),
	})
	require.NoError(t, err)

	counts, err := s.CompanyItemCounts(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"Walt Disney Pictures":    2,
		"Pixar Animation Studios": 1,
	}, counts)
}

func TestStore_BackfillQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveSnapshots(ctx, []models.Snapshot{
		snap(1, trends.Movie, "A", day0, 10),
		snap(1, trends.Movie, "A", day0.AddDate(0, 0, 1), 20),
		snap(2, trends.TV, "B", day0.AddDate(0, 0, 1), 50),
		snap(3, trends.TV, "C", day0.AddDate(0, 0, 1), 30, "HBO"),
		snap(4, trends.Movie, "D", day0, 99),
	})
	require.NoError(t, err)

	missing, err := s.ItemsMissingCompanies(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []trends.Key{
		{ContentID: 2, MediaType: trends.TV},
		{ContentID: 1, MediaType: trends.Movie},
	}, missing)

	n, err := s.SetCompanies(ctx, trends.Key{ContentID: 1, MediaType: trends.Movie}, []string{"A24"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	history, err := s.History(ctx, 1, trends.Movie)
	require.NoError(t, err)
	for _, h := range history {
		assert.Equal(t, models.StringList{"A24"}, h.ProductionCompanies)
	}
}

func TestStore_Runs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.LastRun(ctx)
	assert.True(t, errors.Is(err, ErrNoRuns))

	run, err := s.StartRun(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, run.Status)
	assert.NotEmpty(t, run.ID)

	run.ItemsFetched = 12
	run.ItemsStored = 10
	require.NoError(t, s.FinishRun(ctx, run))

	last, err := s.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, models.RunSuccess, last.Status)
	assert.Equal(t, 10, last.ItemsStored)
	require.NotNil(t, last.FinishedAt)

	require.NoError(t, s.Ping(ctx))
}

func TestStore_Each(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var rows []models.Snapshot
	for i := 0; i < 5; i++ {
		rows = append(rows, snap(int64(i+1), trends.Movie, "T", day0, float64(i)))
	}
	_, err := s.SaveSnapshots(ctx, rows)
	require.NoError(t, err)

	var batches, total int
	err = s.Each(ctx, query.Where(query.MediaTypes{trends.Movie}), 2, func(b []models.Snapshot) error {
		batches++
		total += len(b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, batches)
	assert.Equal(t, 5, total)
}
