package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icco/trendwatch/lib/db"
	"github.com/icco/trendwatch/lib/insights"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/models"
)

type fakeDigest struct {
	text string
	err  error
}

func (f fakeDigest) Digest(context.Context, *insights.TrendResult, int) (string, error) {
	return f.text, f.err
}

type testEnv struct {
	router   http.Handler
	store    *db.Store
	triggers int
}

func newTestEnv(t *testing.T, digest Digester) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gdb, err := db.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	store := db.NewStore(gdb, logger)
	now := time.Now().UTC()
	obs := func(id int64, mt trends.MediaType, title string, ago time.Duration, pop float64, companies ...string) models.Snapshot {
		return models.NewSnapshot(trends.Observation{
			ContentID: id, MediaType: mt, Title: title, Popularity: pop,
			ObservedAt: now.Add(-ago), ProductionCompanies: companies,
		}, "tt"+title, "trending/all/day", "run")
	}
	_, err = store.SaveSnapshots(context.Background(), []models.Snapshot{
		obs(1, trends.Movie, "Dune", 72*time.Hour, 100, "Legendary Pictures"),
		obs(1, trends.Movie, "Dune", time.Hour, 160, "Legendary Pictures"),
		obs(2, trends.TV, "Severance", 72*time.Hour, 200, "Apple Studios"),
		obs(2, trends.TV, "Severance", time.Hour, 150, "Apple Studios"),
		obs(3, trends.Movie, "Inside Out 2", time.Hour, 90, "Pixar Animation Studios"),
	})
	require.NoError(t, err)

	env := &testEnv{store: store}
	env.router = NewRouter(Deps{
		Store:    store,
		Insights: insights.NewService(store, insights.Options{MinCompanyItems: 1}, logger),
		Digest:   digest,
		Trigger: func() bool {
			env.triggers++
			return env.triggers == 1
		},
		Defaults:         Defaults{Days: 7, MinChangePercent: 15, CompanyLimit: 50},
		HealthStaleAfter: time.Hour,
		Logger:           logger,
	})
	return env
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestDashboardData(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/dashboard-data")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[dashboardResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(5), resp.Stats.TotalSnapshots)
	require.Len(t, resp.TopMovies, 2)
	assert.Equal(t, "Dune", resp.TopMovies[0].Title)
	require.Len(t, resp.TopTV, 1)
	assert.Equal(t, "Severance", resp.TopTV[0].Title)

	rec = env.get(t, "/api/dashboard-data?companies=Disney")
	resp = decode[dashboardResponse](t, rec)
	require.Len(t, resp.TopTrending, 1)
	assert.Equal(t, "Inside Out 2", resp.TopTrending[0].Title)
	assert.Equal(t, []string{"Disney"}, resp.Stats.CompanyFilters)

	rec = env.get(t, "/api/dashboard-data?companies=Nobody")
	resp = decode[dashboardResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "No content found for Nobody", resp.Error)
}

func TestCORSOnAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProductionCompanies(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/production-companies")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"canonical_name":"Disney"`)

	rec = env.get(t, "/api/production-companies?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/search/sev")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Success bool              `json:"success"`
		Results []models.Snapshot `json:"results"`
	}](t, rec)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 150.0, resp.Results[0].Popularity, "latest row is returned")

	rec = env.get(t, "/api/search/zzz")
	assert.JSONEq(t, `{"success":true,"results":[]}`, rec.Body.String())
}

func TestTrendsAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/trends?days=7&min_change=15")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[insights.TrendResult](t, rec)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "Dune", res.Records[0].Title)
	assert.InDelta(t, 60.0, res.Records[0].ChangePercent, 1e-9)
	assert.InDelta(t, -25.0, res.Records[1].ChangePercent, 1e-9)

	rec = env.get(t, "/api/trends?limit=1")
	res = decode[insights.TrendResult](t, rec)
	assert.Len(t, res.Records, 1)

	rec = env.get(t, "/api/trends?days=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "days must be an integer")
}

func TestTrendSummary(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/trends/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_trends":2`)

	rec = env.get(t, "/api/trends/summary?min_change=1000")
	assert.Contains(t, rec.Body.String(), `"summary":null`)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/items/movie/1/history")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Snapshots []models.Snapshot `json:"snapshots"`
	}](t, rec)
	require.Len(t, resp.Snapshots, 2)
	assert.Equal(t, 100.0, resp.Snapshots[0].Popularity)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/items/tv/1/history").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/items/person/1/history").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/items/movie/-1/history").Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unique_items":3`)
}

func TestExportSnapshots(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/export/snapshots.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "snapshots.csv")
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 6)

	future := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	rec = env.get(t, "/export/snapshots.csv?to="+future)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(t, "/export/snapshots.csv?from=2001-01-01&to=2001-01-02")
	rows, err = csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}

func TestExportTrends(t *testing.T) {
	env := newTestEnv(t, fakeDigest{text: "Dune rose sharply."})

	rec := env.get(t, "/export/trends.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rec = env.get(t, "/export/trends.json?digest=true&top=1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "Dune rose sharply.", body["digest"])
	assert.Len(t, body["trends"], 1)

	rec = env.get(t, "/export/trends.json")
	body = decode[map[string]any](t, rec)
	assert.NotContains(t, body, "digest")
}

func TestExportTrendsDigestFailure(t *testing.T) {
	env := newTestEnv(t, fakeDigest{err: errors.New("quota")})
	rec := env.get(t, "/export/trends.json?digest=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "digest")
}

func TestHTMLPages(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Popularity dashboard")
	assert.Contains(t, rec.Body.String(), "Dune")
	assert.Contains(t, rec.Body.String(), `<option value="Disney"`)

	rec = env.get(t, "/trends?days=7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Severance")
	// html/template escapes "+" in text nodes.
	assert.Contains(t, rec.Body.String(), "&#43;60.0%")
	assert.Contains(t, rec.Body.String(), "-25.0%")

	rec = env.get(t, "/trends?days=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")
}

func TestCron(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/cron")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = env.get(t, "/cron")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Collection already pending"))
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
