package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icco/trendwatch/lib/lock"
	"github.com/icco/trendwatch/lib/tmdb"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/models"
)

type fakeCatalog struct {
	mu           sync.Mutex
	lists        map[string][]tmdb.Page
	details      map[trends.Key]*tmdb.Details
	imdb         map[trends.Key]string
	detailCalls  int
	idCalls      int
	discoverSeen []url.Values
}

func listKey(kind string, mt trends.MediaType) string {
	return kind + "/" + string(mt)
}

func (f *fakeCatalog) page(key string, page int) (*tmdb.Page, error) {
	pages, ok := f.lists[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, &tmdb.APIError{StatusCode: 500, Endpoint: key})
	}
	if page > len(pages) {
		return &tmdb.Page{Page: page}, nil
	}
	p := pages[page-1]
	return &p, nil
}

func (f *fakeCatalog) Trending(_ context.Context, scope, window string, page int) (*tmdb.Page, error) {
	return f.page("trending/"+scope+"/"+window, page)
}

func (f *fakeCatalog) Popular(_ context.Context, mt trends.MediaType, page int) (*tmdb.Page, error) {
	return f.page(listKey("popular", mt), page)
}

func (f *fakeCatalog) TopRated(_ context.Context, mt trends.MediaType, page int) (*tmdb.Page, error) {
	return f.page(listKey("top_rated", mt), page)
}

func (f *fakeCatalog) Discover(_ context.Context, mt trends.MediaType, params url.Values, page int) (*tmdb.Page, error) {
	f.mu.Lock()
	f.discoverSeen = append(f.discoverSeen, params)
	f.mu.Unlock()
	return f.page(listKey("discover", mt), page)
}

func (f *fakeCatalog) Details(_ context.Context, mt trends.MediaType, id int64) (*tmdb.Details, error) {
	f.detailCalls++
	d, ok := f.details[trends.Key{ContentID: id, MediaType: mt}]
	if !ok {
		return nil, &tmdb.APIError{StatusCode: 404, Endpoint: "/{type}/{id}"}
	}
	return d, nil
}

func (f *fakeCatalog) ExternalIDs(_ context.Context, mt trends.MediaType, id int64) (*tmdb.ExternalIDs, error) {
	f.idCalls++
	return &tmdb.ExternalIDs{IMDbID: f.imdb[trends.Key{ContentID: id, MediaType: mt}]}, nil
}

type fakeStore struct {
	saved     []models.Snapshot
	runs      []*models.CollectionRun
	missing   []trends.Key
	companies map[trends.Key][]string
	saveErr   error
}

func (s *fakeStore) SaveSnapshots(_ context.Context, rows []models.Snapshot) (int, error) {
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	s.saved = append(s.saved, rows...)
	return len(rows), nil
}

func (s *fakeStore) StartRun(_ context.Context, plan string) (*models.CollectionRun, error) {
	run := &models.CollectionRun{ID: fmt.Sprintf("run-%d", len(s.runs)+1), Plan: plan, Status: models.RunRunning}
	s.runs = append(s.runs, run)
	return run, nil
}

func (s *fakeStore) FinishRun(_ context.Context, run *models.CollectionRun) error {
	now := time.Now()
	run.FinishedAt = &now
	return nil
}

func (s *fakeStore) ItemsMissingCompanies(_ context.Context, limit int) ([]trends.Key, error) {
	if limit > 0 && limit < len(s.missing) {
		return s.missing[:limit], nil
	}
	return s.missing, nil
}

func (s *fakeStore) SetCompanies(_ context.Context, key trends.Key, companies []string) (int64, error) {
	if s.companies == nil {
		s.companies = make(map[trends.Key][]string)
	}
	s.companies[key] = companies
	return 1, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCollector(t *testing.T, cat *fakeCatalog, store *fakeStore) (*Collector, *lock.FileLock) {
	t.Helper()
	locker := lock.NewFileLock(t.TempDir(), time.Hour, discard())
	c := New(cat, store, locker, discard())
	c.now = func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	return c, locker
}

func movie(id int64, title string, popularity float64) tmdb.Item {
	return tmdb.Item{ID: id, MediaType: "movie", Title: title, Popularity: popularity}
}

func TestCollector_RunDedupesAndRanks(t *testing.T) {
	cat := &fakeCatalog{
		lists: map[string][]tmdb.Page{
			"trending/all/day": {{TotalPages: 1, Results: []tmdb.Item{
				movie(1, "Dune", 300),
				{ID: 2, MediaType: "tv", Name: "Severance", Popularity: 200},
				{ID: 9, MediaType: "person", Name: "Someone", Popularity: 999},
			}}},
			"popular/movie": {
				{TotalPages: 2, Results: []tmdb.Item{{ID: 1, Title: "Dune (dup)", Popularity: 1}, {ID: 3, Title: "Alien"}}},
				{TotalPages: 2, Results: []tmdb.Item{{ID: 2, Title: "Not the show", Popularity: 5}}},
			},
		},
		details: map[trends.Key]*tmdb.Details{
			{ContentID: 1, MediaType: trends.Movie}: {ProductionCompanies: []tmdb.Company{{Name: "Legendary Pictures"}}},
			{ContentID: 2, MediaType: trends.TV}:    {Networks: []tmdb.Company{{Name: "Apple TV+"}}},
		},
		imdb: map[trends.Key]string{{ContentID: 1, MediaType: trends.Movie}: "tt1160419"},
	}
	store := &fakeStore{}
	c, _ := newTestCollector(t, cat, store)

	plan := Plan{
		Name: "test",
		Sources: []Source{
			{Kind: KindTrending, Scope: "all", Window: "day"},
			{Kind: KindPopular, MediaType: trends.Movie, Pages: 5},
			{Kind: KindTopRated, MediaType: trends.TV},
		},
		FetchDetails:     true,
		FetchExternalIDs: true,
	}

	res, err := c.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Fetched)
	assert.Equal(t, 4, res.Unique)
	assert.Equal(t, 4, res.Stored)
	// top_rated/tv is missing (1) and two items have no details (2).
	assert.Equal(t, 3, res.Errors)

	require.Len(t, store.saved, 4)
	first := store.saved[0]
	assert.Equal(t, int64(1), first.ContentID)
	assert.Equal(t, "Dune", first.Title)
	assert.Equal(t, "trending/all/day", first.Source)
	assert.Equal(t, 1, first.RankPosition)
	assert.Equal(t, "tt1160419", first.IMDbID)
	assert.Equal(t, models.StringList{"Legendary Pictures"}, first.ProductionCompanies)
	assert.Equal(t, "2025-06-01", first.SnapshotDate)

	assert.Equal(t, trends.TV, store.saved[1].MediaType)
	assert.Equal(t, models.StringList{"Apple TV+"}, store.saved[1].ProductionCompanies)

	// Same id as a movie is a different item from the show.
	assert.Equal(t, int64(2), store.saved[3].ContentID)
	assert.Equal(t, trends.Movie, store.saved[3].MediaType)
	assert.Equal(t, 4, store.saved[3].RankPosition)

	assert.Equal(t, 4, cat.detailCalls)
	require.Len(t, store.runs, 1)
	assert.Equal(t, models.RunSuccess, store.runs[0].Status)
	assert.Equal(t, 4, store.runs[0].ItemsStored)
}

func TestCollector_RunSkipsWhenLocked(t *testing.T) {
	store := &fakeStore{}
	c, locker := newTestCollector(t, &fakeCatalog{}, store)

	ok, err := locker.TryLock(context.Background(), LockKey, 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.Run(context.Background(), Plan{Name: "test"})
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Empty(t, store.runs)

	_, err = c.Backfill(context.Background(), 10)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
}

func TestCollector_RunFailsWhenEverySourceFails(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCollector(t, &fakeCatalog{}, store)

	_, err := c.Run(context.Background(), Plan{
		Name:    "test",
		Sources: []Source{{Kind: KindPopular, MediaType: trends.Movie}},
	})
	require.Error(t, err)
	require.Len(t, store.runs, 1)
	assert.Equal(t, models.RunFailed, store.runs[0].Status)
	assert.NotEmpty(t, store.runs[0].Message)
}

func TestCollector_RunReportsSaveFailure(t *testing.T) {
	cat := &fakeCatalog{lists: map[string][]tmdb.Page{
		"popular/movie": {{Results: []tmdb.Item{movie(1, "Dune", 1)}}},
	}}
	store := &fakeStore{saveErr: errors.New("disk full")}
	c, _ := newTestCollector(t, cat, store)

	_, err := c.Run(context.Background(), Plan{
		Name:    "test",
		Sources: []Source{{Kind: KindPopular, MediaType: trends.Movie}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, models.RunFailed, store.runs[0].Status)
}

func TestCollector_CompanySourceQueriesEachID(t *testing.T) {
	cat := &fakeCatalog{lists: map[string][]tmdb.Page{
		"discover/movie": {{TotalPages: 1, Results: []tmdb.Item{{ID: 5, Title: "Oppenheimer"}}}},
	}}
	store := &fakeStore{}
	c, _ := newTestCollector(t, cat, store)

	res, err := c.Run(context.Background(), Plan{
		Name: "studios",
		Sources: []Source{{
			Kind: KindCompany, Name: "studio/Universal/movie", MediaType: trends.Movie,
			CompanyIDs: []int64{33, 10146}, Pages: 10,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Unique)

	require.Len(t, cat.discoverSeen, 2)
	assert.Equal(t, "33", cat.discoverSeen[0].Get("with_companies"))
	assert.Equal(t, "10146", cat.discoverSeen[1].Get("with_companies"))
	assert.Equal(t, "studio/Universal/movie", store.saved[0].Source)
}

func TestCollector_Backfill(t *testing.T) {
	withCompanies := trends.Key{ContentID: 1, MediaType: trends.Movie}
	noCompanies := trends.Key{ContentID: 2, MediaType: trends.TV}
	unknown := trends.Key{ContentID: 3, MediaType: trends.Movie}

	cat := &fakeCatalog{details: map[trends.Key]*tmdb.Details{
		withCompanies: {ProductionCompanies: []tmdb.Company{{Name: "A24"}}},
		noCompanies:   {},
	}}
	store := &fakeStore{missing: []trends.Key{withCompanies, noCompanies, unknown}}
	c, _ := newTestCollector(t, cat, store)

	res, err := c.Backfill(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, &BackfillResult{Checked: 3, Updated: 1, Errors: 1}, res)
	assert.Equal(t, map[trends.Key][]string{withCompanies: {"A24"}}, store.companies)
}

func TestCollector_RunBackfillReusesDetailCache(t *testing.T) {
	key := trends.Key{ContentID: 1, MediaType: trends.Movie}
	cat := &fakeCatalog{
		lists: map[string][]tmdb.Page{
			"popular/movie": {{Results: []tmdb.Item{movie(1, "Dune", 1)}}},
		},
		details: map[trends.Key]*tmdb.Details{key: {ProductionCompanies: []tmdb.Company{{Name: "Legendary Pictures"}}}},
	}
	store := &fakeStore{missing: []trends.Key{key}}
	c, _ := newTestCollector(t, cat, store)

	_, err := c.Run(context.Background(), Plan{
		Name:          "test",
		Sources:       []Source{{Kind: KindPopular, MediaType: trends.Movie}},
		FetchDetails:  true,
		BackfillLimit: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cat.detailCalls)
	assert.Equal(t, []string{"Legendary Pictures"}, store.companies[key])
}

func TestDetailCache(t *testing.T) {
	key := trends.Key{ContentID: 1, MediaType: trends.Movie}
	cat := &fakeCatalog{details: map[trends.Key]*tmdb.Details{
		key: {ProductionCompanies: []tmdb.Company{{Name: "Pixar"}}},
	}}
	dc := NewDetailCache(cat)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		names, err := dc.Companies(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []string{"Pixar"}, names)
	}

	missing := trends.Key{ContentID: 2, MediaType: trends.Movie}
	_, err := dc.Companies(ctx, missing)
	assert.Error(t, err)
	names, err := dc.Companies(ctx, missing)
	assert.NoError(t, err, "failures are cached for the run")
	assert.Empty(t, names)

	hits, misses := dc.Stats()
	assert.Equal(t, 3, hits)
	assert.Equal(t, 2, misses)
	assert.Equal(t, 2, cat.detailCalls)
}

func TestLookupPlan(t *testing.T) {
	for _, name := range PlanNames() {
		p, err := LookupPlan(name)
		require.NoError(t, err)
		assert.Equal(t, name, p.Name)
		assert.NotEmpty(t, p.Sources)
		for _, s := range p.Sources {
			if s.Kind != KindTrending {
				assert.True(t, s.MediaType.Valid(), "%s: %s", name, s.Label())
			}
		}
	}
	assert.Equal(t, []string{"daily", "mass", "studios", "trending"}, PlanNames())

	_, err := LookupPlan("weekly")
	assert.True(t, errors.Is(err, ErrUnknownPlan))
}
