// Package collector polls TMDB lists and stores one popularity snapshot per
// item per run.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/icco/trendwatch/lib/metrics"
	"github.com/icco/trendwatch/lib/tmdb"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/models"
)

// LockKey is the lock shared by collection and backfill runs.
const LockKey = "collect"

// ErrAlreadyRunning is returned when another run holds the lock.
var ErrAlreadyRunning = errors.New("collection already running")

// Catalog is the part of the TMDB client the collector uses.
type Catalog interface {
	Trending(ctx context.Context, scope, window string, page int) (*tmdb.Page, error)
	Popular(ctx context.Context, mediaType trends.MediaType, page int) (*tmdb.Page, error)
	TopRated(ctx context.Context, mediaType trends.MediaType, page int) (*tmdb.Page, error)
	Discover(ctx context.Context, mediaType trends.MediaType, params url.Values, page int) (*tmdb.Page, error)
	Details(ctx context.Context, mediaType trends.MediaType, id int64) (*tmdb.Details, error)
	ExternalIDs(ctx context.Context, mediaType trends.MediaType, id int64) (*tmdb.ExternalIDs, error)
}

// Store is where snapshots and run records go.
type Store interface {
	SaveSnapshots(ctx context.Context, rows []models.Snapshot) (int, error)
	StartRun(ctx context.Context, plan string) (*models.CollectionRun, error)
	FinishRun(ctx context.Context, run *models.CollectionRun) error
	ItemsMissingCompanies(ctx context.Context, limit int) ([]trends.Key, error)
	SetCompanies(ctx context.Context, key trends.Key, companies []string) (int64, error)
}

// Locker serializes runs.
type Locker interface {
	TryLock(ctx context.Context, key string, wait time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Collector executes plans.
type Collector struct {
	catalog Catalog
	store   Store
	locker  Locker
	logger  *slog.Logger
	now     func() time.Time
}

func New(catalog Catalog, store Store, locker Locker, logger *slog.Logger) *Collector {
	return &Collector{
		catalog: catalog,
		store:   store,
		locker:  locker,
		logger:  logger.With(slog.String("component", "collector")),
		now:     time.Now,
	}
}

// Result summarizes one run.
type Result struct {
	RunID    string        `json:"run_id"`
	Plan     string        `json:"plan"`
	Fetched  int           `json:"fetched"`
	Unique   int           `json:"unique"`
	Stored   int           `json:"stored"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

type listed struct {
	item   tmdb.CatalogItem
	source string
}

// Run executes plan once. Source failures are logged and counted; the run
// only fails when nothing could be stored.
func (c *Collector) Run(ctx context.Context, plan Plan) (*Result, error) {
	ok, err := c.locker.TryLock(ctx, LockKey, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire collection lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	defer func() {
		if err := c.locker.Unlock(context.WithoutCancel(ctx), LockKey); err != nil {
			c.logger.Error("Failed to release collection lock", slog.Any("error", err))
		}
	}()

	start := c.now()
	run, err := c.store.StartRun(ctx, plan.Name)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With(slog.String("plan", plan.Name), slog.String("run_id", run.ID))
	logger.InfoContext(ctx, "Starting collection", slog.Int("sources", len(plan.Sources)))

	res := &Result{RunID: run.ID, Plan: plan.Name}

	var all []listed
	for _, src := range plan.Sources {
		items, errs := c.fetchSource(ctx, logger, src)
		res.Errors += errs
		for _, it := range items {
			all = append(all, listed{item: it, source: src.Label()})
		}
		if ctx.Err() != nil {
			break
		}
	}
	res.Fetched = len(all)

	unique := dedupe(all)
	res.Unique = len(unique)

	cache := NewDetailCache(c.catalog)
	rows, detailErrs := c.buildSnapshots(ctx, logger, cache, plan, run.ID, unique, start)
	res.Errors += detailErrs

	var runErr error
	if ctx.Err() != nil {
		runErr = ctx.Err()
	} else {
		res.Stored, runErr = c.store.SaveSnapshots(ctx, rows)
	}
	if runErr == nil && res.Fetched == 0 && res.Errors > 0 {
		runErr = fmt.Errorf("no items fetched, %d source errors", res.Errors)
	}
	if runErr == nil && plan.BackfillLimit > 0 {
		bf, err := c.backfill(ctx, logger, cache, plan.BackfillLimit)
		if err != nil {
			logger.WarnContext(ctx, "Company backfill failed", slog.Any("error", err))
			res.Errors++
		} else {
			res.Errors += bf.Errors
		}
	}

	res.Duration = c.now().Sub(start)
	run.ItemsFetched = res.Fetched
	run.ItemsStored = res.Stored
	run.Errors = res.Errors
	run.Status = models.RunSuccess
	if runErr != nil {
		run.Status = models.RunFailed
		run.Message = runErr.Error()
	}
	if err := c.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("Failed to record collection run", slog.Any("error", err))
	}
	metrics.RecordCollection(plan.Name, res.Duration, res.Fetched, res.Stored, runErr)

	if runErr != nil {
		logger.ErrorContext(ctx, "Collection failed", slog.Any("error", runErr))
		return res, fmt.Errorf("collection %s failed: %w", plan.Name, runErr)
	}

	logger.InfoContext(ctx, "Collection finished",
		slog.Int("fetched", res.Fetched),
		slog.Int("unique", res.Unique),
		slog.Int("stored", res.Stored),
		slog.Int("errors", res.Errors),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (c *Collector) fetchSource(ctx context.Context, logger *slog.Logger, src Source) ([]tmdb.CatalogItem, int) {
	switch src.Kind {
	case KindTrending:
		hint := trends.MediaType(src.Scope)
		return c.pages(ctx, logger, src, hint, func(page int) (*tmdb.Page, error) {
			return c.catalog.Trending(ctx, src.Scope, src.Window, page)
		})
	case KindPopular:
		return c.pages(ctx, logger, src, src.MediaType, func(page int) (*tmdb.Page, error) {
			return c.catalog.Popular(ctx, src.MediaType, page)
		})
	case KindTopRated:
		return c.pages(ctx, logger, src, src.MediaType, func(page int) (*tmdb.Page, error) {
			return c.catalog.TopRated(ctx, src.MediaType, page)
		})
	case KindDiscover:
		return c.pages(ctx, logger, src, src.MediaType, func(page int) (*tmdb.Page, error) {
			return c.catalog.Discover(ctx, src.MediaType, src.Params, page)
		})
	case KindCompany:
		var items []tmdb.CatalogItem
		var errs int
		for _, id := range src.CompanyIDs {
			params := url.Values{
				"with_companies": {strconv.FormatInt(id, 10)},
				"sort_by":        {"popularity.desc"},
			}
			got, e := c.pages(ctx, logger, src, src.MediaType, func(page int) (*tmdb.Page, error) {
				return c.catalog.Discover(ctx, src.MediaType, params, page)
			})
			items = append(items, got...)
			errs += e
		}
		return items, errs
	}

	logger.Warn("Unknown source kind", slog.String("kind", string(src.Kind)))
	return nil, 1
}

// pages reads up to src.Pages pages, stopping at the last page, an empty
// page or the first error.
func (c *Collector) pages(ctx context.Context, logger *slog.Logger, src Source, hint trends.MediaType, fetch func(page int) (*tmdb.Page, error)) ([]tmdb.CatalogItem, int) {
	var out []tmdb.CatalogItem
	for page := 1; page <= src.pages(); page++ {
		if ctx.Err() != nil {
			return out, 0
		}
		p, err := fetch(page)
		if err != nil {
			logger.WarnContext(ctx, "Failed to fetch source page",
				slog.String("source", src.Label()),
				slog.Int("page", page),
				slog.Any("error", err))
			return out, 1
		}
		for _, raw := range p.Results {
			if it, ok := raw.Normalize(hint); ok {
				out = append(out, it)
			}
		}
		if len(p.Results) == 0 || (p.TotalPages > 0 && page >= p.TotalPages) {
			break
		}
	}
	return out, 0
}

// dedupe keeps the first listing of every item.
func dedupe(all []listed) []listed {
	seen := make(map[trends.Key]bool, len(all))
	out := make([]listed, 0, len(all))
	for _, l := range all {
		k := trends.Key{ContentID: l.item.ID, MediaType: l.item.MediaType}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, l)
	}
	return out
}

func (c *Collector) buildSnapshots(ctx context.Context, logger *slog.Logger, cache *DetailCache, plan Plan, runID string, items []listed, at time.Time) ([]models.Snapshot, int) {
	rows := make([]models.Snapshot, 0, len(items))
	var errs int

	for i, l := range items {
		if ctx.Err() != nil {
			break
		}
		key := trends.Key{ContentID: l.item.ID, MediaType: l.item.MediaType}

		var companyNames []string
		if plan.FetchDetails {
			names, err := cache.Companies(ctx, key)
			if err != nil {
				errs++
				logger.DebugContext(ctx, "Failed to fetch details", slog.String("item", key.String()), slog.Any("error", err))
			}
			companyNames = names
		}

		var imdbID string
		if plan.FetchExternalIDs {
			id, err := cache.IMDbID(ctx, key)
			if err != nil {
				errs++
				logger.DebugContext(ctx, "Failed to fetch external ids", slog.String("item", key.String()), slog.Any("error", err))
			}
			imdbID = id
		}

		o := trends.Observation{
			ContentID:           l.item.ID,
			MediaType:           l.item.MediaType,
			Title:               l.item.Title,
			Popularity:          l.item.Popularity,
			VoteAverage:         l.item.VoteAverage,
			VoteCount:           l.item.VoteCount,
			ReleaseDate:         l.item.ReleaseDate,
			ObservedAt:          at,
			RankPosition:        i + 1,
			ProductionCompanies: companyNames,
		}
		rows = append(rows, models.NewSnapshot(o, imdbID, l.source, runID))
	}

	if plan.FetchDetails || plan.FetchExternalIDs {
		hits, misses := cache.Stats()
		logger.DebugContext(ctx, "Detail cache", slog.Int("hits", hits), slog.Int("misses", misses))
	}
	return rows, errs
}
