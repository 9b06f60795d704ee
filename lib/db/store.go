package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/icco/trendwatch/lib/query"
	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/lib/types"
	"github.com/icco/trendwatch/models"
)

// ErrNoRuns is returned by LastRun when nothing has been collected yet.
var ErrNoRuns = errors.New("no collection runs recorded")

const saveBatchSize = 200

// Store reads and writes observations.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore wraps an open database.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func filter(q *gorm.DB, pred query.Predicate) *gorm.DB {
	if where, args := pred.SQL(); where != "" {
		return q.Where(where, args...)
	}
	return q
}

// snapshotUpdates overwrites the measured fields of a same-day row but keeps
// detail fields the earlier run found when this one came back empty.
var snapshotUpdates = append(
	clause.AssignmentColumns([]string{
		"snapshot_time", "title", "popularity", "vote_average", "vote_count",
		"release_date", "rank_position", "source", "run_id",
	}),
	clause.Assignment{
		Column: clause.Column{Name: "production_companies"},
		Value: gorm.Expr(`CASE WHEN excluded.production_companies IS NULL OR excluded.production_companies IN ('', '[]')
			THEN popularity_snapshots.production_companies ELSE excluded.production_companies END`),
	},
	clause.Assignment{
		Column: clause.Column{Name: "imdb_id"},
		Value:  gorm.Expr(`COALESCE(NULLIF(excluded.imdb_id, ''), popularity_snapshots.imdb_id)`),
	},
)

// SaveSnapshots upserts rows. A row for an item that already has one on the
// same date replaces it, except that empty companies or IMDb id keep the
// stored values.
func (s *Store) SaveSnapshots(ctx context.Context, rows []models.Snapshot) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "content_id"},
				{Name: "media_type"},
				{Name: "snapshot_date"},
			},
			DoUpdates: snapshotUpdates,
		}).CreateInBatches(&rows, saveBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save snapshots: %w", err)
	}

	s.logger.DebugContext(ctx, "Saved snapshots", slog.Int("count", len(rows)))
	return len(rows), nil
}

// Observations returns every observation matching pred, oldest first.
func (s *Store) Observations(ctx context.Context, pred query.Predicate) ([]trends.Observation, error) {
	var rows []models.Snapshot
	if err := filter(s.db.WithContext(ctx), pred).
		Order("snapshot_time ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}

	out := make([]trends.Observation, len(rows))
	for i, r := range rows {
		out[i] = r.Observation()
	}
	return out, nil
}

// Latest returns the most recent row per item among rows matching pred,
// ordered by popularity, highest first. A non-positive limit means no limit.
func (s *Store) Latest(ctx context.Context, pred query.Predicate, limit int) ([]models.Snapshot, error) {
	inner := filter(s.db.WithContext(ctx).Model(&models.Snapshot{}), pred).
		Select("*, ROW_NUMBER() OVER (PARTITION BY content_id, media_type ORDER BY snapshot_time DESC, id DESC) AS rn")

	q := s.db.WithContext(ctx).
		Table("(?) AS ranked", inner).
		Where("rn = 1").
		Order("popularity DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.Snapshot
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load latest snapshots: %w", err)
	}
	return rows, nil
}

// History returns one item's rows, oldest first.
func (s *Store) History(ctx context.Context, contentID int64, mediaType trends.MediaType) ([]models.Snapshot, error) {
	var rows []models.Snapshot
	pred := query.Where(query.Item{ContentID: contentID, MediaType: mediaType})
	if err := filter(s.db.WithContext(ctx), pred).
		Order("snapshot_time ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return rows, nil
}

// Search finds the latest row of items whose title contains term.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]models.Snapshot, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []models.Snapshot{}, nil
	}
	return s.Latest(ctx, query.Where(query.TitleContains(term)), limit)
}

// Each streams rows matching pred in primary key order, batch by batch.
func (s *Store) Each(ctx context.Context, pred query.Predicate, batchSize int, fn func([]models.Snapshot) error) error {
	var batch []models.Snapshot
	res := filter(s.db.WithContext(ctx), pred).
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(batch)
		})
	if res.Error != nil {
		return fmt.Errorf("failed to iterate snapshots: %w", res.Error)
	}
	return nil
}

// Stats summarizes the database.
func (s *Store) Stats(ctx context.Context) (types.StatsData, error) {
	var stats types.StatsData
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Snapshot{}).Count(&stats.TotalSnapshots).Error; err != nil {
		return stats, fmt.Errorf("failed to count snapshots: %w", err)
	}

	var perType []struct {
		MediaType trends.MediaType
		Count     int64
	}
	if err := db.Raw(`SELECT media_type, COUNT(*) AS count FROM
		(SELECT DISTINCT content_id, media_type FROM popularity_snapshots)
		GROUP BY media_type`).Scan(&perType).Error; err != nil {
		return stats, fmt.Errorf("failed to count items: %w", err)
	}
	for _, p := range perType {
		stats.UniqueItems += p.Count
		switch p.MediaType {
		case trends.Movie:
			stats.UniqueMovies = p.Count
		case trends.TV:
			stats.UniqueTVShows = p.Count
		}
	}

	var dates struct {
		FirstDate     string
		LastDate      string
		DaysCollected int64
	}
	if err := db.Model(&models.Snapshot{}).
		Select("COALESCE(MIN(snapshot_date), '') AS first_date, COALESCE(MAX(snapshot_date), '') AS last_date, COUNT(DISTINCT snapshot_date) AS days_collected").
		Scan(&dates).Error; err != nil {
		return stats, fmt.Errorf("failed to read date range: %w", err)
	}
	stats.FirstDate, stats.LastDate, stats.DaysCollected = dates.FirstDate, dates.LastDate, dates.DaysCollected
	if stats.DaysCollected > 0 {
		stats.AverageDailySnapshots = float64(stats.TotalSnapshots) / float64(stats.DaysCollected)
	}

	if err := db.Model(&models.Snapshot{}).
		Select("source, COUNT(*) AS count").
		Group("source").
		Order("count DESC, source ASC").
		Scan(&stats.SourceDistribution).Error; err != nil {
		return stats, fmt.Errorf("failed to read source distribution: %w", err)
	}

	run, err := s.LastRun(ctx)
	switch {
	case err == nil:
		stats.LastRun = &types.RunSummary{
			ID:          run.ID,
			Plan:        run.Plan,
			Status:      string(run.Status),
			StartedAt:   run.StartedAt,
			ItemsStored: run.ItemsStored,
			Errors:      run.Errors,
		}
	case !errors.Is(err, ErrNoRuns):
		return stats, err
	}

	return stats, nil
}

// CompanyItemCounts counts distinct items per raw company name, using each
// item's latest company list. Names shorter than minLen are ignored.
func (s *Store) CompanyItemCounts(ctx context.Context, minLen int) (map[string]int, error) {
	var rows []struct {
		ProductionCompanies models.StringList
	}
	err := s.db.WithContext(ctx).Raw(`SELECT production_companies FROM (
		SELECT production_companies, ROW_NUMBER() OVER (
			PARTITION BY content_id, media_type ORDER BY snapshot_time DESC, id DESC) AS rn
		FROM popularity_snapshots)
		WHERE rn = 1 AND production_companies IS NOT NULL AND production_companies != '[]'`).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load company lists: %w", err)
	}

	counts := make(map[string]int)
	for _, r := range rows {
		seen := make(map[string]bool, len(r.ProductionCompanies))
		for _, name := range r.ProductionCompanies {
			name = strings.TrimSpace(name)
			if len([]rune(name)) < minLen || seen[name] {
				continue
			}
			seen[name] = true
			counts[name]++
		}
	}
	return counts, nil
}

// ItemsMissingCompanies lists items seen on the latest snapshot date that have
// no company list, most popular first.
func (s *Store) ItemsMissingCompanies(ctx context.Context, limit int) ([]trends.Key, error) {
	var rows []struct {
		ContentID int64
		MediaType trends.MediaType
	}
	q := s.db.WithContext(ctx).Model(&models.Snapshot{}).
		Select("content_id, media_type").
		Where("snapshot_date = (SELECT MAX(snapshot_date) FROM popularity_snapshots)").
		Where("production_companies IS NULL OR production_companies IN ('', '[]')").
		Order("popularity DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find items without companies: %w", err)
	}

	keys := make([]trends.Key, len(rows))
	for i, r := range rows {
		keys[i] = trends.Key{ContentID: r.ContentID, MediaType: r.MediaType}
	}
	return keys, nil
}

// SetCompanies replaces the company list on every row of one item.
func (s *Store) SetCompanies(ctx context.Context, key trends.Key, companies []string) (int64, error) {
	pred := query.Where(query.Item{ContentID: key.ContentID, MediaType: key.MediaType})
	res := filter(s.db.WithContext(ctx).Model(&models.Snapshot{}), pred).
		Update("production_companies", models.StringList(companies))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to set companies for %s: %w", key, res.Error)
	}
	return res.RowsAffected, nil
}

// StartRun records the beginning of a collection run.
func (s *Store) StartRun(ctx context.Context, plan string) (*models.CollectionRun, error) {
	run := &models.CollectionRun{
		ID:        uuid.NewString(),
		Plan:      plan,
		StartedAt: time.Now().UTC(),
		Status:    models.RunRunning,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to record run start: %w", err)
	}
	return run, nil
}

// FinishRun stamps and persists the outcome of run.
func (s *Store) FinishRun(ctx context.Context, run *models.CollectionRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now
	if run.Status == models.RunRunning || run.Status == "" {
		run.Status = models.RunSuccess
	}
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// LastRun returns the most recently started run, or ErrNoRuns.
func (s *Store) LastRun(ctx context.Context) (*models.CollectionRun, error) {
	var run models.CollectionRun
	err := s.db.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last run: %w", err)
	}
	return &run, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
