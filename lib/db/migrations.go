package db

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/icco/trendwatch/models"
)

// Tables left behind by earlier versions of the collector scripts.
var tablesToDrop = []string{
	"trend_alerts",
	"collection_log",
}

// RunMigrations prepares the schema: pragmas, auto-migration of every model
// and the composite indexes the queries rely on.
func RunMigrations(db *gorm.DB, logger *slog.Logger) error {
	ctx := context.Background()

	enableSQLiteOptimizations(ctx, db, logger)

	if err := db.WithContext(ctx).AutoMigrate(&models.Snapshot{}, &models.CollectionRun{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	for _, table := range tablesToDrop {
		if err := db.WithContext(ctx).Exec("DROP TABLE IF EXISTS " + table).Error; err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	if err := createAdditionalIndexes(ctx, db, logger); err != nil {
		return fmt.Errorf("failed to create additional indexes: %w", err)
	}

	return nil
}

// enableSQLiteOptimizations applies pragmas. Failures are logged, not fatal.
func enableSQLiteOptimizations(ctx context.Context, db *gorm.DB, logger *slog.Logger) {
	optimizations := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=1000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA mmap_size=134217728", // 128MB
	}

	for _, pragma := range optimizations {
		if err := db.WithContext(ctx).Exec(pragma).Error; err != nil {
			logger.Warn("Failed to execute pragma", slog.String("pragma", pragma), slog.Any("error", err))
			continue
		}
		logger.Debug("Executed pragma", slog.String("pragma", pragma))
	}
}

func createAdditionalIndexes(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	additionalIndexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_snapshots_item_time ON popularity_snapshots(content_id, media_type, snapshot_time)",
		"CREATE INDEX IF NOT EXISTS idx_snapshots_date_popularity ON popularity_snapshots(snapshot_date, popularity)",
		"CREATE INDEX IF NOT EXISTS idx_snapshots_title ON popularity_snapshots(title)",
	}

	for _, indexSQL := range additionalIndexes {
		if err := db.WithContext(ctx).Exec(indexSQL).Error; err != nil {
			return fmt.Errorf("failed to create index %q: %w", indexSQL, err)
		}
		logger.Debug("Created index", slog.String("sql", indexSQL))
	}

	return nil
}
