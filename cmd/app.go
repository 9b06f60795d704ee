package cmd

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/icco/trendwatch/lib/collector"
	"github.com/icco/trendwatch/lib/db"
	"github.com/icco/trendwatch/lib/digest"
	"github.com/icco/trendwatch/lib/insights"
	"github.com/icco/trendwatch/lib/lock"
	"github.com/icco/trendwatch/lib/tmdb"
)

// app holds the shared dependencies of a command.
type app struct {
	gdb   *gorm.DB
	store *db.Store
}

func openApp() (*app, error) {
	gdb, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	return &app{gdb: gdb, store: db.NewStore(gdb, logger)}, nil
}

func (a *app) Close() {
	if err := db.Close(a.gdb); err != nil {
		logger.Error("Failed to close database", slog.Any("error", err))
	}
}

func (a *app) insights() *insights.Service {
	return insights.NewService(a.store, insights.Options{MinCompanyItems: cfg.Companies.MinItems}, logger)
}

// collector fails when no TMDB key is configured.
func (a *app) collector() (*collector.Collector, error) {
	if err := cfg.RequireTMDB(); err != nil {
		return nil, err
	}
	client := tmdb.NewClient(tmdb.Config{
		APIKey:          cfg.TMDB.APIKey,
		BaseURL:         cfg.TMDB.BaseURL,
		Timeout:         cfg.TMDB.Timeout,
		RequestInterval: cfg.TMDB.RequestInterval,
		Burst:           cfg.TMDB.Burst,
		MaxRetries:      cfg.TMDB.MaxRetries,
	}, logger)
	locker := lock.NewFileLock(cfg.Lock.Dir, cfg.Lock.StaleAfter, logger)
	return collector.New(client, a.store, locker, logger), nil
}

// digest returns nil when no OpenAI key is configured.
func (a *app) digest() *digest.Writer {
	if cfg.OpenAI.APIKey == "" {
		return nil
	}
	return digest.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
}
