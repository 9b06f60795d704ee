package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/icco/trendwatch/handlers"
	"github.com/icco/trendwatch/lib/collector"
	"github.com/icco/trendwatch/lib/config"
	"github.com/icco/trendwatch/lib/scheduler"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard, JSON API and collection scheduler",
	Long: `Serve starts the HTTP server and, when a TMDB key is configured, the
collection scheduler. GET /cron triggers an immediate collection.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func collectorSchedule() scheduler.Schedule {
	if !cfg.Collector.Enabled {
		return scheduler.Schedule{}
	}
	s := scheduler.Schedule{
		Interval:   cfg.Collector.Interval,
		RunOnStart: cfg.Collector.RunOnStart,
	}
	if h, m, ok := cfg.Collector.DailyClock(); ok {
		s.Daily = &scheduler.Clock{Hour: h, Minute: m}
	}
	return s
}

func runServe(cmd *cobra.Command, args []string) error {
	// Other commands log to stderr so their stdout can be piped.
	logger = config.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	port := cfg.Port
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		port = p
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := scheduler.NewSupervisor(logger, shutdownTimeout)

	deps := handlers.Deps{
		Store:    a.store,
		Insights: a.insights(),
		Defaults: handlers.Defaults{
			Days:             cfg.Trends.Days,
			MinChangePercent: cfg.Trends.MinChangePercent,
			CompanyLimit:     cfg.Companies.Limit,
		},
		HealthStaleAfter: cfg.Health.StaleAfter,
		Logger:           logger,
	}
	if d := a.digest(); d != nil {
		deps.Digest = d
	}

	if c, err := a.collector(); err != nil {
		logger.Warn("Collection disabled", slog.Any("error", err))
	} else {
		plan, err := collector.LookupPlan(cfg.Collector.Plan)
		if err != nil {
			return err
		}
		svc := scheduler.NewCollectorService(c, plan, collectorSchedule(), logger)
		sup.Add(svc)
		deps.Trigger = svc.Trigger
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}
	sup.Add(scheduler.NewHTTPServerService(server, shutdownTimeout))

	logger.Info("Starting server", slog.Int("port", port), slog.String("db_path", cfg.DBPath))
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
