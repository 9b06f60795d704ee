// Package cmd contains the trendwatch command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/icco/trendwatch/lib/config"
)

var (
	cfgFile string
	verbose bool
	noColor bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trendwatch",
	Short: "Track movie and TV popularity on TMDB",
	Long: `trendwatch polls TMDB popularity lists, stores one snapshot per title per
day and reports which titles are rising or falling.

Example usage:
  trendwatch collect --plan daily   # take today's snapshot
  trendwatch trends --days 7        # biggest movers of the last week
  trendwatch serve                  # dashboard, JSON API and scheduler`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./trendwatch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger = config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("db_path", cfg.DBPath),
		slog.String("plan", cfg.Collector.Plan),
		slog.Bool("tmdb_key", cfg.TMDB.APIKey != ""))
	return nil
}
