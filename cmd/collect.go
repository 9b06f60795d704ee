package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/icco/trendwatch/lib/collector"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Take one popularity snapshot from TMDB",
	Long: `Collect runs one collection plan and stores the snapshots under today's
date. Running it twice on the same day overwrites the earlier rows.

Plans: ` + strings.Join(collector.PlanNames(), ", "),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("plan")
		if name == "" {
			name = cfg.Collector.Plan
		}
		plan, err := collector.LookupPlan(name)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		c, err := a.collector()
		if err != nil {
			return err
		}

		res, err := c.Run(cmd.Context(), plan)
		if errors.Is(err, collector.ErrAlreadyRunning) {
			fmt.Fprintln(cmd.OutOrStdout(), "Another collection is running, nothing to do.")
			return nil
		}
		if res != nil {
			w := cmd.OutOrStdout()
			heading(w, "Collection %s (%s)", res.RunID, res.Plan)
			t := newTable(w, "fetched", "unique", "stored", "errors", "duration")
			t.add(
				fmt.Sprint(res.Fetched),
				fmt.Sprint(res.Unique),
				fmt.Sprint(res.Stored),
				fmt.Sprint(res.Errors),
				res.Duration.Round(time.Millisecond).String(),
			)
			if rerr := t.render(); rerr != nil {
				return rerr
			}
		}
		return err
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fill in missing production companies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive, got %d", limit)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		c, err := a.collector()
		if err != nil {
			return err
		}

		res, err := c.Backfill(cmd.Context(), limit)
		if errors.Is(err, collector.ErrAlreadyRunning) {
			fmt.Fprintln(cmd.OutOrStdout(), "Another collection is running, nothing to do.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Checked %d items, updated %d, %d errors\n", res.Checked, res.Updated, res.Errors)
		return nil
	},
}

func init() {
	collectCmd.Flags().String("plan", "", "collection plan (default from config)")
	backfillCmd.Flags().Int("limit", 200, "maximum items to look up")
	rootCmd.AddCommand(collectCmd, backfillCmd)
}
