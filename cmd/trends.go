package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/icco/trendwatch/lib/insights"
	"github.com/icco/trendwatch/lib/validation"
)

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Show titles whose popularity moved over the last days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		minChange, _ := cmd.Flags().GetFloat64("min-change")
		top, _ := cmd.Flags().GetInt("top")
		withDigest, _ := cmd.Flags().GetBool("digest")
		if !cmd.Flags().Changed("days") {
			days = cfg.Trends.Days
		}
		if !cmd.Flags().Changed("min-change") {
			minChange = cfg.Trends.MinChangePercent
		}
		if days <= 0 || days > validation.MaxDays {
			return fmt.Errorf("--days must be between 1 and %d", validation.MaxDays)
		}
		if minChange < 0 {
			return fmt.Errorf("--min-change must not be negative")
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.insights().Trends(cmd.Context(), days, minChange)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if err := printTrends(w, res, top); err != nil {
			return err
		}

		if withDigest && res.Summary != nil {
			d := a.digest()
			if d == nil {
				return fmt.Errorf("--digest needs an OpenAI API key (set OPENAI_API_KEY)")
			}
			text, err := d.Digest(cmd.Context(), res, 10)
			if err != nil {
				return fmt.Errorf("failed to generate digest: %w", err)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, text)
		}
		return nil
	},
}

func printTrends(w io.Writer, res *insights.TrendResult, top int) error {
	heading(w, "Trends %s to %s (min change %.1f%%)",
		res.WindowStart.Format("2006-01-02"), res.WindowEnd.Format("2006-01-02"), res.MinChangePercent)
	for _, d := range res.Diagnostics {
		logger.Debug("Skipped observation", slog.String("diagnostic", d.String()))
	}
	if res.Summary == nil {
		fmt.Fprintln(w, "No trends yet. Collect snapshots on at least two days first.")
		return nil
	}

	s := res.Summary
	fmt.Fprintf(w, "%d trends: %d rising, %d declining, average absolute change %.1f%%\n",
		s.TotalTrends, s.RisingCount, s.DecliningCount, s.AvgChangePercent)
	fmt.Fprintf(w, "Biggest gainer: %s %+.1f%%\n", s.BiggestGainer.Title, s.BiggestGainer.ChangePercent)
	fmt.Fprintf(w, "Biggest loser:  %s %+.1f%%\n\n", s.BiggestLoser.Title, s.BiggestLoser.ChangePercent)

	records := res.Records
	if top > 0 && len(records) > top {
		records = records[:top]
	}
	t := newTable(w, "title", "type", "first", "last", "change", "trend", "samples")
	for _, r := range records {
		title := r.Title
		if r.NewEntrant {
			title += " (new)"
		}
		if r.AmbiguousIdentity {
			title += " (?)"
		}
		t.add(
			title,
			string(r.MediaType),
			fmt.Sprintf("%.1f", r.FirstPopularity),
			fmt.Sprintf("%.1f", r.LastPopularity),
			changeCell(r),
			string(r.TrendType),
			fmt.Sprint(r.SampleCount),
		)
	}
	return t.render()
}

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "List production companies grouped into studio families",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if !cmd.Flags().Changed("limit") {
			limit = cfg.Companies.Limit
		}
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive, got %d", limit)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		groups, err := a.insights().Companies(cmd.Context(), limit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(groups) == 0 {
			fmt.Fprintln(w, "No production companies recorded yet.")
			return nil
		}
		t := newTable(w, "company", "items", "aliases")
		for _, g := range groups {
			aliases := ""
			if len(g.MemberAliases) > 1 {
				aliases = fmt.Sprintf("%d names", len(g.MemberAliases))
			}
			t.add(g.CanonicalName, fmt.Sprint(g.ContentCount), aliases)
		}
		return t.render()
	},
}

func init() {
	trendsCmd.Flags().Int("days", 7, "window length in days (default from config)")
	trendsCmd.Flags().Float64("min-change", 15, "minimum absolute change percent (default from config)")
	trendsCmd.Flags().Int("top", 20, "rows to print, 0 for all")
	trendsCmd.Flags().Bool("digest", false, "append an LLM written digest")
	companiesCmd.Flags().Int("limit", 100, "groups to print (default from config)")
	rootCmd.AddCommand(trendsCmd, companiesCmd)
}
