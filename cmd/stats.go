package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/icco/trendwatch/lib/trends"
	"github.com/icco/trendwatch/lib/validation"
	"github.com/icco/trendwatch/models"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize what is in the snapshot database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.store.Stats(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		heading(w, "Database %s", cfg.DBPath)
		t := newTable(w, "metric", "value")
		t.add("snapshots", fmt.Sprint(stats.TotalSnapshots))
		t.add("items", fmt.Sprint(stats.UniqueItems))
		t.add("movies", fmt.Sprint(stats.UniqueMovies))
		t.add("tv shows", fmt.Sprint(stats.UniqueTVShows))
		t.add("days collected", fmt.Sprint(stats.DaysCollected))
		if stats.DaysCollected > 0 {
			t.add("first date", stats.FirstDate)
			t.add("last date", stats.LastDate)
			t.add("snapshots per day", fmt.Sprintf("%.1f", stats.AverageDailySnapshots))
		}
		if err := t.render(); err != nil {
			return err
		}

		if len(stats.SourceDistribution) > 0 {
			fmt.Fprintln(w)
			heading(w, "Sources")
			st := newTable(w, "source", "snapshots")
			for _, s := range stats.SourceDistribution {
				st.add(s.Source, fmt.Sprint(s.Count))
			}
			if err := st.render(); err != nil {
				return err
			}
		}

		fmt.Fprintln(w)
		if r := stats.LastRun; r != nil {
			status := colorize(upColor, r.Status)
			if r.Status != string(models.RunSuccess) {
				status = colorize(downColor, r.Status)
			}
			fmt.Fprintf(w, "Last run: %s %s at %s, %d stored, %d errors\n",
				r.Plan, status, r.StartedAt.Local().Format(time.DateTime), r.ItemsStored, r.Errors)
		}

		today := time.Now().UTC().Format(models.DateLayout)
		switch {
		case stats.TotalSnapshots == 0:
			fmt.Fprintln(w, "No snapshots yet. Run `trendwatch collect` to take the first one.")
		case stats.LastDate != today:
			fmt.Fprintf(w, "No snapshot for today (%s) yet.\n", today)
		case stats.DaysCollected < 2:
			fmt.Fprintln(w, "Only one day collected; trends need at least two.")
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <title>",
	Short: "Find stored titles by name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		term := strings.TrimSpace(strings.Join(args, " "))
		if term == "" {
			return fmt.Errorf("search term is required")
		}
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.store.Search(cmd.Context(), term, limit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(rows) == 0 {
			fmt.Fprintf(w, "Nothing matches %q.\n", term)
			return nil
		}
		t := newTable(w, "id", "type", "title", "popularity", "date")
		for _, r := range rows {
			t.add(fmt.Sprint(r.ContentID), string(r.MediaType), r.Title,
				fmt.Sprintf("%.1f", r.Popularity), r.SnapshotDate)
		}
		return t.render()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <content-id>",
	Short: "Print every snapshot of one title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := validation.ContentID(args[0])
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetString("media-type")
		mt, err := validation.MediaType(raw)
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		rows, err := a.store.History(cmd.Context(), id, mt)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(rows) == 0 {
			fmt.Fprintf(w, "No snapshots for %s.\n", trends.Key{ContentID: id, MediaType: mt})
			return nil
		}
		heading(w, "%s (%s %d)", rows[len(rows)-1].Title, mt, id)
		t := newTable(w, "date", "popularity", "votes", "rating", "source")
		for _, r := range rows {
			t.add(r.SnapshotDate, fmt.Sprintf("%.1f", r.Popularity),
				fmt.Sprint(r.VoteCount), fmt.Sprintf("%.1f", r.VoteAverage), r.Source)
		}
		return t.render()
	},
}

func init() {
	searchCmd.Flags().Int("limit", 20, "maximum results")
	historyCmd.Flags().String("media-type", string(trends.Movie), "movie or tv")
	rootCmd.AddCommand(statsCmd, searchCmd, historyCmd)
}
