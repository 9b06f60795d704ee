package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/icco/trendwatch/lib/query"
	"github.com/icco/trendwatch/lib/report"
	"github.com/icco/trendwatch/lib/validation"
	"github.com/icco/trendwatch/models"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write snapshots or trends to a file",
}

var exportSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Export stored snapshots as CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var dr query.DateRange
		for _, name := range []string{"from", "to"} {
			v, _ := cmd.Flags().GetString(name)
			if v == "" {
				continue
			}
			if err := validation.ValidateDate(v); err != nil {
				return fmt.Errorf("--%s: %w", name, err)
			}
			d, _ := time.Parse(query.DateLayout, v)
			if name == "from" {
				dr.From = d
			} else {
				dr.To = d
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return withOutput(cmd, func(w io.Writer) error {
			out := report.NewSnapshotCSV(w)
			if err := a.store.Each(cmd.Context(), query.Where(dr), 500, func(rows []models.Snapshot) error {
				return out.Write(rows)
			}); err != nil {
				return err
			}
			return out.Flush()
		})
	},
}

var exportTrendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Export the trend analysis as JSON or CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		minChange, _ := cmd.Flags().GetFloat64("min-change")
		top, _ := cmd.Flags().GetInt("top")
		format, _ := cmd.Flags().GetString("format")
		withDigest, _ := cmd.Flags().GetBool("digest")
		if !cmd.Flags().Changed("days") {
			days = cfg.Trends.Days
		}
		if !cmd.Flags().Changed("min-change") {
			minChange = cfg.Trends.MinChangePercent
		}
		if format != "json" && format != "csv" {
			return fmt.Errorf("--format must be json or csv, got %q", format)
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

		if format == "csv" {
			records := res.Records
			if top > 0 && len(records) > top {
				records = records[:top]
			}
			return withOutput(cmd, func(w io.Writer) error {
				return report.WriteTrendsCSV(w, records)
			})
		}

		rep := report.NewTrendReport(res, top, time.Now())
		if withDigest && res.Summary != nil {
			if d := a.digest(); d == nil {
				logger.Warn("Skipping digest, no OpenAI API key configured")
			} else if text, err := d.Digest(cmd.Context(), res, 10); err != nil {
				logger.Warn("Failed to generate digest", slog.Any("error", err))
			} else {
				rep.Digest = text
			}
		}
		return withOutput(cmd, func(w io.Writer) error {
			return report.WriteJSON(w, rep)
		})
	},
}

// withOutput runs fn against --out, or stdout when it is empty or "-".
func withOutput(cmd *cobra.Command, fn func(io.Writer) error) error {
	path, _ := cmd.Flags().GetString("out")
	if path == "" || path == "-" {
		return fn(cmd.OutOrStdout())
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
	return nil
}

func init() {
	exportCmd.PersistentFlags().StringP("out", "o", "", "output file (default stdout)")
	exportSnapshotsCmd.Flags().String("from", "", "first snapshot date, YYYY-MM-DD")
	exportSnapshotsCmd.Flags().String("to", "", "last snapshot date, YYYY-MM-DD")
	exportTrendsCmd.Flags().Int("days", 7, "window length in days (default from config)")
	exportTrendsCmd.Flags().Float64("min-change", 15, "minimum absolute change percent (default from config)")
	exportTrendsCmd.Flags().Int("top", 0, "records to include, 0 for all")
	exportTrendsCmd.Flags().String("format", "json", "json or csv")
	exportTrendsCmd.Flags().Bool("digest", false, "include an LLM written digest (json only)")
	exportCmd.AddCommand(exportSnapshotsCmd, exportTrendsCmd)
	rootCmd.AddCommand(exportCmd)
}
