package types

import "time"

// StatsData represents statistics about the snapshot database.
type StatsData struct {
	TotalSnapshots        int64   `json:"total_snapshots"`
	UniqueItems           int64   `json:"unique_items"`
	UniqueMovies          int64   `json:"unique_movies"`
	UniqueTVShows         int64   `json:"unique_tv_shows"`
	FirstDate             string  `json:"first_date,omitempty"`
	LastDate              string  `json:"last_date,omitempty"`
	DaysCollected         int64   `json:"days_collected"`
	AverageDailySnapshots float64 `json:"average_daily_snapshots"`
	SourceDistribution    []struct {
		Source string `json:"source"`
		Count  int64  `json:"count"`
	} `json:"source_distribution"`
	LastRun *RunSummary `json:"last_run,omitempty"`
}

// RunSummary is the part of a collection run shown in stats output.
type RunSummary struct {
	ID          string    `json:"id"`
	Plan        string    `json:"plan"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	ItemsStored int       `json:"items_stored"`
	Errors      int       `json:"errors"`
}
