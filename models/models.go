package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/icco/trendwatch/lib/trends"
)

// DateLayout is the format of Snapshot.SnapshotDate.
const DateLayout = "2006-01-02"

// Snapshot is one stored observation. At most one row exists per item per
// calendar day.
type Snapshot struct {
	ID                  uint             `gorm:"primaryKey" json:"id"`
	ContentID           int64            `gorm:"not null;uniqueIndex:idx_snapshot_item_day,priority:1" json:"content_id"`
	MediaType           trends.MediaType `gorm:"not null;size:8;uniqueIndex:idx_snapshot_item_day,priority:2" json:"media_type"`
	SnapshotDate        string           `gorm:"not null;size:10;uniqueIndex:idx_snapshot_item_day,priority:3;index" json:"snapshot_date"`
	SnapshotTime        time.Time        `gorm:"not null;index" json:"snapshot_time"`
	Title               string           `json:"title"`
	Popularity          float64          `gorm:"index" json:"popularity"`
	VoteAverage         float64          `json:"vote_average"`
	VoteCount           int              `json:"vote_count"`
	ReleaseDate         string           `json:"release_date,omitempty"`
	RankPosition        int              `json:"rank_position"`
	IMDbID              string           `gorm:"column:imdb_id" json:"imdb_id,omitempty"`
	ProductionCompanies StringList       `gorm:"type:text" json:"production_companies"`
	Source              string           `gorm:"size:64" json:"source"`
	RunID               string           `gorm:"size:36;index" json:"run_id"`
}

// TableName keeps the historical table name.
func (Snapshot) TableName() string {
	return "popularity_snapshots"
}

// NewSnapshot converts an observation into a row.
func NewSnapshot(o trends.Observation, imdbID, source, runID string) Snapshot {
	at := o.ObservedAt.UTC()
	return Snapshot{
		ContentID:           o.ContentID,
		MediaType:           o.MediaType,
		SnapshotDate:        at.Format(DateLayout),
		SnapshotTime:        at,
		Title:               o.Title,
		Popularity:          o.Popularity,
		VoteAverage:         o.VoteAverage,
		VoteCount:           o.VoteCount,
		ReleaseDate:         o.ReleaseDate,
		RankPosition:        o.RankPosition,
		IMDbID:              imdbID,
		ProductionCompanies: StringList(o.ProductionCompanies),
		Source:              source,
		RunID:               runID,
	}
}

// Observation converts the row back for analysis. Rows written without a
// time fall back to midnight UTC of their snapshot date.
func (s Snapshot) Observation() trends.Observation {
	at := s.SnapshotTime
	if at.IsZero() {
		if d, err := time.Parse(DateLayout, s.SnapshotDate); err == nil {
			at = d
		}
	}
	return trends.Observation{
		ContentID:           s.ContentID,
		MediaType:           s.MediaType,
		Title:               s.Title,
		Popularity:          s.Popularity,
		VoteAverage:         s.VoteAverage,
		VoteCount:           s.VoteCount,
		ReleaseDate:         s.ReleaseDate,
		ObservedAt:          at,
		RankPosition:        s.RankPosition,
		ProductionCompanies: []string(s.ProductionCompanies),
	}
}

// StringList is stored as a JSON array in a text column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("failed to encode string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for string list", src)
	}
	if len(raw) == 0 {
		*l = StringList{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode string list: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	*l = out
	return nil
}

// RunStatus is the state of a collection run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// CollectionRun records one execution of a collection plan.
type CollectionRun struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Plan         string     `gorm:"size:32;index" json:"plan"`
	StartedAt    time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ItemsFetched int        `json:"items_fetched"`
	ItemsStored  int        `json:"items_stored"`
	Errors       int        `json:"errors"`
	Status       RunStatus  `gorm:"size:16;index" json:"status"`
	Message      string     `json:"message,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r CollectionRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
