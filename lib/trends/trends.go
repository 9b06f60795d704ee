// Package trends detects popularity movements in time series of catalog
// observations.
package trends

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// MediaType disambiguates content ids, which are only unique per type.
type MediaType string

const (
	Movie MediaType = "movie"
	TV    MediaType = "tv"
)

// Valid reports whether m is a known media type.
func (m MediaType) Valid() bool {
	return m == Movie || m == TV
}

// TrendType classifies the direction and size of a popularity change.
type TrendType string

const (
	Rising    TrendType = "Rising"
	Surging   TrendType = "Surging"
	Declining TrendType = "Declining"
	Crashing  TrendType = "Crashing"
)

// Up reports whether t is an upward trend.
func (t TrendType) Up() bool {
	return t == Rising || t == Surging
}

// SurgeThreshold is the absolute change percentage separating Rising from
// Surging and Declining from Crashing.
const SurgeThreshold = 50.0

// DefaultMinChangePercent is the default inclusion threshold.
const DefaultMinChangePercent = 15.0

// changeTolerance absorbs float error when a change lands on a threshold,
// e.g. 100 -> 115 computes to just under 15.
const changeTolerance = 1e-9

// Observation is one timestamped measurement of a content item.
type Observation struct {
	ContentID           int64     `json:"content_id"`
	MediaType           MediaType `json:"media_type"`
	Title               string    `json:"title"`
	Popularity          float64   `json:"popularity"`
	VoteAverage         float64   `json:"vote_average"`
	VoteCount           int       `json:"vote_count"`
	ReleaseDate         string    `json:"release_date,omitempty"`
	ObservedAt          time.Time `json:"observed_at"`
	RankPosition        int       `json:"rank_position"`
	ProductionCompanies []string  `json:"production_companies,omitempty"`
}

// Key returns the natural key of the observation's time series.
func (o Observation) Key() Key {
	return Key{ContentID: o.ContentID, MediaType: o.MediaType}
}

// Key identifies one time series.
type Key struct {
	ContentID int64
	MediaType MediaType
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.MediaType, k.ContentID)
}

// TrendRecord describes the popularity movement of one item over a window.
type TrendRecord struct {
	ContentID         int64     `json:"content_id"`
	MediaType         MediaType `json:"media_type"`
	Title             string    `json:"title"`
	FirstPopularity   float64   `json:"first_popularity"`
	LastPopularity    float64   `json:"last_popularity"`
	ChangePercent     float64   `json:"change_percent"`
	TrendType         TrendType `json:"trend_type"`
	SampleCount       int       `json:"sample_count"`
	FirstObservedAt   time.Time `json:"first_observed_at"`
	LastObservedAt    time.Time `json:"last_observed_at"`
	NewEntrant        bool      `json:"new_entrant"`
	AmbiguousIdentity bool      `json:"ambiguous_identity"`
	Titles            []string  `json:"titles,omitempty"`
}

// ErrInvalidObservation is wrapped by every observation validation failure.
var ErrInvalidObservation = errors.New("invalid observation")

// InvalidObservationError describes why a single observation was rejected.
type InvalidObservationError struct {
	Reason string
}

func (e *InvalidObservationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidObservation, e.Reason)
}

func (e *InvalidObservationError) Unwrap() error {
	return ErrInvalidObservation
}

// Diagnostic reports an observation skipped during analysis.
type Diagnostic struct {
	Index     int       `json:"index"`
	ContentID int64     `json:"content_id"`
	MediaType MediaType `json:"media_type"`
	Message   string    `json:"message"`
	Err       error     `json:"-"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("observation %d (%s/%d): %v", d.Index, d.MediaType, d.ContentID, d.Err)
}

// Validate checks the fields the analyzer depends on.
func Validate(o Observation) error {
	switch {
	case o.ObservedAt.IsZero():
		return &InvalidObservationError{Reason: "missing timestamp"}
	case math.IsNaN(o.Popularity) || math.IsInf(o.Popularity, 0):
		return &InvalidObservationError{Reason: "popularity is not a finite number"}
	case o.Popularity < 0:
		return &InvalidObservationError{Reason: fmt.Sprintf("negative popularity %g", o.Popularity)}
	case !o.MediaType.Valid():
		return &InvalidObservationError{Reason: fmt.Sprintf("unknown media type %q", o.MediaType)}
	}
	return nil
}

// ChangePercent returns the signed percentage change from first to last.
// A series starting at zero counts as a 100% change when it grows at all.
func ChangePercent(first, last float64) float64 {
	if first > 0 {
		return (last - first) / first * 100
	}
	if last > 0 {
		return 100
	}
	return 0
}

// Classify maps a non-zero change percentage onto a trend type.
func Classify(changePercent float64) TrendType {
	switch {
	case changePercent >= SurgeThreshold-changeTolerance:
		return Surging
	case changePercent > 0:
		return Rising
	case changePercent <= -SurgeThreshold+changeTolerance:
		return Crashing
	default:
		return Declining
	}
}

type series struct {
	key          Key
	observations []Observation
}

// ComputeTrends groups observations by natural key and reports every series
// whose popularity moved by at least minChangePercent between its earliest
// and latest observation inside [windowStart, windowEnd]. Zero bounds are
// open. Invalid observations are skipped and returned as diagnostics.
//
// Results are ordered by absolute change, largest first; equal changes keep
// the order in which their series first appeared in the input.
func ComputeTrends(observations []Observation, windowStart, windowEnd time.Time, minChangePercent float64) ([]TrendRecord, []Diagnostic) {
	if minChangePercent < 0 || math.IsNaN(minChangePercent) {
		minChangePercent = 0
	}

	var diagnostics []Diagnostic
	index := make(map[Key]int)
	var all []*series

	for i, o := range observations {
		if err := Validate(o); err != nil {
			diagnostics = append(diagnostics, Diagnostic{
				Index:     i,
				ContentID: o.ContentID,
				MediaType: o.MediaType,
				Message:   err.Error(),
				Err:       err,
			})
			continue
		}
		if !windowStart.IsZero() && o.ObservedAt.Before(windowStart) {
			continue
		}
		if !windowEnd.IsZero() && o.ObservedAt.After(windowEnd) {
			continue
		}

		k := o.Key()
		pos, ok := index[k]
		if !ok {
			pos = len(all)
			index[k] = pos
			all = append(all, &series{key: k})
		}
		all[pos].observations = append(all[pos].observations, o)
	}

	var records []TrendRecord
	for _, s := range all {
		// Need at least 2 data points
		if len(s.observations) < 2 {
			continue
		}

		points := make([]Observation, len(s.observations))
		copy(points, s.observations)
		sort.SliceStable(points, func(i, j int) bool {
			return points[i].ObservedAt.Before(points[j].ObservedAt)
		})

		first, last := points[0], points[len(points)-1]
		change := ChangePercent(first.Popularity, last.Popularity)
		if change == 0 || math.Abs(change) < minChangePercent-changeTolerance {
			continue
		}

		rec := TrendRecord{
			ContentID:       s.key.ContentID,
			MediaType:       s.key.MediaType,
			Title:           displayTitle(points),
			FirstPopularity: first.Popularity,
			LastPopularity:  last.Popularity,
			ChangePercent:   change,
			TrendType:       Classify(change),
			SampleCount:     len(points),
			FirstObservedAt: first.ObservedAt,
			LastObservedAt:  last.ObservedAt,
			NewEntrant:      first.Popularity == 0,
		}
		if titles := distinctTitles(points); titlesDiverge(titles) {
			rec.AmbiguousIdentity = true
			rec.Titles = titles
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return math.Abs(records[i].ChangePercent) > math.Abs(records[j].ChangePercent)
	})

	return records, diagnostics
}

// displayTitle prefers the latest non-empty title.
func displayTitle(points []Observation) string {
	for i := len(points) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(points[i].Title); t != "" {
			return t
		}
	}
	return "Unknown"
}

func distinctTitles(points []Observation) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, p := range points {
		t := strings.TrimSpace(p.Title)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		titles = append(titles, t)
	}
	return titles
}

// titlesDiverge reports whether any two titles share no word at all, which
// points at an upstream id collision rather than a retitling.
func titlesDiverge(titles []string) bool {
	if len(titles) < 2 {
		return false
	}
	tokens := make([]map[string]bool, len(titles))
	for i, t := range titles {
		tokens[i] = wordSet(t)
	}
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			if !sharesWord(tokens[i], tokens[j]) {
				return true
			}
		}
	}
	return false
}

func wordSet(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func sharesWord(a, b map[string]bool) bool {
	// Titles made only of punctuation or symbols can't be compared.
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for w := range a {
		if b[w] {
			return true
		}
	}
	return false
}
