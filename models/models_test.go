package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icco/trendwatch/lib/trends"
)

func TestStringList_ValueAndScan(t *testing.T) {
	v, err := StringList{"Walt Disney Pictures", `Quote "Films"`}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["Walt Disney Pictures","Quote \"Films\""]`, v)

	empty, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)

	var l StringList
	require.NoError(t, l.Scan([]byte(`["A24","HBO"]`)))
	assert.Equal(t, StringList{"A24", "HBO"}, l)

	require.NoError(t, l.Scan(nil))
	assert.Equal(t, StringList{}, l)

	require.NoError(t, l.Scan("null"))
	assert.Equal(t, StringList{}, l)

	assert.Error(t, l.Scan(42))
	assert.Error(t, l.Scan("{not json"))
}

func TestSnapshot_RoundTripsObservation(t *testing.T) {
	at := time.Date(2025, 6, 3, 14, 30, 0, 0, time.UTC)
	o := trends.Observation{
		ContentID:           42,
		MediaType:           trends.Movie,
		Title:               "Dune",
		Popularity:          160,
		VoteAverage:         8.1,
		VoteCount:           1200,
		ReleaseDate:         "2021-09-15",
		ObservedAt:          at,
		RankPosition:        3,
		ProductionCompanies: []string{"Legendary Pictures"},
	}

	s := NewSnapshot(o, "tt1160419", "trending", "run-1")
	assert.Equal(t, "2025-06-03", s.SnapshotDate)
	assert.Equal(t, "tt1160419", s.IMDbID)
	assert.Equal(t, o, s.Observation())
}

func TestSnapshot_ObservationFallsBackToDate(t *testing.T) {
	s := Snapshot{ContentID: 1, MediaType: trends.TV, SnapshotDate: "2025-06-03"}

	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), s.Observation().ObservedAt)
	assert.True(t, Snapshot{SnapshotDate: "garbage"}.Observation().ObservedAt.IsZero())
}
