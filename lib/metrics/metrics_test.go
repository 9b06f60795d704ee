package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCollection(t *testing.T) {
	before := testutil.ToFloat64(CollectionRuns.WithLabelValues("test-plan", "failed"))
	storedBefore := testutil.ToFloat64(ItemsStored.WithLabelValues("test-plan"))

	RecordCollection("test-plan", 2*time.Second, 30, 25, errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(CollectionRuns.WithLabelValues("test-plan", "failed")))
	assert.Equal(t, storedBefore+25, testutil.ToFloat64(ItemsStored.WithLabelValues("test-plan")))
}

func TestRecordTMDBRequest(t *testing.T) {
	tests := []struct {
		name   string
		status int
		label  string
	}{
		{name: "ok", status: 200, label: "200"},
		{name: "rate limited", status: 429, label: "429"},
		{name: "transport error", status: 0, label: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := TMDBRequests.WithLabelValues("/test", tt.label)
			before := testutil.ToFloat64(c)
			RecordTMDBRequest("/test", tt.status, 10*time.Millisecond)
			assert.Equal(t, before+1, testutil.ToFloat64(c))
		})
	}
}

func TestRecordTrendComputation(t *testing.T) {
	runs := testutil.ToFloat64(TrendComputations)
	skipped := testutil.ToFloat64(SkippedObservations)

	RecordTrendComputation(3)

	assert.Equal(t, runs+1, testutil.ToFloat64(TrendComputations))
	assert.Equal(t, skipped+3, testutil.ToFloat64(SkippedObservations))
}
