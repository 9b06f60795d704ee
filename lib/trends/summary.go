package trends

import (
	"errors"
	"math"
)

// ErrEmptyInput is returned when a summary is requested for no trends.
var ErrEmptyInput = errors.New("no trend records to summarize")

// Summary aggregates a set of trend records.
type Summary struct {
	TotalTrends      int         `json:"total_trends"`
	RisingCount      int         `json:"rising_count"`
	DecliningCount   int         `json:"declining_count"`
	AvgChangePercent float64     `json:"avg_change_percent"`
	BiggestGainer    TrendRecord `json:"biggest_gainer"`
	BiggestLoser     TrendRecord `json:"biggest_loser"`
}

// Summarize counts upward and downward trends, averages the absolute change
// and picks the records with the highest and lowest change. It returns
// ErrEmptyInput when records is empty; callers are expected to handle the
// "no trends yet" case.
func Summarize(records []TrendRecord) (Summary, error) {
	if len(records) == 0 {
		return Summary{}, ErrEmptyInput
	}

	s := Summary{
		TotalTrends:   len(records),
		BiggestGainer: records[0],
		BiggestLoser:  records[0],
	}

	var total float64
	for _, r := range records {
		if r.TrendType.Up() {
			s.RisingCount++
		} else {
			s.DecliningCount++
		}
		total += math.Abs(r.ChangePercent)

		if r.ChangePercent > s.BiggestGainer.ChangePercent {
			s.BiggestGainer = r
		}
		if r.ChangePercent < s.BiggestLoser.ChangePercent {
			s.BiggestLoser = r
		}
	}
	s.AvgChangePercent = total / float64(len(records))

	return s, nil
}
