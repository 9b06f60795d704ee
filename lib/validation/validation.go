package validation

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/icco/trendwatch/lib/trends"
)

// dateRegex is a regular expression that matches dates in YYYY-MM-DD format.
var dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const (
	MaxDays  = 365
	MaxLimit = 1000
)

// ValidateDate checks if a date string is in the correct format (YYYY-MM-DD)
// and ensures it's not in the future.
func ValidateDate(date string) error {
	if !dateRegex.MatchString(date) {
		return fmt.Errorf("invalid date format: %s, expected YYYY-MM-DD", date)
	}

	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("invalid date: %w", err)
	}

	if parsed.After(time.Now()) {
		return fmt.Errorf("date cannot be in the future")
	}

	return nil
}

// Days parses a lookback window in days. Empty means def.
func Days(raw string, def int) (int, error) {
	return boundedInt("days", raw, def, 1, MaxDays)
}

// Limit parses a result cap. Empty means def.
func Limit(raw string, def int) (int, error) {
	return boundedInt("limit", raw, def, 1, MaxLimit)
}

// MinChange parses a minimum absolute change percentage. Empty means def.
func MinChange(raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("min_change must be a number, got %q", raw)
	}
	if v < 0 || v > 10000 {
		return 0, fmt.Errorf("min_change must be between 0 and 10000")
	}
	return v, nil
}

// MediaType parses "movie" or "tv".
func MediaType(raw string) (trends.MediaType, error) {
	mt := trends.MediaType(strings.ToLower(strings.TrimSpace(raw)))
	if !mt.Valid() {
		return "", fmt.Errorf("media type must be movie or tv, got %q", raw)
	}
	return mt, nil
}

// ContentID parses a positive TMDB id.
func ContentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("content id must be a positive integer, got %q", raw)
	}
	return id, nil
}

func boundedInt(name, raw string, def, lo, hi int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be between %d and %d", name, lo, hi)
	}
	return v, nil
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	}); err != nil {
		slog.Error("Failed to encode error response", slog.Any("error", err))
	}
}
