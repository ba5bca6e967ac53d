// Package clean coerces extracted records into typed observations.
package clean

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/health-steps/internal/model"
)

// Drop reasons reported in Stats.
const (
	DropBadValue      = "bad_value"
	DropBadDate       = "bad_date"
	DropBeforeMinDate = "before_min_date"
)

// dateLayouts are tried in order. The first is what the Health app writes.
var dateLayouts = []string{
	"2006-01-02 15:04:05 -0700",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Options configures cleaning.
type Options struct {
	// MinDate drops observations dated before it. The zero time disables the floor.
	MinDate time.Time
}

// Stats summarizes a Clean call.
type Stats struct {
	Input   int            `json:"input"`
	Kept    int            `json:"kept"`
	Dropped map[string]int `json:"dropped"`
}

// Clean coerces records into observations. Records whose value or any of
// their dates cannot be coerced are dropped, as are records dated before
// opts.MinDate. The input slice is not modified.
func Clean(records []model.MeasurementRecord, opts Options) ([]model.Observation, Stats) {
	stats := Stats{Input: len(records), Dropped: map[string]int{}}
	minDate := ""
	if !opts.MinDate.IsZero() {
		minDate = opts.MinDate.Format(model.DateLayout)
	}

	out := make([]model.Observation, 0, len(records))
	for _, r := range records {
		value, ok := parseValue(r.Value)
		if !ok {
			stats.Dropped[DropBadValue]++
			continue
		}

		createdAt, okC := parseTime(r.CreationDate)
		startAt, okS := parseTime(r.StartDate)
		endAt, okE := parseTime(r.EndDate)
		if !okC || !okS || !okE {
			stats.Dropped[DropBadDate]++
			continue
		}

		// Attributed to the day the interval ended.
		date := endAt.Format(model.DateLayout)
		if minDate != "" && date < minDate {
			stats.Dropped[DropBeforeMinDate]++
			continue
		}

		out = append(out, model.Observation{
			Record:    r,
			Value:     value,
			CreatedAt: createdAt,
			StartAt:   startAt,
			EndAt:     endAt,
			Date:      date,
		})
	}

	stats.Kept = len(out)
	return out, stats
}

// parseValue parses a numeric attribute. NaN and infinities count as missing.
func parseValue(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parseTime parses a timestamp attribute, keeping its UTC offset.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
