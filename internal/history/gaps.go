package history

import (
	"time"

	"github.com/guttosm/coinpulse/internal/domain/models"
)

// FindGaps returns the minimal list of [start,end) sub-ranges with no bar,
// given bars sorted ascending. Leading and trailing gaps are included. start
// and end are expected to be aligned to iv.
func FindGaps(bars []models.OHLCVBar, iv models.Interval, start, end time.Time) []models.TimeRange {
	step := iv.Duration()
	if step <= 0 || !start.Before(end) {
		return nil
	}

	var gaps []models.TimeRange
	cursor := start
	for _, b := range bars {
		if b.Time.Before(cursor) {
			continue
		}
		if !b.Time.Before(end) {
			break
		}
		if b.Time.After(cursor) {
			gaps = append(gaps, models.TimeRange{Start: cursor, End: b.Time})
		}
		cursor = b.Time.Add(step)
	}
	if cursor.Before(end) {
		gaps = append(gaps, models.TimeRange{Start: cursor, End: end})
	}
	return gaps
}

// chunk splits r into pieces of at most maxBars bars each.
func chunk(r models.TimeRange, iv models.Interval, maxBars int) []models.TimeRange {
	if maxBars <= 0 {
		return []models.TimeRange{r}
	}
	width := time.Duration(maxBars) * iv.Duration()
	var out []models.TimeRange
	for s := r.Start; s.Before(r.End); s = s.Add(width) {
		e := s.Add(width)
		if e.After(r.End) {
			e = r.End
		}
		out = append(out, models.TimeRange{Start: s, End: e})
	}
	return out
}
