package models

import (
	"strings"
	"time"

	"github.com/guttosm/coinpulse/internal/domain/errs"
)

// Interval is the bar width of an OHLCV series.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// SupportedIntervals lists every interval in ascending width.
func SupportedIntervals() []Interval {
	return []Interval{Interval1m, Interval5m, Interval15m, Interval1h, Interval4h, Interval1d, Interval1w}
}

// ParseInterval accepts the canonical form plus upper-case variants ("1H", "1D").
func ParseInterval(s string) (Interval, error) {
	iv := Interval(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := intervalDurations[iv]; !ok {
		return "", errs.Invalid("interval", "unsupported interval %q", s)
	}
	return iv, nil
}

// Valid reports whether iv is one of the supported intervals.
func (iv Interval) Valid() bool {
	_, ok := intervalDurations[iv]
	return ok
}

// Duration returns the bar width. Zero for unknown intervals.
func (iv Interval) Duration() time.Duration { return intervalDurations[iv] }

// Truncate aligns t (in UTC) down to the start of its bar.
// Weekly bars start on Monday 00:00 UTC, matching exchange conventions.
func (iv Interval) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch iv {
	case Interval1w:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Interval1d:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(iv.Duration())
	}
}

// Ceil aligns t up to the next bar boundary (t itself when already aligned).
func (iv Interval) Ceil(t time.Time) time.Time {
	down := iv.Truncate(t)
	if down.Equal(t.UTC()) {
		return down
	}
	return down.Add(iv.Duration())
}

func (iv Interval) String() string { return string(iv) }
