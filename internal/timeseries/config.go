package timeseries

import (
	"fmt"
	"time"
)

// Granularity is the bucket size of a stored or queried series.
type Granularity string

const (
	Minute Granularity = "minute"
	Hour   Granularity = "hour"
	Day    Granularity = "day"
)

// AllGranularities lists the supported bucket sizes, finest first.
var AllGranularities = []Granularity{Minute, Hour, Day}

// ParseGranularity validates a granularity name. Empty input yields "".
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "":
		return "", nil
	case Minute, Hour, Day:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("granularity must be one of minute, hour, day: got %q", s)
}

// Duration returns the length of one bucket.
func (g Granularity) Duration() time.Duration {
	switch g {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	}
	return time.Minute
}

// Hours returns the bucket length as a fraction of an hour.
func (g Granularity) Hours() float64 {
	return g.Duration().Hours()
}

// Truncate aligns t to the start of its bucket in UTC.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if g == Day {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(g.Duration())
}

// Config holds window resolution settings
type Config struct {
	// Windows up to MinuteMaxWindow are served at minute granularity
	MinuteMaxWindow time.Duration
	// Windows up to HourMaxWindow are served at hour granularity, longer ones at day
	HourMaxWindow time.Duration
	// DefaultLookback applies when a query gives no start
	DefaultLookback time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MinuteMaxWindow: 6 * time.Hour,
		HourMaxWindow:   14 * 24 * time.Hour,
		DefaultLookback: time.Hour,
	}
}

// AutoGranularity picks a bucket size from the window length.
func (c Config) AutoGranularity(window time.Duration) Granularity {
	switch {
	case window <= c.MinuteMaxWindow:
		return Minute
	case window <= c.HourMaxWindow:
		return Hour
	default:
		return Day
	}
}
