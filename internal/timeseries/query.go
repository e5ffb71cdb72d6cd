package timeseries

import (
	"fmt"
	"time"
)

// RangeQuery carries the query parameters accepted by the HTTP layer. Only
// the time window and granularity reach the aggregation core; the remaining
// fields are applied to the response above it.
type RangeQuery struct {
	Start       *time.Time  `json:"start,omitempty"`
	End         *time.Time  `json:"end,omitempty"`
	Granularity Granularity `json:"granularity,omitempty"`
	Limit       int         `json:"limit,omitempty"`
	Offset      int         `json:"offset,omitempty"`
	Sort        string      `json:"sort,omitempty"`
	Team        string      `json:"team,omitempty"`
	Service     string      `json:"service,omitempty"`
	Env         string      `json:"env,omitempty"`
	Namespace   string      `json:"namespace,omitempty"`
	Labels      string      `json:"labels,omitempty"`
	Key         string      `json:"key,omitempty"`
}

// Range is a resolved, inclusive time window with a concrete granularity.
type Range struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Granularity Granularity `json:"granularity"`
}

// Resolve fills defaults for a missing window or granularity.
func (q RangeQuery) Resolve(now time.Time, cfg Config) (Range, error) {
	end := now.UTC()
	if q.End != nil {
		end = q.End.UTC()
	}
	start := end.Add(-cfg.DefaultLookback)
	if q.Start != nil {
		start = q.Start.UTC()
	}
	if start.After(end) {
		return Range{}, fmt.Errorf("start %s is after end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	g := q.Granularity
	if g == "" {
		g = cfg.AutoGranularity(end.Sub(start))
	}

	return Range{Start: start, End: end, Granularity: g}, nil
}

// Contains reports whether t falls in the inclusive window.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
