package aggregator

import (
	"sort"
	"time"

	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

// Bucket is one timestamp slot of an aggregated series together with the
// number of members that reported each field.
type Bucket struct {
	Point  timeseries.MetricPoint
	Counts map[timeseries.Field]int
}

// accumulator sums present values and counts contributors per field.
type accumulator struct {
	sums   map[timeseries.Field]float64
	counts map[timeseries.Field]int
}

func newAccumulator() *accumulator {
	return &accumulator{
		sums:   make(map[timeseries.Field]float64, len(timeseries.AllFields)),
		counts: make(map[timeseries.Field]int, len(timeseries.AllFields)),
	}
}

func (a *accumulator) add(p *timeseries.MetricPoint) {
	for _, f := range timeseries.AllFields {
		if v := p.Get(f); v != nil {
			a.sums[f] += *v
			a.counts[f]++
		}
	}
}

// point emits the sum for every field that had at least one contributor and
// leaves the rest nil.
func (a *accumulator) point(t time.Time) timeseries.MetricPoint {
	out := timeseries.NewPoint(t)
	for _, f := range timeseries.AllFields {
		if a.counts[f] > 0 {
			out.Set(f, timeseries.Float(a.sums[f]))
		}
	}
	return out
}

// MergeBuckets groups every member's points by exact timestamp and sums each
// field over the members that reported it. Buckets are returned time-ascending.
func MergeBuckets(members []timeseries.MetricSeries) []Bucket {
	accs := make(map[int64]*accumulator)
	times := make(map[int64]time.Time)

	for i := range members {
		for j := range members[i].Points {
			p := &members[i].Points[j]
			k := p.Time.UnixNano()
			acc, ok := accs[k]
			if !ok {
				acc = newAccumulator()
				accs[k] = acc
				times[k] = p.Time.UTC()
			}
			acc.add(p)
		}
	}

	keys := make([]int64, 0, len(accs))
	for k := range accs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		acc := accs[k]
		out = append(out, Bucket{Point: acc.point(times[k]), Counts: acc.counts})
	}
	return out
}

// Aggregate merges member series into a single series for scope keyed by key.
func Aggregate(scope timeseries.Scope, key string, members []timeseries.MetricSeries) timeseries.MetricSeries {
	buckets := MergeBuckets(members)
	out := timeseries.NewSeries(scope, key)
	out.Points = make([]timeseries.MetricPoint, 0, len(buckets))
	for _, b := range buckets {
		out.Points = append(out.Points, b.Point)
	}
	return out
}

// Collapse reduces a series to one point using the same sum/null rule over
// the whole range. The returned point is stamped with at.
func Collapse(series timeseries.MetricSeries, at time.Time) timeseries.MetricPoint {
	acc := newAccumulator()
	for i := range series.Points {
		acc.add(&series.Points[i])
	}
	return acc.point(at)
}
