package aggregator

import (
	"time"

	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

// Summary is the single-window projection of an aggregated series.
type Summary struct {
	Scope       timeseries.Scope       `json:"scope"`
	Key         string                 `json:"key"`
	Start       time.Time              `json:"start"`
	End         time.Time              `json:"end"`
	Granularity timeseries.Granularity `json:"granularity"`
	MemberCount int                    `json:"member_count"`
	PointCount  int                    `json:"point_count"`
	Values      timeseries.MetricPoint `json:"values"`
}

// Summarize collapses an aggregated series over the window r.
func Summarize(series timeseries.MetricSeries, r timeseries.Range, memberCount int) Summary {
	return Summary{
		Scope:       series.Scope,
		Key:         series.Key,
		Start:       r.Start,
		End:         r.End,
		Granularity: r.Granularity,
		MemberCount: memberCount,
		PointCount:  len(series.Points),
		Values:      Collapse(series, r.End),
	}
}

// Denominators are the capacity figures usage is compared against. Nil
// entries are not modeled for the scope and produce nil ratios.
type Denominators struct {
	CPURequestCores        *float64 `json:"cpu_request_cores"`
	CPULimitCores          *float64 `json:"cpu_limit_cores"`
	MemoryRequestBytes     *float64 `json:"memory_request_bytes"`
	MemoryLimitBytes       *float64 `json:"memory_limit_bytes"`
	CPUAllocatableCores    *float64 `json:"cpu_allocatable_cores"`
	MemoryAllocatableBytes *float64 `json:"memory_allocatable_bytes"`
}

// Efficiency relates average usage over a window to requests, limits or
// allocatable capacity.
type Efficiency struct {
	Scope        timeseries.Scope `json:"scope"`
	Key          string           `json:"key"`
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	MemberCount  int              `json:"member_count"`
	Denominators Denominators     `json:"denominators"`

	CPUUsageCoresAvg    *float64 `json:"cpu_usage_cores_avg"`
	MemoryUsageBytesAvg *float64 `json:"memory_usage_bytes_avg"`

	CPURequestRatio        *float64 `json:"cpu_request_ratio"`
	CPULimitRatio          *float64 `json:"cpu_limit_ratio"`
	MemoryRequestRatio     *float64 `json:"memory_request_ratio"`
	MemoryLimitRatio       *float64 `json:"memory_limit_ratio"`
	CPUAllocatableRatio    *float64 `json:"cpu_allocatable_ratio"`
	MemoryAllocatableRatio *float64 `json:"memory_allocatable_ratio"`
}

// ComputeEfficiency derives usage ratios from an aggregated series.
func ComputeEfficiency(series timeseries.MetricSeries, r timeseries.Range, memberCount int, d Denominators) Efficiency {
	e := Efficiency{
		Scope:        series.Scope,
		Key:          series.Key,
		Start:        r.Start,
		End:          r.End,
		MemberCount:  memberCount,
		Denominators: d,
	}

	if avg := average(series, timeseries.CPUUsageNanoCores); avg != nil {
		e.CPUUsageCoresAvg = timeseries.Float(*avg / 1e9)
	}
	e.MemoryUsageBytesAvg = average(series, timeseries.MemoryUsageBytes)

	e.CPURequestRatio = ratio(e.CPUUsageCoresAvg, d.CPURequestCores)
	e.CPULimitRatio = ratio(e.CPUUsageCoresAvg, d.CPULimitCores)
	e.MemoryRequestRatio = ratio(e.MemoryUsageBytesAvg, d.MemoryRequestBytes)
	e.MemoryLimitRatio = ratio(e.MemoryUsageBytesAvg, d.MemoryLimitBytes)
	e.CPUAllocatableRatio = ratio(e.CPUUsageCoresAvg, d.CPUAllocatableCores)
	e.MemoryAllocatableRatio = ratio(e.MemoryUsageBytesAvg, d.MemoryAllocatableBytes)

	return e
}

// average is the mean of the buckets that carry f, nil when none do.
func average(series timeseries.MetricSeries, f timeseries.Field) *float64 {
	var sum float64
	var n int
	for i := range series.Points {
		if v := series.Points[i].Get(f); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return timeseries.Float(sum / float64(n))
}

func ratio(num, den *float64) *float64 {
	if num == nil || den == nil || *den <= 0 {
		return nil
	}
	return timeseries.Float(*num / *den)
}
