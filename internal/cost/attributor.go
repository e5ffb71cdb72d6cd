package cost

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

const (
	bytesPerGB       = 1 << 30
	nanoCoresPerCore = 1e9
)

// CostPoint carries the monetary amount attributed to each resource category
// over one bucket. A nil category had no usage sample.
type CostPoint struct {
	Time        time.Time `json:"time"`
	CPUCost     *float64  `json:"cpu_cost"`
	MemoryCost  *float64  `json:"memory_cost"`
	StorageCost *float64  `json:"storage_cost"`
	NetworkCost *float64  `json:"network_cost"`
	TotalCost   *float64  `json:"total_cost"`
}

// CostSeries is a MetricSeries priced bucket by bucket.
type CostSeries struct {
	Scope       timeseries.Scope       `json:"scope"`
	Key         string                 `json:"key"`
	Granularity timeseries.Granularity `json:"granularity"`
	Points      []CostPoint            `json:"points"`
}

// ApplyCosts prices every point of series. Compute, memory and storage are
// charged per hour of bucket width; network egress is charged per GB
// transmitted in the bucket.
func ApplyCosts(series timeseries.MetricSeries, prices UnitPriceTable, g timeseries.Granularity) CostSeries {
	hours := g.Hours()
	out := CostSeries{
		Scope:       series.Scope,
		Key:         series.Key,
		Granularity: g,
		Points:      make([]CostPoint, 0, len(series.Points)),
	}

	for i := range series.Points {
		p := &series.Points[i]
		cp := CostPoint{Time: p.Time}

		if v := p.CPU.UsageNanoCores; v != nil {
			cp.CPUCost = timeseries.Float(*v / nanoCoresPerCore * prices.CPUCoreHour * hours)
		}
		if v := p.Memory.UsageBytes; v != nil {
			cp.MemoryCost = timeseries.Float(*v / bytesPerGB * prices.MemoryGBHour * hours)
		}
		if v := p.FS.UsedBytes; v != nil {
			cp.StorageCost = timeseries.Float(*v / bytesPerGB * prices.StorageGBHour * hours)
		}
		if v := p.Network.TxBytes; v != nil {
			cp.NetworkCost = timeseries.Float(*v / bytesPerGB * prices.NetworkEgressGB)
		}
		cp.TotalCost = sumPresent(cp.CPUCost, cp.MemoryCost, cp.StorageCost, cp.NetworkCost)

		out.Points = append(out.Points, cp)
	}
	return out
}

// Summary is the total cost of a scope member over a window.
type Summary struct {
	Scope       timeseries.Scope `json:"scope"`
	Member      string           `json:"member"`
	Start       *time.Time       `json:"start,omitempty"`
	End         *time.Time       `json:"end,omitempty"`
	Buckets     int              `json:"buckets"`
	CPUCost     *float64         `json:"cpu_cost"`
	MemoryCost  *float64         `json:"memory_cost"`
	StorageCost *float64         `json:"storage_cost"`
	NetworkCost *float64         `json:"network_cost"`
	TotalCost   *float64         `json:"total_cost"`
	Prices      UnitPriceTable   `json:"unit_prices"`
}

// CostSummary totals each category of a priced series. An empty member is
// reported as the wildcard key.
func CostSummary(series CostSeries, scope timeseries.Scope, member string, prices UnitPriceTable) Summary {
	if member == "" {
		member = timeseries.WildcardKey
	}

	var cpu, mem, storage, network total
	for i := range series.Points {
		p := &series.Points[i]
		cpu.add(p.CPUCost)
		mem.add(p.MemoryCost)
		storage.add(p.StorageCost)
		network.add(p.NetworkCost)
	}

	s := Summary{
		Scope:       scope,
		Member:      member,
		Buckets:     len(series.Points),
		CPUCost:     cpu.value(),
		MemoryCost:  mem.value(),
		StorageCost: storage.value(),
		NetworkCost: network.value(),
		Prices:      prices,
	}
	s.TotalCost = sumPresent(s.CPUCost, s.MemoryCost, s.StorageCost, s.NetworkCost)

	if n := len(series.Points); n > 0 {
		start, end := series.Points[0].Time, series.Points[n-1].Time
		s.Start, s.End = &start, &end
	}
	return s
}

// Trend is a priced series re-expressed per bucket for charting.
type Trend struct {
	Scope       timeseries.Scope       `json:"scope"`
	Member      string                 `json:"member"`
	Granularity timeseries.Granularity `json:"granularity"`
	Points      []TrendPoint           `json:"points"`
}

// TrendPoint is one bucket of a Trend. Cumulative is the running sum of
// TotalCost up to and including this bucket.
type TrendPoint struct {
	Time        time.Time `json:"time"`
	TotalCost   *float64  `json:"total_cost"`
	Cumulative  float64   `json:"cumulative_cost"`
	CPUCost     *float64  `json:"cpu_cost"`
	MemoryCost  *float64  `json:"memory_cost"`
	StorageCost *float64  `json:"storage_cost"`
	NetworkCost *float64  `json:"network_cost"`
}

// CostTrend keeps one point per original bucket of a priced series.
func CostTrend(series CostSeries, scope timeseries.Scope, member string) Trend {
	if member == "" {
		member = timeseries.WildcardKey
	}

	t := Trend{
		Scope:       scope,
		Member:      member,
		Granularity: series.Granularity,
		Points:      make([]TrendPoint, 0, len(series.Points)),
	}

	running := decimal.Zero
	for _, p := range series.Points {
		if p.TotalCost != nil {
			running = running.Add(decimal.NewFromFloat(*p.TotalCost))
		}
		t.Points = append(t.Points, TrendPoint{
			Time:        p.Time,
			TotalCost:   p.TotalCost,
			Cumulative:  running.InexactFloat64(),
			CPUCost:     p.CPUCost,
			MemoryCost:  p.MemoryCost,
			StorageCost: p.StorageCost,
			NetworkCost: p.NetworkCost,
		})
	}
	return t
}

// total accumulates present amounts with decimal arithmetic.
type total struct {
	sum decimal.Decimal
	n   int
}

func (t *total) add(v *float64) {
	if v == nil {
		return
	}
	t.sum = t.sum.Add(decimal.NewFromFloat(*v))
	t.n++
}

func (t *total) value() *float64 {
	if t.n == 0 {
		return nil
	}
	return timeseries.Float(t.sum.InexactFloat64())
}

// sumPresent adds the non-nil values, returning nil when all are nil.
func sumPresent(values ...*float64) *float64 {
	var t total
	for _, v := range values {
		t.add(v)
	}
	return t.value()
}
