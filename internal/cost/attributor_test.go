package cost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
)

var testPrices = UnitPriceTable{
	CPUCoreHour:     0.04,
	MemoryGBHour:    0.005,
	StorageGBHour:   0.0001,
	NetworkEgressGB: 0.09,
}

func metricSeries(points ...timeseries.MetricPoint) timeseries.MetricSeries {
	s := timeseries.NewSeries(timeseries.ScopeNamespace, "billing")
	s.Points = points
	return s
}

func pointAt(ts time.Time, fields map[timeseries.Field]float64) timeseries.MetricPoint {
	p := timeseries.NewPoint(ts)
	for f, v := range fields {
		p.Set(f, timeseries.Float(v))
	}
	return p
}

func TestApplyCosts(t *testing.T) {
	ts := time.Date(2025, 11, 26, 16, 0, 0, 0, time.UTC)
	s := metricSeries(pointAt(ts, map[timeseries.Field]float64{
		timeseries.CPUUsageNanoCores: 2e9,
		timeseries.MemoryUsageBytes:  4 * bytesPerGB,
		timeseries.FSUsedBytes:       10 * bytesPerGB,
		timeseries.NetworkTxBytes:    2 * bytesPerGB,
	}))

	t.Run("hour", func(t *testing.T) {
		cs := ApplyCosts(s, testPrices, timeseries.Hour)
		require.Len(t, cs.Points, 1)
		p := cs.Points[0]
		assert.InDelta(t, 0.08, *p.CPUCost, 1e-12)
		assert.InDelta(t, 0.02, *p.MemoryCost, 1e-12)
		assert.InDelta(t, 0.001, *p.StorageCost, 1e-12)
		assert.InDelta(t, 0.18, *p.NetworkCost, 1e-12)
		assert.InDelta(t, 0.281, *p.TotalCost, 1e-12)
	})

	t.Run("day scales duration-based categories only", func(t *testing.T) {
		cs := ApplyCosts(s, testPrices, timeseries.Day)
		p := cs.Points[0]
		assert.InDelta(t, 0.08*24, *p.CPUCost, 1e-9)
		assert.InDelta(t, 0.02*24, *p.MemoryCost, 1e-9)
		assert.InDelta(t, 0.18, *p.NetworkCost, 1e-12)
	})

	t.Run("minute", func(t *testing.T) {
		cs := ApplyCosts(s, testPrices, timeseries.Minute)
		assert.InDelta(t, 0.08/60, *cs.Points[0].CPUCost, 1e-12)
	})
}

func TestApplyCosts_NullUsageStaysNull(t *testing.T) {
	ts := time.Date(2025, 11, 26, 16, 0, 0, 0, time.UTC)
	s := metricSeries(
		pointAt(ts, map[timeseries.Field]float64{timeseries.CPUUsageNanoCores: 0}),
		timeseries.NewPoint(ts.Add(time.Hour)),
	)

	cs := ApplyCosts(s, testPrices, timeseries.Hour)
	require.Len(t, cs.Points, 2)

	require.NotNil(t, cs.Points[0].CPUCost)
	assert.Equal(t, 0.0, *cs.Points[0].CPUCost)
	assert.Nil(t, cs.Points[0].MemoryCost)
	require.NotNil(t, cs.Points[0].TotalCost)
	assert.Equal(t, 0.0, *cs.Points[0].TotalCost)

	assert.Nil(t, cs.Points[1].CPUCost)
	assert.Nil(t, cs.Points[1].TotalCost)
}

func TestCostSummaryMatchesTrend(t *testing.T) {
	base := time.Date(2025, 11, 26, 0, 0, 0, 0, time.UTC)
	var points []timeseries.MetricPoint
	for i := 0; i < 48; i++ {
		fields := map[timeseries.Field]float64{
			timeseries.CPUUsageNanoCores: float64(i%7) * 1.3e8,
			timeseries.NetworkTxBytes:    float64(i) * 12345.67,
		}
		if i%3 != 0 {
			fields[timeseries.MemoryUsageBytes] = float64(i) * 3.7e7
		}
		points = append(points, pointAt(base.Add(time.Duration(i)*time.Hour), fields))
	}
	points = append(points, timeseries.NewPoint(base.Add(48*time.Hour)))

	cs := ApplyCosts(metricSeries(points...), testPrices, timeseries.Hour)
	summary := CostSummary(cs, timeseries.ScopeNamespace, "billing", testPrices)
	trend := CostTrend(cs, timeseries.ScopeNamespace, "billing")

	require.Len(t, trend.Points, len(points))
	var sum float64
	for _, p := range trend.Points {
		if p.TotalCost != nil {
			sum += *p.TotalCost
		}
	}
	require.NotNil(t, summary.TotalCost)
	assert.InDelta(t, *summary.TotalCost, sum, 1e-9)
	assert.InDelta(t, *summary.TotalCost, trend.Points[len(trend.Points)-1].Cumulative, 1e-9)
	assert.Nil(t, summary.StorageCost, "no filesystem samples")
	assert.Equal(t, len(points), summary.Buckets)
	assert.Equal(t, base, *summary.Start)
}

func TestCostSummary_WildcardMember(t *testing.T) {
	s := CostSummary(CostSeries{}, timeseries.ScopeCluster, "", testPrices)
	assert.Equal(t, timeseries.WildcardKey, s.Member)
	assert.Nil(t, s.TotalCost)
	assert.Nil(t, s.Start)

	tr := CostTrend(CostSeries{}, timeseries.ScopeCluster, "")
	assert.Equal(t, timeseries.WildcardKey, tr.Member)
	assert.Empty(t, tr.Points)
}

type stubPricing struct {
	prices UnitPriceTable
	err    error
}

func (s stubPricing) GetCurrentPrices(context.Context) (UnitPriceTable, error) {
	return s.prices, s.err
}

func TestLoadPrices(t *testing.T) {
	got, err := LoadPrices(context.Background(), stubPricing{prices: testPrices})
	require.NoError(t, err)
	assert.Equal(t, testPrices, got)

	_, err = LoadPrices(context.Background(), stubPricing{err: ErrNoPrices})
	var pu *PricingUnavailableError
	require.True(t, errors.As(err, &pu))
	assert.True(t, errors.Is(err, ErrNoPrices))

	_, err = LoadPrices(context.Background(), nil)
	assert.True(t, errors.As(err, &pu))
}

func TestUnitPriceTableValidate(t *testing.T) {
	assert.NoError(t, testPrices.Validate())
	assert.NoError(t, UnitPriceTable{}.Validate())

	bad := testPrices
	bad.MemoryGBHour = -1
	assert.Error(t, bad.Validate())
}
