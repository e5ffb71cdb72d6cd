package service

import (
	"context"

	"github.com/aaronlmathis/kaptn-insight/internal/cost"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries/aggregator"
)

func (s *Service) series(ctx context.Context, req request, t target) (timeseries.MetricSeries, error) {
	return s.agg.AggregateScope(ctx, t.scope, t.key, t.memberScope, t.ids, req.r)
}

func (s *Service) summary(ctx context.Context, req request, t target) (aggregator.Summary, error) {
	series, err := s.series(ctx, req, t)
	if err != nil {
		return aggregator.Summary{}, err
	}
	return aggregator.Summarize(series, req.r, len(t.ids)), nil
}

func (s *Service) efficiency(ctx context.Context, req request, t target) (aggregator.Efficiency, error) {
	d, err := denominators(req.snap, t)
	if err != nil {
		return aggregator.Efficiency{}, err
	}
	series, err := s.series(ctx, req, t)
	if err != nil {
		return aggregator.Efficiency{}, err
	}
	return aggregator.ComputeEfficiency(series, req.r, len(t.ids), d), nil
}

// costSeries loads prices before touching the source so a pricing outage
// fails fast.
func (s *Service) costSeries(ctx context.Context, req request, t target) (cost.CostSeries, cost.UnitPriceTable, error) {
	prices, err := cost.LoadPrices(ctx, s.prices)
	if err != nil {
		return cost.CostSeries{}, prices, err
	}
	series, err := s.series(ctx, req, t)
	if err != nil {
		return cost.CostSeries{}, prices, err
	}
	return cost.ApplyCosts(series, prices, req.r.Granularity), prices, nil
}

func (s *Service) cost(ctx context.Context, req request, t target) (cost.CostSeries, error) {
	cs, _, err := s.costSeries(ctx, req, t)
	return cs, err
}

func (s *Service) costSummary(ctx context.Context, req request, t target) (cost.Summary, error) {
	cs, prices, err := s.costSeries(ctx, req, t)
	if err != nil {
		return cost.Summary{}, err
	}
	sum := cost.CostSummary(cs, t.scope, t.key, prices)
	start, end := req.r.Start, req.r.End
	sum.Start, sum.End = &start, &end
	return sum, nil
}

func (s *Service) costTrend(ctx context.Context, req request, t target) (cost.Trend, error) {
	cs, _, err := s.costSeries(ctx, req, t)
	if err != nil {
		return cost.Trend{}, err
	}
	return cost.CostTrend(cs, t.scope, t.key), nil
}

// Raw returns the aggregated series of one scope member.
func (s *Service) Raw(ctx context.Context, scope timeseries.Scope, member string, q timeseries.RangeQuery) (timeseries.MetricSeries, error) {
	return one(ctx, s, scope, ViewRaw, member, q, s.series)
}

// RawAll returns one aggregated series per scope member.
func (s *Service) RawAll(ctx context.Context, scope timeseries.Scope, q timeseries.RangeQuery) (Page[timeseries.MetricSeries], error) {
	return many(ctx, s, scope, ViewRaw, q, s.series)
}

// Summary collapses a member's series over the window.
func (s *Service) Summary(ctx context.Context, scope timeseries.Scope, member string, q timeseries.RangeQuery) (aggregator.Summary, error) {
	return one(ctx, s, scope, ViewSummary, member, q, s.summary)
}

// SummaryAll collapses every member's series over the window.
func (s *Service) SummaryAll(ctx context.Context, scope timeseries.Scope, q timeseries.RangeQuery) (Page[aggregator.Summary], error) {
	return many(ctx, s, scope, ViewSummary, q, s.summary)
}

// Efficiency compares a member's usage with its requests, limits or
// allocatable capacity. Namespace and deployment scopes return
// *aggregator.UnsupportedViewError.
func (s *Service) Efficiency(ctx context.Context, scope timeseries.Scope, member string, q timeseries.RangeQuery) (aggregator.Efficiency, error) {
	return one(ctx, s, scope, ViewEfficiency, member, q, s.efficiency)
}

// EfficiencyAll computes efficiency for every member of a scope.
func (s *Service) EfficiencyAll(ctx context.Context, scope timeseries.Scope, q timeseries.RangeQuery) (Page[aggregator.Efficiency], error) {
	if scope == timeseries.ScopeNamespace || scope == timeseries.ScopeDeployment {
		return Page[aggregator.Efficiency]{}, &aggregator.UnsupportedViewError{Scope: scope, View: string(ViewEfficiency)}
	}
	return many(ctx, s, scope, ViewEfficiency, q, s.efficiency)
}

// Cost prices a member's series bucket by bucket.
func (s *Service) Cost(ctx context.Context, scope timeseries.Scope, member string, q timeseries.RangeQuery) (cost.CostSeries, error) {
	return one(ctx, s, scope, ViewCost, member, q, s.cost)
}

// CostAll prices every member's series.
func (s *Service) CostAll(ctx context.Context, scope timeseries.Scope, q timeseries.RangeQuery) (Page[cost.CostSeries], error) {
	return many(ctx, s, scope, ViewCost, q, s.cost)
}

// CostSummary totals a member's cost over the window.
func (s *Service) CostSummary(ctx context.Context, scope timeseries.Scope, member string, q timeseries.RangeQuery) (cost.Summary, error) {
	return one(ctx, s, scope, ViewCostSummary, member, q, s.costSummary)
}

// CostSummaryAll totals cost for every member of a scope.
func (s *Service) CostSummaryAll(ctx context.Context, scope timeseries.Scope, q timeseries.RangeQuery) (Page[cost.Summary], error) {
	return many(ctx, s, scope, ViewCostSummary, q, s.costSummary)
}

// CostTrend returns a member's cost per bucket with a running total.
func (s *Service) CostTrend(ctx context.Context, scope timeseries.Scope, member string, q timeseries.RangeQuery) (cost.Trend, error) {
	return one(ctx, s, scope, ViewCostTrend, member, q, s.costTrend)
}

// CostTrendAll returns the cost trend of every member of a scope.
func (s *Service) CostTrendAll(ctx context.Context, scope timeseries.Scope, q timeseries.RangeQuery) (Page[cost.Trend], error) {
	return many(ctx, s, scope, ViewCostTrend, q, s.costTrend)
}
