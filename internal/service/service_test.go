package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/kaptn-insight/internal/cost"
	"github.com/aaronlmathis/kaptn-insight/internal/runtimestate"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries/aggregator"
	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

var t0 = time.Date(2025, 11, 26, 16, 0, 0, 0, time.UTC)

type inventorySource struct{ inv topology.Inventory }

func (s inventorySource) Probe(context.Context) error { return nil }

func (s inventorySource) Fetch(context.Context) (*topology.Inventory, error) {
	inv := s.inv
	return &inv, nil
}

func f(v float64) *float64 { return &v }

func testInventory() topology.Inventory {
	return topology.Inventory{
		Nodes: []topology.NodeInfo{
			{Name: "n1", Allocatable: topology.NodeCapacity{CPUCores: 4, MemoryBytes: 16 << 30}},
			{Name: "n2", Allocatable: topology.NodeCapacity{CPUCores: 4, MemoryBytes: 8 << 30}},
		},
		Namespaces:  []string{"billing", "other", "empty"},
		Deployments: []string{"api"},
		Pods: []topology.RuntimePod{
			{UID: "p1", Name: "api-1", Namespace: "billing", Node: "n1", Deployment: "api", Containers: []string{"app"},
				Resources: map[string]topology.ContainerResources{"app": {CPURequestCores: f(0.5), CPULimitCores: f(1)}}},
			{UID: "p2", Name: "api-2", Namespace: "billing", Node: "n2", Deployment: "api", Containers: []string{"app"}},
			{UID: "p4", Name: "worker", Namespace: "billing", Node: "n2", Containers: []string{"app"}},
			{UID: "p3", Name: "batch", Namespace: "other", Node: "n1", Containers: []string{"job"}},
		},
	}
}

type seriesKey struct {
	scope timeseries.Scope
	key   string
}

// mapSource serves canned member series and counts fetches.
type mapSource struct {
	mu     sync.Mutex
	data   map[seriesKey][]timeseries.MetricPoint
	err    error
	fetchs int
}

func (m *mapSource) Name() string { return "map" }

func (m *mapSource) FetchRaw(_ context.Context, scope timeseries.Scope, id string, _ timeseries.Range) (timeseries.MetricSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchs++
	s := timeseries.NewSeries(scope, id)
	if m.err != nil {
		return s, m.err
	}
	s.Points = append(s.Points, m.data[seriesKey{scope, id}]...)
	return s, nil
}

func (m *mapSource) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchs
}

func pt(ts time.Time, cpu, mem *float64) timeseries.MetricPoint {
	p := timeseries.NewPoint(ts)
	p.CPU.UsageNanoCores = cpu
	p.Memory.UsageBytes = mem
	return p
}

func testData() map[seriesKey][]timeseries.MetricPoint {
	t1 := t0.Add(time.Minute)
	return map[seriesKey][]timeseries.MetricPoint{
		{timeseries.ScopePod, "p1"}:  {pt(t0, f(1e9), f(100)), pt(t1, f(5e8), nil)},
		{timeseries.ScopePod, "p2"}:  {pt(t0, nil, nil)},
		{timeseries.ScopePod, "p4"}:  {pt(t0, nil, f(200))},
		{timeseries.ScopePod, "p3"}:  {pt(t0, f(2e9), nil)},
		{timeseries.ScopeNode, "n1"}: {pt(t0, f(3e9), nil)},
		{timeseries.ScopeNode, "n2"}: {pt(t0, f(1e9), nil)},
		{timeseries.ScopeContainer, topology.ContainerKey("p1", "app")}: {pt(t0, f(2.5e8), nil)},
	}
}

type priceStore struct {
	prices cost.UnitPriceTable
	err    error
}

func (p priceStore) GetCurrentPrices(context.Context) (cost.UnitPriceTable, error) {
	return p.prices, p.err
}

type fixture struct {
	svc    *Service
	source *mapSource
}

func newFixture(t *testing.T, prices cost.PricingStore, cfg Config) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	state := runtimestate.NewState(3 * time.Hour)
	coord := runtimestate.NewCoordinator(logger, state, inventorySource{inv: testInventory()}, runtimestate.DefaultConfig())
	require.Equal(t, runtimestate.ResyncStarted, coord.Resync())
	coord.Wait()
	require.True(t, state.IsFresh())

	src := &mapSource{data: testData()}
	agg := aggregator.NewAggregator(logger, src, aggregator.DefaultConfig())
	return fixture{svc: New(logger, state, agg, prices, cfg), source: src}
}

func window() timeseries.RangeQuery {
	start, end := t0, t0.Add(time.Hour)
	return timeseries.RangeQuery{Start: &start, End: &end}
}

func noCache() Config {
	cfg := DefaultConfig()
	cfg.CacheTTL = 0
	return cfg
}

var testPrices = priceStore{prices: cost.UnitPriceTable{CPUCoreHour: 0.6}}

func TestStaleStateRejectsReads(t *testing.T) {
	logger := zaptest.NewLogger(t)
	src := &mapSource{data: testData()}
	svc := New(logger, runtimestate.NewState(3*time.Hour), aggregator.NewAggregator(logger, src, aggregator.DefaultConfig()), testPrices, noCache())

	_, err := svc.Raw(context.Background(), timeseries.ScopeNamespace, "billing", window())
	var stale *runtimestate.StaleStateError
	require.True(t, errors.As(err, &stale))
	assert.Zero(t, src.calls())
}

func TestRaw_NamespaceBillingExample(t *testing.T) {
	fx := newFixture(t, testPrices, noCache())

	got, err := fx.svc.Raw(context.Background(), timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	require.Len(t, got.Points, 2)

	assert.Equal(t, timeseries.ScopeNamespace, got.Scope)
	assert.Equal(t, "billing", got.Key)
	assert.Equal(t, 300.0, *got.Points[0].Memory.UsageBytes)
	assert.Equal(t, 1e9, *got.Points[0].CPU.UsageNanoCores)
	assert.Nil(t, got.Points[1].Memory.UsageBytes)
}

func TestRaw_ScopeComposition(t *testing.T) {
	fx := newFixture(t, testPrices, noCache())
	ctx := context.Background()

	node, err := fx.svc.Raw(ctx, timeseries.ScopeNode, "n1", window())
	require.NoError(t, err)
	assert.Equal(t, 3e9, *node.Points[0].CPU.UsageNanoCores, "p1 + p3 pod series")

	cluster, err := fx.svc.Raw(ctx, timeseries.ScopeCluster, "", window())
	require.NoError(t, err)
	assert.Equal(t, timeseries.WildcardKey, cluster.Key)
	assert.Equal(t, 4e9, *cluster.Points[0].CPU.UsageNanoCores, "n1 + n2 node series")

	dep, err := fx.svc.Raw(ctx, timeseries.ScopeDeployment, "api", window())
	require.NoError(t, err)
	assert.Equal(t, 1e9, *dep.Points[0].CPU.UsageNanoCores)

	c, err := fx.svc.Raw(ctx, timeseries.ScopeContainer, topology.ContainerKey("p1", "app"), window())
	require.NoError(t, err)
	assert.Equal(t, 2.5e8, *c.Points[0].CPU.UsageNanoCores)
}

func TestNoMembers(t *testing.T) {
	fx := newFixture(t, testPrices, noCache())
	ctx := context.Background()

	for _, tc := range []struct {
		scope  timeseries.Scope
		member string
	}{
		{timeseries.ScopeNamespace, "empty"},
		{timeseries.ScopeNamespace, "ghost"},
		{timeseries.ScopePod, "ghost"},
		{timeseries.ScopeContainer, topology.ContainerKey("p1", "nope")},
	} {
		_, err := fx.svc.Summary(ctx, tc.scope, tc.member, window())
		var nm *aggregator.NoMembersError
		assert.True(t, errors.As(err, &nm), "%s/%s", tc.scope, tc.member)
	}
}

func TestSummary(t *testing.T) {
	fx := newFixture(t, testPrices, noCache())

	got, err := fx.svc.Summary(context.Background(), timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	assert.Equal(t, 3, got.MemberCount)
	assert.Equal(t, timeseries.Minute, got.Granularity)
	assert.Equal(t, 300.0, *got.Values.Memory.UsageBytes)
}

func TestEfficiency(t *testing.T) {
	fx := newFixture(t, testPrices, noCache())
	ctx := context.Background()

	pod, err := fx.svc.Efficiency(ctx, timeseries.ScopePod, "p1", window())
	require.NoError(t, err)
	assert.InDelta(t, 0.75, *pod.CPUUsageCoresAvg, 1e-9)
	assert.InDelta(t, 1.5, *pod.CPURequestRatio, 1e-9)
	assert.InDelta(t, 0.75, *pod.CPULimitRatio, 1e-9)
	assert.Nil(t, pod.MemoryRequestRatio, "no memory request declared")

	cluster, err := fx.svc.Efficiency(ctx, timeseries.ScopeCluster, "", window())
	require.NoError(t, err)
	assert.Equal(t, 8.0, *cluster.Denominators.CPUAllocatableCores)
	assert.InDelta(t, 0.5, *cluster.CPUAllocatableRatio, 1e-9)

	for _, scope := range []timeseries.Scope{timeseries.ScopeNamespace, timeseries.ScopeDeployment} {
		_, err := fx.svc.Efficiency(ctx, scope, "billing", window())
		var uv *aggregator.UnsupportedViewError
		assert.True(t, errors.As(err, &uv), string(scope))

		_, err = fx.svc.EfficiencyAll(ctx, scope, window())
		assert.True(t, errors.As(err, &uv), string(scope))
	}
}

func TestCostViewsAgree(t *testing.T) {
	fx := newFixture(t, testPrices, noCache())
	ctx := context.Background()

	series, err := fx.svc.Cost(ctx, timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	require.Len(t, series.Points, 2)
	assert.InDelta(t, 0.01, *series.Points[0].CPUCost, 1e-12)
	assert.InDelta(t, 0.005, *series.Points[1].TotalCost, 1e-12)

	summary, err := fx.svc.CostSummary(ctx, timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	trend, err := fx.svc.CostTrend(ctx, timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)

	var sum float64
	for _, p := range trend.Points {
		if p.TotalCost != nil {
			sum += *p.TotalCost
		}
	}
	require.NotNil(t, summary.TotalCost)
	assert.InDelta(t, *summary.TotalCost, sum, 1e-9)
	assert.InDelta(t, 0.015, trend.Points[len(trend.Points)-1].Cumulative, 1e-9)
	assert.True(t, summary.Start.Equal(t0))
}

func TestCostPricingUnavailable(t *testing.T) {
	fx := newFixture(t, priceStore{err: cost.ErrNoPrices}, noCache())

	_, err := fx.svc.CostSummary(context.Background(), timeseries.ScopeCluster, "", window())
	var pu *cost.PricingUnavailableError
	require.True(t, errors.As(err, &pu))
	assert.Zero(t, fx.source.calls(), "prices are checked before fetching")
}

func TestPluralQueries(t *testing.T) {
	fx := newFixture(t, testPrices, noCache())
	ctx := context.Background()

	all, err := fx.svc.RawAll(ctx, timeseries.ScopeNamespace, window())
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	require.Len(t, all.Items, 2, "namespace without pods is skipped")
	assert.Equal(t, "billing", all.Items[0].Key)
	assert.Equal(t, "other", all.Items[1].Key)

	q := window()
	q.Namespace = "billing"
	q.Sort = "-key"
	q.Limit = 2
	pods, err := fx.svc.SummaryAll(ctx, timeseries.ScopePod, q)
	require.NoError(t, err)
	assert.Equal(t, 3, pods.Total)
	require.Len(t, pods.Items, 2)
	assert.Equal(t, "p4", pods.Items[0].Key)
	assert.Equal(t, "p2", pods.Items[1].Key)

	q = window()
	q.Offset = 1
	nodes, err := fx.svc.CostTrendAll(ctx, timeseries.ScopeNode, q)
	require.NoError(t, err)
	require.Len(t, nodes.Items, 1)
	assert.Equal(t, "n2", nodes.Items[0].Member)

	cluster, err := fx.svc.CostSummaryAll(ctx, timeseries.ScopeCluster, window())
	require.NoError(t, err)
	require.Len(t, cluster.Items, 1)
	assert.Equal(t, timeseries.WildcardKey, cluster.Items[0].Member)

	eff, err := fx.svc.EfficiencyAll(ctx, timeseries.ScopeContainer, window())
	require.NoError(t, err)
	assert.Equal(t, 4, eff.Total)

	costs, err := fx.svc.CostAll(ctx, timeseries.ScopeDeployment, window())
	require.NoError(t, err)
	require.Len(t, costs.Items, 1)
}

func TestSourceErrorFailsRequest(t *testing.T) {
	fx := newFixture(t, testPrices, noCache())
	fx.source.err = errors.New("backend down")

	_, err := fx.svc.Raw(context.Background(), timeseries.ScopeNamespace, "billing", window())
	assert.ErrorContains(t, err, "backend down")

	_, err = fx.svc.RawAll(context.Background(), timeseries.ScopePod, window())
	assert.ErrorContains(t, err, "backend down")
}

func TestViewCache(t *testing.T) {
	fx := newFixture(t, testPrices, DefaultConfig())
	ctx := context.Background()

	_, err := fx.svc.Raw(ctx, timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	calls := fx.source.calls()

	_, err = fx.svc.Raw(ctx, timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	assert.Equal(t, calls, fx.source.calls())

	// a different view is computed separately
	_, err = fx.svc.Summary(ctx, timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	assert.Greater(t, fx.source.calls(), calls)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache()
	now := t0
	c.now = func() time.Time { return now }

	c.Set("k", 1, time.Second)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestViewCacheHonorsFreshness(t *testing.T) {
	logger := zaptest.NewLogger(t)
	var mu sync.Mutex
	now := t0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	state := runtimestate.NewState(3*time.Hour, runtimestate.WithClock(clock))
	coord := runtimestate.NewCoordinator(logger, state, inventorySource{inv: testInventory()}, runtimestate.DefaultConfig())
	require.Equal(t, runtimestate.ResyncStarted, coord.Resync())
	coord.Wait()

	src := &mapSource{data: testData()}
	svc := New(logger, state, aggregator.NewAggregator(logger, src, aggregator.DefaultConfig()), testPrices, DefaultConfig())
	ctx := context.Background()

	_, err := svc.Raw(ctx, timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	_, err = svc.RawAll(ctx, timeseries.ScopePod, window())
	require.NoError(t, err)
	calls := src.calls()

	advance(3*time.Hour + time.Second)
	require.False(t, state.IsFresh())

	var stale *runtimestate.StaleStateError
	_, err = svc.Raw(ctx, timeseries.ScopeNamespace, "billing", window())
	require.True(t, errors.As(err, &stale), "cached singular view served from a stale state")
	_, err = svc.RawAll(ctx, timeseries.ScopePod, window())
	require.True(t, errors.As(err, &stale), "cached plural view served from a stale state")

	// a new snapshot generation recomputes instead of reusing the old entry
	require.Equal(t, runtimestate.ResyncStarted, coord.Resync())
	coord.Wait()
	_, err = svc.Raw(ctx, timeseries.ScopeNamespace, "billing", window())
	require.NoError(t, err)
	assert.Greater(t, src.calls(), calls)
}
