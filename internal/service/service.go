// Package service resolves scope membership from the topology snapshot and
// serves the raw, summary, efficiency and cost views of every scope.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aaronlmathis/kaptn-insight/internal/cost"
	"github.com/aaronlmathis/kaptn-insight/internal/metrics"
	"github.com/aaronlmathis/kaptn-insight/internal/runtimestate"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries/aggregator"
	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

// View names one projection of a scope.
type View string

const (
	ViewRaw         View = "raw"
	ViewSummary     View = "summary"
	ViewEfficiency  View = "efficiency"
	ViewCost        View = "cost"
	ViewCostSummary View = "cost_summary"
	ViewCostTrend   View = "cost_trend"
)

// Config holds metric service settings
type Config struct {
	Timeseries timeseries.Config
	// Members computed in parallel by plural queries
	MemberConcurrency int
	// Zero disables the view cache
	CacheTTL time.Duration
}

// DefaultConfig returns the default service configuration
func DefaultConfig() Config {
	return Config{
		Timeseries:        timeseries.DefaultConfig(),
		MemberConcurrency: 4,
		CacheTTL:          15 * time.Second,
	}
}

// Page is one slice of a plural query.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Service is the metric read path: membership from the runtime state,
// samples from the aggregator, prices from the pricing store.
type Service struct {
	logger *zap.Logger
	state  *runtimestate.State
	agg    *aggregator.Aggregator
	prices cost.PricingStore
	cache  *Cache
	config Config
	now    func() time.Time
}

// New creates a metric service.
func New(logger *zap.Logger, state *runtimestate.State, agg *aggregator.Aggregator, prices cost.PricingStore, config Config) *Service {
	if config.MemberConcurrency < 1 {
		config.MemberConcurrency = DefaultConfig().MemberConcurrency
	}
	return &Service{
		logger: logger,
		state:  state,
		agg:    agg,
		prices: prices,
		cache:  NewCache(),
		config: config,
		now:    time.Now,
	}
}

// Cache returns the view cache.
func (s *Service) Cache() *Cache {
	return s.cache
}

// target is one scope member resolved to the series it is built from.
type target struct {
	scope       timeseries.Scope
	key         string
	memberScope timeseries.Scope
	ids         []string
}

// resolve maps a scope member onto its source members. Namespace,
// deployment and node targets are built from pod series and the cluster
// from node series.
func resolve(snap *topology.Snapshot, scope timeseries.Scope, member string) (target, error) {
	t := target{scope: scope, key: member, memberScope: timeseries.ScopePod}

	switch scope {
	case timeseries.ScopeContainer:
		t.memberScope = timeseries.ScopeContainer
		uid, name, err := topology.ParseContainerKey(member)
		if err != nil {
			return t, &aggregator.NoMembersError{Scope: scope, Target: member}
		}
		if pod, ok := snap.Pod(uid); ok {
			for _, c := range pod.Containers {
				if c == name {
					t.ids = []string{member}
					break
				}
			}
		}
	case timeseries.ScopePod:
		if _, ok := snap.Pod(member); ok {
			t.ids = []string{member}
		}
	case timeseries.ScopeDeployment:
		t.ids = snap.PodsByDeployment(member)
	case timeseries.ScopeNamespace:
		t.ids = snap.PodsByNamespace(member)
	case timeseries.ScopeNode:
		t.ids = snap.PodsByNode(member)
	case timeseries.ScopeCluster:
		t.key = timeseries.WildcardKey
		t.memberScope = timeseries.ScopeNode
		t.ids = snap.Nodes()
	default:
		return t, fmt.Errorf("unknown scope %q", scope)
	}
	return t, nil
}

// members lists every member of a scope, filtered by the namespace and key
// parameters of q.
func members(snap *topology.Snapshot, scope timeseries.Scope, q timeseries.RangeQuery) []string {
	var all []string
	switch scope {
	case timeseries.ScopeContainer:
		all = snap.ContainerKeys()
	case timeseries.ScopePod:
		all = snap.PodUIDs()
	case timeseries.ScopeDeployment:
		all = snap.Deployments()
	case timeseries.ScopeNamespace:
		all = snap.Namespaces()
	case timeseries.ScopeNode:
		all = snap.Nodes()
	case timeseries.ScopeCluster:
		all = []string{timeseries.WildcardKey}
	}

	out := make([]string, 0, len(all))
	for _, m := range all {
		if q.Key != "" && !strings.Contains(m, q.Key) {
			continue
		}
		if q.Namespace != "" && !inNamespace(snap, scope, m, q.Namespace) {
			continue
		}
		out = append(out, m)
	}
	if q.Sort == "-key" {
		sort.Sort(sort.Reverse(sort.StringSlice(out)))
	}
	return out
}

func inNamespace(snap *topology.Snapshot, scope timeseries.Scope, member, ns string) bool {
	switch scope {
	case timeseries.ScopeNamespace:
		return member == ns
	case timeseries.ScopePod:
		p, ok := snap.Pod(member)
		return ok && p.Namespace == ns
	case timeseries.ScopeContainer:
		uid, _, err := topology.ParseContainerKey(member)
		if err != nil {
			return false
		}
		p, ok := snap.Pod(uid)
		return ok && p.Namespace == ns
	case timeseries.ScopeDeployment:
		for _, uid := range snap.PodsByDeployment(member) {
			if p, ok := snap.Pod(uid); ok && p.Namespace == ns {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// denominators returns the capacity figures efficiency is measured against.
func denominators(snap *topology.Snapshot, t target) (aggregator.Denominators, error) {
	var d aggregator.Denominators

	switch t.scope {
	case timeseries.ScopeContainer:
		uid, name, err := topology.ParseContainerKey(t.key)
		if err != nil {
			return d, err
		}
		if pod, ok := snap.Pod(uid); ok {
			addResources(&d, pod.Resources[name])
		}
	case timeseries.ScopePod:
		if pod, ok := snap.Pod(t.key); ok {
			for _, c := range pod.Containers {
				addResources(&d, pod.Resources[c])
			}
		}
	case timeseries.ScopeNode:
		if c, ok := snap.NodeAllocatable(t.key); ok {
			d.CPUAllocatableCores = timeseries.Float(c.CPUCores)
			d.MemoryAllocatableBytes = timeseries.Float(c.MemoryBytes)
		}
	case timeseries.ScopeCluster:
		for _, node := range snap.Nodes() {
			if c, ok := snap.NodeAllocatable(node); ok {
				d.CPUAllocatableCores = add(d.CPUAllocatableCores, &c.CPUCores)
				d.MemoryAllocatableBytes = add(d.MemoryAllocatableBytes, &c.MemoryBytes)
			}
		}
	default:
		return d, &aggregator.UnsupportedViewError{Scope: t.scope, View: string(ViewEfficiency)}
	}
	return d, nil
}

func addResources(d *aggregator.Denominators, r topology.ContainerResources) {
	d.CPURequestCores = add(d.CPURequestCores, r.CPURequestCores)
	d.CPULimitCores = add(d.CPULimitCores, r.CPULimitCores)
	d.MemoryRequestBytes = add(d.MemoryRequestBytes, r.MemoryRequestBytes)
	d.MemoryLimitBytes = add(d.MemoryLimitBytes, r.MemoryLimitBytes)
}

// add sums two optional values; nil only when both are nil.
func add(sum, v *float64) *float64 {
	if v == nil {
		return sum
	}
	if sum == nil {
		return timeseries.Float(*v)
	}
	return timeseries.Float(*sum + *v)
}

// request is the state captured once per call: one snapshot and one
// resolved window.
type request struct {
	scope timeseries.Scope
	view  View
	snap  *topology.Snapshot
	gen   time.Time
	r     timeseries.Range
}

func (s *Service) begin(scope timeseries.Scope, view View, q timeseries.RangeQuery) (request, error) {
	if _, err := timeseries.ParseScope(string(scope)); err != nil {
		return request{}, err
	}
	if err := s.state.EnsureResynced(); err != nil {
		return request{}, err
	}
	r, err := q.Resolve(s.now(), s.config.Timeseries)
	if err != nil {
		return request{}, err
	}
	snap, gen := s.state.Current()
	return request{scope: scope, view: view, snap: snap, gen: gen, r: r}, nil
}

// computeFunc builds one view of one resolved target.
type computeFunc[T any] func(ctx context.Context, req request, t target) (T, error)

// one runs a singular query.
func one[T any](ctx context.Context, s *Service, scope timeseries.Scope, view View, member string, q timeseries.RangeQuery, fn computeFunc[T]) (T, error) {
	var zero T
	req, err := s.begin(scope, view, q)
	if err != nil {
		return zero, err
	}
	key := cacheKey(req.gen, scope, view, member, q, false)
	if v, ok := s.cached(key); ok {
		return v.(T), nil
	}
	t, err := resolve(req.snap, scope, member)
	if err != nil {
		return zero, err
	}

	start := time.Now()
	out, err := fn(ctx, req, t)
	s.record(req, len(t.ids), err, time.Since(start))
	if err != nil {
		return zero, err
	}
	s.store(key, out)
	return out, nil
}

// many runs a plural query: one result per member, paged. Members with no
// source entities are skipped.
func many[T any](ctx context.Context, s *Service, scope timeseries.Scope, view View, q timeseries.RangeQuery, fn computeFunc[T]) (Page[T], error) {
	req, err := s.begin(scope, view, q)
	if err != nil {
		return Page[T]{}, err
	}
	key := cacheKey(req.gen, scope, view, "", q, true)
	if v, ok := s.cached(key); ok {
		return v.(Page[T]), nil
	}

	all := members(req.snap, scope, q)
	page := Page[T]{Total: len(all), Offset: q.Offset, Limit: q.Limit}
	ids := paginate(all, q.Offset, q.Limit)

	results := make([]T, len(ids))
	found := make([]bool, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MemberConcurrency)
	for i, member := range ids {
		i, member := i, member
		g.Go(func() error {
			t, err := resolve(req.snap, scope, member)
			if err != nil {
				return err
			}
			start := time.Now()
			out, err := fn(gctx, req, t)
			s.record(req, len(t.ids), err, time.Since(start))

			var noMembers *aggregator.NoMembersError
			if errors.As(err, &noMembers) {
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = out
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Page[T]{}, err
	}

	page.Items = make([]T, 0, len(ids))
	for i := range results {
		if found[i] {
			page.Items = append(page.Items, results[i])
		}
	}
	s.store(key, page)
	return page, nil
}

func paginate(ids []string, offset, limit int) []string {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

func (s *Service) record(req request, members int, err error, d time.Duration) {
	outcome := "ok"
	var (
		noMembers   *aggregator.NoMembersError
		unsupported *aggregator.UnsupportedViewError
	)
	switch {
	case err == nil:
	case errors.As(err, &noMembers):
		outcome = "no_data"
	case errors.As(err, &unsupported):
		outcome = "not_supported"
	default:
		outcome = "error"
		s.logger.Warn("Metric view failed",
			zap.String("scope", string(req.scope)),
			zap.String("view", string(req.view)),
			zap.Error(err),
		)
	}
	metrics.RecordAggregation(string(req.scope), string(req.view), outcome, members, d)
}

// cacheKey is scoped to the snapshot generation so a resync invalidates
// every cached view.
func cacheKey(gen time.Time, scope timeseries.Scope, view View, member string, q timeseries.RangeQuery, plural bool) string {
	ts := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("%d|%s|%s|%s|%t|%s|%s|%s|%d|%d|%s|%s|%s",
		gen.UnixNano(), scope, view, member, plural, ts(q.Start), ts(q.End), q.Granularity,
		q.Limit, q.Offset, q.Sort, q.Namespace, q.Key)
}

func (s *Service) cached(key string) (interface{}, bool) {
	if s.config.CacheTTL <= 0 {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *Service) store(key string, v interface{}) {
	if s.config.CacheTTL <= 0 {
		return
	}
	s.cache.Set(key, v, s.config.CacheTTL)
}
