package promsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

// SourceName identifies Prometheus as a metric source.
const SourceName = "prometheus"

// selectorPlaceholder is substituted with the member's label matchers.
const selectorPlaceholder = "{{sel}}"

// stepPlaceholder is substituted with the query step as a PromQL duration.
const stepPlaceholder = "{{step}}"

// fieldQuery maps a metric field to its cAdvisor PromQL template. Network
// templates use the pod-level selector since cAdvisor reports traffic per pod
// sandbox rather than per container.
type fieldQuery struct {
	field   timeseries.Field
	query   string
	network bool
}

var fieldQueries = []fieldQuery{
	{field: timeseries.CPUUsageNanoCores, query: `sum(rate(container_cpu_usage_seconds_total{{{sel}}}[5m])) * 1e9`},
	{field: timeseries.CPUUsageCoreNanoSeconds, query: `sum(container_cpu_usage_seconds_total{{{sel}}}) * 1e9`},
	{field: timeseries.MemoryUsageBytes, query: `sum(container_memory_usage_bytes{{{sel}}})`},
	{field: timeseries.MemoryWorkingSetBytes, query: `sum(container_memory_working_set_bytes{{{sel}}})`},
	{field: timeseries.MemoryRSSBytes, query: `sum(container_memory_rss{{{sel}}})`},
	{field: timeseries.MemoryPageFaults, query: `sum(container_memory_failures_total{{{sel}},failure_type="pgfault"})`},
	{field: timeseries.FSUsedBytes, query: `sum(container_fs_usage_bytes{{{sel}}})`},
	{field: timeseries.FSCapacityBytes, query: `sum(container_fs_limit_bytes{{{sel}}})`},
	{field: timeseries.FSInodesUsed, query: `sum(container_fs_inodes_total{{{sel}}} - container_fs_inodes_free{{{sel}}})`},
	{field: timeseries.FSInodes, query: `sum(container_fs_inodes_total{{{sel}}})`},
	{field: timeseries.NetworkRxBytes, query: `sum(increase(container_network_receive_bytes_total{{{sel}}}[{{step}}]))`, network: true},
	{field: timeseries.NetworkTxBytes, query: `sum(increase(container_network_transmit_bytes_total{{{sel}}}[{{step}}]))`, network: true},
	{field: timeseries.NetworkRxErrors, query: `sum(increase(container_network_receive_errors_total{{{sel}}}[{{step}}]))`, network: true},
	{field: timeseries.NetworkTxErrors, query: `sum(increase(container_network_transmit_errors_total{{{sel}}}[{{step}}]))`, network: true},
}

// PodLookup resolves pod uids to their identity in the current snapshot.
type PodLookup interface {
	Pod(uid string) (topology.RuntimePod, bool)
}

// Config holds Prometheus source settings.
type Config struct {
	URL     string
	Timeout time.Duration
	// Queries per second issued against Prometheus
	QPS float64
	// Parallel field queries per member
	Concurrency int
}

// Source reads member series from Prometheus range queries over cAdvisor
// metrics.
type Source struct {
	logger  *zap.Logger
	api     v1.API
	pods    PodLookup
	limiter *rate.Limiter
	config  Config
}

// New creates a Prometheus-backed metric source.
func New(logger *zap.Logger, config Config, pods PodLookup, roundTripper http.RoundTripper) (*Source, error) {
	if roundTripper == nil {
		roundTripper = api.DefaultRoundTripper
	}
	client, err := api.NewClient(api.Config{
		Address:      config.URL,
		RoundTripper: roundTripper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	if config.Concurrency < 1 {
		config.Concurrency = 4
	}
	limit := rate.Inf
	burst := 1
	if config.QPS > 0 {
		limit = rate.Limit(config.QPS)
		burst = int(config.QPS)
		if burst < 1 {
			burst = 1
		}
	}

	return &Source{
		logger:  logger,
		api:     v1.NewAPI(client),
		pods:    pods,
		limiter: rate.NewLimiter(limit, burst),
		config:  config,
	}, nil
}

// Name implements the metric source interface.
func (s *Source) Name() string {
	return SourceName
}

// errUnknownPod marks a pod that left the snapshot between member resolution
// and the fetch. Its series is empty.
var errUnknownPod = errors.New("pod not found in topology snapshot")

// selectors returns the label matchers for a member and for its network
// traffic. An empty network selector means traffic is not attributable.
func (s *Source) selectors(scope timeseries.Scope, memberID string) (string, string, error) {
	switch scope {
	case timeseries.ScopePod:
		pod, ok := s.pods.Pod(memberID)
		if !ok {
			return "", "", fmt.Errorf("%w: %s", errUnknownPod, memberID)
		}
		base := matchers("namespace", pod.Namespace, "pod", pod.Name)
		return base + `,container!="",container!="POD"`, base, nil

	case timeseries.ScopeContainer:
		uid, container, err := topology.ParseContainerKey(memberID)
		if err != nil {
			return "", "", err
		}
		pod, ok := s.pods.Pod(uid)
		if !ok {
			return "", "", fmt.Errorf("%w: %s", errUnknownPod, uid)
		}
		return matchers("namespace", pod.Namespace, "pod", pod.Name, "container", container), "", nil

	case timeseries.ScopeNode:
		sel := matchers("node", memberID) + `,id="/"`
		return sel, sel, nil

	default:
		return "", "", fmt.Errorf("prometheus source does not serve %s series directly", scope)
	}
}

func matchers(kv ...string) string {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, kv[i]+"="+strconv.Quote(kv[i+1]))
	}
	return strings.Join(parts, ",")
}

func render(tmpl, sel string, step time.Duration) string {
	q := strings.ReplaceAll(tmpl, selectorPlaceholder, sel)
	return strings.ReplaceAll(q, stepPlaceholder, model.Duration(step).String())
}

// FetchRaw runs one range query per field and joins the results by
// timestamp. Fields with no data stay nil.
func (s *Source) FetchRaw(ctx context.Context, scope timeseries.Scope, memberID string, r timeseries.Range) (timeseries.MetricSeries, error) {
	out := timeseries.NewSeries(scope, memberID)

	sel, netSel, err := s.selectors(scope, memberID)
	if errors.Is(err, errUnknownPod) {
		s.logger.Debug("Skipping member outside the topology snapshot",
			zap.String("scope", string(scope)),
			zap.String("member", memberID),
		)
		return out, nil
	}
	if err != nil {
		return out, err
	}

	g := r.Granularity
	if g == "" {
		g = timeseries.Minute
	}
	step := g.Duration()
	qr := v1.Range{Start: g.Truncate(r.Start), End: r.End, Step: step}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	var mu sync.Mutex
	points := make(map[int64]*timeseries.MetricPoint)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.Concurrency)

	for _, fq := range fieldQueries {
		memberSel := sel
		if fq.network {
			if netSel == "" {
				continue
			}
			memberSel = netSel
		}
		query := render(fq.query, memberSel, step)
		field := fq.field

		eg.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			value, warnings, err := s.api.QueryRange(gctx, query, qr)
			if err != nil {
				return fmt.Errorf("failed to query %s: %w", field, err)
			}
			if len(warnings) > 0 {
				s.logger.Debug("Prometheus query warnings",
					zap.String("field", string(field)),
					zap.Strings("warnings", warnings),
				)
			}

			matrix, ok := value.(model.Matrix)
			if !ok {
				return fmt.Errorf("unexpected result type %s for %s", value.Type(), field)
			}

			mu.Lock()
			defer mu.Unlock()
			for _, stream := range matrix {
				for _, sp := range stream.Values {
					ts := sp.Timestamp.Time().UTC()
					p, ok := points[ts.UnixNano()]
					if !ok {
						np := timeseries.NewPoint(ts)
						p = &np
						points[ts.UnixNano()] = p
					}
					p.Set(field, timeseries.Float(float64(sp.Value)))
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return out, err
	}

	keys := make([]int64, 0, len(points))
	for k := range points {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out.Points = make([]timeseries.MetricPoint, 0, len(keys))
	for _, k := range keys {
		out.Points = append(out.Points, *points[k])
	}
	return out, nil
}
