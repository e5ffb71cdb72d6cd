package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

// KubeletSourceName identifies the kubelet summary source.
const KubeletSourceName = "kubelet"

// PodLookup resolves pod uids to their identity in the current snapshot.
type PodLookup interface {
	Pod(uid string) (topology.RuntimePod, bool)
}

// SummaryFetcher returns the kubelet summary of one node.
type SummaryFetcher interface {
	NodeSummary(ctx context.Context, nodeName string) (*Summary, error)
}

type cachedSummary struct {
	summary   *Summary
	fetchedAt time.Time
}

// networkCounters is the last cumulative network reading of one member and
// the per-interval volume derived from it.
type networkCounters struct {
	at      time.Time
	touched time.Time
	total   InterfaceStats
	delta   InterfaceStats
}

// minCounterRetention bounds how long the counters of a member that is no
// longer read are kept.
const minCounterRetention = 10 * time.Minute

// KubeletSource serves the current sample of pods, containers and nodes from
// kubelet summaries. Network fields carry the volume since the previous
// reading of the same member and are nil on the first reading.
type KubeletSource struct {
	logger   *zap.Logger
	fetcher  SummaryFetcher
	pods     PodLookup
	cacheTTL time.Duration
	now      func() time.Time
	fetches  singleflight.Group

	mu        sync.Mutex
	cache     map[string]cachedSummary
	counters  map[string]networkCounters
	lastPrune time.Time
}

// NewKubeletSource creates a kubelet summary source. Node summaries are
// reused for cacheTTL so one query over many pods of a node hits the kubelet
// once.
func NewKubeletSource(logger *zap.Logger, fetcher SummaryFetcher, pods PodLookup, cacheTTL time.Duration) *KubeletSource {
	return &KubeletSource{
		logger:   logger,
		fetcher:  fetcher,
		pods:     pods,
		cacheTTL: cacheTTL,
		now:      time.Now,
		cache:    make(map[string]cachedSummary),
		counters: make(map[string]networkCounters),
	}
}

// Name implements the metric source interface.
func (s *KubeletSource) Name() string {
	return KubeletSourceName
}

func (s *KubeletSource) summary(ctx context.Context, node string) (*Summary, error) {
	s.mu.Lock()
	if c, ok := s.cache[node]; ok && s.now().Sub(c.fetchedAt) < s.cacheTTL {
		s.mu.Unlock()
		return c.summary, nil
	}
	s.mu.Unlock()

	// Concurrent member fetches on one node share a single kubelet call.
	v, err, _ := s.fetches.Do(node, func() (interface{}, error) {
		sum, err := s.fetcher.NodeSummary(ctx, node)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[node] = cachedSummary{summary: sum, fetchedAt: s.now()}
		s.mu.Unlock()
		return sum, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Summary), nil
}

// FetchRaw returns at most one point: the member's latest kubelet sample,
// stamped at its granularity bucket, when the sample falls inside r.
func (s *KubeletSource) FetchRaw(ctx context.Context, scope timeseries.Scope, memberID string, r timeseries.Range) (timeseries.MetricSeries, error) {
	out := timeseries.NewSeries(scope, memberID)

	var (
		p   timeseries.MetricPoint
		err error
	)
	switch scope {
	case timeseries.ScopeNode:
		p, err = s.nodePoint(ctx, memberID)
	case timeseries.ScopePod:
		p, err = s.podPoint(ctx, memberID)
	case timeseries.ScopeContainer:
		p, err = s.containerPoint(ctx, memberID)
	default:
		return out, fmt.Errorf("kubelet source does not serve %s series directly", scope)
	}
	if err != nil {
		return emptyOnNoSample(s.logger, out, err)
	}

	if !r.Contains(p.Time) {
		return out, nil
	}
	g := r.Granularity
	if g == "" {
		g = timeseries.Minute
	}
	p.Time = g.Truncate(p.Time)
	out.Points = []timeseries.MetricPoint{p}
	return out, nil
}

func (s *KubeletSource) nodePoint(ctx context.Context, node string) (timeseries.MetricPoint, error) {
	sum, err := s.summary(ctx, node)
	if err != nil {
		return timeseries.MetricPoint{}, err
	}
	n := sum.Node
	p := timeseries.NewPoint(sampleTime(n.CPU, n.Memory, s.now()))
	setCPU(&p, n.CPU)
	setMemory(&p, n.Memory)
	setFs(&p, n.Fs)
	s.setNetwork(&p, "node/"+node, n.Network)
	return p, nil
}

func (s *KubeletSource) podStats(ctx context.Context, uid string) (*PodStats, error) {
	pod, ok := s.pods.Pod(uid)
	if !ok {
		return nil, noSample("pod %s not found in topology snapshot", uid)
	}
	if pod.Node == "" {
		return nil, noSample("pod %s/%s is not scheduled", pod.Namespace, pod.Name)
	}
	sum, err := s.summary(ctx, pod.Node)
	if err != nil {
		return nil, err
	}
	ps, ok := sum.FindPod(uid)
	if !ok {
		return nil, noSample("pod %s/%s missing from kubelet summary of %s", pod.Namespace, pod.Name, pod.Node)
	}
	return ps, nil
}

func (s *KubeletSource) podPoint(ctx context.Context, uid string) (timeseries.MetricPoint, error) {
	ps, err := s.podStats(ctx, uid)
	if err != nil {
		return timeseries.MetricPoint{}, err
	}
	p := timeseries.NewPoint(sampleTime(ps.CPU, ps.Memory, s.now()))
	setCPU(&p, ps.CPU)
	setMemory(&p, ps.Memory)
	setFs(&p, ps.EphemeralStorage)
	s.setNetwork(&p, "pod/"+uid, ps.Network)
	return p, nil
}

func (s *KubeletSource) containerPoint(ctx context.Context, key string) (timeseries.MetricPoint, error) {
	uid, name, err := topology.ParseContainerKey(key)
	if err != nil {
		return timeseries.MetricPoint{}, err
	}
	ps, err := s.podStats(ctx, uid)
	if err != nil {
		return timeseries.MetricPoint{}, err
	}
	cs, ok := ps.FindContainer(name)
	if !ok {
		return timeseries.MetricPoint{}, noSample("container %s missing from kubelet summary", key)
	}
	p := timeseries.NewPoint(sampleTime(cs.CPU, cs.Memory, s.now()))
	setCPU(&p, cs.CPU)
	setMemory(&p, cs.Memory)
	setFs(&p, cs.Rootfs)
	return p, nil
}

func sampleTime(cpu *CPUStats, mem *MemoryStats, fallback time.Time) time.Time {
	if cpu != nil && !cpu.Time.IsZero() {
		return cpu.Time.UTC()
	}
	if mem != nil && !mem.Time.IsZero() {
		return mem.Time.UTC()
	}
	return fallback.UTC()
}

func counter(v *uint64) *float64 {
	if v == nil {
		return nil
	}
	return timeseries.Float(float64(*v))
}

func setCPU(p *timeseries.MetricPoint, c *CPUStats) {
	if c == nil {
		return
	}
	p.CPU.UsageNanoCores = counter(c.UsageNanoCores)
	p.CPU.UsageCoreNanoSeconds = counter(c.UsageCoreNanoSeconds)
}

func setMemory(p *timeseries.MetricPoint, m *MemoryStats) {
	if m == nil {
		return
	}
	p.Memory.UsageBytes = counter(m.UsageBytes)
	p.Memory.WorkingSetBytes = counter(m.WorkingSetBytes)
	p.Memory.RSSBytes = counter(m.RSSBytes)
	p.Memory.PageFaults = counter(m.PageFaults)
}

func setFs(p *timeseries.MetricPoint, f *FsStats) {
	if f == nil {
		return
	}
	p.FS.UsedBytes = counter(f.UsedBytes)
	p.FS.CapacityBytes = counter(f.CapacityBytes)
	p.FS.InodesUsed = counter(f.InodesUsed)
	p.FS.Inodes = counter(f.Inodes)
}

// setNetwork converts cumulative counters into the volume since the member's
// previous reading. A counter reset yields nil for that field.
func (s *KubeletSource) setNetwork(p *timeseries.MetricPoint, key string, n *NetworkStats) {
	if n == nil {
		return
	}
	cur := n.totals()
	at := n.Time
	if at.IsZero() {
		at = p.Time
	}

	s.mu.Lock()
	prev, seen := s.counters[key]
	var delta InterfaceStats
	switch {
	case seen && at.Equal(prev.at):
		delta = prev.delta
		cur = prev.total
	case seen && at.After(prev.at):
		delta = InterfaceStats{
			RxBytes:  counterDelta(prev.total.RxBytes, cur.RxBytes),
			TxBytes:  counterDelta(prev.total.TxBytes, cur.TxBytes),
			RxErrors: counterDelta(prev.total.RxErrors, cur.RxErrors),
			TxErrors: counterDelta(prev.total.TxErrors, cur.TxErrors),
		}
	}
	now := s.now()
	if !seen || !at.Before(prev.at) {
		s.counters[key] = networkCounters{at: at, touched: now, total: cur, delta: delta}
	}
	s.pruneLocked(now)
	s.mu.Unlock()

	p.Network.RxBytes = counter(delta.RxBytes)
	p.Network.TxBytes = counter(delta.TxBytes)
	p.Network.RxErrors = counter(delta.RxErrors)
	p.Network.TxErrors = counter(delta.TxErrors)
}

func (s *KubeletSource) counterRetention() time.Duration {
	if r := 5 * s.cacheTTL; r > minCounterRetention {
		return r
	}
	return minCounterRetention
}

// pruneLocked drops counters and summaries not refreshed within the
// retention window. It runs at most once per window.
func (s *KubeletSource) pruneLocked(now time.Time) {
	retention := s.counterRetention()
	if now.Sub(s.lastPrune) < retention {
		return
	}
	s.lastPrune = now
	for key, c := range s.counters {
		if now.Sub(c.touched) >= retention {
			delete(s.counters, key)
		}
	}
	for node, c := range s.cache {
		if now.Sub(c.fetchedAt) >= retention {
			delete(s.cache, node)
		}
	}
}

func counterDelta(prev, cur *uint64) *uint64 {
	if prev == nil || cur == nil || *cur < *prev {
		return nil
	}
	d := *cur - *prev
	return &d
}
