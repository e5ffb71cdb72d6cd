package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/discovery"
	metricsv1beta1 "k8s.io/metrics/pkg/client/clientset/versioned/typed/metrics/v1beta1"

	appmetrics "github.com/aaronlmathis/kaptn-insight/internal/metrics"
	"github.com/aaronlmathis/kaptn-insight/internal/timeseries"
	"github.com/aaronlmathis/kaptn-insight/internal/topology"
)

// MetricsAPISourceName identifies the metrics.k8s.io source.
const MetricsAPISourceName = "metrics-api"

const metricsGroup = "metrics.k8s.io"

// errNoSample marks a member that exists but has nothing to report: an
// unscheduled or finished pod, or one that left the snapshot. Sources turn it
// into an empty series.
var errNoSample = errors.New("no sample")

func noSample(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errNoSample, fmt.Sprintf(format, args...))
}

// emptyOnNoSample drops errNoSample so the member degrades to null fields.
func emptyOnNoSample(logger *zap.Logger, out timeseries.MetricSeries, err error) (timeseries.MetricSeries, error) {
	if errors.Is(err, errNoSample) {
		logger.Debug("Member has no sample",
			zap.String("scope", string(out.Scope)),
			zap.String("member", out.Key),
			zap.Error(err),
		)
		return out, nil
	}
	return out, err
}

// MetricsAPISource serves the latest metrics-server sample of pods,
// containers and nodes. Only cpu usage and memory working set are reported;
// every other field stays nil.
type MetricsAPISource struct {
	logger        *zap.Logger
	discovery     discovery.ServerGroupsInterface
	metricsClient metricsv1beta1.MetricsV1beta1Interface
	pods          PodLookup

	mu               sync.Mutex
	hasMetricsAPI    bool
	apiCheckComplete bool
}

// NewMetricsAPISource creates a metrics.k8s.io source. A nil discovery
// client skips group detection and relies on a probe call.
func NewMetricsAPISource(logger *zap.Logger, disco discovery.ServerGroupsInterface, metricsClient metricsv1beta1.MetricsV1beta1Interface, pods PodLookup) *MetricsAPISource {
	return &MetricsAPISource{
		logger:        logger,
		discovery:     disco,
		metricsClient: metricsClient,
		pods:          pods,
	}
}

// Name implements the metric source interface.
func (s *MetricsAPISource) Name() string {
	return MetricsAPISourceName
}

// HasMetricsAPI returns true if the Metrics API (metrics.k8s.io) is available.
// The result is cached after the first check.
func (s *MetricsAPISource) HasMetricsAPI(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiCheckComplete {
		return s.hasMetricsAPI
	}
	s.hasMetricsAPI = s.detect(ctx)
	s.apiCheckComplete = true
	return s.hasMetricsAPI
}

func (s *MetricsAPISource) detect(ctx context.Context) bool {
	if s.metricsClient == nil {
		s.logger.Info("Metrics API client not configured")
		return false
	}

	if s.discovery != nil {
		groups, err := s.discovery.ServerGroups()
		if err != nil {
			s.logger.Warn("Failed to discover API groups", zap.Error(err))
		} else {
			for _, group := range groups.Groups {
				if group.Name == metricsGroup {
					s.logger.Info("Metrics API (metrics.k8s.io) detected as available")
					return true
				}
			}
		}
	}

	// Try to make a test call to be sure
	if _, err := s.metricsClient.NodeMetricses().List(ctx, metav1.ListOptions{Limit: 1}); err != nil {
		s.logger.Info("Metrics API not available - metrics-server likely not installed", zap.Error(err))
		return false
	}
	s.logger.Info("Metrics API confirmed available via test call")
	return true
}

// FetchRaw returns at most one point holding the member's latest sample,
// stamped at its granularity bucket, when the sample falls inside r.
func (s *MetricsAPISource) FetchRaw(ctx context.Context, scope timeseries.Scope, memberID string, r timeseries.Range) (timeseries.MetricSeries, error) {
	out := timeseries.NewSeries(scope, memberID)
	if !s.HasMetricsAPI(ctx) {
		return out, fmt.Errorf("metrics API (%s) is not available", metricsGroup)
	}

	var (
		at    time.Time
		usage corev1.ResourceList
		err   error
	)
	switch scope {
	case timeseries.ScopeNode:
		at, usage, err = s.nodeUsage(ctx, memberID)
	case timeseries.ScopePod:
		at, usage, err = s.podUsage(ctx, memberID, "")
	case timeseries.ScopeContainer:
		uid, name, perr := topology.ParseContainerKey(memberID)
		if perr != nil {
			return out, perr
		}
		at, usage, err = s.podUsage(ctx, uid, name)
	default:
		return out, fmt.Errorf("metrics API source does not serve %s series directly", scope)
	}
	if err != nil {
		return emptyOnNoSample(s.logger, out, err)
	}

	at = at.UTC()
	if !r.Contains(at) {
		return out, nil
	}
	g := r.Granularity
	if g == "" {
		g = timeseries.Minute
	}

	p := timeseries.NewPoint(g.Truncate(at))
	if q, ok := usage[corev1.ResourceCPU]; ok {
		p.CPU.UsageNanoCores = timeseries.Float(float64(q.ScaledValue(resource.Nano)))
	}
	if q, ok := usage[corev1.ResourceMemory]; ok {
		p.Memory.WorkingSetBytes = timeseries.Float(float64(q.Value()))
	}
	out.Points = []timeseries.MetricPoint{p}
	return out, nil
}

func (s *MetricsAPISource) nodeUsage(ctx context.Context, node string) (time.Time, corev1.ResourceList, error) {
	start := time.Now()
	m, err := s.metricsClient.NodeMetricses().Get(ctx, node, metav1.GetOptions{})
	appmetrics.RecordKubernetesRequest("nodemetrics", "get", err, time.Since(start))
	if apierrors.IsNotFound(err) {
		return time.Time{}, nil, noSample("node %s has no metrics", node)
	}
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to get node metrics for %s: %w", node, err)
	}
	return m.Timestamp.Time, m.Usage, nil
}

// podUsage sums container usage of a pod, or returns a single container's
// usage when container is set.
func (s *MetricsAPISource) podUsage(ctx context.Context, uid, container string) (time.Time, corev1.ResourceList, error) {
	pod, ok := s.pods.Pod(uid)
	if !ok {
		return time.Time{}, nil, noSample("pod %s not found in topology snapshot", uid)
	}
	if pod.Node == "" {
		return time.Time{}, nil, noSample("pod %s/%s is not scheduled", pod.Namespace, pod.Name)
	}

	start := time.Now()
	m, err := s.metricsClient.PodMetricses(pod.Namespace).Get(ctx, pod.Name, metav1.GetOptions{})
	appmetrics.RecordKubernetesRequest("podmetrics", "get", err, time.Since(start))
	if apierrors.IsNotFound(err) {
		return time.Time{}, nil, noSample("pod %s/%s has no metrics", pod.Namespace, pod.Name)
	}
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("failed to get pod metrics for %s/%s: %w", pod.Namespace, pod.Name, err)
	}

	cpu := resource.NewMilliQuantity(0, resource.DecimalSI)
	mem := resource.NewQuantity(0, resource.BinarySI)
	found := false
	for _, c := range m.Containers {
		if container != "" && c.Name != container {
			continue
		}
		found = true
		cpu.Add(*c.Usage.Cpu())
		mem.Add(*c.Usage.Memory())
	}
	if !found {
		if container != "" {
			return time.Time{}, nil, noSample("container %s missing from pod metrics of %s/%s", container, pod.Namespace, pod.Name)
		}
		s.logger.Debug("Pod metrics carry no containers",
			zap.String("namespace", pod.Namespace),
			zap.String("pod", pod.Name),
		)
		return m.Timestamp.Time, corev1.ResourceList{}, nil
	}

	return m.Timestamp.Time, corev1.ResourceList{
		corev1.ResourceCPU:    *cpu,
		corev1.ResourceMemory: *mem,
	}, nil
}
