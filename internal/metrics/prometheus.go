package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the insight server
var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_insight_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_insight_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// Kubernetes API call metrics
	kubernetesRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_insight_kubernetes_requests_total",
			Help: "Total number of requests to Kubernetes API",
		},
		[]string{"resource", "verb", "status"},
	)

	kubernetesRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_insight_kubernetes_request_duration_seconds",
			Help:    "Kubernetes API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource", "verb", "status"},
	)

	// Resync metrics
	resyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_insight_resync_runs_total",
			Help: "Total number of topology resync runs by result",
		},
		[]string{"result"},
	)

	resyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kaptn_insight_resync_duration_seconds",
			Help:    "Topology resync duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	resyncRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kaptn_insight_resync_rejected_total",
			Help: "Resync requests observed while another run was in flight",
		},
	)

	snapshotObjects = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kaptn_insight_snapshot_objects",
			Help: "Number of objects in the current topology snapshot",
		},
		[]string{"kind"},
	)

	snapshotLastDiscovered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaptn_insight_snapshot_last_discovered_timestamp_seconds",
			Help: "Unix time of the last successful topology resync",
		},
	)

	// Metric source metrics
	sourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_insight_source_request_duration_seconds",
			Help:    "Duration of raw series fetches from the metric source",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"source", "scope"},
	)

	sourceRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_insight_source_request_errors_total",
			Help: "Total number of failed raw series fetches",
		},
		[]string{"source", "scope"},
	)

	// Aggregation metrics
	aggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_insight_aggregation_duration_seconds",
			Help:    "End-to-end duration of scoped metric views",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope", "view", "outcome"},
	)

	aggregationMembers = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_insight_aggregation_members",
			Help:    "Number of member series merged per aggregation",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		},
		[]string{"scope"},
	)

	// Job metrics
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_insight_jobs_total",
			Help: "Total number of scheduled jobs",
		},
		[]string{"job_type", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaptn_insight_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800}, // 1s to 30m
		},
		[]string{"job_type", "status"},
	)

	retentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaptn_insight_retention_deleted_samples_total",
			Help: "Samples removed by the retention sweep",
		},
		[]string{"granularity"},
	)
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordKubernetesRequest records metrics for Kubernetes API requests
func RecordKubernetesRequest(resource, verb string, err error, duration time.Duration) {
	labels := prometheus.Labels{
		"resource": resource,
		"verb":     verb,
		"status":   statusLabel(err),
	}

	kubernetesRequestsTotal.With(labels).Inc()
	kubernetesRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordResync records the outcome of one resync run
func RecordResync(result string, duration time.Duration) {
	resyncRunsTotal.With(prometheus.Labels{"result": result}).Inc()
	resyncDuration.Observe(duration.Seconds())
}

// RecordResyncRejected counts a resync request that lost the single-flight race
func RecordResyncRejected() {
	resyncRejectedTotal.Inc()
}

// UpdateSnapshotMetrics publishes the object counts of a freshly swapped snapshot
func UpdateSnapshotMetrics(nodes, namespaces, deployments, pods int, discoveredAt time.Time) {
	snapshotObjects.With(prometheus.Labels{"kind": "node"}).Set(float64(nodes))
	snapshotObjects.With(prometheus.Labels{"kind": "namespace"}).Set(float64(namespaces))
	snapshotObjects.With(prometheus.Labels{"kind": "deployment"}).Set(float64(deployments))
	snapshotObjects.With(prometheus.Labels{"kind": "pod"}).Set(float64(pods))
	snapshotLastDiscovered.Set(float64(discoveredAt.Unix()))
}

// RecordSourceRequest records a raw series fetch against a metric source
func RecordSourceRequest(source, scope string, duration time.Duration, hasError bool) {
	labels := prometheus.Labels{"source": source, "scope": scope}
	sourceRequestDuration.With(labels).Observe(duration.Seconds())

	if hasError {
		sourceRequestErrors.With(labels).Inc()
	}
}

// RecordAggregation records a scoped view computation
func RecordAggregation(scope, view, outcome string, members int, duration time.Duration) {
	aggregationDuration.With(prometheus.Labels{
		"scope":   scope,
		"view":    view,
		"outcome": outcome,
	}).Observe(duration.Seconds())

	if members > 0 {
		aggregationMembers.With(prometheus.Labels{"scope": scope}).Observe(float64(members))
	}
}

// RecordJob records job execution metrics
func RecordJob(jobType, status string, duration time.Duration) {
	labels := prometheus.Labels{
		"job_type": jobType,
		"status":   status,
	}

	jobsTotal.With(labels).Inc()
	jobDuration.With(labels).Observe(duration.Seconds())
}

// RecordRetentionDeleted records samples removed for one granularity tier
func RecordRetentionDeleted(granularity string, rows int64) {
	if rows > 0 {
		retentionDeletedTotal.With(prometheus.Labels{"granularity": granularity}).Add(float64(rows))
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
