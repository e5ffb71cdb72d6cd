package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"k8s.io/client-go/rest"

	appmetrics "github.com/aaronlmathis/kaptn-insight/internal/metrics"
)

// CPUStats mirrors the kubelet summary cpu block.
type CPUStats struct {
	Time                 time.Time `json:"time"`
	UsageNanoCores       *uint64   `json:"usageNanoCores,omitempty"`
	UsageCoreNanoSeconds *uint64   `json:"usageCoreNanoSeconds,omitempty"`
}

// MemoryStats mirrors the kubelet summary memory block.
type MemoryStats struct {
	Time            time.Time `json:"time"`
	UsageBytes      *uint64   `json:"usageBytes,omitempty"`
	WorkingSetBytes *uint64   `json:"workingSetBytes,omitempty"`
	RSSBytes        *uint64   `json:"rssBytes,omitempty"`
	PageFaults      *uint64   `json:"pageFaults,omitempty"`
}

// FsStats mirrors the kubelet summary filesystem block.
type FsStats struct {
	Time          time.Time `json:"time"`
	UsedBytes     *uint64   `json:"usedBytes,omitempty"`
	CapacityBytes *uint64   `json:"capacityBytes,omitempty"`
	Inodes        *uint64   `json:"inodes,omitempty"`
	InodesUsed    *uint64   `json:"inodesUsed,omitempty"`
}

// InterfaceStats represents network statistics for a single network interface
type InterfaceStats struct {
	Name     string  `json:"name"`
	RxBytes  *uint64 `json:"rxBytes,omitempty"`
	RxErrors *uint64 `json:"rxErrors,omitempty"`
	TxBytes  *uint64 `json:"txBytes,omitempty"`
	TxErrors *uint64 `json:"txErrors,omitempty"`
}

// NetworkStats mirrors the kubelet summary network block. Counters are
// cumulative since interface creation.
type NetworkStats struct {
	Time time.Time `json:"time"`
	InterfaceStats
	Interfaces []InterfaceStats `json:"interfaces,omitempty"`
}

// ContainerStats is one container of a pod in the summary.
type ContainerStats struct {
	Name   string       `json:"name"`
	CPU    *CPUStats    `json:"cpu,omitempty"`
	Memory *MemoryStats `json:"memory,omitempty"`
	Rootfs *FsStats     `json:"rootfs,omitempty"`
}

// PodReference identifies a pod in the summary.
type PodReference struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	UID       string `json:"uid"`
}

// PodStats is one pod in the summary.
type PodStats struct {
	PodRef           PodReference     `json:"podRef"`
	Containers       []ContainerStats `json:"containers"`
	CPU              *CPUStats        `json:"cpu,omitempty"`
	Memory           *MemoryStats     `json:"memory,omitempty"`
	Network          *NetworkStats    `json:"network,omitempty"`
	EphemeralStorage *FsStats         `json:"ephemeral-storage,omitempty"`
}

// NodeStats is the node block of the summary.
type NodeStats struct {
	NodeName string        `json:"nodeName"`
	CPU      *CPUStats     `json:"cpu,omitempty"`
	Memory   *MemoryStats  `json:"memory,omitempty"`
	Network  *NetworkStats `json:"network,omitempty"`
	Fs       *FsStats      `json:"fs,omitempty"`
}

// Summary represents the kubelet /stats/summary response
type Summary struct {
	Node NodeStats  `json:"node"`
	Pods []PodStats `json:"pods"`
}

// FindPod returns the pod with the given uid.
func (s *Summary) FindPod(uid string) (*PodStats, bool) {
	for i := range s.Pods {
		if s.Pods[i].PodRef.UID == uid {
			return &s.Pods[i], true
		}
	}
	return nil, false
}

// FindContainer returns the named container of the pod.
func (p *PodStats) FindContainer(name string) (*ContainerStats, bool) {
	for i := range p.Containers {
		if p.Containers[i].Name == name {
			return &p.Containers[i], true
		}
	}
	return nil, false
}

// totals returns the network counters, preferring the per-interface sum when
// interfaces are listed.
func (n *NetworkStats) totals() InterfaceStats {
	if len(n.Interfaces) == 0 {
		return n.InterfaceStats
	}
	var out InterfaceStats
	for _, iface := range n.Interfaces {
		out.RxBytes = addCounter(out.RxBytes, iface.RxBytes)
		out.TxBytes = addCounter(out.TxBytes, iface.TxBytes)
		out.RxErrors = addCounter(out.RxErrors, iface.RxErrors)
		out.TxErrors = addCounter(out.TxErrors, iface.TxErrors)
	}
	return out
}

func addCounter(sum, v *uint64) *uint64 {
	if v == nil {
		return sum
	}
	total := *v
	if sum != nil {
		total += *sum
	}
	return &total
}

// SummaryClient reads kubelet summaries through the API server node proxy.
type SummaryClient struct {
	logger     *zap.Logger
	host       string
	httpClient *http.Client
}

// NewSummaryClient creates a kubelet summary client from a rest config.
func NewSummaryClient(logger *zap.Logger, restConfig *rest.Config, insecureTLS bool, timeout time.Duration) (*SummaryClient, error) {
	configCopy := rest.CopyConfig(restConfig)

	if insecureTLS {
		configCopy.TLSClientConfig.Insecure = true
		configCopy.TLSClientConfig.CAFile = ""
		configCopy.TLSClientConfig.CAData = nil
		logger.Warn("Summary API configured with insecure TLS - certificate verification disabled")
	}

	// The rest transport carries kubeconfig or service account credentials
	transport, err := rest.TransportFor(configCopy)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &SummaryClient{
		logger:     logger,
		host:       configCopy.Host,
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
	}, nil
}

// NodeSummary fetches summary statistics from a specific node's kubelet
func (c *SummaryClient) NodeSummary(ctx context.Context, nodeName string) (*Summary, error) {
	url := fmt.Sprintf("%s/api/v1/nodes/%s/proxy/stats/summary", c.host, nodeName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	appmetrics.RecordKubernetesRequest("nodes/proxy", "get", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to make request to node %s: %w", nodeName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("Summary API request failed",
			zap.String("node", nodeName),
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return nil, fmt.Errorf("node %s returned status %d", nodeName, resp.StatusCode)
	}

	var summary Summary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary stats: %w", err)
	}
	return &summary, nil
}
