package timeseries

import "time"

// CPUMetrics groups processor usage fields.
type CPUMetrics struct {
	UsageNanoCores       *float64 `json:"usage_nano_cores"`
	UsageCoreNanoSeconds *float64 `json:"usage_core_nano_seconds"`
}

// MemoryMetrics groups memory usage fields.
type MemoryMetrics struct {
	UsageBytes      *float64 `json:"usage_bytes"`
	WorkingSetBytes *float64 `json:"working_set_bytes"`
	RSSBytes        *float64 `json:"rss_bytes"`
	PageFaults      *float64 `json:"page_faults"`
}

// FSMetrics groups filesystem usage fields.
type FSMetrics struct {
	UsedBytes     *float64 `json:"used_bytes"`
	CapacityBytes *float64 `json:"capacity_bytes"`
	InodesUsed    *float64 `json:"inodes_used"`
	Inodes        *float64 `json:"inodes"`
}

// NetworkMetrics groups network traffic fields.
type NetworkMetrics struct {
	RxBytes  *float64 `json:"rx_bytes"`
	TxBytes  *float64 `json:"tx_bytes"`
	RxErrors *float64 `json:"rx_errors"`
	TxErrors *float64 `json:"tx_errors"`
}

// MetricPoint is one resource's sample at one instant. A nil field means the
// value was not reported, which is different from a reported zero.
type MetricPoint struct {
	Time    time.Time      `json:"time"`
	CPU     CPUMetrics     `json:"cpu"`
	Memory  MemoryMetrics  `json:"memory"`
	FS      FSMetrics      `json:"fs"`
	Network NetworkMetrics `json:"network"`
}

// NewPoint creates an empty point at t.
func NewPoint(t time.Time) MetricPoint {
	return MetricPoint{Time: t}
}

// Get returns the value of field f, or nil when absent.
func (p *MetricPoint) Get(f Field) *float64 {
	if ref := p.ref(f); ref != nil {
		return *ref
	}
	return nil
}

// Set stores v in field f. A nil v clears the field.
func (p *MetricPoint) Set(f Field, v *float64) {
	if ref := p.ref(f); ref != nil {
		*ref = v
	}
}

// IsEmpty reports whether no field is present.
func (p *MetricPoint) IsEmpty() bool {
	for _, f := range AllFields {
		if p.Get(f) != nil {
			return false
		}
	}
	return true
}

func (p *MetricPoint) ref(f Field) **float64 {
	switch f {
	case CPUUsageNanoCores:
		return &p.CPU.UsageNanoCores
	case CPUUsageCoreNanoSeconds:
		return &p.CPU.UsageCoreNanoSeconds
	case MemoryUsageBytes:
		return &p.Memory.UsageBytes
	case MemoryWorkingSetBytes:
		return &p.Memory.WorkingSetBytes
	case MemoryRSSBytes:
		return &p.Memory.RSSBytes
	case MemoryPageFaults:
		return &p.Memory.PageFaults
	case FSUsedBytes:
		return &p.FS.UsedBytes
	case FSCapacityBytes:
		return &p.FS.CapacityBytes
	case FSInodesUsed:
		return &p.FS.InodesUsed
	case FSInodes:
		return &p.FS.Inodes
	case NetworkRxBytes:
		return &p.Network.RxBytes
	case NetworkTxBytes:
		return &p.Network.TxBytes
	case NetworkRxErrors:
		return &p.Network.RxErrors
	case NetworkTxErrors:
		return &p.Network.TxErrors
	}
	return nil
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 {
	return &v
}
