package timeseries

// Field identifies one numeric field of a MetricPoint.
type Field string

// Metric field keys. The value doubles as the sample store column name.
const (
	CPUUsageNanoCores       Field = "cpu_usage_nano_cores"
	CPUUsageCoreNanoSeconds Field = "cpu_usage_core_nano_seconds"

	MemoryUsageBytes      Field = "memory_usage_bytes"
	MemoryWorkingSetBytes Field = "memory_working_set_bytes"
	MemoryRSSBytes        Field = "memory_rss_bytes"
	MemoryPageFaults      Field = "memory_page_faults"

	FSUsedBytes     Field = "fs_used_bytes"
	FSCapacityBytes Field = "fs_capacity_bytes"
	FSInodesUsed    Field = "fs_inodes_used"
	FSInodes        Field = "fs_inodes"

	NetworkRxBytes  Field = "network_rx_bytes"
	NetworkTxBytes  Field = "network_tx_bytes"
	NetworkRxErrors Field = "network_rx_errors"
	NetworkTxErrors Field = "network_tx_errors"
)

// AllFields lists every aggregated field in a stable order.
var AllFields = []Field{
	CPUUsageNanoCores,
	CPUUsageCoreNanoSeconds,
	MemoryUsageBytes,
	MemoryWorkingSetBytes,
	MemoryRSSBytes,
	MemoryPageFaults,
	FSUsedBytes,
	FSCapacityBytes,
	FSInodesUsed,
	FSInodes,
	NetworkRxBytes,
	NetworkTxBytes,
	NetworkRxErrors,
	NetworkTxErrors,
}

// String returns the field key
func (f Field) String() string {
	return string(f)
}

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	for _, k := range AllFields {
		if k == f {
			return true
		}
	}
	return false
}
