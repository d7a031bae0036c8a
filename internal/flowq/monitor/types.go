package monitor

import (
	"time"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type AlertType string

const (
	AlertMemoryHigh        AlertType = "memory_high"
	AlertCPUHigh           AlertType = "cpu_high"
	AlertProcessMemoryHigh AlertType = "process_memory_high"
	AlertMemoryCritical    AlertType = "memory_critical"
	AlertCPUCritical       AlertType = "cpu_critical"
)

// resource groups alert types that describe the same measurement
func (t AlertType) resource() string {
	switch t {
	case AlertMemoryHigh, AlertMemoryCritical:
		return "memory"
	case AlertCPUHigh, AlertCPUCritical:
		return "cpu"
	default:
		return string(t)
	}
}

type Alert struct {
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

type MemoryUsage struct {
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	Free         uint64  `json:"free"`
	UsagePercent float64 `json:"usagePct"`
}

type CPUUsage struct {
	UsagePercent float64    `json:"usagePct"`
	Cores        int        `json:"cores"`
	LoadAverage  [3]float64 `json:"loadAvg"`
}

type SystemUsage struct {
	Memory MemoryUsage `json:"memory"`
	CPU    CPUUsage    `json:"cpu"`
}

type ProcessMemory struct {
	RSS       uint64 `json:"rss"`
	HeapUsed  uint64 `json:"heapUsed"`
	HeapTotal uint64 `json:"heapTotal"`
}

// HeapUsedMB is the live heap in MiB, the unit of the process threshold.
func (m ProcessMemory) HeapUsedMB() float64 {
	return float64(m.HeapUsed) / (1024 * 1024)
}

type ProcessUsage struct {
	Memory     ProcessMemory `json:"memory"`
	CPU        CPUUsage      `json:"cpu"`
	Goroutines int           `json:"goroutines"`
}

// Snapshot is one sampling cycle. Alerts holds the alerts this snapshot
// actually emitted, after cooldown.
type Snapshot struct {
	Timestamp time.Time            `json:"timestamp"`
	System    SystemUsage          `json:"system"`
	Process   ProcessUsage         `json:"process"`
	Workflow  domain.WorkflowStats `json:"workflow"`
	Alerts    []Alert              `json:"alerts"`
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Trends compares the first and last snapshot inside the trend window
type Trends struct {
	Memory Trend `json:"memory"`
	CPU    Trend `json:"cpu"`
}

type Health struct {
	Status       HealthStatus `json:"status"`
	Latest       *Snapshot    `json:"latest,omitempty"`
	RecentAlerts int          `json:"recentAlerts"`
	Trends       Trends       `json:"trends"`
	Reasons      []string     `json:"reasons,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Metrics are running counters and peaks since the monitor was created
type Metrics struct {
	Samples           uint64    `json:"samples"`
	SampleFailures    uint64    `json:"sampleFailures"`
	AlertsEmitted     uint64    `json:"alertsEmitted"`
	AlertsSuppressed  uint64    `json:"alertsSuppressed"`
	ForcedGCs         uint64    `json:"forcedGCs"`
	PeakMemoryPercent float64   `json:"peakMemoryPct"`
	PeakCPUPercent    float64   `json:"peakCpuPct"`
	PeakHeapMB        float64   `json:"peakHeapMb"`
	LastSampleAt      time.Time `json:"lastSampleAt,omitempty"`
}
