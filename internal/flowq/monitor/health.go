package monitor

import (
	"fmt"
)

// trendDelta is the percentage-point change that counts as a trend
const trendDelta = 5.0

// Health combines the latest snapshot, alerts inside the recent window
// and the usage trend over the trend window.
//
//   - unknown: no snapshot yet
//   - critical: latest usage above a critical threshold, or a critical
//     alert inside the recent window
//   - warning: latest usage above a warning threshold, or any alert inside
//     the recent window
//   - healthy: otherwise
func (m *Monitor) Health() Health {
	now := m.clock()

	m.mu.RLock()
	latest, ok := m.snapshots.last()
	recent := m.alerts.since(now.Add(-m.cfg.RecentAlertWindow))
	window := m.snapshots.since(now.Add(-m.cfg.TrendWindow))
	m.mu.RUnlock()

	if !ok {
		return Health{
			Status:    HealthUnknown,
			Trends:    Trends{Memory: TrendStable, CPU: TrendStable},
			Timestamp: now,
		}
	}

	h := Health{
		Status:       HealthHealthy,
		Latest:       &latest,
		RecentAlerts: len(recent),
		Trends:       trends(window),
		Timestamp:    now,
	}

	th := m.cfg.Thresholds
	mem := latest.System.Memory.UsagePercent
	cpu := latest.System.CPU.UsagePercent

	var critical, warning []string
	if mem > th.MemoryCritical {
		critical = append(critical, fmt.Sprintf("memory %.1f%% > %.0f%%", mem, th.MemoryCritical))
	} else if mem > th.MemoryWarning {
		warning = append(warning, fmt.Sprintf("memory %.1f%% > %.0f%%", mem, th.MemoryWarning))
	}
	if cpu > th.CPUCritical {
		critical = append(critical, fmt.Sprintf("cpu %.1f%% > %.0f%%", cpu, th.CPUCritical))
	} else if cpu > th.CPUWarning {
		warning = append(warning, fmt.Sprintf("cpu %.1f%% > %.0f%%", cpu, th.CPUWarning))
	}
	if heap := latest.Process.Memory.HeapUsedMB(); th.ProcessMemoryMB > 0 && heap > th.ProcessMemoryMB {
		warning = append(warning, fmt.Sprintf("process heap %.0fMB > %.0fMB", heap, th.ProcessMemoryMB))
	}

	recentCritical := 0
	for _, a := range recent {
		if a.Severity == SeverityCritical {
			recentCritical++
		}
	}
	if recentCritical > 0 {
		critical = append(critical, fmt.Sprintf("%d critical alert(s) in the last %s", recentCritical, m.cfg.RecentAlertWindow))
	} else if len(recent) > 0 {
		warning = append(warning, fmt.Sprintf("%d alert(s) in the last %s", len(recent), m.cfg.RecentAlertWindow))
	}

	switch {
	case len(critical) > 0:
		h.Status = HealthCritical
		h.Reasons = critical
	case len(warning) > 0:
		h.Status = HealthWarning
		h.Reasons = warning
	}
	return h
}

// HasActiveCritical reports whether the monitor currently sees a critical
// condition.
func (m *Monitor) HasActiveCritical() bool {
	return m.Health().Status == HealthCritical
}

func trends(window []Snapshot) Trends {
	if len(window) < 2 {
		return Trends{Memory: TrendStable, CPU: TrendStable}
	}
	first, last := window[0], window[len(window)-1]
	return Trends{
		Memory: trendOf(first.System.Memory.UsagePercent, last.System.Memory.UsagePercent),
		CPU:    trendOf(first.System.CPU.UsagePercent, last.System.CPU.UsagePercent),
	}
}

func trendOf(first, last float64) Trend {
	switch diff := last - first; {
	case diff > trendDelta:
		return TrendIncreasing
	case diff < -trendDelta:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
