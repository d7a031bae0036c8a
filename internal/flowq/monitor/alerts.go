package monitor

import (
	"fmt"
	"time"

	"github.com/ehsaniara/flowq/pkg/config"
)

// evaluate checks every threshold against one snapshot. Critical alerts
// come first. With supersede set, a critical alert drops the warning for
// the same resource; otherwise every breached threshold yields an alert.
func evaluate(s Snapshot, th config.ThresholdsConfig, now time.Time, supersede bool) []Alert {
	mem := s.System.Memory.UsagePercent
	cpu := s.System.CPU.UsagePercent
	heapMB := s.Process.Memory.HeapUsedMB()

	var critical, warning []Alert
	if mem > th.MemoryCritical {
		critical = append(critical, newAlert(AlertMemoryCritical, SeverityCritical, mem, th.MemoryCritical, now,
			"system memory usage %.1f%% is above %.0f%%"))
	}
	if cpu > th.CPUCritical {
		critical = append(critical, newAlert(AlertCPUCritical, SeverityCritical, cpu, th.CPUCritical, now,
			"CPU usage %.1f%% is above %.0f%%"))
	}
	if mem > th.MemoryWarning {
		warning = append(warning, newAlert(AlertMemoryHigh, SeverityWarning, mem, th.MemoryWarning, now,
			"system memory usage %.1f%% is above %.0f%%"))
	}
	if cpu > th.CPUWarning {
		warning = append(warning, newAlert(AlertCPUHigh, SeverityWarning, cpu, th.CPUWarning, now,
			"CPU usage %.1f%% is above %.0f%%"))
	}
	if th.ProcessMemoryMB > 0 && heapMB > th.ProcessMemoryMB {
		warning = append(warning, newAlert(AlertProcessMemoryHigh, SeverityWarning, heapMB, th.ProcessMemoryMB, now,
			"process heap %.1f MB is above %.0f MB"))
	}

	out := critical
	for _, w := range warning {
		if !supersede || !coveredBy(w, critical) {
			out = append(out, w)
		}
	}
	return out
}

func newAlert(t AlertType, sev Severity, value, threshold float64, now time.Time, format string) Alert {
	return Alert{
		Type:      t,
		Severity:  sev,
		Message:   fmt.Sprintf(format, value, threshold),
		Value:     value,
		Threshold: threshold,
		Timestamp: now,
	}
}

func coveredBy(warning Alert, critical []Alert) bool {
	for _, c := range critical {
		if c.Type.resource() == warning.Type.resource() {
			return true
		}
	}
	return false
}

// cooldown rate-limits accepted alerts. In global scope one clock covers
// every alert type; in per-type scope each type has its own.
type cooldown struct {
	window  time.Duration
	perType bool
	last    time.Time
	byType  map[AlertType]time.Time
}

func newCooldown(window time.Duration, scope string) *cooldown {
	return &cooldown{
		window:  window,
		perType: scope == config.CooldownPerType,
		byType:  make(map[AlertType]time.Time),
	}
}

// allow reports whether a may be emitted and, if so, starts its window.
func (c *cooldown) allow(a Alert) bool {
	last := c.last
	if c.perType {
		last = c.byType[a.Type]
	}
	if !last.IsZero() && a.Timestamp.Sub(last) < c.window {
		return false
	}

	c.last = a.Timestamp
	c.byType[a.Type] = a.Timestamp
	return true
}
