// Package collectors reads host and process load from procfs and the Go
// runtime.
package collectors

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ehsaniara/flowq/pkg/logger"
)

const DefaultProcRoot = "/proc"

// CPUStats is one CPU reading. UsagePercent is computed from the tick delta
// since the previous Collect and is 0 on the first call.
type CPUStats struct {
	UsagePercent float64
	Cores        int
	LoadAverage  [3]float64
}

// CPUCollector collects CPU usage from /proc/stat and /proc/loadavg
type CPUCollector struct {
	procRoot string
	mu       sync.Mutex
	last     *cpuTicks
	logger   *logger.Logger
}

type cpuTicks struct {
	total uint64
	idle  uint64
	cores int
}

func NewCPUCollector(procRoot string) *CPUCollector {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &CPUCollector{
		procRoot: procRoot,
		logger:   logger.WithField("component", "cpu-collector"),
	}
}

func (c *CPUCollector) Collect() (CPUStats, error) {
	current, err := c.readTicks()
	if err != nil {
		return CPUStats{}, fmt.Errorf("failed to read CPU stats: %w", err)
	}

	loadAvg, err := c.readLoadAverage()
	if err != nil {
		// load average is informational only
		c.logger.Debug("failed to read load average", "error", err)
	}

	stats := CPUStats{Cores: current.cores, LoadAverage: loadAvg}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil && current.total > c.last.total {
		totalDelta := float64(current.total - c.last.total)
		idleDelta := float64(current.idle - c.last.idle)
		stats.UsagePercent = clampPercent((1.0 - idleDelta/totalDelta) * 100.0)
	}
	c.last = current

	return stats, nil
}

// readTicks sums the aggregate "cpu" line. iowait counts as idle.
func (c *CPUCollector) readTicks() (*cpuTicks, error) {
	file, err := os.Open(filepath.Join(c.procRoot, "stat"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	ticks := &cpuTicks{}
	found := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}

		switch {
		case fields[0] == "cpu":
			found = true
			// user nice system idle iowait irq softirq [steal]
			for i := 1; i < len(fields) && i <= 8; i++ {
				v := parseUint64(fields[i])
				ticks.total += v
				if i == 4 || i == 5 {
					ticks.idle += v
				}
			}
		case strings.HasPrefix(fields[0], "cpu"):
			ticks.cores++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no aggregate cpu line in %s", file.Name())
	}
	return ticks, nil
}

func (c *CPUCollector) readLoadAverage() ([3]float64, error) {
	data, err := os.ReadFile(filepath.Join(c.procRoot, "loadavg"))
	if err != nil {
		return [3]float64{}, err
	}

	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return [3]float64{}, fmt.Errorf("invalid loadavg format")
	}

	var load [3]float64
	for i := range load {
		load[i], _ = strconv.ParseFloat(fields[i], 64)
	}
	return load, nil
}

func parseUint64(s string) uint64 {
	val, _ := strconv.ParseUint(s, 10, 64)
	return val
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
