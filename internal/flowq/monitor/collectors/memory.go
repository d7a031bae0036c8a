package collectors

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ehsaniara/flowq/pkg/logger"
)

// MemoryStats is host memory in bytes
type MemoryStats struct {
	TotalBytes     uint64
	UsedBytes      uint64
	FreeBytes      uint64
	AvailableBytes uint64
	UsagePercent   float64
}

// MemoryCollector collects memory metrics from /proc/meminfo
type MemoryCollector struct {
	procRoot string
	logger   *logger.Logger
}

func NewMemoryCollector(procRoot string) *MemoryCollector {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	return &MemoryCollector{
		procRoot: procRoot,
		logger:   logger.WithField("component", "memory-collector"),
	}
}

// Collect reads meminfo. Used memory is total minus available; kernels
// without MemAvailable fall back to free + buffers + cached.
func (c *MemoryCollector) Collect() (MemoryStats, error) {
	meminfo, err := c.readMemInfo()
	if err != nil {
		return MemoryStats{}, fmt.Errorf("failed to read memory info: %w", err)
	}

	total := meminfo["MemTotal"]
	if total == 0 {
		return MemoryStats{}, fmt.Errorf("meminfo reports zero MemTotal")
	}

	available, ok := meminfo["MemAvailable"]
	if !ok {
		available = meminfo["MemFree"] + meminfo["Buffers"] + meminfo["Cached"]
	}
	if available > total {
		available = total
	}
	used := total - available

	// meminfo values are in kB
	return MemoryStats{
		TotalBytes:     total * 1024,
		UsedBytes:      used * 1024,
		FreeBytes:      meminfo["MemFree"] * 1024,
		AvailableBytes: available * 1024,
		UsagePercent:   clampPercent(float64(used) / float64(total) * 100.0),
	}, nil
}

func (c *MemoryCollector) readMemInfo() (map[string]uint64, error) {
	file, err := os.Open(filepath.Join(c.procRoot, "meminfo"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	meminfo := make(map[string]uint64)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		key := strings.TrimSuffix(fields[0], ":")
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			c.logger.Debug("failed to parse memory value", "key", key, "value", fields[1])
			continue
		}
		meminfo[key] = value
	}

	return meminfo, scanner.Err()
}
