package collectors

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ehsaniara/flowq/pkg/logger"
)

// clockTicks is USER_HZ, 100 on every mainstream Linux build
const clockTicks = 100

// ProcessStats describes the current process
type ProcessStats struct {
	RSSBytes       uint64
	HeapAllocBytes uint64
	HeapSysBytes   uint64
	CPUPercent     float64
	Threads        int
	Goroutines     int
}

// HeapAllocMB is the live heap in MiB
func (p ProcessStats) HeapAllocMB() float64 {
	return float64(p.HeapAllocBytes) / (1024 * 1024)
}

// ProcessCollector reads /proc/<pid>/stat and the Go runtime memory stats.
type ProcessCollector struct {
	statPath string
	pageSize uint64
	now      func() time.Time

	mu        sync.Mutex
	lastTicks uint64
	lastTime  time.Time

	logger *logger.Logger
}

// NewProcessCollector observes pid, or the calling process when pid is 0.
func NewProcessCollector(procRoot string, pid int) *ProcessCollector {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	self := "self"
	if pid > 0 {
		self = strconv.Itoa(pid)
	}
	return &ProcessCollector{
		statPath: filepath.Join(procRoot, self, "stat"),
		pageSize: uint64(os.Getpagesize()),
		now:      time.Now,
		logger:   logger.WithField("component", "process-collector"),
	}
}

func (c *ProcessCollector) Collect() (ProcessStats, error) {
	stat, err := c.readStat()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("failed to read process stat: %w", err)
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := ProcessStats{
		RSSBytes:       stat.rssPages * c.pageSize,
		HeapAllocBytes: mem.HeapAlloc,
		HeapSysBytes:   mem.HeapSys,
		Threads:        stat.threads,
		Goroutines:     runtime.NumGoroutine(),
	}

	now := c.now()
	ticks := stat.utime + stat.stime

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lastTime.IsZero() && now.After(c.lastTime) && ticks >= c.lastTicks {
		elapsed := now.Sub(c.lastTime).Seconds()
		stats.CPUPercent = float64(ticks-c.lastTicks) / clockTicks / elapsed * 100.0
	}
	c.lastTicks = ticks
	c.lastTime = now

	return stats, nil
}

type procStat struct {
	utime    uint64
	stime    uint64
	threads  int
	rssPages uint64
}

// readStat parses the fields after the parenthesised command name, which
// may itself contain spaces.
func (c *ProcessCollector) readStat() (procStat, error) {
	data, err := os.ReadFile(c.statPath)
	if err != nil {
		return procStat{}, err
	}

	content := string(data)
	end := strings.LastIndex(content, ")")
	if end < 0 {
		return procStat{}, fmt.Errorf("malformed stat line")
	}

	// rest[0] is field 3 (state)
	rest := strings.Fields(content[end+1:])
	if len(rest) < 22 {
		return procStat{}, fmt.Errorf("stat has %d fields after comm, want at least 22", len(rest))
	}

	threads, _ := strconv.Atoi(rest[17])
	return procStat{
		utime:    parseUint64(rest[11]),
		stime:    parseUint64(rest[12]),
		threads:  threads,
		rssPages: parseUint64(rest[21]),
	}, nil
}
