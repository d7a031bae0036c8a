package monitor

import (
	"context"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/monitor/collectors"
	"github.com/ehsaniara/flowq/pkg/errors"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// Sampler captures system and process usage for one snapshot.
//
//counterfeiter:generate . Sampler
type Sampler interface {
	Sample(ctx context.Context) (SystemUsage, ProcessUsage, error)
}

// WorkflowStatsProvider supplies the workflow counters of a snapshot
type WorkflowStatsProvider interface {
	WorkflowStats() domain.WorkflowStats
}

// ProcSampler reads procfs and the Go runtime
type ProcSampler struct {
	cpu     *collectors.CPUCollector
	memory  *collectors.MemoryCollector
	process *collectors.ProcessCollector
}

// NewProcSampler samples the calling process. An empty procRoot means /proc.
func NewProcSampler(procRoot string) *ProcSampler {
	return &ProcSampler{
		cpu:     collectors.NewCPUCollector(procRoot),
		memory:  collectors.NewMemoryCollector(procRoot),
		process: collectors.NewProcessCollector(procRoot, 0),
	}
}

func (p *ProcSampler) Sample(ctx context.Context) (SystemUsage, ProcessUsage, error) {
	if err := ctx.Err(); err != nil {
		return SystemUsage{}, ProcessUsage{}, err
	}

	cpu, err := p.cpu.Collect()
	if err != nil {
		return SystemUsage{}, ProcessUsage{}, errors.NewMonitoringSampleError("cpu", err)
	}
	mem, err := p.memory.Collect()
	if err != nil {
		return SystemUsage{}, ProcessUsage{}, errors.NewMonitoringSampleError("memory", err)
	}
	proc, err := p.process.Collect()
	if err != nil {
		return SystemUsage{}, ProcessUsage{}, errors.NewMonitoringSampleError("process", err)
	}

	system := SystemUsage{
		Memory: MemoryUsage{
			Total:        mem.TotalBytes,
			Used:         mem.UsedBytes,
			Free:         mem.FreeBytes,
			UsagePercent: mem.UsagePercent,
		},
		CPU: CPUUsage{
			UsagePercent: cpu.UsagePercent,
			Cores:        cpu.Cores,
			LoadAverage:  cpu.LoadAverage,
		},
	}
	process := ProcessUsage{
		Memory: ProcessMemory{
			RSS:       proc.RSSBytes,
			HeapUsed:  proc.HeapAllocBytes,
			HeapTotal: proc.HeapSysBytes,
		},
		CPU:        CPUUsage{UsagePercent: proc.CPUPercent, Cores: cpu.Cores},
		Goroutines: proc.Goroutines,
	}
	return system, process, nil
}
