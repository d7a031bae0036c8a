package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ehsaniara/flowq/internal/flowq/monitor"
)

type monitorOptions struct {
	samples  int
	interval time.Duration
}

type monitorReport struct {
	Snapshots []monitor.Snapshot `json:"snapshots"`
	Health    monitor.Health     `json:"health"`
	Metrics   monitor.Metrics    `json:"metrics"`
}

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	mo := &monitorOptions{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Sample host and process load and print the derived health",
		Example: `  flowq monitor
  flowq monitor --samples 10 --interval 500ms --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mo.samples < 1 {
				return fmt.Errorf("--samples must be at least 1")
			}
			if mo.interval <= 0 {
				mo.interval = opts.cfg.Monitoring.Interval
			}
			m := monitor.New(opts.cfg.Monitoring, monitor.WithForceGC(func() {}))
			return runMonitor(cmd, opts, m, mo)
		},
	}

	cmd.Flags().IntVar(&mo.samples, "samples", 3, "Number of samples to take")
	cmd.Flags().DurationVar(&mo.interval, "interval", time.Second, "Delay between samples")
	return cmd
}

func runMonitor(cmd *cobra.Command, opts *rootOptions, m *monitor.Monitor, mo *monitorOptions) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	for i := 0; i < mo.samples; i++ {
		if i > 0 {
			select {
			case <-time.After(mo.interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := m.Tick(ctx); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "sample %d failed: %v\n", i+1, err)
			continue
		}
		if !opts.jsonOutput {
			snap, _ := m.LatestSnapshot()
			printSnapshot(w, snap)
		}
	}

	report := monitorReport{
		Snapshots: m.ResourceHistory(0),
		Health:    m.Health(),
		Metrics:   m.Metrics(),
	}
	if opts.jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	h := report.Health
	fmt.Fprintf(w, "\nHealth: %s (memory %s, cpu %s)\n", h.Status, h.Trends.Memory, h.Trends.CPU)
	for _, r := range h.Reasons {
		fmt.Fprintf(w, "  - %s\n", r)
	}
	fmt.Fprintf(w, "Peaks: memory %.1f%%, cpu %.1f%%, heap %.1f MB; alerts %d emitted, %d suppressed\n",
		report.Metrics.PeakMemoryPercent, report.Metrics.PeakCPUPercent, report.Metrics.PeakHeapMB,
		report.Metrics.AlertsEmitted, report.Metrics.AlertsSuppressed)
	return nil
}

func printSnapshot(w io.Writer, s monitor.Snapshot) {
	fmt.Fprintf(w, "%s  mem %5.1f%%  cpu %5.1f%%  heap %6.1f MB  goroutines %d",
		s.Timestamp.Format(time.TimeOnly),
		s.System.Memory.UsagePercent,
		s.System.CPU.UsagePercent,
		s.Process.Memory.HeapUsedMB(),
		s.Process.Goroutines)
	for _, a := range s.Alerts {
		fmt.Fprintf(w, "  [%s] %s", a.Severity, a.Message)
	}
	fmt.Fprintln(w)
}
