// Package monitor samples host and process load on a fixed cadence,
// raises rate-limited threshold alerts and derives an overall health.
//
// The monitor never touches the queue directly. It reads workflow counters
// through WorkflowStatsProvider and reports through events; admission
// control consults Health or HasActiveCritical.
package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ehsaniara/flowq/internal/flowq/events"
	"github.com/ehsaniara/flowq/pkg/config"
	"github.com/ehsaniara/flowq/pkg/errors"
	"github.com/ehsaniara/flowq/pkg/logger"
)

// Monitor owns its histories; several monitors can live in one process.
type Monitor struct {
	cfg       config.MonitoringConfig
	sampler   Sampler
	workflow  WorkflowStatsProvider
	publisher events.Publisher
	clock     func() time.Time
	forceGC   func()

	mu        sync.RWMutex
	snapshots *history[Snapshot]
	alerts    *history[Alert]
	cooldown  *cooldown
	metrics   Metrics

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	logger *logger.Logger
}

type Option func(*Monitor)

func WithSampler(s Sampler) Option {
	return func(m *Monitor) {
		if s != nil {
			m.sampler = s
		}
	}
}

func WithWorkflowStats(p WorkflowStatsProvider) Option {
	return func(m *Monitor) {
		m.workflow = p
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Monitor) {
		if p != nil {
			m.publisher = p
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithForceGC replaces the mitigation run on memory_critical
func WithForceGC(fn func()) Option {
	return func(m *Monitor) {
		m.forceGC = fn
	}
}

func New(cfg config.MonitoringConfig, opts ...Option) *Monitor {
	defaults := config.DefaultConfig.Monitoring
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.TrendWindow <= 0 {
		cfg.TrendWindow = defaults.TrendWindow
	}
	if cfg.RecentAlertWindow <= 0 {
		cfg.RecentAlertWindow = defaults.RecentAlertWindow
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaults.HistorySize
	}
	if cfg.AlertHistorySize <= 0 {
		cfg.AlertHistorySize = defaults.AlertHistorySize
	}

	m := &Monitor{
		cfg:       cfg,
		sampler:   NewProcSampler(""),
		publisher: events.Nop{},
		clock:     time.Now,
		forceGC:   runtime.GC,
		snapshots: newHistory(cfg.HistorySize, func(s Snapshot) time.Time { return s.Timestamp }),
		alerts:    newHistory(cfg.AlertHistorySize, func(a Alert) time.Time { return a.Timestamp }),
		cooldown:  newCooldown(cfg.AlertCooldown, cfg.CooldownScope),
		logger:    logger.WithField("component", "resource-monitor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins periodic sampling. The first sample is taken immediately.
// Starting a running monitor only logs a warning.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		m.logger.Warn("resource monitor already running")
		return nil
	}
	if !m.cfg.Enabled {
		m.logger.Info("resource monitor disabled")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(loopCtx, m.done)

	m.logger.Info("resource monitor started", "interval", m.cfg.Interval, "cooldown", m.cfg.AlertCooldown,
		"cooldownScope", m.cfg.CooldownScope)
	return nil
}

// Stop ends sampling and waits for the loop to exit. Stopping a stopped
// monitor only logs a warning.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		m.logger.Warn("resource monitor not running")
		return
	}
	m.running = false
	m.cancel()
	done := m.done
	m.runMu.Unlock()

	<-done
	m.logger.Info("resource monitor stopped")
}

func (m *Monitor) IsRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	_ = m.safeTick(ctx)
	for {
		select {
		case <-ticker.C:
			_ = m.safeTick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// safeTick keeps a panicking sampler from killing the loop
func (m *Monitor) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewMonitoringSampleError("tick", fmt.Errorf("panic: %v", r))
			m.recordFailure(err)
		}
	}()
	return m.Tick(ctx)
}

// Tick runs one sampling cycle synchronously. A sampling failure is
// counted, logged and returned; the histories are left unchanged.
func (m *Monitor) Tick(ctx context.Context) error {
	now := m.clock()

	system, process, err := m.sampler.Sample(ctx)
	if err != nil {
		if !stderrors.Is(err, errors.ErrSampleFailed) && !errors.IsContextError(err) {
			err = errors.NewMonitoringSampleError("sampler", err)
		}
		m.recordFailure(err)
		return err
	}

	snap := Snapshot{Timestamp: now, System: system, Process: process}
	if m.workflow != nil {
		snap.Workflow = m.workflow.WorkflowStats()
	}

	// only the global cooldown scope supersedes same-resource warnings
	candidates := evaluate(snap, m.cfg.Thresholds, now, m.cfg.CooldownScope != config.CooldownPerType)

	m.mu.Lock()
	accepted := make([]Alert, 0, len(candidates))
	for _, a := range candidates {
		if !m.cooldown.allow(a) {
			m.metrics.AlertsSuppressed++
			continue
		}
		accepted = append(accepted, a)
		m.alerts.add(a)
		m.metrics.AlertsEmitted++
	}
	snap.Alerts = accepted
	m.snapshots.add(snap)
	m.updatePeaks(snap)
	m.mu.Unlock()

	if len(candidates) > len(accepted) {
		m.logger.Debug("alerts suppressed by cooldown", "suppressed", len(candidates)-len(accepted))
	}

	m.publish(ctx, events.ResourceSnapshot, snap, now)
	for _, a := range accepted {
		m.emit(ctx, a)
	}
	return nil
}

func (m *Monitor) recordFailure(err error) {
	m.mu.Lock()
	m.metrics.SampleFailures++
	m.mu.Unlock()
	m.logger.Warn("resource sample failed", "error", err)
}

func (m *Monitor) updatePeaks(s Snapshot) {
	m.metrics.Samples++
	m.metrics.LastSampleAt = s.Timestamp
	m.metrics.PeakMemoryPercent = max(m.metrics.PeakMemoryPercent, s.System.Memory.UsagePercent)
	m.metrics.PeakCPUPercent = max(m.metrics.PeakCPUPercent, s.System.CPU.UsagePercent)
	m.metrics.PeakHeapMB = max(m.metrics.PeakHeapMB, s.Process.Memory.HeapUsedMB())
}

func (m *Monitor) emit(ctx context.Context, a Alert) {
	log := m.logger.WithFields("type", a.Type, "value", a.Value, "threshold", a.Threshold)
	if a.Severity == SeverityCritical {
		log.Error(a.Message)
	} else {
		log.Warn(a.Message)
	}

	m.publish(ctx, events.Alert, a, a.Timestamp)
	if a.Severity != SeverityCritical {
		return
	}

	m.publish(ctx, events.CriticalAlert, a, a.Timestamp)
	m.handleCritical(ctx, a)
}

// handleCritical runs the built-in mitigation for a critical alert. CPU
// pressure is only announced; shedding load is up to subscribers.
func (m *Monitor) handleCritical(ctx context.Context, a Alert) {
	switch a.Type {
	case AlertMemoryCritical:
		if m.forceGC != nil {
			m.forceGC()
			m.mu.Lock()
			m.metrics.ForcedGCs++
			m.mu.Unlock()
			m.logger.Info("forced garbage collection after critical memory alert")
		}
		m.publish(ctx, events.MemoryCritical, a, a.Timestamp)
	case AlertCPUCritical:
		m.publish(ctx, events.CPUCritical, a, a.Timestamp)
	}
}

func (m *Monitor) publish(ctx context.Context, t events.Type, payload any, ts time.Time) {
	if err := m.publisher.Publish(ctx, events.Event{Type: t, Payload: payload, Timestamp: ts}); err != nil {
		m.logger.Debug("failed to publish monitor event", "type", t, "error", err)
	}
}

// LatestSnapshot returns the newest snapshot, if any
func (m *Monitor) LatestSnapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots.last()
}

// ResourceHistory returns snapshots taken within the last d; d <= 0
// returns the whole retained history.
func (m *Monitor) ResourceHistory(d time.Duration) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshots.since(m.cutoff(d))
}

func (m *Monitor) AlertHistory(d time.Duration) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.alerts.since(m.cutoff(d))
}

func (m *Monitor) cutoff(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return m.clock().Add(-d)
}

func (m *Monitor) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}
