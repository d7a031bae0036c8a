// Package queue holds the per-project execution queues.
//
// Every project has its own queue and lock. Positions are derived from
// (priority desc, admission asc) over queued and running items and are
// recomputed whenever a queue's composition changes. Items only move
// forward: queued -> running -> completed | failed | cancelled, and
// queued -> cancelled.
//
// Cancellation of a running item is cooperative: the item is marked
// cancelled and the executor is expected to poll IsCancelled between steps.
package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/events"
	"github.com/ehsaniara/flowq/pkg/config"
	"github.com/ehsaniara/flowq/pkg/errors"
	"github.com/ehsaniara/flowq/pkg/logger"
)

// Manager owns the queues of every project
type Manager struct {
	mu       sync.RWMutex
	projects map[string]*projectQueue

	cfg   config.QueueConfig
	seq   atomic.Uint64
	clock func() time.Time
	newID func() string

	publisher    events.Publisher
	admission    AdmissionPolicy
	classifier   Classifier
	mirrorTarget Mirror
	mirrorBuffer int
	mirror       *mirrorWriter

	notify chan struct{}
	logger *logger.Logger
}

func NewManager(cfg config.QueueConfig, opts ...Option) *Manager {
	if cfg.MaxRunningPerProject < 1 {
		cfg.MaxRunningPerProject = 1
	}
	if cfg.DefaultEstimatedDuration <= 0 {
		cfg.DefaultEstimatedDuration = config.DefaultConfig.Queue.DefaultEstimatedDuration
	}

	m := &Manager{
		projects:  make(map[string]*projectQueue),
		cfg:       cfg,
		clock:     time.Now,
		newID:     uuid.NewString,
		publisher: events.Nop{},
		notify:    make(chan struct{}, 1),
		logger:    logger.WithField("component", "queue"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.mirrorTarget != nil {
		m.mirror = newMirrorWriter(m.mirrorTarget, m.mirrorBuffer, m.logger.WithField("sub", "mirror"))
	}
	return m
}

// Close flushes pending mirror writes
func (m *Manager) Close() {
	m.mirror.close()
}

// Notify signals that work may be claimable: new admissions and freed
// running slots both send on it.
func (m *Manager) Notify() <-chan struct{} {
	return m.notify
}

func (m *Manager) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) project(projectID string) (*projectQueue, error) {
	m.mu.RLock()
	p, ok := m.projects[projectID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("project", projectID)
	}
	return p, nil
}

func (m *Manager) getOrCreateProject(projectID string) *projectQueue {
	m.mu.RLock()
	p, ok := m.projects[projectID]
	m.mu.RUnlock()
	if ok {
		return p
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[projectID]; ok {
		return p
	}
	p = newProjectQueue(projectID)
	m.projects[projectID] = p
	return p
}

func (m *Manager) snapshotProjects() []*projectQueue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*projectQueue, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	return out
}

// Projects returns the known project ids, sorted
func (m *Manager) Projects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.projects))
	for id := range m.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Submit classifies steps and admits the resulting plan.
func (m *Manager) Submit(ctx context.Context, projectID, userID string, steps []domain.StepSpec,
	execCtx domain.ExecutionContext, workflow map[string]any, opts AdmitOptions) (*domain.QueueItem, error) {
	if m.classifier == nil {
		return nil, fmt.Errorf("queue has no classifier configured")
	}

	plan := domain.Plan{Steps: steps, Context: execCtx, Workflow: workflow}
	plan.Classification = m.classifier.Classify(plan.StepNames(), execCtx)
	return m.Admit(ctx, projectID, userID, plan, opts)
}

// Admit appends a new queued item to the project's queue.
func (m *Manager) Admit(ctx context.Context, projectID, userID string, plan domain.Plan, opts AdmitOptions) (*domain.QueueItem, error) {
	if err := validateAdmission(projectID, userID, &plan, opts); err != nil {
		return nil, err
	}

	if m.admission != nil {
		if err := m.admission.Allow(ctx, projectID, &plan); err != nil {
			if !errors.IsAdmissionError(err) {
				err = errors.NewAdmissionError(projectID, err.Error())
			}
			m.logger.Warn("admission rejected", "projectId", projectID, "userId", userID, "error", err)
			return nil, err
		}
	}

	now := m.clock()
	item := m.newItem(projectID, userID, plan, opts, now)

	p := m.getOrCreateProject(projectID)
	p.mu.Lock()
	p.push(item)
	p.reposition(now, m.cfg.DefaultEstimatedDuration)
	snap := item.DeepCopy()
	m.mirror.save(snap)
	p.mu.Unlock()

	m.logger.Info("queue item admitted",
		"projectId", projectID,
		"itemId", snap.ID,
		"priority", snap.Priority,
		"position", snap.Position,
		"steps", len(snap.Steps),
		"critical", len(plan.Classification.Critical))

	m.publish(ctx, events.ItemAdded, snap, snap)
	m.signal()
	return snap, nil
}

func validateAdmission(projectID, userID string, plan *domain.Plan, opts AdmitOptions) error {
	if strings.TrimSpace(projectID) == "" {
		return errors.NewValidationError("projectId", "is required")
	}
	if strings.TrimSpace(userID) == "" {
		return errors.NewValidationError("userId", "is required")
	}
	if plan == nil || len(plan.Steps) == 0 {
		return errors.NewValidationError("plan.steps", "at least one step is required")
	}

	seen := make(map[string]struct{}, len(plan.Steps))
	for i, s := range plan.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return errors.NewValidationError(fmt.Sprintf("plan.steps[%d].name", i), "is required")
		}
		if s.ID == "" {
			continue
		}
		if _, dup := seen[s.ID]; dup {
			return errors.NewValidationError(fmt.Sprintf("plan.steps[%d].id", i), "duplicate step id "+s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	if plan.Classification.Total != len(plan.Steps) {
		return errors.NewValidationError("plan.classification",
			fmt.Sprintf("covers %d steps, plan has %d", plan.Classification.Total, len(plan.Steps)))
	}
	if opts.MaxRetries != nil && *opts.MaxRetries < 0 {
		return errors.NewValidationError("maxRetries", "must not be negative")
	}
	if opts.TimeoutMs < 0 {
		return errors.NewValidationError("timeoutMs", "must not be negative")
	}
	if p := opts.Priority; p != nil && (*p < domain.PriorityLow || *p > domain.PriorityUrgent) {
		return errors.NewValidationError("priority", "unknown priority "+p.String())
	}
	return nil
}

func (m *Manager) newItem(projectID, userID string, plan domain.Plan, opts AdmitOptions, now time.Time) *domain.QueueItem {
	maxRetries := m.cfg.DefaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}
	priority := domain.PriorityNormal
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	timeoutMs := opts.TimeoutMs
	if timeoutMs == 0 {
		timeoutMs = m.cfg.DefaultTimeout.Milliseconds()
	}

	plan = plan.Clone()
	steps := make([]domain.StepState, len(plan.Steps))
	for i, spec := range plan.Steps {
		id := spec.ID
		if id == "" {
			id = m.newID()
			plan.Steps[i].ID = id
		}
		steps[i] = domain.StepState{
			ID:       id,
			Name:     spec.Name,
			Critical: plan.Classification.IsCritical(spec.Name),
			Required: spec.IsRequired(),
			Status:   domain.StepPending,
			Metadata: spec.Metadata,
		}
	}

	item := &domain.QueueItem{
		ID:         m.newID(),
		ProjectID:  projectID,
		UserID:     userID,
		Plan:       plan,
		Priority:   priority,
		Status:     domain.StatusQueued,
		RetryCount: 0,
		MaxRetries: maxRetries,
		TimeoutMs:  timeoutMs,
		Steps:      steps,
		Metadata:   opts.Metadata,
		Seq:        m.seq.Add(1),
		AddedAt:    now,
	}
	item.RecomputeProgress()
	return item.DeepCopy()
}

// GetStatus returns a snapshot of one item
func (m *Manager) GetStatus(projectID, itemID string) (*domain.QueueItem, error) {
	p, err := m.project(projectID)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	item, err := p.get(itemID)
	if err != nil {
		return nil, err
	}
	return item.DeepCopy(), nil
}

// IsCancelled is the checkpoint executors poll between steps.
func (m *Manager) IsCancelled(projectID, itemID string) bool {
	item, err := m.GetStatus(projectID, itemID)
	return err == nil && item.Status == domain.StatusCancelled
}

// ListByProject returns every item of a project in admission order.
// Unknown projects have no items.
func (m *Manager) ListByProject(projectID string) []*domain.QueueItem {
	p, err := m.project(projectID)
	if err != nil {
		return []*domain.QueueItem{}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*domain.QueueItem, 0, len(p.order))
	for _, item := range p.order {
		out = append(out, item.DeepCopy())
	}
	return out
}

// ListTaskExecutions keeps only items whose plan references a task.
func (m *Manager) ListTaskExecutions(projectID string) []*domain.QueueItem {
	all := m.ListByProject(projectID)
	out := all[:0]
	for _, item := range all {
		if item.Plan.ReferencesTask() {
			out = append(out, item)
		}
	}
	return out
}

// WorkflowStats aggregates the counters of every project for the monitor.
func (m *Manager) WorkflowStats() domain.WorkflowStats {
	var stats domain.WorkflowStats
	var completed, failed, finished int
	var finishedDuration time.Duration

	for _, p := range m.snapshotProjects() {
		p.mu.RLock()
		stats.ActiveExecutions += p.running
		stats.QueuedExecutions += len(p.ready)
		stats.TotalExecutions += p.admitted
		completed += p.completed
		failed += p.failed
		finished += p.finishedCount
		finishedDuration += p.finishedDuration
		p.mu.RUnlock()
	}

	if finished > 0 {
		stats.AvgResponseTime = float64(finishedDuration.Milliseconds()) / float64(finished)
	}
	if completed+failed > 0 {
		stats.ErrorRate = float64(failed) / float64(completed+failed)
	}
	return stats
}

func (m *Manager) publish(ctx context.Context, t events.Type, item *domain.QueueItem, payload any) {
	_ = m.publisher.Publish(ctx, events.Event{
		Type:      t,
		ProjectID: item.ProjectID,
		ItemID:    item.ID,
		Payload:   payload,
		Timestamp: m.clock(),
	})
}
