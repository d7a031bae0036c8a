package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/events"
	"github.com/ehsaniara/flowq/pkg/errors"
)

// ErrProjectAtCapacity is returned by Start when the project already runs
// max_running_per_project items.
var ErrProjectAtCapacity = fmt.Errorf("project at running capacity: %w", errors.ErrResourceExhausted)

type mutation func(p *projectQueue, item *domain.QueueItem, now time.Time) error

// update applies fn to one item under its project lock, re-derives
// positions if the status changed and returns a snapshot.
func (m *Manager) update(projectID, itemID string, fn mutation) (*domain.QueueItem, error) {
	p, err := m.project(projectID)
	if err != nil {
		return nil, err
	}

	now := m.clock()
	p.mu.Lock()
	item, err := p.get(itemID)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	before := item.Status
	if err := fn(p, item, now); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if item.Status != before {
		p.reposition(now, m.cfg.DefaultEstimatedDuration)
	}
	snap := item.DeepCopy()
	// enqueue under the project lock so snapshots of one item reach the
	// mirror in mutation order
	m.mirror.save(snap)
	p.mu.Unlock()

	return snap, nil
}

// Claim starts the best-ranked queued item among projects that have a
// free running slot. ok is false when nothing is claimable.
func (m *Manager) Claim(ctx context.Context) (*domain.QueueItem, bool) {
	// Another worker may win the race for a candidate; look again.
	for attempt := 0; attempt < 3; attempt++ {
		candidate := m.bestCandidate()
		if candidate == nil {
			return nil, false
		}
		item, err := m.Start(ctx, candidate.ProjectID, candidate.ID)
		if err == nil {
			return item, true
		}
		m.logger.Debug("claim lost race", "itemId", candidate.ID, "error", err)
	}
	return nil, false
}

func (m *Manager) bestCandidate() *domain.QueueItem {
	var best *domain.QueueItem
	for _, p := range m.snapshotProjects() {
		p.mu.RLock()
		if p.running < m.cfg.MaxRunningPerProject {
			if head := p.head(); head != nil && (best == nil || rankBefore(head, best)) {
				best = head.DeepCopy()
			}
		}
		p.mu.RUnlock()
	}
	return best
}

// Start moves a queued item to running.
func (m *Manager) Start(ctx context.Context, projectID, itemID string) (*domain.QueueItem, error) {
	snap, err := m.update(projectID, itemID, func(p *projectQueue, item *domain.QueueItem, now time.Time) error {
		if item.Status == domain.StatusQueued && p.running >= m.cfg.MaxRunningPerProject {
			return ErrProjectAtCapacity
		}
		if err := p.transition(item, domain.StatusRunning, now); err != nil {
			return err
		}
		item.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("queue item started", "projectId", projectID, "itemId", itemID, "timeoutMs", snap.TimeoutMs)
	m.publish(ctx, events.ItemStarted, snap, snap)
	return snap, nil
}

// Cancel marks a queued or running item cancelled. A queued item leaves
// the ordering at once; a running one stops at the executor's next
// checkpoint.
func (m *Manager) Cancel(ctx context.Context, projectID, itemID, byUserID string) (*domain.QueueItem, error) {
	if byUserID == "" {
		return nil, errors.NewValidationError("cancelledBy", "is required")
	}

	snap, err := m.update(projectID, itemID, func(p *projectQueue, item *domain.QueueItem, now time.Time) error {
		if err := p.transition(item, domain.StatusCancelled, now); err != nil {
			return err
		}
		item.CancelledAt = &now
		item.CancelledBy = byUserID
		for i := range item.Steps {
			if !item.Steps[i].Status.IsTerminal() {
				item.Steps[i].Status = domain.StepSkipped
			}
		}
		item.RecomputeProgress()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("queue item cancelled", "projectId", projectID, "itemId", itemID, "by", byUserID)
	m.publish(ctx, events.ItemCancelled, snap, snap)
	m.signal()
	return snap, nil
}

func requireRunning(item *domain.QueueItem) error {
	if item.Status != domain.StatusRunning {
		return errors.NewStateTransitionError(item.ID, string(item.Status), string(domain.StatusRunning))
	}
	return nil
}

func stepOf(item *domain.QueueItem, stepID string) (*domain.StepState, error) {
	idx := item.StepIndex(stepID)
	if idx < 0 {
		return nil, errors.NewNotFoundError("step", stepID)
	}
	return &item.Steps[idx], nil
}

func (m *Manager) updateStep(ctx context.Context, projectID, itemID, stepID string,
	fn func(item *domain.QueueItem, step *domain.StepState, now time.Time) error) (*domain.StepState, error) {

	var stepSnap domain.StepState
	snap, err := m.update(projectID, itemID, func(p *projectQueue, item *domain.QueueItem, now time.Time) error {
		if err := requireRunning(item); err != nil {
			return err
		}
		step, err := stepOf(item, stepID)
		if err != nil {
			return err
		}
		if err := fn(item, step, now); err != nil {
			return err
		}
		item.RecomputeProgress()
		stepSnap = *step
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, events.StepUpdated, snap, stepSnap)
	return &stepSnap, nil
}

// StartStep marks a pending step running and counts the attempt.
func (m *Manager) StartStep(ctx context.Context, projectID, itemID, stepID string) (*domain.StepState, error) {
	return m.updateStep(ctx, projectID, itemID, stepID, func(item *domain.QueueItem, step *domain.StepState, now time.Time) error {
		if step.Status != domain.StepPending {
			return errors.NewStateTransitionError(item.ID+"/"+step.ID, string(step.Status), string(domain.StepRunning))
		}
		step.Status = domain.StepRunning
		step.Attempts++
		step.Progress = 0
		if step.StartedAt == nil {
			step.StartedAt = &now
		}
		return nil
	})
}

// ReportStepProgress records a 0..100 progress value for a running step.
func (m *Manager) ReportStepProgress(ctx context.Context, projectID, itemID, stepID string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := m.updateStep(ctx, projectID, itemID, stepID, func(item *domain.QueueItem, step *domain.StepState, now time.Time) error {
		if step.Status != domain.StepRunning {
			return errors.NewStateTransitionError(item.ID+"/"+step.ID, string(step.Status), string(domain.StepRunning))
		}
		step.Progress = percent
		return nil
	})
	return err
}

func (m *Manager) CompleteStep(ctx context.Context, projectID, itemID, stepID string) (*domain.StepState, error) {
	return m.updateStep(ctx, projectID, itemID, stepID, func(item *domain.QueueItem, step *domain.StepState, now time.Time) error {
		if step.Status != domain.StepRunning {
			return errors.NewStateTransitionError(item.ID+"/"+step.ID, string(step.Status), string(domain.StepCompleted))
		}
		step.Status = domain.StepCompleted
		step.Progress = 100
		step.CompletedAt = &now
		step.Error = ""
		return nil
	})
}

// RecordStepFailure charges one failure against the item's retry budget.
// It returns true when the step should be attempted again, in which case
// the step is back to pending. Otherwise the step is failed and keeps cause
// as its error.
func (m *Manager) RecordStepFailure(ctx context.Context, projectID, itemID, stepID string, cause error) (bool, error) {
	if cause == nil {
		cause = errors.ErrStepFailed
	}

	retry := false
	step, err := m.updateStep(ctx, projectID, itemID, stepID, func(item *domain.QueueItem, step *domain.StepState, now time.Time) error {
		if step.Status != domain.StepRunning {
			return errors.NewStateTransitionError(item.ID+"/"+step.ID, string(step.Status), string(domain.StepFailed))
		}
		item.RetryCount++
		step.Error = cause.Error()

		if item.RetryCount < item.MaxRetries && errors.ShouldRetry(cause) {
			step.Status = domain.StepPending
			retry = true
			return nil
		}
		step.Status = domain.StepFailed
		step.CompletedAt = &now
		return nil
	})
	if err != nil {
		return false, err
	}

	m.logger.Warn("step failed",
		"projectId", projectID,
		"itemId", itemID,
		"step", step.Name,
		"attempt", step.Attempts,
		"willRetry", retry,
		"error", cause)
	return retry, nil
}

// Complete finishes a running item. Steps that never reached a terminal
// status are marked skipped.
func (m *Manager) Complete(ctx context.Context, projectID, itemID string) (*domain.QueueItem, error) {
	snap, err := m.update(projectID, itemID, func(p *projectQueue, item *domain.QueueItem, now time.Time) error {
		if err := p.transition(item, domain.StatusCompleted, now); err != nil {
			return err
		}
		item.CompletedAt = &now
		for i := range item.Steps {
			if !item.Steps[i].Status.IsTerminal() {
				item.Steps[i].Status = domain.StepSkipped
			}
		}
		item.RecomputeProgress()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("queue item completed", "projectId", projectID, "itemId", itemID, "duration", snap.Duration())
	m.publish(ctx, events.ItemCompleted, snap, snap)
	m.signal()
	return snap, nil
}

// Fail finishes a running item with cause. A step still running takes the
// item error; pending steps are skipped.
func (m *Manager) Fail(ctx context.Context, projectID, itemID string, cause error) (*domain.QueueItem, error) {
	if cause == nil {
		cause = errors.ErrStepFailed
	}

	snap, err := m.update(projectID, itemID, func(p *projectQueue, item *domain.QueueItem, now time.Time) error {
		if err := p.transition(item, domain.StatusFailed, now); err != nil {
			return err
		}
		item.CompletedAt = &now
		item.Error = cause.Error()
		for i := range item.Steps {
			s := &item.Steps[i]
			switch s.Status {
			case domain.StepRunning:
				s.Status = domain.StepFailed
				s.CompletedAt = &now
				if s.Error == "" {
					s.Error = cause.Error()
				}
			case domain.StepPending:
				s.Status = domain.StepSkipped
			}
		}
		item.RecomputeProgress()
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Error("queue item failed", "projectId", projectID, "itemId", itemID, "error", cause)
	m.publish(ctx, events.ItemFailed, snap, snap)
	m.signal()
	return snap, nil
}

// CheckTimeouts fails every running item that exceeded its whole-item
// budget and returns their ids.
func (m *Manager) CheckTimeouts(ctx context.Context) []string {
	now := m.clock()

	type expired struct {
		projectID, itemID string
		budget            time.Duration
	}
	var due []expired
	for _, p := range m.snapshotProjects() {
		p.mu.RLock()
		for _, item := range p.order {
			if item.Status != domain.StatusRunning || item.StartedAt == nil || item.TimeoutMs <= 0 {
				continue
			}
			if now.Sub(*item.StartedAt) > item.Timeout() {
				due = append(due, expired{p.id, item.ID, item.Timeout()})
			}
		}
		p.mu.RUnlock()
	}

	var failed []string
	for _, d := range due {
		if _, err := m.Fail(ctx, d.projectID, d.itemID, errors.NewTimeoutError(d.itemID, d.budget)); err == nil {
			failed = append(failed, d.itemID)
		}
	}
	return failed
}

// Purge removes terminal items that ended more than olderThan ago. An
// empty projectID purges every project.
func (m *Manager) Purge(projectID string, olderThan time.Duration) int {
	cutoff := m.clock().Add(-olderThan)

	var targets []*projectQueue
	if projectID == "" {
		targets = m.snapshotProjects()
	} else if p, err := m.project(projectID); err == nil {
		targets = []*projectQueue{p}
	}

	removed := 0
	for _, p := range targets {
		p.mu.Lock()
		removed += p.purge(cutoff)
		p.mu.Unlock()
	}
	if removed > 0 {
		m.logger.Info("purged terminal queue items", "projectId", projectID, "removed", removed)
	}
	return removed
}
