package domain

import "time"

// Progress summarises how far an item got through its steps
type Progress struct {
	CurrentStep int `json:"currentStep"`
	TotalSteps  int `json:"totalSteps"`
	Percent     int `json:"percent"`
}

// StepState is the per-step record kept on a QueueItem
type StepState struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Critical    bool           `json:"critical"`
	Required    bool           `json:"required"`
	Status      StepStatus     `json:"status"`
	Progress    int            `json:"progress"`
	Attempts    int            `json:"attempts"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// QueueItem is one admitted plan on a project queue.
// ID never changes after admission. Position is derived by the queue and
// is -1 once the item is terminal.
type QueueItem struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"projectId"`
	UserID             string         `json:"userId"`
	Plan               Plan           `json:"plan"`
	Priority           Priority       `json:"priority"`
	Status             ItemStatus     `json:"status"`
	Position           int            `json:"position"`
	EstimatedStartTime *time.Time     `json:"estimatedStartTime,omitempty"`
	RetryCount         int            `json:"retryCount"`
	MaxRetries         int            `json:"maxRetries"`
	TimeoutMs          int64          `json:"timeoutMs"`
	Progress           Progress       `json:"progress"`
	Steps              []StepState    `json:"steps"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Error              string         `json:"error,omitempty"`
	Seq                uint64         `json:"seq"`
	AddedAt            time.Time      `json:"addedAt"`
	StartedAt          *time.Time     `json:"startedAt,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
	CancelledAt        *time.Time     `json:"cancelledAt,omitempty"`
	CancelledBy        string         `json:"cancelledBy,omitempty"`
}

// Timeout returns the whole-item budget
func (q *QueueItem) Timeout() time.Duration {
	return time.Duration(q.TimeoutMs) * time.Millisecond
}

func (q *QueueItem) IsTerminal() bool {
	return q.Status.IsTerminal()
}

// Duration returns how long the item ran, or zero if it never started.
func (q *QueueItem) Duration() time.Duration {
	if q.StartedAt == nil {
		return 0
	}
	end := q.CompletedAt
	if end == nil {
		end = q.CancelledAt
	}
	if end == nil {
		return time.Since(*q.StartedAt)
	}
	return end.Sub(*q.StartedAt)
}

// StepIndex returns the index of the step with the given id, or -1.
func (q *QueueItem) StepIndex(stepID string) int {
	for i := range q.Steps {
		if q.Steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// RecomputeProgress derives Progress from the step records.
func (q *QueueItem) RecomputeProgress() {
	done := 0
	for _, s := range q.Steps {
		if s.Status.IsTerminal() {
			done++
		}
	}
	total := len(q.Steps)
	percent := 0
	if total > 0 {
		percent = done * 100 / total
	}
	q.Progress = Progress{CurrentStep: done, TotalSteps: total, Percent: percent}
}

// DeepCopy returns a snapshot that shares no mutable state with q
func (q *QueueItem) DeepCopy() *QueueItem {
	if q == nil {
		return nil
	}

	c := *q
	c.Plan = q.Plan.Clone()
	c.Metadata = copyMap(q.Metadata)
	c.EstimatedStartTime = copyTime(q.EstimatedStartTime)
	c.StartedAt = copyTime(q.StartedAt)
	c.CompletedAt = copyTime(q.CompletedAt)
	c.CancelledAt = copyTime(q.CancelledAt)

	c.Steps = make([]StepState, len(q.Steps))
	for i, s := range q.Steps {
		c.Steps[i] = s
		c.Steps[i].StartedAt = copyTime(s.StartedAt)
		c.Steps[i].CompletedAt = copyTime(s.CompletedAt)
		c.Steps[i].Metadata = copyMap(s.Metadata)
	}

	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
