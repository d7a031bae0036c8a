package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemStatus_CanTransitionTo(t *testing.T) {
	all := []ItemStatus{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}
	allowed := map[ItemStatus][]ItemStatus{
		StatusQueued:  {StatusRunning, StatusCancelled},
		StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestItemStatus_TerminalAndActive(t *testing.T) {
	assert.True(t, StatusQueued.IsActive())
	assert.True(t, StatusRunning.IsActive())
	assert.False(t, StatusCancelled.IsActive())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"", PriorityNormal, false},
		{"low", PriorityLow, false},
		{"HIGH", PriorityHigh, false},
		{" urgent ", PriorityUrgent, false},
		{"asap", PriorityNormal, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.True(t, PriorityUrgent > PriorityHigh)
	assert.True(t, PriorityHigh > PriorityNormal)
	assert.True(t, PriorityNormal > PriorityLow)
}

func TestPriority_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		P Priority `json:"p"`
	}{PriorityHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":"high"}`, string(data))

	var out struct {
		P Priority `json:"p"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"p":"urgent"}`), &out))
	assert.Equal(t, PriorityUrgent, out.P)
}

func TestExecutionContext_IsWorkflow(t *testing.T) {
	tests := []struct {
		name string
		ctx  ExecutionContext
		want bool
	}{
		{"nil", nil, false},
		{"unrelated keys", ExecutionContext{"user": "u1"}, false},
		{"task id", ExecutionContext{ContextTaskID: "t-1"}, true},
		{"empty task id", ExecutionContext{ContextTaskID: ""}, false},
		{"workflow flag true", ExecutionContext{ContextIsWorkflowExecution: true}, true},
		{"workflow flag false", ExecutionContext{ContextIsWorkflowExecution: false}, false},
		{"sequential string false", ExecutionContext{ContextSequentialRequired: "false"}, false},
		{"numeric analysis id", ExecutionContext{ContextAnalysisID: 42}, true},
		{"zero analysis id", ExecutionContext{ContextAnalysisID: 0.0}, false},
		{"execution mode", ExecutionContext{ContextExecutionMode: "sequential"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ctx.IsWorkflow())
		})
	}
}

func TestNewClassificationResult(t *testing.T) {
	empty := NewClassificationResult(nil, nil)
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, 0.0, empty.ParallelizationRatio)
	assert.NotNil(t, empty.Critical)

	r := NewClassificationResult([]string{"A"}, []string{"B", "C", "D"})
	assert.Equal(t, 4, r.Total)
	assert.InDelta(t, 0.75, r.ParallelizationRatio, 1e-9)
	assert.True(t, r.IsCritical("A"))
	assert.False(t, r.IsCritical("B"))
}

func TestPlan_ReferencesTask(t *testing.T) {
	p := Plan{Context: ExecutionContext{ContextTaskID: "t-9"}}
	assert.True(t, p.ReferencesTask())

	p = Plan{Workflow: map[string]any{"taskId": "t-1"}}
	assert.True(t, p.ReferencesTask())

	p = Plan{}
	assert.False(t, p.ReferencesTask())
}

func TestStepSpec_IsRequired(t *testing.T) {
	no := false
	assert.True(t, StepSpec{Name: "A"}.IsRequired())
	assert.False(t, StepSpec{Name: "A", Required: &no}.IsRequired())
}

func TestQueueItem_RecomputeProgress(t *testing.T) {
	item := &QueueItem{Steps: []StepState{
		{Status: StepCompleted},
		{Status: StepFailed},
		{Status: StepRunning},
	}}

	item.RecomputeProgress()

	assert.Equal(t, Progress{CurrentStep: 2, TotalSteps: 3, Percent: 66}, item.Progress)
}

func TestQueueItem_DeepCopy(t *testing.T) {
	now := time.Now()
	item := &QueueItem{
		ID:        "item-1",
		ProjectID: "p-1",
		Plan: Plan{
			Steps:   []StepSpec{{ID: "s1", Name: "CreateTaskStep", Metadata: map[string]any{"command": "true"}}},
			Context: ExecutionContext{ContextTaskID: "t-1"},
		},
		Steps:     []StepState{{ID: "s1", Name: "CreateTaskStep", StartedAt: &now}},
		Metadata:  map[string]any{"nested": map[string]any{"k": "v"}},
		StartedAt: &now,
	}

	c := item.DeepCopy()
	c.Steps[0].Status = StepFailed
	*c.Steps[0].StartedAt = now.Add(time.Hour)
	c.Plan.Steps[0].Metadata["command"] = "false"
	c.Plan.Context[ContextTaskID] = "t-2"
	c.Metadata["nested"].(map[string]any)["k"] = "changed"
	*c.StartedAt = now.Add(time.Hour)

	assert.Equal(t, StepStatus(""), item.Steps[0].Status)
	assert.Equal(t, now, *item.Steps[0].StartedAt)
	assert.Equal(t, "true", item.Plan.Steps[0].Metadata["command"])
	assert.Equal(t, "t-1", item.Plan.Context[ContextTaskID])
	assert.Equal(t, "v", item.Metadata["nested"].(map[string]any)["k"])
	assert.Equal(t, now, *item.StartedAt)

	var nilItem *QueueItem
	assert.Nil(t, nilItem.DeepCopy())
}

func TestQueueItem_Duration(t *testing.T) {
	start := time.Now().Add(-time.Minute)
	end := start.Add(10 * time.Second)

	item := &QueueItem{}
	assert.Zero(t, item.Duration())

	item.StartedAt = &start
	item.CompletedAt = &end
	assert.Equal(t, 10*time.Second, item.Duration())
}
