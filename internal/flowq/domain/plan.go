package domain

import (
	"fmt"
	"strings"
)

// Recognized ExecutionContext keys. A truthy value under any of them puts
// classification into workflow mode.
const (
	ContextWorkflowID          = "workflowId"
	ContextTaskID              = "taskId"
	ContextAnalysisID          = "analysisId"
	ContextExecutionMode       = "executionMode"
	ContextIsWorkflowExecution = "isWorkflowExecution"
	ContextSequentialRequired  = "sequentialRequired"
)

var workflowKeys = []string{
	ContextWorkflowID,
	ContextTaskID,
	ContextAnalysisID,
	ContextExecutionMode,
	ContextIsWorkflowExecution,
	ContextSequentialRequired,
}

// ExecutionContext carries caller-supplied context for a plan
type ExecutionContext map[string]any

// IsWorkflow returns true when any recognized key holds a truthy value.
func (c ExecutionContext) IsWorkflow() bool {
	for _, key := range workflowKeys {
		if truthy(c[key]) {
			return true
		}
	}
	return false
}

// TaskID returns the task identifier, if any, as a string.
func (c ExecutionContext) TaskID() string {
	v, ok := c[ContextTaskID]
	if !ok || !truthy(v) {
		return ""
	}
	return fmt.Sprint(v)
}

func (c ExecutionContext) Clone() ExecutionContext {
	if c == nil {
		return nil
	}
	return ExecutionContext(copyMap(c))
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false" && s != "0"
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// StepSpec is one step as submitted by the caller
type StepSpec struct {
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string         `json:"name" yaml:"name"`
	Required *bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// IsRequired defaults to true when unset
func (s StepSpec) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// ClassificationResult partitions a step list into the steps that must run
// in declared order and the ones that may run concurrently.
type ClassificationResult struct {
	Critical             []string `json:"critical"`
	NonCritical          []string `json:"nonCritical"`
	Total                int      `json:"total"`
	ParallelizationRatio float64  `json:"parallelizationRatio"`
	// FailSafe is set when an internal fault forced every step critical.
	FailSafe bool `json:"failSafe,omitempty"`
}

// NewClassificationResult fills in Total and the ratio. The ratio is 0 for an empty list.
func NewClassificationResult(critical, nonCritical []string) ClassificationResult {
	if critical == nil {
		critical = []string{}
	}
	if nonCritical == nil {
		nonCritical = []string{}
	}
	total := len(critical) + len(nonCritical)
	ratio := 0.0
	if total > 0 {
		ratio = float64(len(nonCritical)) / float64(total)
	}
	return ClassificationResult{
		Critical:             critical,
		NonCritical:          nonCritical,
		Total:                total,
		ParallelizationRatio: ratio,
	}
}

// IsCritical reports whether name landed in the critical partition.
func (r ClassificationResult) IsCritical(name string) bool {
	for _, c := range r.Critical {
		if c == name {
			return true
		}
	}
	return false
}

// Plan is what gets admitted: classified steps plus the context they run in
type Plan struct {
	Classification ClassificationResult `json:"classification"`
	Steps          []StepSpec           `json:"steps"`
	Context        ExecutionContext     `json:"context,omitempty"`
	Workflow       map[string]any       `json:"workflow,omitempty"`
}

// StepNames returns the names in declared order
func (p *Plan) StepNames() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
	}
	return names
}

// ReferencesTask returns true when the plan is a task execution.
func (p *Plan) ReferencesTask() bool {
	if p.Context.TaskID() != "" {
		return true
	}
	if p.Workflow != nil {
		return truthy(p.Workflow[ContextTaskID])
	}
	return false
}

func (p *Plan) Clone() Plan {
	out := Plan{
		Classification: ClassificationResult{
			Critical:             append([]string{}, p.Classification.Critical...),
			NonCritical:          append([]string{}, p.Classification.NonCritical...),
			Total:                p.Classification.Total,
			ParallelizationRatio: p.Classification.ParallelizationRatio,
			FailSafe:             p.Classification.FailSafe,
		},
		Steps:    make([]StepSpec, len(p.Steps)),
		Context:  p.Context.Clone(),
		Workflow: copyMap(p.Workflow),
	}
	for i, s := range p.Steps {
		out.Steps[i] = s
		out.Steps[i].Metadata = copyMap(s.Metadata)
		if s.Required != nil {
			r := *s.Required
			out.Steps[i].Required = &r
		}
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case ExecutionContext:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string{}, t...)
	default:
		return v
	}
}
