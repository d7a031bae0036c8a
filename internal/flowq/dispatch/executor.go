// Package dispatch runs claimed queue items against a step executor.
//
// Critical steps run one at a time in declared order. A non-critical step
// is launched only after every critical step before it has finished, and
// may then overlap with later steps up to the parallel limit. Cancellation
// is cooperative: the runner polls the queue before each step and before
// each retry, and never interrupts a step that is already executing.
package dispatch

import (
	"context"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// StepRequest is everything an executor gets to run one step attempt
type StepRequest struct {
	ProjectID string
	ItemID    string
	StepID    string
	StepName  string
	Critical  bool
	Attempt   int
	Metadata  map[string]any
	Context   domain.ExecutionContext

	// Progress records a 0..100 value on the step. Safe to call from any
	// goroutine; errors are dropped.
	Progress func(percent int)
}

// ReportProgress is a nil-safe wrapper around Progress
func (r StepRequest) ReportProgress(percent int) {
	if r.Progress != nil {
		r.Progress(percent)
	}
}

// StepExecutor performs the actual work behind a step name. A returned
// error counts as one failed attempt.
//
//counterfeiter:generate . StepExecutor
type StepExecutor interface {
	Execute(ctx context.Context, req StepRequest) error
}

// StepExecutorFunc adapts a function to StepExecutor
type StepExecutorFunc func(ctx context.Context, req StepRequest) error

func (f StepExecutorFunc) Execute(ctx context.Context, req StepRequest) error {
	return f(ctx, req)
}

// Tracker is the queue surface the runner reports into.
//
//counterfeiter:generate . Tracker
type Tracker interface {
	IsCancelled(projectID, itemID string) bool
	StartStep(ctx context.Context, projectID, itemID, stepID string) (*domain.StepState, error)
	ReportStepProgress(ctx context.Context, projectID, itemID, stepID string, percent int) error
	CompleteStep(ctx context.Context, projectID, itemID, stepID string) (*domain.StepState, error)
	RecordStepFailure(ctx context.Context, projectID, itemID, stepID string, cause error) (bool, error)
	Complete(ctx context.Context, projectID, itemID string) (*domain.QueueItem, error)
	Fail(ctx context.Context, projectID, itemID string, cause error) (*domain.QueueItem, error)
}

// Source hands out work to dispatcher workers.
type Source interface {
	Claim(ctx context.Context) (*domain.QueueItem, bool)
	Notify() <-chan struct{}
	CheckTimeouts(ctx context.Context) []string
}
