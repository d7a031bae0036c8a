package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/pkg/config"
	"github.com/ehsaniara/flowq/pkg/errors"
	"github.com/ehsaniara/flowq/pkg/logger"
)

// ErrCancelled is returned by Run when the item was cancelled while running.
var ErrCancelled = stderrors.New("queue item cancelled")

// Runner executes the steps of one running item
type Runner struct {
	tracker     Tracker
	executor    StepExecutor
	maxParallel int64
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *logger.Logger
}

func NewRunner(tracker Tracker, executor StepExecutor, cfg config.QueueConfig) *Runner {
	maxParallel := int64(cfg.MaxParallelSteps)
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Runner{
		tracker:     tracker,
		executor:    executor,
		maxParallel: maxParallel,
		baseDelay:   cfg.RetryBaseDelay,
		maxDelay:    cfg.RetryMaxDelay,
		logger:      logger.WithField("component", "runner"),
	}
}

// Run drives item to a terminal status and returns the final snapshot.
// item must already be running.
func (r *Runner) Run(ctx context.Context, item *domain.QueueItem) (*domain.QueueItem, error) {
	log := r.logger.WithFields("projectId", item.ProjectID, "itemId", item.ID)

	runCtx, cancel := r.withBudget(ctx, item)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	sem := semaphore.NewWeighted(r.maxParallel)

	// succeeded[i] is written only by the goroutine running step i and
	// read after g.Wait.
	succeeded := make([]bool, len(item.Steps))

	var stepErr error
	for i, step := range item.Steps {
		if step.Status.IsTerminal() {
			succeeded[i] = step.Status == domain.StepCompleted
			continue
		}

		if step.Critical {
			if err := r.runStep(gctx, item, step); err != nil {
				if !step.Required && !isStop(err) {
					log.Warn("optional step failed", "step", step.Name, "error", err)
					continue
				}
				stepErr = err
				break
			}
			succeeded[i] = true
			continue
		}

		if err := sem.Acquire(gctx, 1); err != nil {
			stepErr = err
			break
		}
		i, step := i, step
		g.Go(func() error {
			defer sem.Release(1)
			err := r.runStep(gctx, item, step)
			if err == nil {
				succeeded[i] = true
				return nil
			}
			if !step.Required && !isStop(err) {
				log.Warn("optional step failed", "step", step.Name, "error", err)
				return nil
			}
			return err
		})
	}

	// A failed parallel step cancels gctx; prefer its error over the
	// cancellation it caused in a critical step.
	groupErr := g.Wait()
	if groupErr != nil && (stepErr == nil || stderrors.Is(stepErr, context.Canceled)) {
		stepErr = groupErr
	}

	if stepErr == nil {
		stepErr = unfinishedRequired(runCtx, item, succeeded)
	}

	return r.finish(ctx, runCtx, item, stepErr)
}

// unfinishedRequired reports required steps that did not succeed, so an
// item is never completed over work that never ran.
func unfinishedRequired(ctx context.Context, item *domain.QueueItem, succeeded []bool) error {
	var missing []string
	for i, step := range item.Steps {
		if step.Required && !succeeded[i] {
			missing = append(missing, step.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	cause := ctx.Err()
	if cause == nil {
		cause = errors.ErrStepFailed
	}
	return fmt.Errorf("required steps did not run (%s): %w", strings.Join(missing, ", "), cause)
}

func (r *Runner) withBudget(ctx context.Context, item *domain.QueueItem) (context.Context, context.CancelFunc) {
	if item.TimeoutMs <= 0 {
		return context.WithCancel(ctx)
	}
	if item.StartedAt != nil {
		return context.WithDeadline(ctx, item.StartedAt.Add(item.Timeout()))
	}
	return context.WithTimeout(ctx, item.Timeout())
}

func (r *Runner) finish(ctx, runCtx context.Context, item *domain.QueueItem, stepErr error) (*domain.QueueItem, error) {
	if r.tracker.IsCancelled(item.ProjectID, item.ID) {
		r.logger.Info("run stopped at cancellation checkpoint", "projectId", item.ProjectID, "itemId", item.ID)
		return nil, ErrCancelled
	}

	if ctx.Err() == nil && stderrors.Is(runCtx.Err(), context.DeadlineExceeded) {
		stepErr = errors.NewTimeoutError(item.ID, item.Timeout())
	}

	if stepErr != nil {
		final, err := r.tracker.Fail(ctx, item.ProjectID, item.ID, stepErr)
		if err != nil {
			return nil, errors.JoinErrors(stepErr, err)
		}
		return final, stepErr
	}

	return r.tracker.Complete(ctx, item.ProjectID, item.ID)
}

// runStep runs one step until it succeeds, exhausts the retry budget, or
// the item is cancelled.
func (r *Runner) runStep(ctx context.Context, item *domain.QueueItem, step domain.StepState) error {
	for {
		if r.tracker.IsCancelled(item.ProjectID, item.ID) {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		state, err := r.tracker.StartStep(ctx, item.ProjectID, item.ID, step.ID)
		if err != nil {
			return r.checkpoint(item, err)
		}

		req := StepRequest{
			ProjectID: item.ProjectID,
			ItemID:    item.ID,
			StepID:    step.ID,
			StepName:  step.Name,
			Critical:  step.Critical,
			Attempt:   state.Attempts,
			Metadata:  step.Metadata,
			Context:   item.Plan.Context,
			Progress: func(percent int) {
				_ = r.tracker.ReportStepProgress(ctx, item.ProjectID, item.ID, step.ID, percent)
			},
		}

		execErr := r.executor.Execute(ctx, req)
		if execErr == nil {
			if _, err := r.tracker.CompleteStep(ctx, item.ProjectID, item.ID, step.ID); err != nil {
				return r.checkpoint(item, err)
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && !stderrors.Is(execErr, ctxErr) {
			execErr = errors.JoinErrors(execErr, ctxErr)
		}

		cause := errors.NewStepExecutionError(step.ID, step.Name, state.Attempts, execErr)
		retry, err := r.tracker.RecordStepFailure(ctx, item.ProjectID, item.ID, step.ID, cause)
		if err != nil {
			return r.checkpoint(item, err)
		}
		if !retry {
			return cause
		}

		r.logger.Debug("retrying step", "itemId", item.ID, "step", step.Name, "attempt", state.Attempts)
		if err := r.sleep(ctx, r.backoff(state.Attempts)); err != nil {
			return err
		}
	}
}

// checkpoint turns a queue refusal into ErrCancelled when the refusal was
// caused by a cancellation.
func (r *Runner) checkpoint(item *domain.QueueItem, err error) error {
	if r.tracker.IsCancelled(item.ProjectID, item.ID) {
		return ErrCancelled
	}
	return err
}

func (r *Runner) backoff(attempt int) time.Duration {
	delay := r.baseDelay
	for i := 1; i < attempt && delay < r.maxDelay; i++ {
		delay *= 2
	}
	if r.maxDelay > 0 && delay > r.maxDelay {
		delay = r.maxDelay
	}
	return delay
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isStop(err error) bool {
	return stderrors.Is(err, ErrCancelled) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded)
}
