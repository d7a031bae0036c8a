// Package executor provides StepExecutor implementations: a name-based
// handler registry and a shell command runner.
package executor

import (
	"context"
	"sort"
	"sync"

	"github.com/ehsaniara/flowq/internal/flowq/dispatch"
	"github.com/ehsaniara/flowq/pkg/errors"
	"github.com/ehsaniara/flowq/pkg/logger"
)

// Registry routes a step to the handler registered under its name
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]dispatch.StepExecutor
	fallback dispatch.StepExecutor
	logger   *logger.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]dispatch.StepExecutor),
		logger:   logger.WithField("component", "executor-registry"),
	}
}

// Register binds a handler to a step name, replacing any previous one.
func (r *Registry) Register(stepName string, handler dispatch.StepExecutor) error {
	if stepName == "" {
		return errors.NewValidationError("stepName", "is required")
	}
	if handler == nil {
		return errors.NewValidationError("handler", "is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[stepName]; exists {
		r.logger.Debug("replacing step handler", "step", stepName)
	}
	r.handlers[stepName] = handler
	return nil
}

func (r *Registry) RegisterFunc(stepName string, fn func(ctx context.Context, req dispatch.StepRequest) error) error {
	if fn == nil {
		return errors.NewValidationError("handler", "is required")
	}
	return r.Register(stepName, dispatch.StepExecutorFunc(fn))
}

// SetFallback handles every step without a registered handler
func (r *Registry) SetFallback(handler dispatch.StepExecutor) {
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Execute(ctx context.Context, req dispatch.StepRequest) error {
	r.mu.RLock()
	handler, ok := r.handlers[req.StepName]
	if !ok {
		handler = r.fallback
	}
	r.mu.RUnlock()

	if handler == nil {
		return errors.NewStepExecutionError(req.StepID, req.StepName, req.Attempt,
			errors.NewNotFoundError("step handler", req.StepName))
	}
	return handler.Execute(ctx, req)
}
