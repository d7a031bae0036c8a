// Package errors provides the error taxonomy shared by the queue, the
// classifier, the dispatcher and the resource monitor. Every typed error
// wraps one of the sentinels below so callers can branch with errors.Is
// and extract context with errors.As.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions
var (
	// Admission and lookup
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAdmissionRejected = errors.New("admission rejected")

	// Execution
	ErrStepFailed = errors.New("step execution failed")
	ErrTimeout    = errors.New("execution timed out")

	// Internal faults that are recovered locally
	ErrClassification = errors.New("classification failed")
	ErrSampleFailed   = errors.New("resource sample failed")

	// Resources and configuration
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// ValidationError reports a malformed request rejected before any state changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError reports an unknown project or queue item.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// StateTransitionError reports an attempt to move a queue item backwards
// or out of a terminal state.
type StateTransitionError struct {
	ItemID string
	From   string
	To     string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("queue item %s: cannot transition from %s to %s", e.ItemID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// StepExecutionError is a per-step failure reported by the step executor.
type StepExecutionError struct {
	StepID   string
	StepName string
	Attempt  int
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (%s) attempt %d: %v", e.StepName, e.StepID, e.Attempt, e.Err)
}

func (e *StepExecutionError) Unwrap() []error {
	return []error{ErrStepFailed, e.Err}
}

// TimeoutError reports that a queue item exceeded its whole-item budget.
type TimeoutError struct {
	ItemID string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("queue item %s exceeded timeout of %s", e.ItemID, e.Budget)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// ClassificationError is an internal classifier fault. It never leaves the
// classifier: the batch falls back to all-critical instead.
type ClassificationError struct {
	Step string
	Err  error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify step %q: %v", e.Step, e.Err)
}

func (e *ClassificationError) Unwrap() []error {
	return []error{ErrClassification, e.Err}
}

// MonitoringSampleError is one failed resource sample. The monitor logs it
// and keeps ticking.
type MonitoringSampleError struct {
	Source string
	Err    error
}

func (e *MonitoringSampleError) Error() string {
	return fmt.Sprintf("sample %s: %v", e.Source, e.Err)
}

func (e *MonitoringSampleError) Unwrap() []error {
	return []error{ErrSampleFailed, e.Err}
}

// AdmissionError reports that an admission policy refused new work.
type AdmissionError struct {
	ProjectID string
	Reason    string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("project %s: admission rejected: %s", e.ProjectID, e.Reason)
}

func (e *AdmissionError) Unwrap() []error {
	return []error{ErrAdmissionRejected, ErrResourceExhausted}
}

// ConfigError represents an error related to configuration
type ConfigError struct {
	Component string
	Field     string
	Err       error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config %s.%s: %v", e.Component, e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Constructors

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func NewStateTransitionError(itemID, from, to string) error {
	return &StateTransitionError{ItemID: itemID, From: from, To: to}
}

func NewStepExecutionError(stepID, stepName string, attempt int, err error) error {
	if err == nil {
		return nil
	}
	return &StepExecutionError{StepID: stepID, StepName: stepName, Attempt: attempt, Err: err}
}

func NewTimeoutError(itemID string, budget time.Duration) error {
	return &TimeoutError{ItemID: itemID, Budget: budget}
}

func NewClassificationError(step string, err error) error {
	return &ClassificationError{Step: step, Err: err}
}

func NewMonitoringSampleError(source string, err error) error {
	if err == nil {
		return nil
	}
	return &MonitoringSampleError{Source: source, Err: err}
}

func NewAdmissionError(projectID, reason string) error {
	return &AdmissionError{ProjectID: projectID, Reason: reason}
}

func NewConfigError(component, field string, err error) error {
	return &ConfigError{Component: component, Field: field, Err: fmt.Errorf("%w: %v", ErrInvalidConfig, err)}
}

// Error classification functions

func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsTransitionError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsStepExecutionError(err error) bool {
	var se *StepExecutionError
	return errors.As(err, &se)
}

func IsTimeoutError(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrAdmissionRejected)
}

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// GetStepID returns the failing step id when err carries one.
func GetStepID(err error) (string, bool) {
	var se *StepExecutionError
	if errors.As(err, &se) {
		return se.StepID, true
	}
	return "", false
}

// JoinErrors combines multiple errors into a single error, dropping nils.
func JoinErrors(errs ...error) error {
	var validErrs []error
	for _, err := range errs {
		if err != nil {
			validErrs = append(validErrs, err)
		}
	}

	switch len(validErrs) {
	case 0:
		return nil
	case 1:
		return validErrs[0]
	default:
		return errors.Join(validErrs...)
	}
}
