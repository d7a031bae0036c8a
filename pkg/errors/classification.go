package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory groups errors by the part of the system that produced them.
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryNotFound       ErrorCategory = "not_found"
	CategoryConflict       ErrorCategory = "conflict"
	CategoryExecution      ErrorCategory = "execution"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryCanceled       ErrorCategory = "canceled"
	CategoryResource       ErrorCategory = "resource"
	CategoryMonitoring     ErrorCategory = "monitoring"
	CategoryClassification ErrorCategory = "classification"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryUnknown        ErrorCategory = "unknown"
)

// ErrorSeverity tells us how serious an error is.
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "critical"
	SeverityHigh     ErrorSeverity = "high"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityLow      ErrorSeverity = "low"
)

// ClassifiedError is an error with a category, a severity and a retry hint
// attached. The dispatcher consults Retryable before spending a retry.
type ClassifiedError struct {
	Err       error
	Category  ErrorCategory
	Severity  ErrorSeverity
	Retryable bool
	UserMsg   string
}

func (e *ClassifiedError) Error() string {
	return e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// ClassifyError classifies an error based on its type. Context errors are
// checked first so a step that failed because its item was cancelled or
// timed out is never retried.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &ClassifiedError{
			Err:      err,
			Category: CategoryCanceled,
			Severity: SeverityLow,
			UserMsg:  "Operation was canceled.",
		}

	case IsTimeoutError(err):
		return &ClassifiedError{
			Err:      err,
			Category: CategoryTimeout,
			Severity: SeverityMedium,
			UserMsg:  "Queue item exceeded its time budget.",
		}

	case IsValidationError(err):
		return &ClassifiedError{
			Err:      err,
			Category: CategoryValidation,
			Severity: SeverityLow,
			UserMsg:  "Request is invalid. Please check the submitted fields.",
		}

	case IsNotFoundError(err):
		return &ClassifiedError{
			Err:      err,
			Category: CategoryNotFound,
			Severity: SeverityLow,
			UserMsg:  "Requested project or queue item not found.",
		}

	case IsTransitionError(err):
		return &ClassifiedError{
			Err:      err,
			Category: CategoryConflict,
			Severity: SeverityLow,
			UserMsg:  "Queue item is not in a state that allows this operation.",
		}

	case IsAdmissionError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryResource,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "System is under resource pressure. Please try again later.",
		}

	case IsStepExecutionError(err):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryExecution,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "Workflow step failed.",
		}

	case errors.Is(err, ErrClassification):
		return &ClassifiedError{
			Err:      err,
			Category: CategoryClassification,
			Severity: SeverityHigh,
			UserMsg:  "Step classification failed; all steps run as critical.",
		}

	case errors.Is(err, ErrSampleFailed):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryMonitoring,
			Severity:  SeverityLow,
			Retryable: true,
			UserMsg:   "Resource sample could not be taken.",
		}

	case IsConfigError(err):
		return &ClassifiedError{
			Err:      err,
			Category: CategoryConfiguration,
			Severity: SeverityHigh,
			UserMsg:  "Configuration error. Please check your configuration settings.",
		}

	case errors.Is(err, ErrResourceExhausted):
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryResource,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "Insufficient resources available. Please try again later.",
		}

	default:
		return &ClassifiedError{
			Err:       err,
			Category:  CategoryUnknown,
			Severity:  SeverityMedium,
			Retryable: true,
			UserMsg:   "An unexpected error occurred.",
		}
	}
}

// ShouldRetry determines if an operation should be retried based on the error
func ShouldRetry(err error) bool {
	classified := ClassifyError(err)
	if classified == nil {
		return false
	}
	return classified.Retryable
}

func GetSeverity(err error) ErrorSeverity {
	classified := ClassifyError(err)
	if classified == nil {
		return SeverityLow
	}
	return classified.Severity
}

func GetCategory(err error) ErrorCategory {
	classified := ClassifyError(err)
	if classified == nil {
		return CategoryUnknown
	}
	return classified.Category
}

// GetUserMessage returns the message safe to show on the CLI.
func GetUserMessage(err error) string {
	classified := ClassifyError(err)
	if classified == nil {
		return "An error occurred."
	}
	return classified.UserMsg
}

// NewPermanentError marks err as not worth retrying regardless of its type.
func NewPermanentError(category ErrorCategory, err error, userMsg string) *ClassifiedError {
	return &ClassifiedError{
		Err:      err,
		Category: category,
		Severity: SeverityHigh,
		UserMsg:  userMsg,
	}
}

// NewRetryableError creates an error that might succeed on another attempt.
func NewRetryableError(category ErrorCategory, err error, userMsg string) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Category:  category,
		Severity:  SeverityMedium,
		Retryable: true,
		UserMsg:   userMsg,
	}
}

// FormatErrorForLogging flattens an error into key/value pairs for the logger.
func FormatErrorForLogging(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	classified := ClassifyError(err)
	result := map[string]interface{}{
		"error":     err.Error(),
		"category":  string(classified.Category),
		"severity":  string(classified.Severity),
		"retryable": classified.Retryable,
	}

	if stepID, ok := GetStepID(err); ok {
		result["stepId"] = stepID
	}

	return result
}

// LogError logs an error with its classification attached
func LogError(logger interface{ Error(string, ...interface{}) }, err error, msg string) {
	if err == nil {
		return
	}

	logData := FormatErrorForLogging(err)
	args := make([]interface{}, 0, len(logData)*2)
	for k, v := range logData {
		args = append(args, k, v)
	}

	logger.Error(msg, args...)
}

// WrapWithUserMessage wraps an error with a user-friendly message while preserving the original error
func WrapWithUserMessage(err error, userMsg string) error {
	if err == nil {
		return nil
	}

	classified := ClassifyError(err)
	classified.UserMsg = userMsg
	return fmt.Errorf("%s: %w", userMsg, classified)
}
