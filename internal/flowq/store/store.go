// Package store mirrors queue items to a backing store. The queue stays
// the source of truth; a mirror only receives snapshots after mutations.
package store

import (
	"context"
	"fmt"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/pkg/config"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// Mirror persists QueueItem snapshots.
// Implementations: memory, DynamoDB.
//
//counterfeiter:generate . Mirror
type Mirror interface {
	// Save upserts the snapshot
	Save(ctx context.Context, item *domain.QueueItem) error

	Get(ctx context.Context, projectID, itemID string) (*domain.QueueItem, error)

	// ListByProject returns a project's items in admission order
	ListByProject(ctx context.Context, projectID string) ([]*domain.QueueItem, error)

	Delete(ctx context.Context, projectID, itemID string) error

	// HealthCheck verifies backend availability
	HealthCheck(ctx context.Context) error

	Close() error
}

const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendNone     = "none"
)

// NewMirror builds the mirror selected by cfg. The "none" backend returns
// a nil Mirror and no error.
func NewMirror(ctx context.Context, cfg config.StoreConfig) (Mirror, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryMirror(), nil
	case BackendDynamoDB:
		m, err := NewDynamoDBMirror(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		return m, nil
	case BackendNone:
		return nil, nil
	default:
		return nil, ErrInvalidBackend
	}
}

var (
	ErrItemNotFound        = &StoreError{Code: "ITEM_NOT_FOUND", Message: "queue item not found"}
	ErrInvalidBackend      = &StoreError{Code: "INVALID_BACKEND", Message: "invalid store backend"}
	ErrBackendUnavailable  = &StoreError{Code: "UNAVAILABLE", Message: "store backend unavailable"}
	ErrInvalidItemSnapshot = &StoreError{Code: "INVALID_ITEM", Message: "queue item snapshot needs project and item ids"}
)

// StoreError represents a store operation error
type StoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches store errors by code so wrapped copies compare equal to the
// package sentinels.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.Code == e.Code
}

func validSnapshot(item *domain.QueueItem) error {
	if item == nil || item.ProjectID == "" || item.ID == "" {
		return ErrInvalidItemSnapshot
	}
	return nil
}

func notFound(projectID, itemID string) error {
	return &StoreError{
		Code:    ErrItemNotFound.Code,
		Message: ErrItemNotFound.Message,
		Err:     fmt.Errorf("project %s item %s", projectID, itemID),
	}
}
