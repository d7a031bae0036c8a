package queue

import (
	"context"
	"time"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/internal/flowq/events"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// AdmissionPolicy is consulted before an item is admitted. A non-nil
// error rejects the admission and leaves the queue untouched.
//
//counterfeiter:generate . AdmissionPolicy
type AdmissionPolicy interface {
	Allow(ctx context.Context, projectID string, plan *domain.Plan) error
}

// Mirror receives a snapshot after every mutation. Calls happen off the
// admit/cancel path.
//
//counterfeiter:generate . Mirror
type Mirror interface {
	Save(ctx context.Context, item *domain.QueueItem) error
}

// Classifier turns step names into a classification for Submit
type Classifier interface {
	Classify(names []string, ctx domain.ExecutionContext) domain.ClassificationResult
}

// AdmitOptions are the per-item overrides accepted by Admit
type AdmitOptions struct {
	Priority   *domain.Priority // nil = normal
	MaxRetries *int  // nil = queue default
	TimeoutMs  int64 // 0 = queue default
	Metadata   map[string]any
}

type Option func(*Manager)

func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

func WithAdmissionPolicy(policy AdmissionPolicy) Option {
	return func(m *Manager) {
		m.admission = policy
	}
}

// WithMirror enables the asynchronous store mirror. buffer bounds the
// number of pending snapshots; when full, snapshots are dropped and logged.
func WithMirror(mirror Mirror, buffer int) Option {
	return func(m *Manager) {
		if mirror != nil {
			m.mirrorTarget = mirror
			m.mirrorBuffer = buffer
		}
	}
}

func WithClassifier(c Classifier) Option {
	return func(m *Manager) {
		m.classifier = c
	}
}

// WithIDGenerator replaces uuid-based ids, mostly for tests
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}
