package events

import (
	"context"
	"time"

	"github.com/ehsaniara/flowq/internal/flowq/pubsub"
	"github.com/ehsaniara/flowq/pkg/errors"
	"github.com/ehsaniara/flowq/pkg/logger"
)

// Publisher is what producers depend on
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Bus fans events out over an in-memory pubsub transport
type Bus struct {
	ps     pubsub.PubSub[Event]
	logger *logger.Logger
	now    func() time.Time
}

func NewBus(bufferSize int) *Bus {
	return NewBusWithPubSub(pubsub.NewPubSub[Event](pubsub.WithBufferSize[Event](bufferSize)))
}

func NewBusWithPubSub(ps pubsub.PubSub[Event]) *Bus {
	return &Bus{
		ps:     ps,
		logger: logger.WithField("component", "event-bus"),
		now:    time.Now,
	}
}

// Publish delivers event on its own topic and on the wildcard topic.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	err := errors.JoinErrors(
		b.ps.Publish(ctx, string(event.Type), event),
		b.ps.Publish(ctx, AllTopic, event),
	)
	if err != nil {
		b.logger.Debug("event not published", "type", event.Type, "error", err)
	}
	return err
}

// Subscribe returns events of one type
func (b *Bus) Subscribe(ctx context.Context, eventType Type) (<-chan pubsub.Message[Event], func(), error) {
	return b.ps.Subscribe(ctx, string(eventType))
}

// SubscribeAll returns every event
func (b *Bus) SubscribeAll(ctx context.Context) (<-chan pubsub.Message[Event], func(), error) {
	return b.ps.Subscribe(ctx, AllTopic)
}

func (b *Bus) Stats(eventType Type) pubsub.TopicStats {
	return b.ps.Stats(string(eventType))
}

func (b *Bus) Close() error {
	return b.ps.Close()
}

// Nop discards events. Used where no sink is wired.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
