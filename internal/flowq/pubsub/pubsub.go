// Package pubsub is the in-process topic transport behind the event sink.
// Delivery never blocks a publisher: a subscriber whose buffer is full
// misses the message and the miss is counted in its topic's stats.
package pubsub

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// PubSub is a typed publish/subscribe transport.
//
//counterfeiter:generate . PubSub
type PubSub[T any] interface {
	Publish(ctx context.Context, topic string, message T) error

	// Subscribe returns the delivery channel and an unsubscribe func. The
	// channel is closed on unsubscribe, on ctx cancellation and on Close.
	Subscribe(ctx context.Context, topic string) (<-chan Message[T], func(), error)

	Stats(topic string) TopicStats

	Close() error

	Health(ctx context.Context) error
}

// Message is one delivered payload
type Message[T any] struct {
	ID        string
	Topic     string
	Payload   T
	Timestamp time.Time
}

// TopicStats provides statistics about a topic.
type TopicStats struct {
	Topic           string
	Published       int64
	Dropped         int64
	SubscriberCount int
	LastMessageTime *time.Time
}

type memoryPubSub[T any] struct {
	topics      map[string]*topic[T]
	topicsMutex sync.RWMutex
	bufferSize  int
	closed      bool
	closeMutex  sync.RWMutex
	nextID      atomic.Int64
}

type topic[T any] struct {
	name        string
	subscribers map[int64]*subscriber[T]
	subMutex    sync.RWMutex
	published   atomic.Int64
	dropped     atomic.Int64
	lastMessage atomic.Pointer[time.Time]
}

type subscriber[T any] struct {
	channel chan Message[T]
	cancel  context.CancelFunc
}

// Option configures the in-memory implementation
type Option[T any] func(*memoryPubSub[T])

// WithBufferSize sets the buffer size for subscriber channels.
func WithBufferSize[T any](size int) Option[T] {
	return func(p *memoryPubSub[T]) {
		if size > 0 {
			p.bufferSize = size
		}
	}
}

func NewPubSub[T any](opts ...Option[T]) PubSub[T] {
	p := &memoryPubSub[T]{
		topics:     make(map[string]*topic[T]),
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *memoryPubSub[T]) Publish(ctx context.Context, topicName string, message T) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	p.closeMutex.RLock()
	defer p.closeMutex.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	t := p.getOrCreateTopic(topicName)
	now := time.Now()
	msg := Message[T]{
		ID:        strconv.FormatInt(p.nextID.Add(1), 10),
		Topic:     topicName,
		Payload:   message,
		Timestamp: now,
	}

	t.published.Add(1)
	t.lastMessage.Store(&now)

	// Sends happen under the read lock so unsubscribe cannot close a
	// channel mid-delivery.
	t.subMutex.RLock()
	defer t.subMutex.RUnlock()
	for _, sub := range t.subscribers {
		select {
		case sub.channel <- msg:
		default:
			t.dropped.Add(1)
		}
	}

	return nil
}

func (p *memoryPubSub[T]) Subscribe(ctx context.Context, topicName string) (<-chan Message[T], func(), error) {
	p.closeMutex.RLock()
	defer p.closeMutex.RUnlock()
	if p.closed {
		return nil, nil, ErrSubscriberClosed
	}

	t := p.getOrCreateTopic(topicName)
	subCtx, cancel := context.WithCancel(ctx)
	id := p.nextID.Add(1)
	sub := &subscriber[T]{
		channel: make(chan Message[T], p.bufferSize),
		cancel:  cancel,
	}

	t.subMutex.Lock()
	t.subscribers[id] = sub
	t.subMutex.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			t.subMutex.Lock()
			if _, exists := t.subscribers[id]; exists {
				delete(t.subscribers, id)
				close(sub.channel)
			}
			t.subMutex.Unlock()
		})
	}

	go func() {
		<-subCtx.Done()
		unsubscribe()
	}()

	return sub.channel, unsubscribe, nil
}

func (p *memoryPubSub[T]) Stats(topicName string) TopicStats {
	p.topicsMutex.RLock()
	t, ok := p.topics[topicName]
	p.topicsMutex.RUnlock()
	if !ok {
		return TopicStats{Topic: topicName}
	}

	t.subMutex.RLock()
	count := len(t.subscribers)
	t.subMutex.RUnlock()

	return TopicStats{
		Topic:           topicName,
		Published:       t.published.Load(),
		Dropped:         t.dropped.Load(),
		SubscriberCount: count,
		LastMessageTime: t.lastMessage.Load(),
	}
}

// Close closes every subscriber channel. Further publishes fail.
func (p *memoryPubSub[T]) Close() error {
	p.closeMutex.Lock()
	defer p.closeMutex.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.topicsMutex.Lock()
	defer p.topicsMutex.Unlock()

	for _, t := range p.topics {
		t.subMutex.Lock()
		for id, sub := range t.subscribers {
			sub.cancel()
			close(sub.channel)
			delete(t.subscribers, id)
		}
		t.subMutex.Unlock()
	}

	return nil
}

func (p *memoryPubSub[T]) Health(ctx context.Context) error {
	p.closeMutex.RLock()
	defer p.closeMutex.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}
	return ctx.Err()
}

func (p *memoryPubSub[T]) getOrCreateTopic(name string) *topic[T] {
	p.topicsMutex.RLock()
	if t, exists := p.topics[name]; exists {
		p.topicsMutex.RUnlock()
		return t
	}
	p.topicsMutex.RUnlock()

	p.topicsMutex.Lock()
	defer p.topicsMutex.Unlock()

	if t, exists := p.topics[name]; exists {
		return t
	}

	t := &topic[T]{
		name:        name,
		subscribers: make(map[int64]*subscriber[T]),
	}
	p.topics[name] = t
	return t
}
