package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/pkg/logger"
)

const mirrorSaveTimeout = 5 * time.Second

// mirrorWriter serialises snapshot writes on one goroutine so the store
// sees mutations of an item in order.
type mirrorWriter struct {
	target Mirror
	ch     chan *domain.QueueItem
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	logger *logger.Logger
}

func newMirrorWriter(target Mirror, buffer int, log *logger.Logger) *mirrorWriter {
	if buffer < 1 {
		buffer = 256
	}
	w := &mirrorWriter{
		target: target,
		ch:     make(chan *domain.QueueItem, buffer),
		done:   make(chan struct{}),
		logger: log,
	}
	go w.run()
	return w
}

func (w *mirrorWriter) save(item *domain.QueueItem) {
	if w == nil {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- item:
	default:
		w.logger.Warn("mirror backlog full, snapshot dropped", "itemId", item.ID, "status", item.Status)
	}
}

func (w *mirrorWriter) run() {
	defer close(w.done)
	for item := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorSaveTimeout)
		if err := w.target.Save(ctx, item); err != nil {
			w.logger.Error("failed to mirror queue item", "itemId", item.ID, "projectId", item.ProjectID, "error", err)
		}
		cancel()
	}
}

// close drains pending snapshots and stops the writer
func (w *mirrorWriter) close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()
	<-w.done
}
