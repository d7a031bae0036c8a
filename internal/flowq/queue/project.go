package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/pkg/errors"
)

// projectQueue owns every item of one project. All access goes through mu;
// different projects never share a lock.
type projectQueue struct {
	id string
	mu sync.RWMutex

	items   map[string]*domain.QueueItem
	order   []*domain.QueueItem // admission order
	ready   readyHeap
	entries map[string]*readyEntry
	running int

	admitted  int
	completed int
	failed    int
	cancelled int

	// finished = completed + failed, used for response time and estimates
	finishedCount    int
	finishedDuration time.Duration
}

func newProjectQueue(id string) *projectQueue {
	return &projectQueue{
		id:      id,
		items:   make(map[string]*domain.QueueItem),
		entries: make(map[string]*readyEntry),
	}
}

func (p *projectQueue) get(itemID string) (*domain.QueueItem, error) {
	item, ok := p.items[itemID]
	if !ok {
		return nil, errors.NewNotFoundError("queue item", itemID)
	}
	return item, nil
}

func (p *projectQueue) push(item *domain.QueueItem) {
	p.items[item.ID] = item
	p.order = append(p.order, item)
	e := &readyEntry{item: item}
	heap.Push(&p.ready, e)
	p.entries[item.ID] = e
	p.admitted++
}

func (p *projectQueue) head() *domain.QueueItem {
	if len(p.ready) == 0 {
		return nil
	}
	return p.ready[0].item
}

func (p *projectQueue) removeReady(itemID string) {
	if e, ok := p.entries[itemID]; ok {
		heap.Remove(&p.ready, e.index)
		delete(p.entries, itemID)
	}
}

// transition moves item to status `to`, keeping the counters and the ready
// heap in line. Backward moves and moves out of terminal states are refused.
func (p *projectQueue) transition(item *domain.QueueItem, to domain.ItemStatus, now time.Time) error {
	from := item.Status
	if !from.CanTransitionTo(to) {
		return errors.NewStateTransitionError(item.ID, string(from), string(to))
	}

	switch from {
	case domain.StatusQueued:
		p.removeReady(item.ID)
	case domain.StatusRunning:
		p.running--
	}

	switch to {
	case domain.StatusRunning:
		p.running++
	case domain.StatusCompleted:
		p.completed++
		p.recordFinished(item, now)
	case domain.StatusFailed:
		p.failed++
		p.recordFinished(item, now)
	case domain.StatusCancelled:
		p.cancelled++
	}

	item.Status = to
	return nil
}

func (p *projectQueue) recordFinished(item *domain.QueueItem, now time.Time) {
	if item.StartedAt == nil {
		return
	}
	p.finishedCount++
	p.finishedDuration += now.Sub(*item.StartedAt)
}

func (p *projectQueue) averageDuration(fallback time.Duration) time.Duration {
	if p.finishedCount == 0 {
		return fallback
	}
	return p.finishedDuration / time.Duration(p.finishedCount)
}

// reposition derives position and estimated start for every item. Active
// items get contiguous positions from 0; terminal items get -1.
func (p *projectQueue) reposition(now time.Time, fallback time.Duration) {
	active := make([]*domain.QueueItem, 0, len(p.ready)+p.running)
	for _, item := range p.order {
		if item.Status.IsActive() {
			active = append(active, item)
			continue
		}
		item.Position = -1
		item.EstimatedStartTime = nil
	}

	sort.SliceStable(active, func(i, j int) bool {
		return rankBefore(active[i], active[j])
	})

	avg := p.averageDuration(fallback)
	for i, item := range active {
		item.Position = i
		est := now.Add(time.Duration(i) * avg)
		item.EstimatedStartTime = &est
	}
}

// purge drops terminal items that ended before cutoff
func (p *projectQueue) purge(cutoff time.Time) int {
	kept := p.order[:0]
	removed := 0
	for _, item := range p.order {
		if item.Status.IsTerminal() && endedBefore(item, cutoff) {
			delete(p.items, item.ID)
			removed++
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(p.order); i++ {
		p.order[i] = nil
	}
	p.order = kept
	return removed
}

func endedBefore(item *domain.QueueItem, cutoff time.Time) bool {
	end := item.CompletedAt
	if end == nil {
		end = item.CancelledAt
	}
	return end != nil && end.Before(cutoff)
}
