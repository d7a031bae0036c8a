package queue

import (
	"github.com/ehsaniara/flowq/internal/flowq/domain"
)

// rankBefore orders items by priority (highest first), then by admission
// sequence (oldest first).
func rankBefore(a, b *domain.QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

type readyEntry struct {
	item  *domain.QueueItem
	index int
}

// readyHeap holds a project's queued items with the next one to start at
// the root (heap.Interface).
type readyHeap []*readyEntry

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	return rankBefore(h[i].item, h[j].item)
}

func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *readyHeap) Push(x interface{}) {
	e := x.(*readyEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
