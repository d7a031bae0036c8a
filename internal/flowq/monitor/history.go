package monitor

import "time"

// history keeps the newest limit entries in insertion order. Not safe for
// concurrent use; the monitor guards it.
type history[T any] struct {
	limit   int
	entries []T
	stamp   func(T) time.Time
}

func newHistory[T any](limit int, stamp func(T) time.Time) *history[T] {
	if limit < 1 {
		limit = 1
	}
	return &history[T]{limit: limit, stamp: stamp}
}

func (h *history[T]) add(v T) {
	h.entries = append(h.entries, v)
	if over := len(h.entries) - h.limit; over > 0 {
		// shift instead of reslicing so the backing array does not grow forever
		n := copy(h.entries, h.entries[over:])
		clear(h.entries[n:])
		h.entries = h.entries[:n]
	}
}

func (h *history[T]) len() int {
	return len(h.entries)
}

func (h *history[T]) last() (T, bool) {
	var zero T
	if len(h.entries) == 0 {
		return zero, false
	}
	return h.entries[len(h.entries)-1], true
}

// since returns a copy of the entries stamped at or after cutoff
func (h *history[T]) since(cutoff time.Time) []T {
	start := len(h.entries)
	for start > 0 && !h.stamp(h.entries[start-1]).Before(cutoff) {
		start--
	}
	out := make([]T, len(h.entries)-start)
	copy(out, h.entries[start:])
	return out
}
