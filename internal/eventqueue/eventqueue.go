// Package eventqueue implements the dispatch core's priority event queue
// (component C7): a min-heap ordered by (timestamp, event id) giving
// deterministic FIFO ordering for events scheduled at the same instant.
package eventqueue

import (
	"container/heap"
	"time"

	"dispatcher/internal/model"
)

// Queue is a min-heap of scheduled events ordered by (Timestamp, ID).
type Queue struct {
	events eventHeap
}

// New creates an empty event queue.
func New() *Queue {
	q := &Queue{events: make(eventHeap, 0)}
	heap.Init(&q.events)
	return q
}

// Push schedules an event.
func (q *Queue) Push(e model.Event) {
	heap.Push(&q.events, e)
}

// Peek returns the earliest-ordered event without removing it, and whether
// the queue is non-empty.
func (q *Queue) Peek() (model.Event, bool) {
	if len(q.events) == 0 {
		return model.Event{}, false
	}
	return q.events[0], true
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	return len(q.events)
}

// PopIfDue removes and returns the earliest-ordered event iff its timestamp
// is at or before now. Returns false if the queue is empty or the next event
// is not yet due.
func (q *Queue) PopIfDue(now time.Time) (model.Event, bool) {
	top, ok := q.Peek()
	if !ok || top.Timestamp.After(now) {
		return model.Event{}, false
	}
	return heap.Pop(&q.events).(model.Event), true
}

// eventHeap implements container/heap.Interface with an explicit
// (timestamp, id) comparator, independent of any ordering on event payloads.
type eventHeap []model.Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if !h[i].Timestamp.Equal(h[j].Timestamp) {
		return h[i].Timestamp.Before(h[j].Timestamp)
	}
	return h[i].ID < h[j].ID
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(model.Event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
