// Package queue implements the per-interpreter external FIFO queue: sent
// events and fired delayed sends, pushed by possibly-concurrent senders
// (delayed timers, child-actor emissions) and drained by a single
// goroutine at a time.
package queue

import (
	"sync/atomic"

	"github.com/statecraft/hsm/embedded"
)

// Queue is an atomic-pointer FIFO of events, safe for concurrent Push from
// multiple goroutines (delayed sends, child-actor emissions) against a
// single draining consumer.
type Queue struct {
	events atomic.Pointer[[]embedded.Event]
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{}
	empty := make([]embedded.Event, 0)
	q.events.Store(&empty)
	return q
}

// Len reports the number of queued events.
func (q *Queue) Len() int {
	return len(*q.events.Load())
}

// Pop removes and returns the oldest event, or nil if the queue is empty.
func (q *Queue) Pop() embedded.Event {
	for {
		old := q.events.Load()
		events := *old
		if len(events) == 0 {
			return nil
		}
		event := events[0]
		rest := append([]embedded.Event{}, events[1:]...)
		if q.events.CompareAndSwap(old, &rest) {
			return event
		}
	}
}

// Push appends an event to the back of the queue.
func (q *Queue) Push(event embedded.Event) {
	for {
		old := q.events.Load()
		events := append(append([]embedded.Event{}, *old...), event)
		if q.events.CompareAndSwap(old, &events) {
			return
		}
	}
}

// Drain removes and returns every queued event, oldest first. Used to
// flush whatever a stopped Service's external queue still holds, so a
// Send racing a concurrent Stop doesn't pin those events' data in memory
// past the point anything will ever drain them.
func (q *Queue) Drain() []embedded.Event {
	for {
		old := q.events.Load()
		events := *old
		empty := make([]embedded.Event, 0)
		if q.events.CompareAndSwap(old, &empty) {
			return events
		}
	}
}
