package alerts

import "sync/atomic"

// QueueCapacity bounds the number of alerts held for the command bridge.
// Enforcement must never stall behind a slow reader, so inserts past the
// bound evict instead of blocking.
const QueueCapacity = 64

// Queue is the bounded buffer of alerts pending pickup over the command
// bridge. Enqueue and Pop are both non-blocking.
type Queue struct {
	ch      chan Alert
	dropped atomic.Uint64
}

// NewQueue returns an empty queue with the standard capacity.
func NewQueue() *Queue {
	return &Queue{ch: make(chan Alert, QueueCapacity)}
}

// Enqueue inserts a without blocking. When the queue is full the oldest
// pending alert is evicted to make room. Under a concurrent eviction
// race the new alert itself may be dropped; either way exactly one
// record is counted as lost. Reports whether a was stored.
func (q *Queue) Enqueue(a Alert) bool {
	select {
	case q.ch <- a:
		return true
	default:
	}
	select {
	case <-q.ch:
		q.dropped.Add(1)
	default:
	}
	select {
	case q.ch <- a:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop removes and returns the oldest pending alert. ok is false when the
// queue is empty; callers translate that to a record with the none type.
func (q *Queue) Pop() (a Alert, ok bool) {
	select {
	case a = <-q.ch:
		return a, true
	default:
		return Alert{}, false
	}
}

// Pending reports the number of alerts currently buffered.
func (q *Queue) Pending() int { return len(q.ch) }

// Dropped reports how many alerts were lost to the capacity bound since
// the queue was created.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
