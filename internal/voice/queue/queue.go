// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     queue
// Description: Bounded queues with explicit overflow policy and bounded waits
// Created:     2025-12-08
// License:     MIT
// ============================================================================

// Package queue provides the bounded, instrumented queues that connect the
// pipeline stages. Producers never block; consumers wait for a bounded time
// and receive a tagged WaitResult.
package queue

import (
	"context"
	"sync"
	"time"
)

// WaitResult tags the outcome of a bounded wait
type WaitResult int

const (
	// Ok means a value was returned
	Ok WaitResult = iota
	// TimedOut means the wait expired without a value
	TimedOut
	// Cancelled means the context ended the wait
	Cancelled
)

// String returns the string representation of the result
func (r WaitResult) String() string {
	switch r {
	case Ok:
		return "ok"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Policy decides what happens when Put meets a full queue
type Policy int

const (
	// DropOldest evicts the oldest queued item to make room
	DropOldest Policy = iota
	// RejectNew refuses the incoming item
	RejectNew
)

// String returns the string representation of the policy
func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case RejectNew:
		return "reject_new"
	default:
		return "unknown"
	}
}

// Stats is a consistent snapshot of queue counters.
// Puts - Drops - Pops == Len holds for every snapshot.
type Stats struct {
	Name      string        `json:"name"`
	Policy    string        `json:"policy"`
	Capacity  int           `json:"capacity"`
	Len       int           `json:"len"`
	Puts      uint64        `json:"puts"`
	Drops     uint64        `json:"drops"`
	Pops      uint64        `json:"pops"`
	Waits     uint64        `json:"waits"`
	WaitTotal time.Duration `json:"wait_total"`
	WaitMax   time.Duration `json:"wait_max"`
}

// AvgWait returns the mean time a Pop call spent waiting
func (s Stats) AvgWait() time.Duration {
	if s.Waits == 0 {
		return 0
	}
	return s.WaitTotal / time.Duration(s.Waits)
}

// BackpressureQueue is a bounded FIFO safe for multiple producers and consumers
type BackpressureQueue[T any] struct {
	mu     sync.Mutex
	name   string
	policy Policy
	items  []T
	head   int
	size   int
	notify chan struct{}

	puts      uint64
	drops     uint64
	pops      uint64
	waits     uint64
	waitTotal time.Duration
	waitMax   time.Duration
}

// New creates a queue with fixed capacity (minimum 1)
func New[T any](name string, capacity int, policy Policy) *BackpressureQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BackpressureQueue[T]{
		name:   name,
		policy: policy,
		items:  make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Name returns the queue name used in metrics
func (q *BackpressureQueue[T]) Name() string {
	return q.name
}

// Put enqueues item without blocking. It reports whether the item was
// accepted; under DropOldest it always is and the evicted item counts as a drop.
func (q *BackpressureQueue[T]) Put(item T) bool {
	q.mu.Lock()
	q.puts++

	if q.size == len(q.items) {
		if q.policy == RejectNew {
			q.drops++
			q.mu.Unlock()
			return false
		}
		var zero T
		q.items[q.head] = zero
		q.head = (q.head + 1) % len(q.items)
		q.size--
		q.drops++
	}

	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	q.mu.Unlock()

	q.signal()
	return true
}

// TryPop dequeues without waiting
func (q *BackpressureQueue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	item, ok := q.popLocked()
	remaining := q.size
	q.mu.Unlock()

	if ok && remaining > 0 {
		q.signal()
	}
	return item, ok
}

// Pop waits up to timeout for an item. A timeout <= 0 waits until ctx ends.
func (q *BackpressureQueue[T]) Pop(ctx context.Context, timeout time.Duration) (T, WaitResult) {
	var zero T
	start := time.Now()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		item, ok := q.popLocked()
		remaining := q.size
		if ok {
			q.recordWaitLocked(time.Since(start))
		}
		q.mu.Unlock()

		if ok {
			if remaining > 0 {
				q.signal()
			}
			return item, Ok
		}

		select {
		case <-q.notify:
		case <-expired:
			q.mu.Lock()
			q.recordWaitLocked(time.Since(start))
			q.mu.Unlock()
			return zero, TimedOut
		case <-ctx.Done():
			return zero, Cancelled
		}
	}
}

// Clear discards all queued items and counts them as drops
func (q *BackpressureQueue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.size
	var zero T
	for i := 0; i < q.size; i++ {
		q.items[(q.head+i)%len(q.items)] = zero
	}
	q.head = 0
	q.size = 0
	q.drops += uint64(n)
	return n
}

// Len returns the number of queued items
func (q *BackpressureQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the fixed capacity
func (q *BackpressureQueue[T]) Cap() int {
	return len(q.items)
}

// Stats returns a snapshot of the counters
func (q *BackpressureQueue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:      q.name,
		Policy:    q.policy.String(),
		Capacity:  len(q.items),
		Len:       q.size,
		Puts:      q.puts,
		Drops:     q.drops,
		Pops:      q.pops,
		Waits:     q.waits,
		WaitTotal: q.waitTotal,
		WaitMax:   q.waitMax,
	}
}

func (q *BackpressureQueue[T]) popLocked() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	q.pops++
	return item, true
}

func (q *BackpressureQueue[T]) recordWaitLocked(d time.Duration) {
	q.waits++
	q.waitTotal += d
	if d > q.waitMax {
		q.waitMax = d
	}
}

// signal wakes one waiting consumer. A consumer that takes an item and sees
// more remaining re-signals, so no wakeup is lost with several consumers.
func (q *BackpressureQueue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
