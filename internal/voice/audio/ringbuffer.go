// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     audio
// Description: Fixed-capacity ring buffer with overwrite-oldest semantics
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"sync"
	"time"

	"github.com/msto63/conversa/internal/voice/queue"
)

// RingStats is a snapshot of ring buffer counters.
// Pushes - Drops - Pops == Len holds for every snapshot.
type RingStats struct {
	Capacity int    `json:"capacity"`
	Len      int    `json:"len"`
	Pushes   uint64 `json:"pushes"`
	Pops     uint64 `json:"pops"`
	Drops    uint64 `json:"drops"`
}

// RingBuffer is a circular buffer for one producer and one consumer.
// Push never blocks; on overflow the oldest unread item is overwritten
// and counted as a drop.
type RingBuffer[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	size   int
	notify chan struct{}

	pushes uint64
	pops   uint64
	drops  uint64
}

// NewRingBuffer creates a ring buffer with fixed capacity (minimum 1)
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items:  make([]T, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push adds an item and reports whether an unread item was overwritten
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	r.pushes++

	overwrote := false
	if r.size == len(r.items) {
		r.head = (r.head + 1) % len(r.items)
		r.size--
		r.drops++
		overwrote = true
	}
	r.items[(r.head+r.size)%len(r.items)] = item
	r.size++
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return overwrote
}

// Pop removes the oldest item without waiting
func (r *RingBuffer[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	r.pops++
	return item, true
}

// PopWait waits up to timeout for the next item
func (r *RingBuffer[T]) PopWait(ctx context.Context, timeout time.Duration) (T, queue.WaitResult) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if item, ok := r.Pop(); ok {
			return item, queue.Ok
		}
		select {
		case <-r.notify:
		case <-timer.C:
			return zero, queue.TimedOut
		case <-ctx.Done():
			return zero, queue.Cancelled
		}
	}
}

// Reset discards unread items, counting them as drops
func (r *RingBuffer[T]) Reset() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
	r.drops += uint64(n)
	return n
}

// Len returns the number of unread items
func (r *RingBuffer[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity
func (r *RingBuffer[T]) Cap() int {
	return len(r.items)
}

// Drops returns the number of items lost to overwrite or reset
func (r *RingBuffer[T]) Drops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

// Stats returns a snapshot of the counters
func (r *RingBuffer[T]) Stats() RingStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RingStats{
		Capacity: len(r.items),
		Len:      r.size,
		Pushes:   r.pushes,
		Pops:     r.pops,
		Drops:    r.drops,
	}
}
