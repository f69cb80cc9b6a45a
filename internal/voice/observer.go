// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     voice
// Description: Non-blocking fan-out of turns, state changes and snapshots
// Created:     2025-12-12
// License:     MIT
// ============================================================================

package voice

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/internal/voice/queue"
)

// ChatTurn is one completed exchange as shown to the user
type ChatTurn struct {
	ID          string        `json:"id"`
	Generation  uint64        `json:"generation"`
	Source      string        `json:"source"`
	User        string        `json:"user"`
	Assistant   string        `json:"assistant"`
	Provider    string        `json:"provider"`
	Latency     time.Duration `json:"latency"`
	Interrupted bool          `json:"interrupted"`
	Dropped     string        `json:"dropped,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Snapshot is a point-in-time view of the pipeline
type Snapshot struct {
	At         time.Time        `json:"at"`
	State      string           `json:"state"`
	Previous   string           `json:"previous"`
	StateFor   time.Duration    `json:"state_for"`
	Generation uint64           `json:"generation"`
	Listening  bool             `json:"listening"`
	Speaking   bool             `json:"speaking"`
	Armed      bool             `json:"armed"`
	Queues     []queue.Stats    `json:"queues"`
	Stages     map[string]any   `json:"stages"`
	Counters   SnapshotCounters `json:"counters"`
}

// SnapshotCounters holds manager-level counters
type SnapshotCounters struct {
	Turns       uint64 `json:"turns"`
	Interrupts  uint64 `json:"interrupts"`
	Restarts    uint64 `json:"restarts"`
	Overlaps    uint64 `json:"overlaps"`
	BusDropped  uint64 `json:"bus_dropped"`
	Undelivered uint64 `json:"undelivered"`
}

// NotificationKind identifies the payload of a Notification
type NotificationKind string

const (
	NotifyTurn     NotificationKind = "turn"
	NotifyState    NotificationKind = "state"
	NotifySnapshot NotificationKind = "snapshot"
)

// Notification is what subscribers receive. Exactly one payload is set.
type Notification struct {
	Kind     NotificationKind `json:"kind"`
	Turn     *ChatTurn        `json:"turn,omitempty"`
	State    *StateChange     `json:"state,omitempty"`
	Snapshot *Snapshot        `json:"snapshot,omitempty"`
}

// Observer consumes notifications on its own goroutine
type Observer interface {
	OnChatTurn(ChatTurn)
	OnStateChange(StateChange)
	OnSnapshot(Snapshot)
}

// Fanout delivers notifications to subscribers without ever blocking the
// publisher. A subscriber whose buffer is full misses the notification.
type Fanout struct {
	mu          sync.RWMutex
	subscribers []chan Notification
	buffer      int
	undelivered atomic.Uint64
	closed      bool
}

// NewFanout creates a fan-out with the given per-subscriber buffer
func NewFanout(buffer int) *Fanout {
	if buffer < 1 {
		buffer = 64
	}
	return &Fanout{buffer: buffer}
}

// Subscribe returns a channel for notifications
func (f *Fanout) Subscribe() chan Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Notification, f.buffer)
	if f.closed {
		close(ch)
		return ch
	}
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (f *Fanout) Unsubscribe(ch chan Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, sub := range f.subscribers {
		if sub == ch {
			f.subscribers = append(f.subscribers[:i], f.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Attach runs obs on its own goroutine until the fan-out closes
func (f *Fanout) Attach(obs Observer) {
	ch := f.Subscribe()
	go func() {
		for n := range ch {
			switch n.Kind {
			case NotifyTurn:
				obs.OnChatTurn(*n.Turn)
			case NotifyState:
				obs.OnStateChange(*n.State)
			case NotifySnapshot:
				obs.OnSnapshot(*n.Snapshot)
			}
		}
	}()
}

// PublishTurn delivers a completed chat turn
func (f *Fanout) PublishTurn(t ChatTurn) {
	f.publish(Notification{Kind: NotifyTurn, Turn: &t})
}

// PublishState delivers a state change
func (f *Fanout) PublishState(c StateChange) {
	f.publish(Notification{Kind: NotifyState, State: &c})
}

// PublishSnapshot delivers a snapshot
func (f *Fanout) PublishSnapshot(s Snapshot) {
	f.publish(Notification{Kind: NotifySnapshot, Snapshot: &s})
}

// Undelivered returns how many notifications were skipped for full subscribers
func (f *Fanout) Undelivered() uint64 {
	return f.undelivered.Load()
}

// Close closes all subscriber channels
func (f *Fanout) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.subscribers {
		close(ch)
	}
	f.subscribers = nil
}

func (f *Fanout) publish(n Notification) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subscribers {
		select {
		case ch <- n:
		default:
			f.undelivered.Add(1)
		}
	}
}
