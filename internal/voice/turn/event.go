// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     turn
// Description: Typed events reported by pipeline stages to the manager
// Created:     2025-12-09
// License:     MIT
// ============================================================================

// Package turn holds the small amount of state shared between the manager
// and the pipeline stages: the event bus, the turn generation tracker and the
// turn-ownership flags.
package turn

import (
	"context"
	"sync/atomic"
	"time"
)

// Kind identifies an event
type Kind int

const (
	SpeechStarted Kind = iota
	SpeechEnded
	UtteranceQueued
	UtteranceDiscarded
	TranscriptAccepted
	TranscriptRejected
	RequestStarted
	ResponseReady
	RequestDropped
	SynthesisFinished
	PlaybackFinished
	StageFailed
	StageRestarted
)

var kindNames = map[Kind]string{
	SpeechStarted:      "speech_started",
	SpeechEnded:        "speech_ended",
	UtteranceQueued:    "utterance_queued",
	UtteranceDiscarded: "utterance_discarded",
	TranscriptAccepted: "transcript_accepted",
	TranscriptRejected: "transcript_rejected",
	RequestStarted:     "request_started",
	ResponseReady:      "response_ready",
	RequestDropped:     "request_dropped",
	SynthesisFinished:  "synthesis_finished",
	PlaybackFinished:   "playback_finished",
	StageFailed:        "stage_failed",
	StageRestarted:     "stage_restarted",
}

// String returns the string representation of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a stage notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind       Kind
	Stage      string
	Generation uint64
	TurnID     string
	Text       string
	Detail     string
	Duration   time.Duration
	Err        error
	At         time.Time
}

// Bus carries events from stages to the manager
type Bus struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewBus creates a bus with the given buffer size
func NewBus(size int) *Bus {
	if size < 1 {
		size = 1
	}
	return &Bus{ch: make(chan Event, size)}
}

// Emit delivers ev, blocking until the manager accepts it or ctx ends.
// It reports whether the event was delivered.
func (b *Bus) Emit(ctx context.Context, ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case b.ch <- ev:
		return true
	case <-ctx.Done():
		b.dropped.Add(1)
		return false
	}
}

// Events returns the receive side for the manager
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Dropped returns the number of events lost to cancellation
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
