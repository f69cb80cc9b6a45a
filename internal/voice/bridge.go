// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     voice
// Description: Barge-in: interrupts the assistant when the user starts talking
// Created:     2025-12-13
// License:     MIT
// ============================================================================

package voice

import (
	"context"
	"sync/atomic"

	"github.com/msto63/conversa/pkg/core/logging"
)

// Interrupter is the manager side the bridge needs
type Interrupter interface {
	State() State
	Interrupt(reason string) bool
}

// BridgeStats holds barge-in counters
type BridgeStats struct {
	Onsets     uint64 `json:"onsets"`
	Ignored    uint64 `json:"ignored"`
	Interrupts uint64 `json:"interrupts"`
	Missed     uint64 `json:"missed"`
}

// Bridge watches speech onsets in live mode and interrupts the assistant
// once per onset while it is processing or speaking
type Bridge struct {
	target  Interrupter
	signals chan bool
	logger  *logging.Logger

	// userSpeaking is set on onset and cleared on offset
	userSpeaking atomic.Bool

	onsets     atomic.Uint64
	ignored    atomic.Uint64
	interrupts atomic.Uint64
	missed     atomic.Uint64
}

// NewBridge creates a bridge for target
func NewBridge(target Interrupter) *Bridge {
	return &Bridge{
		target:  target,
		signals: make(chan bool, 32),
		logger:  logging.New("bridge"),
	}
}

// OnSpeech queues an onset or offset signal without blocking
func (b *Bridge) OnSpeech(started bool) {
	select {
	case b.signals <- started:
	default:
		b.missed.Add(1)
	}
}

// Run handles signals until ctx is cancelled
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case started := <-b.signals:
			if started {
				b.onset()
			} else {
				b.userSpeaking.Store(false)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bridge) onset() {
	b.onsets.Add(1)
	if !b.userSpeaking.CompareAndSwap(false, true) {
		b.ignored.Add(1)
		return
	}

	state := b.target.State()
	if state != StateSpeaking && state != StateProcessing {
		return
	}
	if b.target.Interrupt("barge_in") {
		b.interrupts.Add(1)
		b.logger.Info("Barge-in", "state", state.String())
	}
}

// Stats returns barge-in counters
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Onsets:     b.onsets.Load(),
		Ignored:    b.ignored.Load(),
		Interrupts: b.interrupts.Load(),
		Missed:     b.missed.Load(),
	}
}

// String returns the stage name
func (b *Bridge) String() string {
	return "bridge"
}
