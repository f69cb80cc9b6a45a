// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     turn
// Description: Turn-ownership flags shared by capture, playback and manager
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package turn

import (
	"sync"
	"sync/atomic"
	"time"
)

// Flags holds listening_enabled and assistant_speaking. Stages only read
// them; the manager is the single writer.
type Flags struct {
	listening atomic.Bool
	speaking  atomic.Bool
	armed     atomic.Bool

	mu           sync.Mutex
	overlapSince time.Time
	now          func() time.Time
}

// NewFlags creates flags with listening enabled and the assistant silent
func NewFlags() *Flags {
	f := &Flags{now: time.Now}
	f.listening.Store(true)
	return f
}

// ListeningEnabled reports whether captured audio is forwarded
func (f *Flags) ListeningEnabled() bool { return f.listening.Load() }

// AssistantSpeaking reports whether the assistant holds the floor
func (f *Flags) AssistantSpeaking() bool { return f.speaking.Load() }

// BargeInArmed reports whether a barge-in watcher needs listening during speech
func (f *Flags) BargeInArmed() bool { return f.armed.Load() }

// SetListening updates listening_enabled
func (f *Flags) SetListening(v bool) {
	f.listening.Store(v)
	f.updateOverlap()
}

// SetSpeaking updates assistant_speaking
func (f *Flags) SetSpeaking(v bool) {
	f.speaking.Store(v)
	f.updateOverlap()
}

// SetArmed updates the barge-in armed flag
func (f *Flags) SetArmed(v bool) {
	f.armed.Store(v)
}

// Overlap returns how long both flags have been true, or 0
func (f *Flags) Overlap() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overlapSince.IsZero() {
		return 0
	}
	return f.now().Sub(f.overlapSince)
}

func (f *Flags) updateOverlap() {
	both := f.listening.Load() && f.speaking.Load()

	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case both && f.overlapSince.IsZero():
		f.overlapSince = f.now()
	case !both:
		f.overlapSince = time.Time{}
	}
}
