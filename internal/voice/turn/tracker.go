// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     turn
// Description: Turn generations and their cancellation contexts
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package turn

import (
	"context"
	"sync"
)

// Tracker hands out a context per turn generation. Advancing the generation
// cancels the previous context, which is how in-flight synthesis and
// playback learn about an interrupt at their next chunk boundary.
type Tracker struct {
	mu     sync.Mutex
	parent context.Context
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTracker creates a tracker whose contexts derive from parent
func NewTracker(parent context.Context) *Tracker {
	ctx, cancel := context.WithCancel(parent)
	return &Tracker{parent: parent, ctx: ctx, cancel: cancel}
}

// Current returns the current generation and its context
func (t *Tracker) Current() (uint64, context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen, t.ctx
}

// Generation returns the current generation
func (t *Tracker) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// IsCurrent reports whether gen is still the live generation
func (t *Tracker) IsCurrent(gen uint64) bool {
	return t.Generation() == gen
}

// Context returns the context for gen. Stale generations get an already
// cancelled context.
func (t *Tracker) Context(gen uint64) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen == t.gen {
		return t.ctx
	}
	ctx, cancel := context.WithCancel(t.parent)
	cancel()
	return ctx
}

// Advance cancels the current generation and starts the next one
func (t *Tracker) Advance() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancel()
	t.gen++
	t.ctx, t.cancel = context.WithCancel(t.parent)
	return t.gen
}

// Stop cancels the current generation without starting a new one
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel()
}
