// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     history
// Description: Recorder observer and conversational memory context
// Created:     2025-12-14
// License:     MIT
// ============================================================================

package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/msto63/conversa/internal/voice"
	"github.com/msto63/conversa/internal/voice/cognition"
	"github.com/msto63/conversa/pkg/core/logging"
)

// Recorder stores completed chat turns of one session
type Recorder struct {
	store   Store
	session *Session
	timeout time.Duration
	logger  *logging.Logger
}

// NewRecorder opens a new session in store
func NewRecorder(ctx context.Context, store Store, persona string) (*Recorder, error) {
	sess := &Session{ID: uuid.New().String(), Persona: persona}
	if err := store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return &Recorder{
		store:   store,
		session: sess,
		timeout: 2 * time.Second,
		logger:  logging.New("history"),
	}, nil
}

// Session returns the recorded session
func (r *Recorder) Session() *Session {
	return r.session
}

// OnChatTurn stores the turn
func (r *Recorder) OnChatTurn(ct voice.ChatTurn) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	t := &Turn{
		ID:          ct.ID,
		SessionID:   r.session.ID,
		Source:      ct.Source,
		User:        ct.User,
		Assistant:   ct.Assistant,
		Provider:    ct.Provider,
		Latency:     ct.Latency,
		Interrupted: ct.Interrupted,
		Dropped:     ct.Dropped,
		CreatedAt:   ct.StartedAt,
	}
	if err := r.store.AddTurn(ctx, t); err != nil {
		r.logger.Warn("Failed to store turn", "turn", ct.ID, "error", err)
	}
}

// OnStateChange implements voice.Observer
func (r *Recorder) OnStateChange(voice.StateChange) {}

// OnSnapshot implements voice.Observer
func (r *Recorder) OnSnapshot(voice.Snapshot) {}

// Memory supplies the recent turns of a session as prompt context
type Memory struct {
	store     Store
	sessionID string
	turns     int
}

// NewMemory creates a context source over the last turns of sessionID
func NewMemory(store Store, sessionID string, turns int) *Memory {
	if turns <= 0 {
		turns = 6
	}
	return &Memory{store: store, sessionID: sessionID, turns: turns}
}

// Name implements cognition.ContextSource
func (m *Memory) Name() string {
	return "Conversa recente"
}

// Context implements cognition.ContextSource
func (m *Memory) Context(ctx context.Context, req cognition.Request) (string, error) {
	turns, err := m.store.Recent(ctx, m.sessionID, m.turns)
	if err != nil {
		return "", fmt.Errorf("recent turns: %w", err)
	}

	var sb strings.Builder
	for _, t := range turns {
		if !t.Answered() {
			continue
		}
		fmt.Fprintf(&sb, "Usuário: %s\n", t.User)
		if t.Interrupted {
			fmt.Fprintf(&sb, "Assistente (interrompido): %s\n", t.Assistant)
		} else {
			fmt.Fprintf(&sb, "Assistente: %s\n", t.Assistant)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

var (
	_ voice.Observer          = (*Recorder)(nil)
	_ cognition.ContextSource = (*Memory)(nil)
)
