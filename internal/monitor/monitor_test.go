package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msto63/conversa/internal/telemetry"
	"github.com/msto63/conversa/internal/voice"
	"github.com/msto63/conversa/internal/voice/queue"
)

func frame(t *testing.T, typ string, payload interface{}) frameMsg {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return frameMsg{frame: Frame{Type: typ, Payload: data}}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func sized(t *testing.T) Model {
	t.Helper()
	m := New(Config{URL: "ws://127.0.0.1:1/ws"})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	require.True(t, m.ready)
	return m
}

func TestModel_AppliesFrames(t *testing.T) {
	m := sized(t)
	assert.Equal(t, "IDLE", m.state)

	m, _ = update(t, m, frame(t, telemetry.FrameState, telemetry.StatePayload{
		From: "IDLE", To: "PROCESSING", At: time.Now(),
	}))
	assert.Equal(t, "PROCESSING", m.state)
	assert.Equal(t, "IDLE", m.previous)
	assert.True(t, m.pipelineActive())

	m, _ = update(t, m, frame(t, telemetry.FrameThinking, telemetry.ThinkingPayload{
		RequestID: "r1", Provider: "ollama", Tokens: 12,
	}))
	require.NotNil(t, m.thinking)
	assert.Equal(t, 12, m.thinking.Tokens)
	assert.Contains(t, m.View(), "ollama pensando: 12 tokens")

	m, _ = update(t, m, frame(t, telemetry.FrameSnapshot, voice.Snapshot{
		At:        time.Now(),
		State:     "SPEAKING",
		Previous:  "PROCESSING",
		Listening: false,
		Speaking:  true,
		Queues: []queue.Stats{
			{Name: "utterances", Capacity: 4, Len: 1},
			{Name: "tts_chunks", Capacity: 8, Len: 8, Drops: 3},
		},
		Counters: voice.SnapshotCounters{Turns: 5, Interrupts: 2},
	}))
	require.NotNil(t, m.snapshot)
	assert.Equal(t, "SPEAKING", m.state)
	assert.Equal(t, "PROCESSING", m.previous)
	rows := queueRows(m.snapshot)
	require.Len(t, rows, 2)
	assert.Equal(t, "tts_chunks", rows[0].name, "queues are sorted by name")

	m, _ = update(t, m, frame(t, telemetry.FrameTurn, voice.ChatTurn{
		ID:        "t1",
		Source:    "voice",
		User:      "que horas são",
		Assistant: "São dez horas.",
		Provider:  "ollama",
		Latency:   800 * time.Millisecond,
		StartedAt: time.Now(),
	}))
	require.Len(t, m.turns, 1)
	assert.Nil(t, m.thinking, "a finished turn clears thinking progress")

	view := m.View()
	assert.Contains(t, view, "que horas são")
	assert.Contains(t, view, "São dez horas.")
	assert.Contains(t, view, "Interrupções 2")
	assert.Contains(t, view, "8/8")
	assert.Contains(t, view, "💬 [SPEAKING]")
	assert.Contains(t, view, "← PROCESSING")
}

func TestModel_InterruptedAndDroppedTurns(t *testing.T) {
	m := sized(t)

	m, _ = update(t, m, frame(t, telemetry.FrameTurn, voice.ChatTurn{
		User: "conte uma história", Assistant: "Era uma vez", Interrupted: true, Source: "voice",
	}))
	m, _ = update(t, m, frame(t, telemetry.FrameTurn, voice.ChatTurn{
		User: "e agora", Dropped: "stale", Source: "typed",
	}))

	view := m.View()
	assert.Contains(t, view, "interrompido")
	assert.Contains(t, view, "descartado (stale)")
}

func TestModel_TurnsAreCapped(t *testing.T) {
	m := New(Config{URL: "ws://127.0.0.1:1/ws", MaxTurns: 3})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})

	for i := 0; i < 5; i++ {
		m, _ = update(t, m, frame(t, telemetry.FrameTurn, voice.ChatTurn{User: string(rune('a' + i))}))
	}
	require.Len(t, m.turns, 3)
	assert.Equal(t, "c", m.turns[0].User)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	assert.Empty(t, m.turns)
}

func TestModel_ErrorAndAckFrames(t *testing.T) {
	m := sized(t)

	m, _ = update(t, m, frame(t, telemetry.FrameError, telemetry.ErrorPayload{Code: "submit_failed", Message: "busy"}))
	assert.Equal(t, "Erro submit_failed: busy", m.status)

	m, _ = update(t, m, frame(t, telemetry.FrameAck, "submit"))
	assert.Equal(t, "OK: submit", m.status)
}

func TestModel_TypedInput(t *testing.T) {
	m := sized(t)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.True(t, m.input.Focused())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("olá")})
	assert.Equal(t, "olá", m.input.Value())

	// "q" is text while typing
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Equal(t, "oláq", m.input.Value())

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())

	// Not connected: the command reports the failure
	msg := cmd()
	sent, ok := msg.(commandSentMsg)
	require.True(t, ok)
	assert.Equal(t, "submit", sent.command)
	assert.Error(t, sent.err)

	m, _ = update(t, m, sent)
	assert.True(t, strings.HasPrefix(m.status, "submit falhou"))

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.input.Focused())
}

func TestModel_DisconnectSchedulesReconnect(t *testing.T) {
	m := sized(t)
	m, _ = update(t, m, connectedMsg{})
	assert.True(t, m.connected)

	m, cmd := update(t, m, disconnectedMsg{err: errors.New("connection reset")})
	assert.False(t, m.connected)
	assert.False(t, m.connecting)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "offline")

	m, cmd = update(t, m, tickMsg(time.Now()))
	assert.True(t, m.connecting)
	assert.NotNil(t, cmd)
}

type fakeController struct {
	mu   sync.Mutex
	text []string
}

func (f *fakeController) Submit(text, animation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = append(f.text, text)
	return nil
}

func (f *fakeController) Interrupt(reason string) bool { return true }

func (f *fakeController) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.text...)
}

func nextFrame(t *testing.T, c *Client, want string) Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f, ok := <-c.Frames():
			require.True(t, ok, "feed closed")
			if f.Type == want {
				return f
			}
		case <-deadline:
			t.Fatalf("no %q frame", want)
		}
	}
}

func TestClient_FollowsHub(t *testing.T) {
	ctrl := &fakeController{}
	hub := telemetry.NewHub(ctrl)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	client := NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()
	require.Eventually(t, func() bool { return hub.Stats().Clients == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, client.IsConnected())

	hub.OnStateChange(voice.StateChange{From: voice.StateIdle, To: voice.StateListening, At: time.Now()})
	f := nextFrame(t, client, telemetry.FrameState)
	var p telemetry.StatePayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "LISTENING", p.To)

	require.NoError(t, client.Submit("que horas são"))
	ack := nextFrame(t, client, telemetry.FrameAck)
	assert.JSONEq(t, `"submit"`, string(ack.Payload))
	assert.Equal(t, []string{"que horas são"}, ctrl.submitted())

	require.NoError(t, client.Interrupt())
	ack = nextFrame(t, client, telemetry.FrameAck)
	assert.JSONEq(t, `true`, string(ack.Payload))

	require.NoError(t, client.Ping())
	nextFrame(t, client, telemetry.FramePong)
}

func TestClient_FeedClosesWithServer(t *testing.T) {
	hub := telemetry.NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	client := NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, client.Connect(context.Background()))
	require.Eventually(t, func() bool { return hub.Stats().Clients == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()

	select {
	case _, ok := <-client.Frames():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not close")
	}
	assert.False(t, client.IsConnected())
	assert.Error(t, client.Submit("x"))
}

func TestClient_ConnectFails(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, client.Connect(ctx))
	assert.False(t, client.IsConnected())
}

func TestRenderStateBadge(t *testing.T) {
	assert.Equal(t, "⏸ [IDLE]", stripANSI(RenderStateBadge("IDLE")))
	assert.Equal(t, "🎤 [LISTENING]", stripANSI(RenderStateBadge("LISTENING")))
	assert.Equal(t, "❌ [ERROR]", stripANSI(RenderStateBadge("ERROR")))
	assert.Equal(t, "[DESCONHECIDO]", stripANSI(RenderStateBadge("DESCONHECIDO")))
}

func TestModel_IdleAndErrorAreNotActive(t *testing.T) {
	m := sized(t)
	assert.False(t, m.pipelineActive())

	m, _ = update(t, m, frame(t, telemetry.FrameState, telemetry.StatePayload{
		From: "PROCESSING", To: "ERROR", At: time.Now(),
	}))
	assert.False(t, m.pipelineActive())

	m, _ = update(t, m, frame(t, telemetry.FrameState, telemetry.StatePayload{
		From: "IDLE", To: "LISTENING", At: time.Now(),
	}))
	assert.True(t, m.pipelineActive())
}

func TestRenderQueueBar(t *testing.T) {
	assert.Empty(t, RenderQueueBar(1, 0, 10))
	assert.Contains(t, RenderQueueBar(0, 4, 8), "0/4")
	assert.Contains(t, RenderQueueBar(1, 100, 10), "█", "non-empty queues show at least one cell")
	assert.Equal(t, strings.Repeat("█", 4)+" 4/4", stripANSI(RenderQueueBar(4, 4, 4)))
}

func stripANSI(s string) string {
	var b strings.Builder
	skip := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			skip = true
		case skip && r == 'm':
			skip = false
		case !skip:
			b.WriteRune(r)
		}
	}
	return b.String()
}
