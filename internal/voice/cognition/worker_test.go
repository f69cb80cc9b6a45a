package cognition

import (
	"context"
	"testing"
	"time"

	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/stt"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, bus *turn.Bus) turn.Event {
	t.Helper()
	select {
	case ev := <-bus.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return turn.Event{}
	}
}

func TestWorker_PublishesResponse(t *testing.T) {
	in := queue.New[stt.Transcript]("transcripts", 4, queue.RejectNew)
	out := queue.New[Response]("responses", 4, queue.RejectNew)
	bus := turn.NewBus(16)
	tracker := turn.NewTracker(context.Background())
	defer tracker.Stop()

	w := NewWorker(in, out, newTestEngine(&fakeProvider{name: "p", output: validOutput}), tracker, bus, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.True(t, in.Put(stt.Transcript{Text: "que horas são", Source: stt.SourceVoice}))

	started := nextEvent(t, bus)
	assert.Equal(t, turn.RequestStarted, started.Kind)
	assert.Equal(t, "que horas são", started.Text)

	ready := nextEvent(t, bus)
	assert.Equal(t, turn.ResponseReady, ready.Kind)
	assert.Equal(t, started.TurnID, ready.TurnID)
	assert.Equal(t, "São dez horas.", ready.Text)
	assert.Equal(t, "p", ready.Detail)

	resp, ok := out.TryPop()
	require.True(t, ok)
	assert.Equal(t, started.TurnID, resp.RequestID)
	assert.Equal(t, tracker.Generation(), resp.Generation)
}

func TestWorker_InterruptDropsRequest(t *testing.T) {
	in := queue.New[stt.Transcript]("transcripts", 4, queue.RejectNew)
	out := queue.New[Response]("responses", 4, queue.RejectNew)
	bus := turn.NewBus(16)
	tracker := turn.NewTracker(context.Background())
	defer tracker.Stop()

	w := NewWorker(in, out, newTestEngine(&fakeProvider{name: "slow", block: true}), tracker, bus, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.True(t, in.Put(stt.Transcript{Text: "conte uma história longa"}))
	assert.Equal(t, turn.RequestStarted, nextEvent(t, bus).Kind)

	tracker.Advance()

	ev := nextEvent(t, bus)
	assert.Equal(t, turn.RequestDropped, ev.Kind)
	assert.Equal(t, "interrupted", ev.Detail)
	assert.Zero(t, out.Len())
}
