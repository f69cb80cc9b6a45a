package tts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/msto63/conversa/internal/voice/cognition"
	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPlayer records played chunks and can block until cancelled
type recordingPlayer struct {
	mu     sync.Mutex
	played int
	block  bool
	start  chan struct{}
}

func (p *recordingPlayer) Play(ctx context.Context, samples []float32, sampleRate int) error {
	p.mu.Lock()
	block := p.block
	p.mu.Unlock()

	if block {
		if p.start != nil {
			close(p.start)
			p.start = nil
		}
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	p.played++
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

type floorCall struct {
	begin       bool
	turnID      string
	interrupted bool
}

// recordingFloor records floor calls
type recordingFloor struct {
	mu    sync.Mutex
	calls []floorCall
}

func (f *recordingFloor) BeginSpeaking(turnID string, gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, floorCall{begin: true, turnID: turnID})
}

func (f *recordingFloor) EndSpeaking(turnID string, gen uint64, interrupted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, floorCall{turnID: turnID, interrupted: interrupted})
}

func (f *recordingFloor) Calls() []floorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]floorCall(nil), f.calls...)
}

func runStage(t *testing.T, run func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func waitEvent(t *testing.T, bus *turn.Bus, kind turn.Kind) turn.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-bus.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
			return turn.Event{}
		}
	}
}

func TestWorker_OrderedChunksWithFinal(t *testing.T) {
	in := queue.New[cognition.Response]("responses", 4, queue.RejectNew)
	out := queue.New[Chunk]("tts", 16, queue.RejectNew)
	bus := turn.NewBus(16)
	tracker := turn.NewTracker(context.Background())
	defer tracker.Stop()

	synth := &fakeSynth{name: "fake", fail: map[string]bool{"Esta frase vai falhar.": true}}
	w := NewWorker(in, out, synth, Params{}, tracker, bus, 10*time.Millisecond)
	runStage(t, w.Run)

	in.Put(cognition.Response{
		SpeechText: "Primeira frase aqui. Esta frase vai falhar. Terceira frase final.",
		RequestID:  "turn-1",
		Generation: tracker.Generation(),
	})

	ev := waitEvent(t, bus, turn.SynthesisFinished)
	assert.Equal(t, "turn-1", ev.TurnID)

	var chunks []Chunk
	for {
		c, ok := out.TryPop()
		if !ok {
			break
		}
		chunks = append(chunks, c)
	}
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.Equal(t, "turn-1", c.TurnID)
	}
	assert.Equal(t, "Terceira frase final.", chunks[1].Text)
	assert.True(t, chunks[2].Final)
	assert.Empty(t, chunks[2].Audio.Samples)
	assert.EqualValues(t, 1, w.Stats().Failed)
}

func TestWorker_StaleResponseSkipped(t *testing.T) {
	in := queue.New[cognition.Response]("responses", 4, queue.RejectNew)
	out := queue.New[Chunk]("tts", 16, queue.RejectNew)
	tracker := turn.NewTracker(context.Background())
	defer tracker.Stop()

	old := tracker.Generation()
	tracker.Advance()

	w := NewWorker(in, out, &fakeSynth{name: "fake"}, Params{}, tracker, turn.NewBus(4), 10*time.Millisecond)
	runStage(t, w.Run)

	in.Put(cognition.Response{SpeechText: "Resposta antiga demais.", RequestID: "old", Generation: old})
	require.Eventually(t, func() bool { return w.Stats().Stale == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, out.Len())
}

func TestPlayback_PlaysInOrderAndReleasesFloor(t *testing.T) {
	in := queue.New[Chunk]("tts", 16, queue.RejectNew)
	bus := turn.NewBus(16)
	tracker := turn.NewTracker(context.Background())
	defer tracker.Stop()
	gen := tracker.Generation()

	player := &recordingPlayer{}
	floor := &recordingFloor{}
	p := NewPlaybackWorker(in, player, floor, tracker, bus, 10*time.Millisecond)
	runStage(t, p.Run)

	samples := Audio{Samples: make([]float32, 160), SampleRate: 16000}
	in.Put(Chunk{TurnID: "t", Generation: gen, Seq: 0, Audio: samples})
	in.Put(Chunk{TurnID: "t", Generation: gen, Seq: 2, Audio: samples}) // out of order
	in.Put(Chunk{TurnID: "t", Generation: gen, Seq: 1, Audio: samples})
	in.Put(Chunk{TurnID: "t", Generation: gen, Seq: 2, Final: true})

	ev := waitEvent(t, bus, turn.PlaybackFinished)
	assert.Equal(t, "t", ev.TurnID)

	assert.Equal(t, 2, player.Played())
	assert.Equal(t, []floorCall{
		{begin: true, turnID: "t"},
		{turnID: "t"},
	}, floor.Calls())

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.OutOfOrder)
	assert.EqualValues(t, 1, stats.Turns)
}

func TestPlayback_InterruptStopsWithinChunk(t *testing.T) {
	in := queue.New[Chunk]("tts", 16, queue.RejectNew)
	tracker := turn.NewTracker(context.Background())
	defer tracker.Stop()
	gen := tracker.Generation()

	started := make(chan struct{})
	player := &recordingPlayer{block: true, start: started}
	floor := &recordingFloor{}
	p := NewPlaybackWorker(in, player, floor, tracker, turn.NewBus(16), 10*time.Millisecond)
	runStage(t, p.Run)

	samples := Audio{Samples: make([]float32, 16000), SampleRate: 16000}
	in.Put(Chunk{TurnID: "t", Generation: gen, Seq: 0, Audio: samples})
	in.Put(Chunk{TurnID: "t", Generation: gen, Seq: 1, Audio: samples})

	<-started
	tracker.Advance()

	require.Eventually(t, func() bool { return p.Stats().Interrupts == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return p.Stats().Stale == 1 }, time.Second, 5*time.Millisecond)

	calls := floor.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].begin)
	assert.True(t, calls[1].interrupted)
}
