package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/internal/voice/vad"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTranscriber returns canned results in order
type scriptedTranscriber struct {
	mu      sync.Mutex
	results []Result
	errs    []error
	calls   int
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Result{}, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return Result{}, errors.New("no more results")
}

func (s *scriptedTranscriber) Close() error { return nil }

func (s *scriptedTranscriber) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func utterance() vad.Utterance {
	return vad.Utterance{Samples: make([]float32, 16000), SampleRate: 16000, Channels: 1}
}

func nextEvent(t *testing.T, bus *turn.Bus) turn.Event {
	t.Helper()
	select {
	case ev := <-bus.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return turn.Event{}
	}
}

func startWorker(t *testing.T, engine Transcriber, outCap int) (*queue.BackpressureQueue[vad.Utterance], *queue.BackpressureQueue[Transcript], *turn.Bus, *Worker) {
	t.Helper()
	in := queue.New[vad.Utterance]("utterances", 4, queue.RejectNew)
	out := queue.New[Transcript]("transcripts", outCap, queue.RejectNew)
	bus := turn.NewBus(16)
	w := NewWorker(in, out, engine, NewFilter(DefaultLexicon(), 3), bus, WorkerConfig{Timeout: time.Second, Poll: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return in, out, bus, w
}

func TestWorker_AcceptsAndRejects(t *testing.T) {
	engine := &scriptedTranscriber{results: []Result{
		{Text: "Obrigado.", Confidence: 0.9},
		{Text: "aaaaaaaa", Confidence: 0.9},
		{Text: "Qual é a capital da França?", Language: "pt", Confidence: 0.9},
	}}
	in, out, bus, w := startWorker(t, engine, 4)

	for i := 0; i < 3; i++ {
		require.True(t, in.Put(utterance()))
	}

	ev := nextEvent(t, bus)
	assert.Equal(t, turn.TranscriptRejected, ev.Kind)
	assert.Equal(t, string(ReasonFiller), ev.Detail)

	ev = nextEvent(t, bus)
	assert.Equal(t, turn.TranscriptRejected, ev.Kind)
	assert.Equal(t, string(ReasonDegenerate), ev.Detail)

	ev = nextEvent(t, bus)
	assert.Equal(t, turn.TranscriptAccepted, ev.Kind)
	assert.Equal(t, "Qual é a capital da França?", ev.Text)

	tr, ok := out.TryPop()
	require.True(t, ok)
	assert.Equal(t, "Qual é a capital da França?", tr.Text)
	assert.Equal(t, "pt", tr.Language)
	assert.Equal(t, time.Second, tr.Speech)
	assert.True(t, tr.Verdict.Accepted)

	stats := w.Stats()
	assert.EqualValues(t, 3, stats.Transcribed)
	assert.EqualValues(t, 1, stats.Accepted)
	assert.EqualValues(t, 2, stats.Rejected)
	assert.Equal(t, 3, engine.Calls(), "engine is called once per utterance")
}

func TestWorker_EngineError(t *testing.T) {
	engine := &scriptedTranscriber{errs: []error{errors.New("whisper crashed")}}
	in, out, bus, w := startWorker(t, engine, 4)

	require.True(t, in.Put(utterance()))

	ev := nextEvent(t, bus)
	assert.Equal(t, turn.TranscriptRejected, ev.Kind)
	assert.Equal(t, "stt_error", ev.Detail)
	assert.Zero(t, out.Len())
	assert.EqualValues(t, 1, w.Stats().Failed)
}

func TestWorker_QueueFull(t *testing.T) {
	engine := &scriptedTranscriber{results: []Result{
		{Text: "que horas são"},
		{Text: "qual é o seu nome"},
	}}
	in, out, bus, _ := startWorker(t, engine, 1)

	require.True(t, in.Put(utterance()))
	require.True(t, in.Put(utterance()))

	assert.Equal(t, turn.TranscriptAccepted, nextEvent(t, bus).Kind)
	ev := nextEvent(t, bus)
	assert.Equal(t, turn.TranscriptRejected, ev.Kind)
	assert.Equal(t, "queue_full", ev.Detail)
	assert.Equal(t, 1, out.Len())
}
