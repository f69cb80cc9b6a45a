// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     tts
// Description: Synthesis stage producing ordered playback chunks
// Created:     2025-12-10
// License:     MIT
// ============================================================================

package tts

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/internal/voice/cognition"
	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/pkg/core/logging"
)

// Chunk is one synthesized segment. Seq starts at 0 per turn; the last
// chunk of a turn has Final set and may carry no audio.
type Chunk struct {
	TurnID     string
	Generation uint64
	Seq        int
	Audio      Audio
	Text       string
	Final      bool
}

// Turns gives the synthesis and playback stages access to turn generations
type Turns interface {
	IsCurrent(gen uint64) bool
	Context(gen uint64) context.Context
}

// WorkerStats holds synthesis counters
type WorkerStats struct {
	Turns    uint64 `json:"turns"`
	Segments uint64 `json:"segments"`
	Failed   uint64 `json:"failed"`
	Stale    uint64 `json:"stale"`
}

// Worker splits responses into sentences and synthesizes them in order
type Worker struct {
	in     *queue.BackpressureQueue[cognition.Response]
	out    *queue.BackpressureQueue[Chunk]
	synth  Synthesizer
	params Params
	turns  Turns
	bus    *turn.Bus
	poll   time.Duration
	logger *logging.Logger

	turnCount atomic.Uint64
	segments  atomic.Uint64
	failed    atomic.Uint64
	stale     atomic.Uint64
}

// NewWorker creates a synthesis worker
func NewWorker(in *queue.BackpressureQueue[cognition.Response], out *queue.BackpressureQueue[Chunk],
	synth Synthesizer, params Params, turns Turns, bus *turn.Bus, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Worker{
		in:     in,
		out:    out,
		synth:  synth,
		params: params,
		turns:  turns,
		bus:    bus,
		poll:   poll,
		logger: logging.New("synthesis"),
	}
}

// Run synthesizes responses until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	for {
		resp, res := w.in.Pop(ctx, w.poll)
		switch res {
		case queue.Cancelled:
			return nil
		case queue.TimedOut:
			continue
		}
		w.speak(ctx, resp)
	}
}

func (w *Worker) speak(ctx context.Context, resp cognition.Response) {
	gen := resp.Generation
	if !w.turns.IsCurrent(gen) {
		w.stale.Add(1)
		return
	}
	turnCtx := w.turns.Context(gen)
	w.turnCount.Add(1)

	start := time.Now()
	seq := 0
	segments := SplitSentences(resp.SpeechText)
	for _, text := range segments {
		if turnCtx.Err() != nil {
			w.logger.Debug("Synthesis interrupted", "turn", resp.RequestID, "at_segment", seq)
			return
		}

		a, err := w.synth.Synthesize(turnCtx, text, w.params)
		if err != nil {
			if turnCtx.Err() != nil {
				return
			}
			w.failed.Add(1)
			w.logger.Warn("Segment synthesis failed, skipping", "turn", resp.RequestID, "engine", w.synth.Name(), "error", err)
			continue
		}

		chunk := Chunk{TurnID: resp.RequestID, Generation: gen, Seq: seq, Audio: a, Text: text}
		if !w.offer(turnCtx, chunk) {
			return
		}
		w.segments.Add(1)
		seq++
	}

	if !w.offer(turnCtx, Chunk{TurnID: resp.RequestID, Generation: gen, Seq: seq, Final: true}) {
		return
	}

	w.bus.Emit(ctx, turn.Event{
		Kind:       turn.SynthesisFinished,
		Stage:      "synthesis",
		Generation: gen,
		TurnID:     resp.RequestID,
		Detail:     strconv.Itoa(seq) + " segments",
		Duration:   time.Since(start),
	})
}

// offer puts chunk, retrying while the playback queue is full. It gives up
// when the turn is cancelled.
func (w *Worker) offer(ctx context.Context, chunk Chunk) bool {
	for !w.out.Put(chunk) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.poll / 5):
		}
	}
	return true
}

// Stats returns synthesis counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Turns:    w.turnCount.Load(),
		Segments: w.segments.Load(),
		Failed:   w.failed.Load(),
		Stale:    w.stale.Load(),
	}
}

// String returns the stage name
func (w *Worker) String() string {
	return "synthesis"
}
