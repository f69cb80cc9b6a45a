// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     cognition
// Description: Cognition stage between transcription and synthesis
// Created:     2025-12-10
// License:     MIT
// ============================================================================

package cognition

import (
	"context"
	"time"

	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/stt"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/pkg/core/logging"
)

const stageName = "cognition"

// Turns exposes the current turn generation
type Turns interface {
	Current() (uint64, context.Context)
	IsCurrent(gen uint64) bool
}

// Worker pops transcripts, runs the engine and publishes responses
type Worker struct {
	in     *queue.BackpressureQueue[stt.Transcript]
	out    *queue.BackpressureQueue[Response]
	engine *Engine
	turns  Turns
	bus    *turn.Bus
	poll   time.Duration
	logger *logging.Logger
}

// NewWorker creates a cognition worker
func NewWorker(in *queue.BackpressureQueue[stt.Transcript], out *queue.BackpressureQueue[Response],
	engine *Engine, turns Turns, bus *turn.Bus, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Worker{
		in:     in,
		out:    out,
		engine: engine,
		turns:  turns,
		bus:    bus,
		poll:   poll,
		logger: logging.New(stageName),
	}
}

// Run processes transcripts until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	for {
		tr, res := w.in.Pop(ctx, w.poll)
		switch res {
		case queue.Cancelled:
			return nil
		case queue.TimedOut:
			continue
		}
		w.process(ctx, tr)
	}
}

func (w *Worker) process(ctx context.Context, tr stt.Transcript) {
	gen, turnCtx := w.turns.Current()
	req := RequestFromTranscript(tr, gen)

	w.bus.Emit(ctx, turn.Event{
		Kind:       turn.RequestStarted,
		Stage:      stageName,
		Generation: gen,
		TurnID:     req.ID,
		Text:       req.Text,
		Detail:     req.Source,
	})

	resp, err := w.engine.Process(turnCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Info("Request cancelled by interrupt", "request_id", req.ID)
		w.drop(ctx, req, "interrupted")
		return
	}

	if !w.turns.IsCurrent(gen) {
		w.logger.Debug("Discarding response for a stale turn", "request_id", req.ID)
		w.drop(ctx, req, "stale")
		return
	}

	if !w.out.Put(resp) {
		w.logger.Warn("Response queue full, response dropped", "request_id", req.ID)
		w.drop(ctx, req, "queue_full")
		return
	}

	w.logger.Info("Response ready", "request_id", req.ID, "provider", resp.Origin(), "latency", resp.Latency)
	w.bus.Emit(ctx, turn.Event{
		Kind:       turn.ResponseReady,
		Stage:      stageName,
		Generation: gen,
		TurnID:     req.ID,
		Text:       resp.SpeechText,
		Detail:     resp.Origin(),
		Duration:   resp.Latency,
	})
}

func (w *Worker) drop(ctx context.Context, req Request, reason string) {
	w.bus.Emit(ctx, turn.Event{
		Kind:       turn.RequestDropped,
		Stage:      stageName,
		Generation: req.Generation,
		TurnID:     req.ID,
		Detail:     reason,
	})
}

// String returns the stage name
func (w *Worker) String() string {
	return stageName
}
