// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     vad
// Description: Segmentation stage between capture and transcription
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package vad

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/internal/voice/audio"
	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/pkg/core/logging"
)

const stageName = "vad"

// WorkerStats holds segmentation counters
type WorkerStats struct {
	Frames     uint64  `json:"frames"`
	Utterances uint64  `json:"utterances"`
	Discarded  uint64  `json:"discarded"`
	Rejected   uint64  `json:"rejected"`
	Floor      float64 `json:"floor"`
	Threshold  float64 `json:"threshold"`
}

// Worker pops frames from the capture ring, segments them and queues
// closed utterances for transcription
type Worker struct {
	ring   *audio.RingBuffer[audio.Chunk]
	seg    *Segmenter
	out    *queue.BackpressureQueue[Utterance]
	gate   audio.Gate
	bus    *turn.Bus
	poll   time.Duration
	logger *logging.Logger

	frames     atomic.Uint64
	utterances atomic.Uint64
	discarded  atomic.Uint64
	rejected   atomic.Uint64
	floor      atomic.Uint64 // math.Float64bits
	threshold  atomic.Uint64
}

// NewWorker creates a segmentation worker
func NewWorker(ring *audio.RingBuffer[audio.Chunk], seg *Segmenter, out *queue.BackpressureQueue[Utterance],
	gate audio.Gate, bus *turn.Bus, poll time.Duration) *Worker {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Worker{
		ring:   ring,
		seg:    seg,
		out:    out,
		gate:   gate,
		bus:    bus,
		poll:   poll,
		logger: logging.New(stageName),
	}
}

// Run segments frames until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	for {
		frame, res := w.ring.PopWait(ctx, w.poll)
		switch res {
		case queue.Cancelled:
			return nil
		case queue.TimedOut:
			w.dropIfGated(ctx)
			continue
		}

		// Frames captured just before the gate closed still belong to the
		// assistant's turn
		if !w.gate.ListeningEnabled() {
			w.dropIfGated(ctx)
			continue
		}

		w.frames.Add(1)
		for _, ev := range w.seg.Process(frame) {
			w.handle(ctx, ev)
		}
		w.storeLevels()
	}
}

func (w *Worker) dropIfGated(ctx context.Context) {
	if w.gate.ListeningEnabled() || !w.seg.IsOpen() {
		return
	}
	w.seg.Reset()
	w.logger.Debug("Partial utterance dropped, listening disabled")
	w.bus.Emit(ctx, turn.Event{Kind: turn.SpeechEnded, Stage: stageName, Detail: "gated"})
}

func (w *Worker) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case SpeechStarted:
		w.logger.Debug("Speech started", "floor", w.seg.Detector().Floor())
		w.bus.Emit(ctx, turn.Event{Kind: turn.SpeechStarted, Stage: stageName, At: ev.At})

	case SpeechEnded:
		w.bus.Emit(ctx, turn.Event{Kind: turn.SpeechEnded, Stage: stageName, At: ev.At, Duration: ev.Duration})

	case UtteranceDiscarded:
		w.discarded.Add(1)
		w.logger.Debug("Utterance too short, discarded", "duration", ev.Duration)
		w.bus.Emit(ctx, turn.Event{Kind: turn.UtteranceDiscarded, Stage: stageName, Duration: ev.Duration, Detail: "too_short"})

	case UtteranceClosed:
		if !w.out.Put(*ev.Utterance) {
			w.rejected.Add(1)
			w.logger.Warn("Utterance queue full, utterance dropped", "duration", ev.Duration)
			w.bus.Emit(ctx, turn.Event{Kind: turn.UtteranceDiscarded, Stage: stageName, Duration: ev.Duration, Detail: "queue_full"})
			return
		}
		w.utterances.Add(1)
		w.logger.Info("Utterance closed", "duration", ev.Duration, "forced", ev.Utterance.Forced)
		w.bus.Emit(ctx, turn.Event{Kind: turn.UtteranceQueued, Stage: stageName, Duration: ev.Duration})
	}
}

func (w *Worker) storeLevels() {
	d := w.seg.Detector()
	w.floor.Store(math.Float64bits(d.Floor()))
	w.threshold.Store(math.Float64bits(d.Threshold()))
}

// Stats returns segmentation counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Frames:     w.frames.Load(),
		Utterances: w.utterances.Load(),
		Discarded:  w.discarded.Load(),
		Rejected:   w.rejected.Load(),
		Floor:      math.Float64frombits(w.floor.Load()),
		Threshold:  math.Float64frombits(w.threshold.Load()),
	}
}

// String returns the stage name
func (w *Worker) String() string {
	return stageName
}
