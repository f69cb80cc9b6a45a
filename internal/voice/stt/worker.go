// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     stt
// Description: Transcription stage between segmentation and cognition
// Created:     2025-12-08
// License:     MIT
// ============================================================================

package stt

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/internal/voice/vad"
	"github.com/msto63/conversa/pkg/core/logging"
)

const stageName = "transcription"

// Transcript sources
const (
	SourceVoice = "voice"
	SourceTyped = "typed"
)

// Transcript is an accepted transcription. It is never mutated after creation.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64
	Verdict    Verdict
	At         time.Time
	Source     string
	// Animation forces the response animation tag (typed submissions only)
	Animation string
	// Speech is the utterance duration
	Speech time.Duration
	// Latency is the engine call time
	Latency time.Duration
}

// WorkerConfig holds transcription stage settings
type WorkerConfig struct {
	Timeout time.Duration
	Poll    time.Duration
}

// WorkerStats holds transcription counters
type WorkerStats struct {
	Transcribed uint64 `json:"transcribed"`
	Accepted    uint64 `json:"accepted"`
	Rejected    uint64 `json:"rejected"`
	Failed      uint64 `json:"failed"`
}

// Worker transcribes utterances and forwards accepted text
type Worker struct {
	in     *queue.BackpressureQueue[vad.Utterance]
	out    *queue.BackpressureQueue[Transcript]
	engine Transcriber
	filter *Filter
	bus    *turn.Bus
	cfg    WorkerConfig
	logger *logging.Logger

	transcribed atomic.Uint64
	accepted    atomic.Uint64
	rejected    atomic.Uint64
	failed      atomic.Uint64
}

// NewWorker creates a transcription worker
func NewWorker(in *queue.BackpressureQueue[vad.Utterance], out *queue.BackpressureQueue[Transcript],
	engine Transcriber, filter *Filter, bus *turn.Bus, cfg WorkerConfig) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 50 * time.Millisecond
	}
	return &Worker{
		in:     in,
		out:    out,
		engine: engine,
		filter: filter,
		bus:    bus,
		cfg:    cfg,
		logger: logging.New(stageName),
	}
}

// Run transcribes utterances until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	for {
		utt, res := w.in.Pop(ctx, w.cfg.Poll)
		switch res {
		case queue.Cancelled:
			return nil
		case queue.TimedOut:
			continue
		}
		w.process(ctx, utt)
	}
}

func (w *Worker) process(ctx context.Context, utt vad.Utterance) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := w.engine.Transcribe(callCtx, utt.Samples, utt.SampleRate)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.failed.Add(1)
		w.logger.Warn("Transcription failed", "error", err, "speech", utt.Duration())
		w.reject(ctx, latency, "stt_error", "")
		return
	}
	w.transcribed.Add(1)

	verdict := w.filter.Check(res.Text)
	if !verdict.Accepted {
		w.rejected.Add(1)
		w.logger.Debug("Transcript rejected", "reason", verdict.Reason, "text", res.Text)
		w.reject(ctx, latency, string(verdict.Reason), res.Text)
		return
	}

	tr := Transcript{
		Text:       res.Text,
		Language:   res.Language,
		Confidence: res.Confidence,
		Verdict:    verdict,
		At:         time.Now(),
		Source:     SourceVoice,
		Speech:     utt.Duration(),
		Latency:    latency,
	}
	if !w.out.Put(tr) {
		w.rejected.Add(1)
		w.logger.Warn("Transcript queue full, transcript dropped", "text", res.Text)
		w.reject(ctx, latency, "queue_full", res.Text)
		return
	}

	w.accepted.Add(1)
	w.logger.Info("Transcript accepted", "text", res.Text, "latency", latency)
	w.bus.Emit(ctx, turn.Event{
		Kind:     turn.TranscriptAccepted,
		Stage:    stageName,
		Text:     res.Text,
		Duration: latency,
	})
}

func (w *Worker) reject(ctx context.Context, latency time.Duration, reason, text string) {
	w.bus.Emit(ctx, turn.Event{
		Kind:     turn.TranscriptRejected,
		Stage:    stageName,
		Text:     text,
		Detail:   reason,
		Duration: latency,
	})
}

// Stats returns transcription counters
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Transcribed: w.transcribed.Load(),
		Accepted:    w.accepted.Load(),
		Rejected:    w.rejected.Load(),
		Failed:      w.failed.Load(),
	}
}

// String returns the stage name
func (w *Worker) String() string {
	return stageName
}
