// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     tts
// Description: Playback stage with strict sequence order and barge-in stop
// Created:     2025-12-10
// License:     MIT
// ============================================================================

package tts

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/internal/voice/audio"
	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/pkg/core/logging"
)

// Floor is the manager side of turn-taking. BeginSpeaking runs before the
// first audio of a turn, EndSpeaking after the final chunk or an interrupt.
type Floor interface {
	BeginSpeaking(turnID string, gen uint64)
	EndSpeaking(turnID string, gen uint64, interrupted bool)
}

// PlaybackStats holds playback counters
type PlaybackStats struct {
	Chunks     uint64 `json:"chunks"`
	Turns      uint64 `json:"turns"`
	Stale      uint64 `json:"stale"`
	OutOfOrder uint64 `json:"out_of_order"`
	Errors     uint64 `json:"errors"`
	Interrupts uint64 `json:"interrupts"`
}

// PlaybackWorker plays chunks in sequence order
type PlaybackWorker struct {
	in     *queue.BackpressureQueue[Chunk]
	player audio.Player
	floor  Floor
	turns  Turns
	bus    *turn.Bus
	poll   time.Duration
	logger *logging.Logger

	// current turn; owned by the Run goroutine
	turnID   string
	gen      uint64
	nextSeq  int
	speaking bool
	started  time.Time

	chunks     atomic.Uint64
	turnCount  atomic.Uint64
	stale      atomic.Uint64
	outOfOrder atomic.Uint64
	errors     atomic.Uint64
	interrupts atomic.Uint64
}

// NewPlaybackWorker creates a playback worker
func NewPlaybackWorker(in *queue.BackpressureQueue[Chunk], player audio.Player, floor Floor,
	turns Turns, bus *turn.Bus, poll time.Duration) *PlaybackWorker {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &PlaybackWorker{
		in:     in,
		player: player,
		floor:  floor,
		turns:  turns,
		bus:    bus,
		poll:   poll,
		logger: logging.New("playback"),
	}
}

// Run plays chunks until ctx is cancelled
func (p *PlaybackWorker) Run(ctx context.Context) error {
	defer func() {
		if p.speaking {
			p.floor.EndSpeaking(p.turnID, p.gen, true)
			p.reset()
		}
	}()

	for {
		chunk, res := p.in.Pop(ctx, p.poll)
		switch res {
		case queue.Cancelled:
			return nil
		case queue.TimedOut:
			p.releaseIfStale()
			continue
		}
		p.handle(ctx, chunk)
	}
}

func (p *PlaybackWorker) handle(ctx context.Context, chunk Chunk) {
	if !p.turns.IsCurrent(chunk.Generation) {
		p.stale.Add(1)
		p.releaseIfStale()
		return
	}

	if chunk.TurnID != p.turnID {
		if p.speaking {
			// The previous turn never delivered its final chunk
			p.floor.EndSpeaking(p.turnID, p.gen, true)
		}
		p.reset()
		p.turnID = chunk.TurnID
		p.gen = chunk.Generation
	}

	if chunk.Seq != p.nextSeq {
		p.outOfOrder.Add(1)
		p.logger.Warn("Dropping out-of-order chunk", "turn", chunk.TurnID, "seq", chunk.Seq, "expected", p.nextSeq)
		return
	}
	p.nextSeq++

	if !p.speaking {
		p.floor.BeginSpeaking(chunk.TurnID, chunk.Generation)
		p.speaking = true
		p.started = time.Now()
		p.turnCount.Add(1)
	}

	if len(chunk.Audio.Samples) > 0 {
		turnCtx := p.turns.Context(chunk.Generation)
		if err := p.player.Play(turnCtx, chunk.Audio.Samples, chunk.Audio.SampleRate); err != nil {
			if turnCtx.Err() != nil {
				p.interrupted()
				return
			}
			p.errors.Add(1)
			p.logger.Warn("Playback failed", "turn", chunk.TurnID, "seq", chunk.Seq, "error", err)
		}
		p.chunks.Add(1)
	}

	if chunk.Final {
		p.floor.EndSpeaking(chunk.TurnID, chunk.Generation, false)
		p.bus.Emit(ctx, turn.Event{
			Kind:       turn.PlaybackFinished,
			Stage:      "playback",
			Generation: chunk.Generation,
			TurnID:     chunk.TurnID,
			Duration:   time.Since(p.started),
		})
		p.reset()
	}
}

// releaseIfStale ends a turn whose generation was superseded while waiting
func (p *PlaybackWorker) releaseIfStale() {
	if p.speaking && !p.turns.IsCurrent(p.gen) {
		p.interrupted()
	}
}

func (p *PlaybackWorker) interrupted() {
	p.interrupts.Add(1)
	p.logger.Info("Playback interrupted", "turn", p.turnID)
	p.floor.EndSpeaking(p.turnID, p.gen, true)
	p.reset()
}

func (p *PlaybackWorker) reset() {
	p.speaking = false
	p.nextSeq = 0
	p.turnID = ""
}

// Stats returns playback counters
func (p *PlaybackWorker) Stats() PlaybackStats {
	return PlaybackStats{
		Chunks:     p.chunks.Load(),
		Turns:      p.turnCount.Load(),
		Stale:      p.stale.Load(),
		OutOfOrder: p.outOfOrder.Load(),
		Errors:     p.errors.Load(),
		Interrupts: p.interrupts.Load(),
	}
}

// String returns the stage name
func (p *PlaybackWorker) String() string {
	return "playback"
}
