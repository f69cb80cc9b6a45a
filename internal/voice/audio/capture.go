// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     audio
// Description: Capture worker that feeds microphone frames into a ring buffer
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/pkg/core/logging"
)

// Source is a blocking frame reader, typically a microphone
type Source interface {
	// Open prepares the device. It is called again after a read error.
	Open() error
	// Read blocks until one frame is available
	Read() ([]float32, error)
	Close() error
	SampleRate() int
	Channels() int
}

// Gate reports whether captured frames should be forwarded
type Gate interface {
	ListeningEnabled() bool
}

// CaptureConfig holds configuration for the capture worker
type CaptureConfig struct {
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// DefaultCaptureConfig returns default capture configuration
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		RetryBackoff: 500 * time.Millisecond,
		MaxBackoff:   5 * time.Second,
	}
}

// CaptureStats holds capture counters
type CaptureStats struct {
	Frames  uint64 `json:"frames"`
	Gated   uint64 `json:"gated"`
	Errors  uint64 `json:"errors"`
	Reopens uint64 `json:"reopens"`
}

// CaptureWorker reads frames from a Source and pushes them into a RingBuffer
type CaptureWorker struct {
	src    Source
	ring   *RingBuffer[Chunk]
	gate   Gate
	cfg    CaptureConfig
	logger *logging.Logger

	frames  atomic.Uint64
	gated   atomic.Uint64
	errors  atomic.Uint64
	reopens atomic.Uint64
}

// NewCaptureWorker creates a capture worker
func NewCaptureWorker(src Source, ring *RingBuffer[Chunk], gate Gate, cfg CaptureConfig) *CaptureWorker {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultCaptureConfig().RetryBackoff
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = cfg.RetryBackoff
	}
	return &CaptureWorker{
		src:    src,
		ring:   ring,
		gate:   gate,
		cfg:    cfg,
		logger: logging.New("capture"),
	}
}

// Run reads frames until ctx is cancelled. Device errors never end the loop;
// the device is reopened after an exponential backoff.
func (w *CaptureWorker) Run(ctx context.Context) error {
	backoff := w.cfg.RetryBackoff

	for !w.open(ctx, &backoff) {
		if ctx.Err() != nil {
			return nil
		}
	}
	defer w.src.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		samples, err := w.src.Read()
		if err != nil {
			w.errors.Add(1)
			w.logger.Warn("Audio read failed, reopening device", "error", err, "backoff", backoff)
			w.src.Close()
			for !w.open(ctx, &backoff) {
				if ctx.Err() != nil {
					return nil
				}
			}
			w.reopens.Add(1)
			continue
		}
		backoff = w.cfg.RetryBackoff

		if !w.gate.ListeningEnabled() {
			w.gated.Add(1)
			continue
		}

		frame := make([]float32, len(samples))
		copy(frame, samples)
		w.frames.Add(1)
		if w.ring.Push(Chunk{
			Samples:    frame,
			SampleRate: w.src.SampleRate(),
			Channels:   w.src.Channels(),
			Timestamp:  time.Now(),
		}) {
			w.logger.Debug("Ring buffer overflow, oldest frame dropped")
		}
	}
}

// open tries to open the source. On failure it sleeps for the current
// backoff and doubles it up to MaxBackoff.
func (w *CaptureWorker) open(ctx context.Context, backoff *time.Duration) bool {
	err := w.src.Open()
	if err == nil {
		return true
	}
	w.errors.Add(1)
	w.logger.Warn("Audio device unavailable", "error", err, "retry_in", *backoff)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}

	*backoff *= 2
	if *backoff > w.cfg.MaxBackoff {
		*backoff = w.cfg.MaxBackoff
	}
	return false
}

// Stats returns capture counters
func (w *CaptureWorker) Stats() CaptureStats {
	return CaptureStats{
		Frames:  w.frames.Load(),
		Gated:   w.gated.Load(),
		Errors:  w.errors.Load(),
		Reopens: w.reopens.Load(),
	}
}

// String returns the stage name
func (w *CaptureWorker) String() string {
	return "capture"
}
