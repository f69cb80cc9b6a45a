// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     tts
// Description: Text-to-Speech interface
// Created:     2025-12-10
// License:     MIT
// ============================================================================

// Package tts synthesizes agent replies sentence by sentence and plays the
// resulting chunks strictly in order.
package tts

import (
	"context"
	"errors"
	"time"

	"github.com/msto63/conversa/internal/voice/audio"
)

// ErrDaemonUnavailable is returned when the synthesis daemon cannot be reached
var ErrDaemonUnavailable = errors.New("tts daemon unavailable")

// Synthesizer is the interface for text-to-speech engines
type Synthesizer interface {
	// Name identifies the engine in logs
	Name() string

	// Synthesize converts text to mono audio
	Synthesize(ctx context.Context, text string, params Params) (Audio, error)

	// Close releases resources
	Close() error
}

// Params are per-call synthesis settings
type Params struct {
	// Voice is the model or voice id
	Voice string
	// ReferenceVoice is a sample for voice-cloning daemons
	ReferenceVoice string
	// Speed is the speech rate (1.0 = normal)
	Speed float64
}

// Audio is synthesized mono audio
type Audio struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback duration
func (a Audio) Duration() time.Duration {
	return audio.SamplesDuration(len(a.Samples), a.SampleRate, 1)
}

// Config holds TTS engine configuration
type Config struct {
	Engine         string
	PiperBinary    string
	Voice          string
	ReferenceVoice string
	SampleRate     int
	Speed          float64
	DaemonNetwork  string
	DaemonAddress  string
	DaemonTimeout  time.Duration
}

// Params returns the call parameters for cfg
func (c Config) Params() Params {
	return Params{Voice: c.Voice, ReferenceVoice: c.ReferenceVoice, Speed: c.Speed}
}

// New builds the configured engine. "daemon" falls back to piper when the
// daemon cannot be reached.
func New(cfg Config) Synthesizer {
	piper := NewPiper(cfg.PiperBinary, cfg.SampleRate)
	if cfg.Engine != "daemon" {
		return piper
	}
	return NewFallback(NewDaemonClient(cfg.DaemonNetwork, cfg.DaemonAddress, cfg.DaemonTimeout), piper)
}
