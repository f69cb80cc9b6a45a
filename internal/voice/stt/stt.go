// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     stt
// Description: Speech-to-Text engine interface
// Created:     2025-12-07
// License:     MIT
// ============================================================================

// Package stt transcribes closed utterances and filters out text the
// engine produced without real speech behind it.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned for utterances without samples
var ErrEmptyAudio = errors.New("empty audio")

// Transcriber is the interface for speech-to-text engines
type Transcriber interface {
	// Transcribe converts mono samples to text. It is called once per utterance.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error)

	// Close releases resources
	Close() error
}

// Result holds the engine output
type Result struct {
	Text       string
	Language   string
	Confidence float64
}

// Config holds STT engine configuration
type Config struct {
	// Binary is the whisper.cpp CLI; empty searches PATH and common locations
	Binary string

	// ModelPath is the path to the ggml model file
	ModelPath string

	// Language is the target language (e.g. "pt", "en", "auto")
	Language string

	// ServerURL is the whisper.cpp server for the HTTP engine
	ServerURL string
}
