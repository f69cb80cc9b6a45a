// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     vad
// Description: WebRTC VAD as a second-opinion classifier
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package vad

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/msto63/conversa/internal/voice/audio"
)

// Classifier confirms the energy decision for a frame
type Classifier interface {
	IsSpeech(samples []float32, sampleRate int) (bool, error)
}

// WebRTCClassifier wraps WebRTC's GMM voice detector
type WebRTCClassifier struct {
	vad  *webrtcvad.VAD
	mode int
}

// NewWebRTCClassifier creates a classifier with aggressiveness mode 0-3
func NewWebRTCClassifier(mode int) (*WebRTCClassifier, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD: %w", err)
	}

	if mode < 0 {
		mode = 0
	}
	if mode > 3 {
		mode = 3
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set VAD mode: %w", err)
	}
	return &WebRTCClassifier{vad: v, mode: mode}, nil
}

// IsSpeech runs 10ms sub-frames through WebRTC VAD and returns true if any
// sub-frame is voiced
func (w *WebRTCClassifier) IsSpeech(samples []float32, sampleRate int) (bool, error) {
	if !ValidWebRTCRate(sampleRate) {
		return false, fmt.Errorf("invalid sample rate %d for WebRTC VAD", sampleRate)
	}

	pcm := audio.Float32ToInt16(samples)
	frameSize := sampleRate / 100
	if len(pcm) < frameSize {
		padded := make([]int16, frameSize)
		copy(padded, pcm)
		pcm = padded
	}

	for i := 0; i+frameSize <= len(pcm); i += frameSize {
		active, err := w.vad.Process(sampleRate, int16ToBytes(pcm[i:i+frameSize]))
		if err != nil {
			return false, fmt.Errorf("VAD processing failed: %w", err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// Mode returns the aggressiveness mode
func (w *WebRTCClassifier) Mode() int {
	return w.mode
}

// ValidWebRTCRate reports whether WebRTC VAD supports the sample rate
func ValidWebRTCRate(rate int) bool {
	switch rate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

// int16ToBytes converts samples to little-endian bytes
func int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
