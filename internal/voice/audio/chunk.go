// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     audio
// Description: Audio frames exchanged between capture and segmentation
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package audio

import (
	"math"
	"time"
)

const (
	// DefaultSampleRate is the capture rate expected by Whisper (16kHz)
	DefaultSampleRate = 16000

	// DefaultChannels is mono audio
	DefaultChannels = 1
)

// Chunk is one captured frame, or a whole utterance when Final is set.
// Samples are interleaved float32 in [-1, 1].
type Chunk struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Timestamp  time.Time
	Final      bool
}

// Duration returns the playing time of the chunk
func (c Chunk) Duration() time.Duration {
	return SamplesDuration(len(c.Samples), c.SampleRate, c.Channels)
}

// SamplesDuration converts a sample count to playing time
func SamplesDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	return time.Duration(n/channels) * time.Second / time.Duration(sampleRate)
}

// FrameSamples returns the number of samples in a frame of duration d
func FrameSamples(d time.Duration, sampleRate, channels int) int {
	if channels <= 0 {
		channels = 1
	}
	return int(int64(sampleRate)*int64(d)/int64(time.Second)) * channels
}

// RMS returns the root mean square energy of the samples
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Int16ToFloat32 converts PCM16 samples to float32
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts float32 samples to PCM16 with clipping
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		}
		if s < -1.0 {
			s = -1.0
		}
		out[i] = int16(s * 32767)
	}
	return out
}
