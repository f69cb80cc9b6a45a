// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     vad
// Description: Utterance segmentation from speech/silence frame runs
// Created:     2025-12-07
// License:     MIT
// ============================================================================

// Package vad turns a stream of audio frames into closed utterances.
package vad

import (
	"time"

	"github.com/msto63/conversa/internal/voice/audio"
	"github.com/msto63/conversa/pkg/core/logging"
)

// Config holds segmentation configuration
type Config struct {
	// OpenFrames consecutive speech frames open an utterance
	OpenFrames int

	// CloseFrames consecutive silence frames close it
	CloseFrames int

	// MinDuration discards shorter utterances as noise
	MinDuration time.Duration

	// MaxDuration force-closes an utterance; 0 disables the limit
	MaxDuration time.Duration

	Energy EnergyConfig
}

// DefaultConfig returns default segmentation configuration for 30ms frames
func DefaultConfig() Config {
	return Config{
		OpenFrames:  3,
		CloseFrames: 25,
		MinDuration: 300 * time.Millisecond,
		MaxDuration: 30 * time.Second,
		Energy:      DefaultEnergyConfig(),
	}
}

// Utterance is one closed stretch of speech
type Utterance struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Start      time.Time
	End        time.Time
	Frames     int
	// Forced is set when MaxDuration closed the utterance
	Forced bool
}

// Duration returns the speech duration
func (u Utterance) Duration() time.Duration {
	return audio.SamplesDuration(len(u.Samples), u.SampleRate, u.Channels)
}

// Chunk returns the utterance as a final audio chunk
func (u Utterance) Chunk() audio.Chunk {
	return audio.Chunk{
		Samples:    u.Samples,
		SampleRate: u.SampleRate,
		Channels:   u.Channels,
		Timestamp:  u.Start,
		Final:      true,
	}
}

// EventKind identifies a segmentation event
type EventKind int

const (
	// SpeechStarted fires when an utterance opens
	SpeechStarted EventKind = iota
	// SpeechEnded fires when an utterance closes, kept or not
	SpeechEnded
	// UtteranceClosed carries a kept utterance
	UtteranceClosed
	// UtteranceDiscarded reports an utterance below MinDuration
	UtteranceDiscarded
)

// Event is emitted by Segmenter.Process
type Event struct {
	Kind      EventKind
	At        time.Time
	Utterance *Utterance
	Duration  time.Duration
}

// Segmenter is a single-goroutine state machine over frames
type Segmenter struct {
	cfg        Config
	detector   *AdaptiveDetector
	classifier Classifier
	logger     *logging.Logger

	open       bool
	speechRun  int
	silenceRun int
	pending    []audio.Chunk
	frames     []audio.Chunk
	duration   time.Duration
}

// NewSegmenter creates a segmenter. classifier may be nil.
func NewSegmenter(cfg Config, classifier Classifier) *Segmenter {
	def := DefaultConfig()
	if cfg.OpenFrames < 1 {
		cfg.OpenFrames = def.OpenFrames
	}
	if cfg.CloseFrames < 1 {
		cfg.CloseFrames = def.CloseFrames
	}
	return &Segmenter{
		cfg:        cfg,
		detector:   NewAdaptiveDetector(cfg.Energy),
		classifier: classifier,
		logger:     logging.New("vad"),
	}
}

// Process consumes one frame and returns the events it caused
func (s *Segmenter) Process(frame audio.Chunk) []Event {
	speech := s.classify(frame)

	if !s.open {
		if !speech {
			s.speechRun = 0
			s.pending = s.pending[:0]
			return nil
		}
		s.speechRun++
		s.pending = append(s.pending, frame)
		if s.speechRun < s.cfg.OpenFrames {
			return nil
		}

		s.open = true
		s.silenceRun = 0
		s.frames = append(s.frames[:0], s.pending...)
		s.pending = s.pending[:0]
		s.duration = 0
		for _, f := range s.frames {
			s.duration += f.Duration()
		}
		return []Event{{Kind: SpeechStarted, At: s.frames[0].Timestamp}}
	}

	s.frames = append(s.frames, frame)
	s.duration += frame.Duration()
	if speech {
		s.silenceRun = 0
	} else {
		s.silenceRun++
	}

	switch {
	case s.silenceRun >= s.cfg.CloseFrames:
		return s.close(frame.Timestamp, false)
	case s.cfg.MaxDuration > 0 && s.duration >= s.cfg.MaxDuration:
		return s.close(frame.Timestamp, true)
	}
	return nil
}

// Flush closes an open utterance, e.g. at shutdown
func (s *Segmenter) Flush(at time.Time) []Event {
	if !s.open {
		return nil
	}
	return s.close(at, false)
}

// Reset drops any partial utterance without emitting events. The noise
// floor estimate is kept.
func (s *Segmenter) Reset() {
	s.open = false
	s.speechRun = 0
	s.silenceRun = 0
	s.pending = s.pending[:0]
	s.frames = s.frames[:0]
	s.duration = 0
}

// IsOpen reports whether an utterance is in progress
func (s *Segmenter) IsOpen() bool {
	return s.open
}

// Detector exposes the energy detector for metrics
func (s *Segmenter) Detector() *AdaptiveDetector {
	return s.detector
}

func (s *Segmenter) classify(frame audio.Chunk) bool {
	if !s.detector.IsSpeech(audio.RMS(frame.Samples)) {
		return false
	}
	if s.classifier == nil {
		return true
	}
	voiced, err := s.classifier.IsSpeech(frame.Samples, frame.SampleRate)
	if err != nil {
		s.logger.Debug("Classifier failed, using energy decision", "error", err)
		return true
	}
	return voiced
}

func (s *Segmenter) close(at time.Time, forced bool) []Event {
	keep := len(s.frames) - s.silenceRun
	if keep < 0 {
		keep = 0
	}
	frames := s.frames[:keep]

	var n int
	for _, f := range frames {
		n += len(f.Samples)
	}

	utt := &Utterance{Frames: len(frames), Forced: forced, End: at}
	if len(frames) > 0 {
		utt.Start = frames[0].Timestamp
		utt.SampleRate = frames[0].SampleRate
		utt.Channels = frames[0].Channels
		utt.Samples = make([]float32, 0, n)
		for _, f := range frames {
			utt.Samples = append(utt.Samples, f.Samples...)
		}
	}
	dur := utt.Duration()

	// A forced close restarts the floor from the utterance energy
	if forced && len(frames) > 0 {
		var energy float64
		for _, f := range frames {
			energy += audio.RMS(f.Samples)
		}
		s.detector.Seed(energy / float64(len(frames)))
	}

	s.Reset()

	events := []Event{{Kind: SpeechEnded, At: at, Duration: dur}}
	if dur < s.cfg.MinDuration {
		return append(events, Event{Kind: UtteranceDiscarded, At: at, Duration: dur})
	}
	return append(events, Event{Kind: UtteranceClosed, At: at, Utterance: utt, Duration: dur})
}
