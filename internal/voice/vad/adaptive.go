// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     vad
// Description: Adaptive energy detector with a noise-floor estimate
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package vad

// EnergyConfig holds the adaptive threshold parameters
type EnergyConfig struct {
	// FloorAlpha is the EMA weight of a new non-speech frame
	FloorAlpha float64

	// SpeechAlpha is the EMA weight of a speech frame, at most FloorAlpha.
	// 0 freezes the floor during speech.
	SpeechAlpha float64

	// MinEnergy is the absolute RMS below which a frame is never speech
	MinEnergy float64

	// MarginQuiet applies when the floor is at or below QuietFloor,
	// MarginNoisy when it is at or above NoisyFloor. Between the two the
	// margin is interpolated linearly, so it widens as the room gets louder.
	MarginQuiet float64
	MarginNoisy float64
	QuietFloor  float64
	NoisyFloor  float64
}

// DefaultEnergyConfig returns default thresholds for 16-bit microphones
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		FloorAlpha:  0.05,
		SpeechAlpha: 0.001,
		MinEnergy:   0.008,
		MarginQuiet: 1.5,
		MarginNoisy: 3.0,
		QuietFloor:  0.002,
		NoisyFloor:  0.03,
	}
}

// AdaptiveDetector classifies frames by comparing RMS energy against
// noise floor × margin
type AdaptiveDetector struct {
	cfg    EnergyConfig
	floor  float64
	seeded bool
}

// NewAdaptiveDetector creates a detector
func NewAdaptiveDetector(cfg EnergyConfig) *AdaptiveDetector {
	def := DefaultEnergyConfig()
	if cfg.FloorAlpha <= 0 || cfg.FloorAlpha > 1 {
		cfg.FloorAlpha = def.FloorAlpha
	}
	if cfg.MarginQuiet <= 0 {
		cfg.MarginQuiet = def.MarginQuiet
	}
	if cfg.MarginNoisy <= 0 {
		cfg.MarginNoisy = def.MarginNoisy
	}
	if cfg.MarginNoisy < cfg.MarginQuiet {
		cfg.MarginQuiet, cfg.MarginNoisy = cfg.MarginNoisy, cfg.MarginQuiet
	}
	if cfg.SpeechAlpha < 0 || cfg.SpeechAlpha > cfg.FloorAlpha {
		cfg.SpeechAlpha = def.SpeechAlpha
	}
	if cfg.NoisyFloor <= cfg.QuietFloor {
		cfg.QuietFloor, cfg.NoisyFloor = def.QuietFloor, def.NoisyFloor
	}
	return &AdaptiveDetector{cfg: cfg}
}

// IsSpeech classifies one frame energy and updates the floor: quickly on
// non-speech, slowly on speech
func (d *AdaptiveDetector) IsSpeech(energy float64) bool {
	if !d.seeded {
		d.Seed(energy)
	}

	speech := energy > d.Threshold()
	alpha := d.cfg.FloorAlpha
	if speech {
		alpha = d.cfg.SpeechAlpha
	}
	d.floor += alpha * (energy - d.floor)
	return speech
}

// Seed replaces the floor estimate
func (d *AdaptiveDetector) Seed(energy float64) {
	d.floor = energy
	d.seeded = true
}

// Threshold returns the current speech threshold
func (d *AdaptiveDetector) Threshold() float64 {
	t := d.floor * d.Margin()
	if t < d.cfg.MinEnergy {
		return d.cfg.MinEnergy
	}
	return t
}

// Margin returns the multiplier for the current floor
func (d *AdaptiveDetector) Margin() float64 {
	switch {
	case d.floor <= d.cfg.QuietFloor:
		return d.cfg.MarginQuiet
	case d.floor >= d.cfg.NoisyFloor:
		return d.cfg.MarginNoisy
	}
	pos := (d.floor - d.cfg.QuietFloor) / (d.cfg.NoisyFloor - d.cfg.QuietFloor)
	return d.cfg.MarginQuiet + pos*(d.cfg.MarginNoisy-d.cfg.MarginQuiet)
}

// Floor returns the noise-floor estimate
func (d *AdaptiveDetector) Floor() float64 {
	return d.floor
}

// Reset forgets the floor estimate
func (d *AdaptiveDetector) Reset() {
	d.floor = 0
	d.seeded = false
}
