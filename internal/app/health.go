// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     app
// Description: Health checks for the external engines the pipeline needs
// Created:     2025-12-17
// License:     MIT
// ============================================================================

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/msto63/conversa/internal/voice/audio"
	"github.com/msto63/conversa/internal/voice/llm"
	"github.com/msto63/conversa/internal/voice/stt"
	"github.com/msto63/conversa/pkg/core/config"
	"github.com/msto63/conversa/pkg/core/health"
	"github.com/msto63/conversa/pkg/core/version"
)

const checkTimeout = 3 * time.Second

// HealthOptions selects the checks for components built from configuration.
// Injected components are not checked.
type HealthOptions struct {
	Audio       bool
	Transcriber bool
	Synthesizer bool
}

// NewHealthRegistry builds the checks for the configured engines
func NewHealthRegistry(cfg *config.Config, providers []llm.Provider, opts HealthOptions) *health.Registry {
	registry := health.NewRegistry(cfg.General.Name, version.Platform)

	if opts.Audio {
		registry.RegisterFunc("audio", audioCheck)
	}

	if opts.Transcriber {
		switch cfg.STT.Engine {
		case "whisper-http":
			registry.Register(health.HTTPCheck("stt", strings.TrimRight(cfg.STT.ServerURL, "/")+"/", checkTimeout))
		default:
			binary := cfg.STT.Binary
			if binary == "" {
				binary = stt.FindWhisperBinary()
			}
			if binary == "" {
				binary = "whisper-cli"
			}
			registry.Register(health.BinaryCheck("stt", binary))
			registry.Register(health.FileCheck("stt_model", cfg.STT.Model, false))
		}
	}
	if cfg.Filter.Lexicon != "" {
		registry.Register(health.FileCheck("lexicon", cfg.Filter.Lexicon, true))
	}
	if cfg.Cognition.Persona != "" {
		registry.Register(health.FileCheck("persona", cfg.Cognition.Persona, true))
	}

	for _, p := range providers {
		registry.Register(providerCheck(p))
	}

	if opts.Synthesizer {
		registry.Register(health.BinaryCheck("tts", cfg.TTS.PiperBinary))
		if cfg.TTS.Voice != "" {
			registry.Register(health.FileCheck("tts_voice", cfg.TTS.Voice, false))
		}
		if cfg.TTS.Engine == "daemon" {
			registry.Register(degradedCheck(health.DialCheck("tts_daemon",
				cfg.TTS.DaemonNetwork, cfg.TTS.DaemonAddress, checkTimeout)))
		}
	}

	return registry
}

// providerCheck wraps the provider's own availability check
func providerCheck(p llm.Provider) health.Checker {
	name := "llm_" + p.Name()
	return health.NewChecker(name, func(ctx context.Context) health.CheckResult {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if p.Available(ctx) {
			return health.CheckResult{Name: name, Status: health.StatusHealthy, Message: "available"}
		}
		// Other providers take over, so one missing provider only degrades
		return health.CheckResult{Name: name, Status: health.StatusDegraded, Message: "unavailable"}
	})
}

// degradedCheck downgrades failures of components with a local fallback
func degradedCheck(c health.Checker) health.Checker {
	return health.NewChecker(c.Name(), func(ctx context.Context) health.CheckResult {
		result := c.Check(ctx)
		if result.Status == health.StatusUnhealthy {
			result.Status = health.StatusDegraded
			result.Message += " (piper fallback)"
		}
		return result
	})
}

func audioCheck(ctx context.Context) health.CheckResult {
	devices, err := audio.ListDevices()
	if err != nil {
		return health.CheckResult{Name: "audio", Status: health.StatusUnhealthy, Message: err.Error()}
	}

	var inputs, outputs int
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			inputs++
		}
		if d.MaxOutputChannels > 0 {
			outputs++
		}
	}

	result := health.CheckResult{
		Name:    "audio",
		Status:  health.StatusHealthy,
		Message: fmt.Sprintf("%d input, %d output devices", inputs, outputs),
		Details: map[string]interface{}{"inputs": inputs, "outputs": outputs},
	}
	if inputs == 0 || outputs == 0 {
		result.Status = health.StatusUnhealthy
	}
	return result
}
