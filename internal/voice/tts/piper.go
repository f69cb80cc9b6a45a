// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     tts
// Description: In-process synthesis with the Piper CLI
// Created:     2025-12-10
// License:     MIT
// ============================================================================

package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/msto63/conversa/internal/voice/audio"
)

// Piper implements text-to-speech using the piper binary with raw output
type Piper struct {
	binaryPath string
	sampleRate int
}

// NewPiper creates a Piper synthesizer. The binary is resolved lazily.
func NewPiper(binaryPath string, sampleRate int) *Piper {
	if binaryPath == "" {
		binaryPath = "piper"
	}
	if sampleRate <= 0 {
		sampleRate = 22050 // Piper default
	}
	return &Piper{binaryPath: binaryPath, sampleRate: sampleRate}
}

// Name returns the engine name
func (p *Piper) Name() string {
	return "piper"
}

// Synthesize pipes text through piper and decodes the raw 16-bit PCM
func (p *Piper) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	if params.Voice == "" {
		return Audio{}, fmt.Errorf("piper voice model is required")
	}

	binary, err := exec.LookPath(p.binaryPath)
	if err != nil {
		return Audio{}, fmt.Errorf("piper binary not found: %w", err)
	}

	args := []string{"--model", params.Voice, "--output_raw"}
	if cfg := params.Voice + ".json"; fileExists(cfg) {
		args = append(args, "--config", cfg)
	}
	if params.Speed > 0 && params.Speed != 1.0 {
		args = append(args, "--length_scale", strconv.FormatFloat(1/params.Speed, 'f', 3, 64))
	}
	if espeak := filepath.Join(filepath.Dir(binary), "espeak-ng-data"); fileExists(espeak) {
		args = append(args, "--espeak_data", espeak)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Dir = filepath.Dir(binary)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("DYLD_LIBRARY_PATH=%s", filepath.Dir(binary)),
		fmt.Sprintf("LD_LIBRARY_PATH=%s", filepath.Dir(binary)),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Audio{}, fmt.Errorf("piper failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return Audio{Samples: audio.DecodePCM16(stdout.Bytes()), SampleRate: p.sampleRate}, nil
}

// Close releases resources
func (p *Piper) Close() error {
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
