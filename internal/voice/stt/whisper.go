// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     stt
// Description: Whisper engines via whisper.cpp CLI and whisper.cpp server
// Created:     2025-12-07
// License:     MIT
// ============================================================================

package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/msto63/conversa/internal/voice/audio"
)

// Whisper does not report a usable utterance-level confidence
const defaultConfidence = 0.9

// WhisperCLI implements speech-to-text using the whisper.cpp CLI
type WhisperCLI struct {
	binaryPath string
	modelPath  string
	language   string
	tempDir    string
}

// NewWhisperCLI creates a new Whisper CLI transcriber
func NewWhisperCLI(cfg Config) (*WhisperCLI, error) {
	binaryPath := cfg.Binary
	if binaryPath == "" {
		binaryPath = FindWhisperBinary()
	}
	if binaryPath == "" {
		return nil, fmt.Errorf("whisper binary not found")
	}

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	tempDir, err := os.MkdirTemp("", "conversa-stt-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	language := cfg.Language
	if language == "" {
		language = "auto"
	}

	return &WhisperCLI{
		binaryPath: binaryPath,
		modelPath:  cfg.ModelPath,
		language:   language,
		tempDir:    tempDir,
	}, nil
}

// FindWhisperBinary finds the whisper.cpp binary in PATH or common locations
func FindWhisperBinary() string {
	for _, name := range []string{"whisper-cli", "whisper-cpp", "whisper"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	locations := []string{
		"/opt/homebrew/bin/whisper-cli",
		"/usr/local/bin/whisper-cli",
		"/usr/local/bin/whisper",
		"/usr/bin/whisper",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Transcribe writes the samples to a temporary WAV file and runs whisper on it
func (w *WhisperCLI) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrEmptyAudio
	}

	wavPath := filepath.Join(w.tempDir, fmt.Sprintf("utt_%d.wav", time.Now().UnixNano()))
	if err := audio.WriteWAVFile(wavPath, samples, sampleRate); err != nil {
		return Result{}, fmt.Errorf("failed to write WAV file: %w", err)
	}
	defer os.Remove(wavPath)

	args := []string{
		"-m", w.modelPath,
		"-l", w.language,
		"-np", // no prints
		"-nt", // no timestamps
		"-f", wavPath,
	}

	cmd := exec.CommandContext(ctx, w.binaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("whisper failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return Result{
		Text:       cleanOutput(stdout.String()),
		Language:   w.language,
		Confidence: defaultConfidence,
	}, nil
}

// cleanOutput strips timestamp prefixes ([00:00:00.000 --> 00:00:05.000])
// and joins the lines
func cleanOutput(out string) string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.Contains(line, "-->") {
			if idx := strings.Index(line, "]"); idx != -1 {
				line = strings.TrimSpace(line[idx+1:])
			}
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}

// Close removes the temp directory
func (w *WhisperCLI) Close() error {
	if w.tempDir != "" {
		return os.RemoveAll(w.tempDir)
	}
	return nil
}

// WhisperHTTP implements speech-to-text against a whisper.cpp server
// (POST /inference, multipart form)
type WhisperHTTP struct {
	baseURL  string
	language string
	client   *http.Client
}

// NewWhisperHTTP creates a new Whisper HTTP client
func NewWhisperHTTP(cfg Config, timeout time.Duration) *WhisperHTTP {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WhisperHTTP{
		baseURL:  strings.TrimRight(cfg.ServerURL, "/"),
		language: cfg.Language,
		client:   &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads the utterance as WAV and returns the server's text
func (w *WhisperHTTP) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Result, error) {
	if len(samples) == 0 {
		return Result{}, ErrEmptyAudio
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create form: %w", err)
	}
	if err := audio.EncodeWAV(part, samples, sampleRate); err != nil {
		return Result{}, fmt.Errorf("failed to create WAV: %w", err)
	}
	form.WriteField("response_format", "json")
	form.WriteField("temperature", "0.0")
	if w.language != "" {
		form.WriteField("language", w.language)
	}
	if err := form.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to create form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/inference", &body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var response struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}

	lang := response.Language
	if lang == "" {
		lang = w.language
	}
	return Result{
		Text:       strings.TrimSpace(response.Text),
		Language:   lang,
		Confidence: defaultConfidence,
	}, nil
}

// Close releases resources
func (w *WhisperHTTP) Close() error {
	return nil
}
