// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     config
// Description: TOML configuration for the voice pipeline
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "CONVERSA_CONFIG"

// Config holds the complete application configuration
type Config struct {
	General   GeneralConfig   `toml:"general"`
	Audio     AudioConfig     `toml:"audio"`
	VAD       VADConfig       `toml:"vad"`
	STT       STTConfig       `toml:"stt"`
	Filter    FilterConfig    `toml:"filter"`
	Cognition CognitionConfig `toml:"cognition"`
	TTS       TTSConfig       `toml:"tts"`
	Playback  PlaybackConfig  `toml:"playback"`
	Manager   ManagerConfig   `toml:"manager"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	History   HistoryConfig   `toml:"history"`
}

// GeneralConfig holds general application settings
type GeneralConfig struct {
	Name      string `toml:"name"`
	DataDir   string `toml:"data_dir"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	Language  string `toml:"language"`
	// Live enables duplex mode with barge-in
	Live bool `toml:"live"`
}

// AudioConfig holds microphone capture settings
type AudioConfig struct {
	SampleRate    int      `toml:"sample_rate"`
	Channels      int      `toml:"channels"`
	FrameDuration Duration `toml:"frame_duration"`
	InputDevice   string   `toml:"input_device"`
	RingCapacity  int      `toml:"ring_capacity"`
	RetryBackoff  Duration `toml:"retry_backoff"`
	MaxBackoff    Duration `toml:"max_backoff"`
}

// VADConfig holds voice activity segmentation settings
type VADConfig struct {
	// Mode is "adaptive" or "webrtc" (adaptive energy confirmed by WebRTC)
	Mode        string   `toml:"mode"`
	WebRTCMode  int      `toml:"webrtc_mode"`
	OpenFrames  int      `toml:"open_frames"`
	CloseFrames int      `toml:"close_frames"`
	MinDuration Duration `toml:"min_duration"`
	MaxDuration Duration `toml:"max_duration"`
	FloorAlpha  float64  `toml:"floor_alpha"`
	// FloorSpeechAlpha lets the floor follow a lasting rise in ambient
	// noise even while frames classify as speech
	FloorSpeechAlpha float64 `toml:"floor_speech_alpha"`
	MinEnergy        float64 `toml:"min_energy"`
	MarginQuiet      float64 `toml:"margin_quiet"`
	MarginNoisy      float64 `toml:"margin_noisy"`
	QuietFloor       float64 `toml:"quiet_floor"`
	NoisyFloor       float64 `toml:"noisy_floor"`
	UtteranceQueue   int     `toml:"utterance_queue"`
}

// STTConfig holds speech-to-text engine settings
type STTConfig struct {
	// Engine is "whisper-cli" or "whisper-http"
	Engine          string   `toml:"engine"`
	Binary          string   `toml:"binary"`
	Model           string   `toml:"model"`
	Language        string   `toml:"language"`
	ServerURL       string   `toml:"server_url"`
	Timeout         Duration `toml:"timeout"`
	TranscriptQueue int      `toml:"transcript_queue"`
}

// FilterConfig holds hallucination filter settings
type FilterConfig struct {
	MinChars int `toml:"min_chars"`
	// Lexicon is an optional YAML file extending the built-in word lists
	Lexicon string `toml:"lexicon"`
}

// CognitionConfig holds LLM orchestration settings
type CognitionConfig struct {
	Persona           string           `toml:"persona"`
	HistoryTurns      int              `toml:"history_turns"`
	ContextTimeout    Duration         `toml:"context_timeout"`
	ResponseQueue     int              `toml:"response_queue"`
	FallbackText      string           `toml:"fallback_text"`
	FallbackAnimation string           `toml:"fallback_animation"`
	Cooldown          Duration         `toml:"cooldown"`
	Providers         []ProviderConfig `toml:"providers"`
	RateLimit         RateLimitConfig  `toml:"rate_limit"`
	Dedup             DedupConfig      `toml:"dedup"`
}

// ProviderConfig holds a single provider's configuration
type ProviderConfig struct {
	Name        string   `toml:"name"`
	Type        string   `toml:"type"`
	Enabled     bool     `toml:"enabled"`
	Priority    int      `toml:"priority"`
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     Duration `toml:"timeout"`
}

// RateLimitConfig holds the sliding window quota
type RateLimitConfig struct {
	Quota  int      `toml:"quota"`
	Margin int      `toml:"margin"`
	Window Duration `toml:"window"`
	Grace  Duration `toml:"grace"`
}

// DedupConfig holds the duplicate request window
type DedupConfig struct {
	TTL Duration `toml:"ttl"`
}

// TTSConfig holds speech synthesis settings
type TTSConfig struct {
	// Engine is "piper" (in-process) or "daemon" (socket, falls back to piper)
	Engine         string   `toml:"engine"`
	PiperBinary    string   `toml:"piper_binary"`
	Voice          string   `toml:"voice"`
	ReferenceVoice string   `toml:"reference_voice"`
	SampleRate     int      `toml:"sample_rate"`
	Speed          float64  `toml:"speed"`
	DaemonNetwork  string   `toml:"daemon_network"`
	DaemonAddress  string   `toml:"daemon_address"`
	DaemonTimeout  Duration `toml:"daemon_timeout"`
	ChunkQueue     int      `toml:"chunk_queue"`
}

// PlaybackConfig holds audio output settings
type PlaybackConfig struct {
	OutputDevice string `toml:"output_device"`
	BufferFrames int    `toml:"buffer_frames"`
}

// ManagerConfig holds coordination settings
type ManagerConfig struct {
	RestartDelay    Duration `toml:"restart_delay"`
	OverlapDebounce Duration `toml:"overlap_debounce"`
	EchoTail        Duration `toml:"echo_tail"`
	PollInterval    Duration `toml:"poll_interval"`
	EventBuffer     int      `toml:"event_buffer"`
}

// TelemetryConfig holds the UI/telemetry server settings
type TelemetryConfig struct {
	Enabled          bool     `toml:"enabled"`
	Listen           string   `toml:"listen"`
	SnapshotInterval Duration `toml:"snapshot_interval"`
}

// HistoryConfig holds chat history persistence settings
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a configuration with all defaults applied and a single
// local Ollama provider.
func Default() *Config {
	cfg := &Config{}
	cfg.Cognition.Providers = []ProviderConfig{{
		Name:    "ollama",
		Type:    "ollama",
		Enabled: true,
	}}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a TOML file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Decoding over the defaults keeps keys the file sets explicitly,
	// zero values included
	cfg := Default()
	defaults := cfg.Cognition.Providers
	cfg.Cognition.Providers = nil

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if !md.IsDefined("cognition", "providers") {
		cfg.Cognition.Providers = defaults
	}
	if !md.IsDefined("stt", "language") {
		cfg.STT.Language = cfg.General.Language
	}
	if !md.IsDefined("history", "path") {
		cfg.History.Path = filepath.Join(cfg.General.DataDir, "history.db")
	}
	cfg.applyProviderDefaults()
	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the file at path, the file named by CONVERSA_CONFIG,
// or the first default location found. Without any file it returns Default().
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return Load(env)
	}

	defaultPaths := []string{
		"./configs/conversa.toml",
		"./conversa.toml",
		filepath.Join(os.Getenv("HOME"), ".config/conversa/conversa.toml"),
	}
	for _, p := range defaultPaths {
		if _, err := os.Stat(p); err == nil {
			return Load(p)
		}
	}
	return Default(), nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// General
	if c.General.Name == "" {
		c.General.Name = "conversa"
	}
	if c.General.DataDir == "" {
		c.General.DataDir = "./data"
	}
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = "console"
	}
	if c.General.Language == "" {
		c.General.Language = "pt"
	}

	// Audio
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.Channels == 0 {
		c.Audio.Channels = 1
	}
	if c.Audio.FrameDuration.Duration == 0 {
		c.Audio.FrameDuration.Duration = 30 * time.Millisecond
	}
	if c.Audio.RingCapacity == 0 {
		c.Audio.RingCapacity = 256
	}
	if c.Audio.RetryBackoff.Duration == 0 {
		c.Audio.RetryBackoff.Duration = 500 * time.Millisecond
	}
	if c.Audio.MaxBackoff.Duration == 0 {
		c.Audio.MaxBackoff.Duration = 5 * time.Second
	}

	// VAD
	if c.VAD.Mode == "" {
		c.VAD.Mode = "adaptive"
	}
	if c.VAD.WebRTCMode == 0 {
		c.VAD.WebRTCMode = 2
	}
	if c.VAD.OpenFrames == 0 {
		c.VAD.OpenFrames = 3
	}
	if c.VAD.CloseFrames == 0 {
		c.VAD.CloseFrames = 25
	}
	if c.VAD.MinDuration.Duration == 0 {
		c.VAD.MinDuration.Duration = 300 * time.Millisecond
	}
	if c.VAD.MaxDuration.Duration == 0 {
		c.VAD.MaxDuration.Duration = 30 * time.Second
	}
	if c.VAD.FloorAlpha == 0 {
		c.VAD.FloorAlpha = 0.05
	}
	if c.VAD.MinEnergy == 0 {
		c.VAD.MinEnergy = 0.008
	}
	if c.VAD.FloorSpeechAlpha == 0 {
		c.VAD.FloorSpeechAlpha = 0.001
	}
	if c.VAD.MarginQuiet == 0 {
		c.VAD.MarginQuiet = 1.5
	}
	if c.VAD.MarginNoisy == 0 {
		c.VAD.MarginNoisy = 3.0
	}
	if c.VAD.QuietFloor == 0 {
		c.VAD.QuietFloor = 0.002
	}
	if c.VAD.NoisyFloor == 0 {
		c.VAD.NoisyFloor = 0.03
	}
	if c.VAD.UtteranceQueue == 0 {
		c.VAD.UtteranceQueue = 8
	}

	// STT
	if c.STT.Engine == "" {
		c.STT.Engine = "whisper-cli"
	}
	if c.STT.Language == "" {
		c.STT.Language = c.General.Language
	}
	if c.STT.ServerURL == "" {
		c.STT.ServerURL = "http://localhost:8178"
	}
	if c.STT.Timeout.Duration == 0 {
		c.STT.Timeout.Duration = 30 * time.Second
	}
	if c.STT.TranscriptQueue == 0 {
		c.STT.TranscriptQueue = 8
	}

	// Filter
	if c.Filter.MinChars == 0 {
		c.Filter.MinChars = 3
	}

	// Cognition
	if c.Cognition.HistoryTurns == 0 {
		c.Cognition.HistoryTurns = 6
	}
	if c.Cognition.ContextTimeout.Duration == 0 {
		c.Cognition.ContextTimeout.Duration = 500 * time.Millisecond
	}
	if c.Cognition.ResponseQueue == 0 {
		c.Cognition.ResponseQueue = 4
	}
	if c.Cognition.FallbackAnimation == "" {
		c.Cognition.FallbackAnimation = "neutral"
	}
	if c.Cognition.Cooldown.Duration == 0 {
		c.Cognition.Cooldown.Duration = 30 * time.Second
	}
	if c.Cognition.RateLimit.Quota == 0 {
		c.Cognition.RateLimit.Quota = 15
	}
	if c.Cognition.RateLimit.Margin == 0 {
		c.Cognition.RateLimit.Margin = 2
	}
	if c.Cognition.RateLimit.Window.Duration == 0 {
		c.Cognition.RateLimit.Window.Duration = 60 * time.Second
	}
	if c.Cognition.RateLimit.Grace.Duration == 0 {
		c.Cognition.RateLimit.Grace.Duration = time.Second
	}
	if c.Cognition.Dedup.TTL.Duration == 0 {
		c.Cognition.Dedup.TTL.Duration = 120 * time.Second
	}
	c.applyProviderDefaults()

	// TTS
	if c.TTS.Engine == "" {
		c.TTS.Engine = "piper"
	}
	if c.TTS.PiperBinary == "" {
		c.TTS.PiperBinary = "piper"
	}
	if c.TTS.SampleRate == 0 {
		c.TTS.SampleRate = 22050
	}
	if c.TTS.Speed == 0 {
		c.TTS.Speed = 1.0
	}
	if c.TTS.DaemonNetwork == "" {
		c.TTS.DaemonNetwork = "unix"
	}
	if c.TTS.DaemonAddress == "" {
		c.TTS.DaemonAddress = filepath.Join(os.TempDir(), "conversa-tts.sock")
	}
	if c.TTS.DaemonTimeout.Duration == 0 {
		c.TTS.DaemonTimeout.Duration = 20 * time.Second
	}
	if c.TTS.ChunkQueue == 0 {
		c.TTS.ChunkQueue = 16
	}

	// Playback
	if c.Playback.BufferFrames == 0 {
		c.Playback.BufferFrames = 1024
	}

	// Manager
	if c.Manager.RestartDelay.Duration == 0 {
		c.Manager.RestartDelay.Duration = time.Second
	}
	if c.Manager.OverlapDebounce.Duration == 0 {
		c.Manager.OverlapDebounce.Duration = 150 * time.Millisecond
	}
	if c.Manager.EchoTail.Duration == 0 {
		c.Manager.EchoTail.Duration = 250 * time.Millisecond
	}
	if c.Manager.PollInterval.Duration == 0 {
		c.Manager.PollInterval.Duration = 50 * time.Millisecond
	}
	if c.Manager.EventBuffer == 0 {
		c.Manager.EventBuffer = 64
	}

	// Telemetry
	if c.Telemetry.Listen == "" {
		c.Telemetry.Listen = "127.0.0.1:8765"
	}
	if c.Telemetry.SnapshotInterval.Duration == 0 {
		c.Telemetry.SnapshotInterval.Duration = time.Second
	}

	// History
	if c.History.Path == "" {
		c.History.Path = filepath.Join(c.General.DataDir, "history.db")
	}
}

// applyProviderDefaults fills unset provider fields from the provider type
func (c *Config) applyProviderDefaults() {
	for i := range c.Cognition.Providers {
		p := &c.Cognition.Providers[i]
		if p.Type == "" {
			p.Type = p.Name
		}
		if p.Name == "" {
			p.Name = p.Type
		}
		if p.BaseURL == "" {
			p.BaseURL = defaultBaseURL(p.Type)
		}
		if p.Model == "" {
			p.Model = defaultModel(p.Type)
		}
		if p.Temperature == 0 {
			p.Temperature = 0.7
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 512
		}
		if p.Timeout.Duration == 0 {
			p.Timeout.Duration = 60 * time.Second
		}
	}
}

func defaultBaseURL(providerType string) string {
	switch providerType {
	case "ollama":
		return "http://localhost:11434"
	case "openai":
		return "https://api.openai.com/v1"
	case "anthropic":
		return "https://api.anthropic.com/v1"
	case "websocket":
		return "ws://localhost:8080/api/v1/chat/ws"
	default:
		return ""
	}
}

func defaultModel(providerType string) string {
	switch providerType {
	case "ollama":
		return "qwen2.5:7b"
	case "openai":
		return "gpt-4o-mini"
	case "anthropic":
		return "claude-3-5-haiku-latest"
	default:
		return ""
	}
}

// expandEnvVars expands environment variables in sensitive fields
func (c *Config) expandEnvVars() {
	for i := range c.Cognition.Providers {
		p := &c.Cognition.Providers[i]
		p.APIKey = os.ExpandEnv(p.APIKey)
		p.BaseURL = os.ExpandEnv(p.BaseURL)
	}
	c.General.DataDir = os.ExpandEnv(c.General.DataDir)
	c.History.Path = os.ExpandEnv(c.History.Path)
	c.TTS.DaemonAddress = os.ExpandEnv(c.TTS.DaemonAddress)
	c.Filter.Lexicon = os.ExpandEnv(c.Filter.Lexicon)
	c.Cognition.Persona = os.ExpandEnv(c.Cognition.Persona)
}

// Validate reports configuration errors that defaults cannot repair
func (c *Config) Validate() error {
	var errs []error

	switch c.VAD.Mode {
	case "adaptive", "webrtc":
	default:
		errs = append(errs, fmt.Errorf("vad.mode: unknown mode %q", c.VAD.Mode))
	}
	if c.VAD.WebRTCMode < 0 || c.VAD.WebRTCMode > 3 {
		errs = append(errs, fmt.Errorf("vad.webrtc_mode: must be 0-3, got %d", c.VAD.WebRTCMode))
	}
	switch c.STT.Engine {
	case "whisper-cli", "whisper-http":
	default:
		errs = append(errs, fmt.Errorf("stt.engine: unknown engine %q", c.STT.Engine))
	}
	switch c.TTS.Engine {
	case "piper", "daemon":
	default:
		errs = append(errs, fmt.Errorf("tts.engine: unknown engine %q", c.TTS.Engine))
	}
	if c.VAD.MarginQuiet <= 0 || c.VAD.MarginNoisy < c.VAD.MarginQuiet {
		errs = append(errs, fmt.Errorf("vad: margin_noisy %.2f must be at least margin_quiet %.2f (> 0)",
			c.VAD.MarginNoisy, c.VAD.MarginQuiet))
	}
	if c.VAD.FloorAlpha <= 0 || c.VAD.FloorAlpha > 1 || c.VAD.FloorSpeechAlpha < 0 || c.VAD.FloorSpeechAlpha > c.VAD.FloorAlpha {
		errs = append(errs, fmt.Errorf("vad: floor_speech_alpha %.4f must lie between 0 and floor_alpha %.4f",
			c.VAD.FloorSpeechAlpha, c.VAD.FloorAlpha))
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio: sample_rate and channels must be positive"))
	}
	for name, n := range map[string]int{
		"audio.ring_capacity":      c.Audio.RingCapacity,
		"vad.utterance_queue":      c.VAD.UtteranceQueue,
		"stt.transcript_queue":     c.STT.TranscriptQueue,
		"cognition.response_queue": c.Cognition.ResponseQueue,
		"tts.chunk_queue":          c.TTS.ChunkQueue,
	} {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%s: must be at least 1, got %d", name, n))
		}
	}
	if c.Cognition.RateLimit.Margin < 0 || c.Cognition.RateLimit.Margin >= c.Cognition.RateLimit.Quota {
		errs = append(errs, fmt.Errorf("cognition.rate_limit: margin %d must be below quota %d",
			c.Cognition.RateLimit.Margin, c.Cognition.RateLimit.Quota))
	}

	seen := make(map[string]bool)
	for _, p := range c.Cognition.Providers {
		switch p.Type {
		case "ollama", "openai", "anthropic", "websocket":
		default:
			errs = append(errs, fmt.Errorf("cognition.providers: %q has unknown type %q", p.Name, p.Type))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("cognition.providers: duplicate name %q", p.Name))
		}
		seen[p.Name] = true
	}

	return errors.Join(errs...)
}

// EnabledProviders returns enabled providers sorted by ascending priority.
// Equal priorities keep their file order.
func (c *Config) EnabledProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Cognition.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
