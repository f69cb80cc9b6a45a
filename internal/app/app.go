// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     app
// Description: Builds and runs the voice pipeline from configuration
// Created:     2025-12-17
// License:     MIT
// ============================================================================

// Package app wires the pipeline stages, the manager and the optional
// telemetry and history collaborators from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/msto63/conversa/internal/history"
	"github.com/msto63/conversa/internal/telemetry"
	"github.com/msto63/conversa/internal/voice"
	"github.com/msto63/conversa/internal/voice/audio"
	"github.com/msto63/conversa/internal/voice/cognition"
	"github.com/msto63/conversa/internal/voice/llm"
	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/stt"
	"github.com/msto63/conversa/internal/voice/tts"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/internal/voice/vad"
	"github.com/msto63/conversa/pkg/core/config"
	"github.com/msto63/conversa/pkg/core/health"
	"github.com/msto63/conversa/pkg/core/logging"
	"github.com/msto63/conversa/pkg/core/version"
)

// ErrNoProviders is returned when no language model provider is enabled
var ErrNoProviders = errors.New("no language model provider enabled")

// Options overrides parts of the configured pipeline. Nil fields are
// built from the configuration.
type Options struct {
	Config *config.Config

	// TextOnly skips capture, segmentation and transcription; turns come
	// from Submit only
	TextOnly bool

	Source      audio.Source
	Player      audio.Player
	Transcriber stt.Transcriber
	Providers   []llm.Provider
	Synthesizer tts.Synthesizer
	Store       history.Store
}

// App is a fully wired pipeline
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	bus     *turn.Bus
	tracker *turn.Tracker
	flags   *turn.Flags
	manager *voice.Manager
	bridge  *voice.Bridge
	engine  *cognition.Engine

	utterances  *queue.BackpressureQueue[vad.Utterance]
	transcripts *queue.BackpressureQueue[stt.Transcript]
	responses   *queue.BackpressureQueue[cognition.Response]
	chunks      *queue.BackpressureQueue[tts.Chunk]

	stages []voice.Stage

	transcriber stt.Transcriber
	synth       tts.Synthesizer
	store       history.Store
	recorder    *history.Recorder

	hub    *telemetry.Hub
	server *telemetry.Server
	health *health.Registry

	closeOnce sync.Once
}

// New builds the pipeline. ctx bounds the turn generations and the
// history session setup.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	a := &App{
		cfg:     cfg,
		logger:  logging.New("app"),
		bus:     turn.NewBus(cfg.Manager.EventBuffer),
		tracker: turn.NewTracker(ctx),
		flags:   turn.NewFlags(),
	}

	if err := a.initComponents(ctx, opts); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return a, nil
}

// initComponents builds stages back to front so that every consumer
// exists before its producer
func (a *App) initComponents(ctx context.Context, opts Options) error {
	cfg := a.cfg
	poll := cfg.Manager.PollInterval.Duration

	a.utterances = queue.New[vad.Utterance]("utterances", cfg.VAD.UtteranceQueue, queue.RejectNew)
	a.transcripts = queue.New[stt.Transcript]("transcripts", cfg.STT.TranscriptQueue, queue.RejectNew)
	a.responses = queue.New[cognition.Response]("responses", cfg.Cognition.ResponseQueue, queue.RejectNew)
	a.chunks = queue.New[tts.Chunk]("tts_chunks", cfg.TTS.ChunkQueue, queue.RejectNew)

	// History
	a.store = opts.Store
	if a.store == nil && cfg.History.Enabled {
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		a.store = store
	}

	// Cognition
	persona, err := cognition.LoadPersona(cfg.Cognition.Persona)
	if err != nil {
		return err
	}

	var sources []cognition.ContextSource
	if a.store != nil {
		a.recorder, err = history.NewRecorder(ctx, a.store, persona.Name)
		if err != nil {
			return err
		}
		sources = append(sources, history.NewMemory(a.store, a.recorder.Session().ID, cfg.Cognition.HistoryTurns))
	}

	providers := opts.Providers
	if providers == nil {
		providers, err = BuildProviders(cfg)
		if err != nil {
			return err
		}
	}
	if len(providers) == 0 {
		return ErrNoProviders
	}

	a.engine = cognition.NewEngine(
		providers,
		cognition.NewPromptBuilder(persona, cfg.Cognition.ContextTimeout.Duration, sources...),
		cognition.NewRateLimiter(cognition.RateLimitConfig{
			Quota:  cfg.Cognition.RateLimit.Quota,
			Margin: cfg.Cognition.RateLimit.Margin,
			Window: cfg.Cognition.RateLimit.Window.Duration,
			Grace:  cfg.Cognition.RateLimit.Grace.Duration,
		}),
		cognition.NewDeduplicator(cfg.Cognition.Dedup.TTL.Duration),
		cognition.EngineConfig{
			Cooldown: cfg.Cognition.Cooldown.Duration,
			Fallback: cognition.FallbackConfig{
				Text:      cfg.Cognition.FallbackText,
				Animation: cfg.Cognition.FallbackAnimation,
			},
		},
	)

	// Manager
	a.manager = voice.NewManager(voice.ManagerConfig{
		RestartDelay:    cfg.Manager.RestartDelay.Duration,
		OverlapDebounce: cfg.Manager.OverlapDebounce.Duration,
		EchoTail:        cfg.Manager.EchoTail.Duration,
		Poll:            poll,
	}, voice.Deps{
		Bus:      a.bus,
		Tracker:  a.tracker,
		Flags:    a.flags,
		Metrics:  voice.NewMetrics(""),
		Fanout:   voice.NewFanout(0),
		Requests: a.transcripts,
		Clear:    []voice.Clearable{a.responses, a.chunks},
	})
	a.manager.WatchQueue(a.utterances.Stats)
	a.manager.WatchQueue(a.responses.Stats)
	a.manager.WatchQueue(a.chunks.Stats)

	// Synthesis and playback
	a.synth = opts.Synthesizer
	if a.synth == nil {
		a.synth = tts.New(ttsConfig(cfg))
	}
	synthesis := tts.NewWorker(a.responses, a.chunks, a.synth, ttsConfig(cfg).Params(), a.tracker, a.bus, poll)

	player := opts.Player
	if player == nil {
		player = audio.NewDevicePlayer(cfg.Playback.OutputDevice, cfg.Playback.BufferFrames)
	}
	playback := tts.NewPlaybackWorker(a.chunks, player, a.manager, a.tracker, a.bus, poll)

	thinking := cognition.NewWorker(a.transcripts, a.responses, a.engine, a.tracker, a.bus, poll)

	a.addStage(thinking, func() any {
		return map[string]any{
			"engine":    a.engine.Stats(),
			"providers": a.engine.Providers(),
		}
	})
	a.addStage(synthesis, func() any { return synthesis.Stats() })
	a.addStage(playback, func() any { return playback.Stats() })

	if !opts.TextOnly {
		if err := a.initListening(opts, poll); err != nil {
			return err
		}
	}

	// Collaborators
	a.health = NewHealthRegistry(cfg, providers, HealthOptions{
		Audio:       !opts.TextOnly && opts.Source == nil,
		Transcriber: !opts.TextOnly && opts.Transcriber == nil,
		Synthesizer: opts.Synthesizer == nil,
	})

	if cfg.Telemetry.Enabled {
		a.hub = telemetry.NewHub(a.manager)
		a.engine.SetObserver(a.hub)
		a.manager.Fanout().Attach(a.hub)
		a.manager.AddStats("telemetry", func() any { return a.hub.Stats() })
		a.server = telemetry.NewServer(telemetry.Config{Listen: cfg.Telemetry.Listen},
			a.hub, a.manager.Metrics().Handler(), a.health, a.manager.Snapshot)
	}
	if a.recorder != nil {
		a.manager.Fanout().Attach(a.recorder)
	}
	return nil
}

// initListening builds capture, segmentation and transcription
func (a *App) initListening(opts Options, poll time.Duration) error {
	cfg := a.cfg

	src := opts.Source
	if src == nil {
		src = audio.NewDeviceSource(audio.DeviceConfig{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
			FrameSize:  int(int64(cfg.Audio.SampleRate) * int64(cfg.Audio.FrameDuration.Duration) / int64(time.Second)),
			DeviceName: cfg.Audio.InputDevice,
		})
	}
	ring := audio.NewRingBuffer[audio.Chunk](cfg.Audio.RingCapacity)
	capture := audio.NewCaptureWorker(src, ring, a.flags, audio.CaptureConfig{
		RetryBackoff: cfg.Audio.RetryBackoff.Duration,
		MaxBackoff:   cfg.Audio.MaxBackoff.Duration,
	})

	var classifier vad.Classifier
	if cfg.VAD.Mode == "webrtc" {
		c, err := vad.NewWebRTCClassifier(cfg.VAD.WebRTCMode)
		if err != nil {
			return err
		}
		classifier = c
	}
	segmenter := vad.NewSegmenter(vad.Config{
		OpenFrames:  cfg.VAD.OpenFrames,
		CloseFrames: cfg.VAD.CloseFrames,
		MinDuration: cfg.VAD.MinDuration.Duration,
		MaxDuration: cfg.VAD.MaxDuration.Duration,
		Energy: vad.EnergyConfig{
			FloorAlpha:  cfg.VAD.FloorAlpha,
			SpeechAlpha: cfg.VAD.FloorSpeechAlpha,
			MinEnergy:   cfg.VAD.MinEnergy,
			MarginQuiet: cfg.VAD.MarginQuiet,
			MarginNoisy: cfg.VAD.MarginNoisy,
			QuietFloor:  cfg.VAD.QuietFloor,
			NoisyFloor:  cfg.VAD.NoisyFloor,
		},
	}, classifier)
	segmentation := vad.NewWorker(ring, segmenter, a.utterances, a.flags, a.bus, poll)

	lexicon := stt.DefaultLexicon()
	if cfg.Filter.Lexicon != "" {
		lex, err := stt.LoadLexicon(cfg.Filter.Lexicon)
		if err != nil {
			return err
		}
		lexicon = lex
	}

	a.transcriber = opts.Transcriber
	if a.transcriber == nil {
		t, err := BuildTranscriber(cfg)
		if err != nil {
			return err
		}
		a.transcriber = t
	}
	transcription := stt.NewWorker(a.utterances, a.transcripts, a.transcriber,
		stt.NewFilter(lexicon, cfg.Filter.MinChars), a.bus, stt.WorkerConfig{
			Timeout: cfg.STT.Timeout.Duration,
			Poll:    poll,
		})

	a.addStage(capture, func() any { return capture.Stats() })
	a.addStage(segmentation, func() any { return segmentation.Stats() })
	a.addStage(transcription, func() any { return transcription.Stats() })
	a.manager.AddStats("ring", func() any { return ring.Stats() })

	if cfg.General.Live {
		a.bridge = voice.NewBridge(a.manager)
		a.manager.Attach(a.bridge)
		a.addStage(a.bridge, func() any { return a.bridge.Stats() })
	}
	return nil
}

func (a *App) addStage(s voice.Stage, stats func() any) {
	a.stages = append(a.stages, s)
	a.manager.AddStats(s.String(), stats)
}

// Run checks the providers, starts the telemetry server and runs the
// pipeline until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting pipeline",
		"version", version.Platform,
		"stages", len(a.stages),
		"live", a.bridge != nil,
		"providers", a.engine.Providers())

	for name, ok := range a.engine.CheckProviders(ctx) {
		a.logger.Info("Provider checked", "provider", name, "available", ok)
	}

	if a.server != nil {
		if err := a.server.StartAsync(); err != nil {
			return fmt.Errorf("failed to start telemetry: %w", err)
		}
		a.logger.Info("Telemetry listening", "address", a.server.Address())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.publishSnapshots(ctx)
	}()

	err := a.manager.Run(ctx, a.stages...)
	wg.Wait()
	a.manager.Fanout().Close()

	if a.server != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := a.server.Stop(stopCtx); serr != nil {
			a.logger.Warn("Telemetry shutdown failed", "error", serr)
		}
	}
	a.logger.Info("Pipeline stopped")
	return err
}

// publishSnapshots pushes a snapshot to observers at the configured interval
func (a *App) publishSnapshots(ctx context.Context) {
	interval := a.cfg.Telemetry.SnapshotInterval.Duration
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.manager.Fanout().PublishSnapshot(a.manager.Snapshot())
		}
	}
}

// Submit injects typed text as a turn
func (a *App) Submit(text string) error {
	return a.manager.Submit(text, "")
}

// Manager returns the pipeline manager
func (a *App) Manager() *voice.Manager {
	return a.manager
}

// Health returns the health registry
func (a *App) Health() *health.Registry {
	return a.health
}

// Address returns the telemetry address, or "" when telemetry is off
func (a *App) Address() string {
	if a.server == nil {
		return ""
	}
	return a.server.Address()
}

// Session returns the history session, or nil when history is off
func (a *App) Session() *history.Session {
	if a.recorder == nil {
		return nil
	}
	return a.recorder.Session()
}

// Close releases engines and the history store
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.transcriber != nil {
			errs = append(errs, a.transcriber.Close())
		}
		if a.synth != nil {
			errs = append(errs, a.synth.Close())
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
	})
	return errors.Join(errs...)
}

// BuildProviders creates the enabled providers in priority order.
// Providers that cannot be constructed are skipped with a warning.
func BuildProviders(cfg *config.Config) ([]llm.Provider, error) {
	logger := logging.New("app")
	var providers []llm.Provider
	for _, pc := range cfg.EnabledProviders() {
		p, err := llm.New(pc)
		if err != nil {
			logger.Warn("Provider skipped", "provider", pc.Name, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	return providers, nil
}

// BuildTranscriber creates the configured speech-to-text engine
func BuildTranscriber(cfg *config.Config) (stt.Transcriber, error) {
	sc := stt.Config{
		Binary:    cfg.STT.Binary,
		ModelPath: cfg.STT.Model,
		Language:  cfg.STT.Language,
		ServerURL: cfg.STT.ServerURL,
	}
	switch cfg.STT.Engine {
	case "whisper-http":
		return stt.NewWhisperHTTP(sc, cfg.STT.Timeout.Duration), nil
	default:
		t, err := stt.NewWhisperCLI(sc)
		if err != nil {
			return nil, fmt.Errorf("failed to create whisper: %w", err)
		}
		return t, nil
	}
}

func ttsConfig(cfg *config.Config) tts.Config {
	return tts.Config{
		Engine:         cfg.TTS.Engine,
		PiperBinary:    cfg.TTS.PiperBinary,
		Voice:          cfg.TTS.Voice,
		ReferenceVoice: cfg.TTS.ReferenceVoice,
		SampleRate:     cfg.TTS.SampleRate,
		Speed:          cfg.TTS.Speed,
		DaemonNetwork:  cfg.TTS.DaemonNetwork,
		DaemonAddress:  cfg.TTS.DaemonAddress,
		DaemonTimeout:  cfg.TTS.DaemonTimeout.Duration,
	}
}
