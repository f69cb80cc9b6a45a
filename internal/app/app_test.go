package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msto63/conversa/internal/history"
	"github.com/msto63/conversa/internal/voice"
	"github.com/msto63/conversa/internal/voice/cognition"
	"github.com/msto63/conversa/internal/voice/llm"
	"github.com/msto63/conversa/internal/voice/stt"
	"github.com/msto63/conversa/internal/voice/tts"
	"github.com/msto63/conversa/pkg/core/config"
	"github.com/msto63/conversa/pkg/core/health"
)

const answer = `{"speech_text":"São dez horas. Até já.","log_text":"hora","animation_tag":"happy","vision_command_flag":false}`

// scriptedSource plays silence, a burst of speech, then silence forever
type scriptedSource struct {
	mu     sync.Mutex
	frames int
}

const frameSamples = 480 // 30ms at 16kHz

func (s *scriptedSource) Open() error     { return nil }
func (s *scriptedSource) Close() error    { return nil }
func (s *scriptedSource) SampleRate() int { return 16000 }
func (s *scriptedSource) Channels() int   { return 1 }

func (s *scriptedSource) Read() ([]float32, error) {
	time.Sleep(time.Millisecond)

	s.mu.Lock()
	n := s.frames
	s.frames++
	s.mu.Unlock()

	level := float32(0.001)
	if n >= 10 && n < 30 {
		level = 0.3
	}
	frame := make([]float32, frameSamples)
	for i := range frame {
		frame[i] = level
	}
	return frame, nil
}

type countingTranscriber struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Result, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return stt.Result{Text: "que horas são", Language: "pt", Confidence: 0.9}, nil
}

func (c *countingTranscriber) Close() error { return nil }

func (c *countingTranscriber) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeProvider struct {
	available bool

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string                       { return "fake" }
func (f *fakeProvider) Available(ctx context.Context) bool { return f.available }

func (f *fakeProvider) Generate(ctx context.Context, prompt llm.Prompt, onToken llm.TokenFunc) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if onToken != nil {
		onToken(answer)
	}
	return answer, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// lengthSynth encodes each segment as 100 samples per rune
type lengthSynth struct {
	mu      sync.Mutex
	lengths []int
}

func (s *lengthSynth) Name() string { return "length" }
func (s *lengthSynth) Close() error { return nil }

func (s *lengthSynth) Synthesize(ctx context.Context, text string, params tts.Params) (tts.Audio, error) {
	n := 100 * len([]rune(text))
	s.mu.Lock()
	s.lengths = append(s.lengths, n)
	s.mu.Unlock()
	return tts.Audio{Samples: make([]float32, n), SampleRate: 16000}, nil
}

func (s *lengthSynth) Lengths() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.lengths...)
}

type recordingPlayer struct {
	mu     sync.Mutex
	played []int
}

func (p *recordingPlayer) Play(ctx context.Context, samples []float32, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	time.Sleep(2 * time.Millisecond)
	p.mu.Lock()
	p.played = append(p.played, len(samples))
	p.mu.Unlock()
	return nil
}

func (p *recordingPlayer) Played() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.played...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.History.Enabled = false
	cfg.Telemetry.Enabled = false
	cfg.Telemetry.Listen = "127.0.0.1:0"
	cfg.Telemetry.SnapshotInterval.Duration = 20 * time.Millisecond
	cfg.Manager.RestartDelay.Duration = 20 * time.Millisecond
	cfg.Manager.EchoTail.Duration = 10 * time.Millisecond
	cfg.Manager.PollInterval.Duration = 5 * time.Millisecond
	cfg.VAD.CloseFrames = 5
	cfg.VAD.MinDuration.Duration = 150 * time.Millisecond
	return cfg
}

type harness struct {
	app      *App
	store    *history.MemoryStore
	provider *fakeProvider
	synth    *lengthSynth
	player   *recordingPlayer
	cancel   context.CancelFunc
	done     chan error
}

func startApp(t *testing.T, cfg *config.Config, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:    history.NewMemoryStore(),
		provider: &fakeProvider{available: true},
		synth:    &lengthSynth{},
		player:   &recordingPlayer{},
		done:     make(chan error, 1),
	}
	opts.Config = cfg
	opts.Store = h.store
	opts.Providers = []llm.Provider{h.provider}
	opts.Synthesizer = h.synth
	opts.Player = h.player

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	a, err := New(ctx, opts)
	require.NoError(t, err)
	h.app = a

	go func() { h.done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("pipeline did not stop")
		}
		a.Close()
	})
	return h
}

func (h *harness) turns(t *testing.T) []*history.Turn {
	t.Helper()
	turns, err := h.store.Recent(context.Background(), h.app.Session().ID, 10)
	require.NoError(t, err)
	return turns
}

func TestApp_VoiceTurnEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.Enabled = true
	transcriber := &countingTranscriber{}

	h := startApp(t, cfg, Options{
		Source:      &scriptedSource{},
		Transcriber: transcriber,
	})

	require.Eventually(t, func() bool { return len(h.turns(t)) == 1 }, 5*time.Second, 10*time.Millisecond)

	turn := h.turns(t)[0]
	assert.Equal(t, stt.SourceVoice, turn.Source)
	assert.Equal(t, "que horas são", turn.User)
	assert.Equal(t, "São dez horas. Até já.", turn.Assistant)
	assert.Equal(t, "fake", turn.Provider)
	assert.False(t, turn.Interrupted)

	// Exactly one utterance, one engine call, one response
	assert.Equal(t, 1, transcriber.Calls())
	assert.Equal(t, 1, h.provider.Calls())

	// Playback follows synthesis order
	synthesized := h.synth.Lengths()
	require.Len(t, synthesized, 2)
	assert.Equal(t, synthesized, h.player.Played())

	require.Eventually(t, func() bool {
		m := h.app.Manager()
		return m.State() == voice.StateIdle && m.Flags().ListeningEnabled()
	}, time.Second, 5*time.Millisecond)

	snap := h.app.Manager().Snapshot()
	assert.EqualValues(t, 1, snap.Counters.Turns)
	assert.Contains(t, snap.Stages, "capture")
	assert.Contains(t, snap.Stages, "transcription")
	assert.Contains(t, snap.Stages, "playback")

	// Telemetry endpoints are served
	require.NotEmpty(t, h.app.Address())
	resp, err := http.Get("http://" + h.app.Address() + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var remote voice.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&remote))
	assert.EqualValues(t, 1, remote.Counters.Turns)

	health, err := http.Get("http://" + h.app.Address() + "/health")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestApp_TypedTurn(t *testing.T) {
	h := startApp(t, testConfig(), Options{TextOnly: true})

	assert.ErrorIs(t, h.app.Submit("   "), voice.ErrEmptyText)

	// The manager starts its event loop asynchronously; Submit only queues
	require.NoError(t, h.app.Submit("que horas são"))

	require.Eventually(t, func() bool { return len(h.turns(t)) == 1 }, 3*time.Second, 10*time.Millisecond)
	turn := h.turns(t)[0]
	assert.Equal(t, stt.SourceTyped, turn.Source)
	assert.Equal(t, "São dez horas. Até já.", turn.Assistant)
	assert.Equal(t, 1, h.provider.Calls())
	assert.Equal(t, h.synth.Lengths(), h.player.Played())

	// Text-only pipelines run without listening stages
	snap := h.app.Manager().Snapshot()
	assert.NotContains(t, snap.Stages, "capture")
	assert.Contains(t, snap.Stages, "cognition")
	assert.Empty(t, h.app.Address())
}

func TestApp_HistoryBecomesContext(t *testing.T) {
	h := startApp(t, testConfig(), Options{TextOnly: true})

	require.NoError(t, h.app.Submit("que horas são"))
	require.Eventually(t, func() bool { return len(h.turns(t)) == 1 }, 3*time.Second, 10*time.Millisecond)

	mem := history.NewMemory(h.store, h.app.Session().ID, 6)
	text, err := mem.Context(context.Background(), cognition.NewRequest("e amanhã?", 0))
	require.NoError(t, err)
	assert.Equal(t, "Usuário: que horas são\nAssistente: São dez horas. Até já.", text)
}

func TestNew_NoProviders(t *testing.T) {
	cfg := testConfig()
	for i := range cfg.Cognition.Providers {
		cfg.Cognition.Providers[i].Enabled = false
	}

	_, err := New(context.Background(), Options{Config: cfg, TextOnly: true, Player: &recordingPlayer{}})
	assert.True(t, errors.Is(err, ErrNoProviders))
}

func TestBuildProviders(t *testing.T) {
	cfg := testConfig()
	cfg.Cognition.Providers = []config.ProviderConfig{
		{Name: "cloud", Type: "openai", Enabled: true, Priority: 2, APIKey: "k", BaseURL: "http://localhost:1"},
		{Name: "local", Type: "ollama", Enabled: true, Priority: 1, BaseURL: "http://localhost:1"},
		{Name: "off", Type: "ollama", Enabled: false},
	}

	providers, err := BuildProviders(cfg)
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.Equal(t, "local", providers[0].Name())
	assert.Equal(t, "cloud", providers[1].Name())
}

func TestNewHealthRegistry(t *testing.T) {
	whisper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer whisper.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := ln.Addr().String()
	ln.Close()

	cfg := testConfig()
	cfg.STT.Engine = "whisper-http"
	cfg.STT.ServerURL = whisper.URL
	cfg.TTS.Engine = "daemon"
	cfg.TTS.PiperBinary = "sh"
	cfg.TTS.Voice = ""
	cfg.TTS.DaemonNetwork = "tcp"
	cfg.TTS.DaemonAddress = closed

	registry := NewHealthRegistry(cfg, []llm.Provider{&fakeProvider{available: false}}, HealthOptions{
		Transcriber: true,
		Synthesizer: true,
	})
	report := registry.Check(context.Background())

	statuses := make(map[string]health.Status)
	for _, c := range report.Checks {
		statuses[c.Name] = c.Status
	}
	assert.Equal(t, map[string]health.Status{
		"stt":        health.StatusHealthy,
		"llm_fake":   health.StatusDegraded,
		"tts":        health.StatusHealthy,
		"tts_daemon": health.StatusDegraded,
	}, statuses)
	assert.Equal(t, health.StatusDegraded, report.Status)
}
