package cognition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/msto63/conversa/internal/voice/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validOutput = `{"speech_text":"São dez horas.","log_text":"time","animation_tag":"neutral","vision_command_flag":false}`

// fakeProvider returns a fixed output or error and counts calls
type fakeProvider struct {
	name   string
	output string
	err    error
	tokens []string
	block  bool

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string                       { return f.name }
func (f *fakeProvider) Available(ctx context.Context) bool { return f.err == nil }

func (f *fakeProvider) Generate(ctx context.Context, prompt llm.Prompt, onToken llm.TokenFunc) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	for _, tok := range f.tokens {
		onToken(tok)
	}
	return f.output, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type thinkingRecorder struct {
	mu     sync.Mutex
	counts []int
}

func (r *thinkingRecorder) OnThinking(requestID, provider string, tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts = append(r.counts, tokens)
}

func newTestEngine(providers ...llm.Provider) *Engine {
	return NewEngine(
		providers,
		NewPromptBuilder(DefaultPersona(), 100*time.Millisecond),
		NewRateLimiter(RateLimitConfig{Quota: 100, Margin: 2, Window: time.Minute}),
		NewDeduplicator(time.Minute),
		EngineConfig{Cooldown: time.Minute},
	)
}

func TestEngine_FirstProviderWins(t *testing.T) {
	primary := &fakeProvider{name: "primary", output: validOutput, tokens: []string{"{", "...", "}"}}
	secondary := &fakeProvider{name: "secondary", output: validOutput}
	e := newTestEngine(primary, secondary)

	rec := &thinkingRecorder{}
	e.SetObserver(rec)

	req := NewRequest("que horas são", 1)
	resp, err := e.Process(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "São dez horas.", resp.SpeechText)
	assert.Equal(t, "primary", resp.Provider)
	assert.Equal(t, req.ID, resp.RequestID)
	assert.EqualValues(t, 1, resp.Generation)
	assert.Equal(t, 1, primary.Calls())
	assert.Zero(t, secondary.Calls())
	assert.Equal(t, []int{1, 2, 3}, rec.counts)
}

func TestEngine_FallsThroughProviders(t *testing.T) {
	broken := &fakeProvider{name: "broken", err: errors.New("connection refused")}
	garbage := &fakeProvider{name: "garbage", output: "not json at all"}
	good := &fakeProvider{name: "good", output: validOutput}
	e := newTestEngine(broken, garbage, good)

	resp, err := e.Process(context.Background(), NewRequest("que horas são", 1))
	require.NoError(t, err)
	assert.Equal(t, "good", resp.Provider)
	assert.False(t, resp.Fallback)

	stats := e.Stats()
	assert.EqualValues(t, 2, stats.ProviderFailures)
	assert.EqualValues(t, 1, stats.InvalidResponses)
}

func TestEngine_AllFailUsesFallback(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("down")}
	b := &fakeProvider{name: "b", output: `{"speech_text":"partial"`}
	e := newTestEngine(a, b)

	resp, err := e.Process(context.Background(), NewRequest("que horas são", 1))
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.NotEmpty(t, resp.SpeechText)
	assert.Equal(t, "neutral", resp.AnimationTag)
	assert.EqualValues(t, 1, e.Stats().Fallbacks)

	// Fallbacks are not cached
	assert.Zero(t, e.Dedup().Len())
}

func TestEngine_DuplicateServedFromCache(t *testing.T) {
	p := &fakeProvider{name: "p", output: validOutput}
	e := newTestEngine(p)

	first, err := e.Process(context.Background(), NewRequest("que horas são", 1))
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.Process(context.Background(), NewRequest("que horas são", 2))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.SpeechText, second.SpeechText)
	assert.EqualValues(t, 2, second.Generation)

	assert.Equal(t, 1, p.Calls())
	assert.EqualValues(t, 1, e.Stats().CacheHits)
	assert.Equal(t, 1, e.Limiter().Stats().InWindow, "cache hits skip the limiter")
}

func TestEngine_QuotaErrorCoolsDownProvider(t *testing.T) {
	limited := &fakeProvider{name: "limited", err: &llm.QuotaError{Provider: "limited"}}
	backup := &fakeProvider{name: "backup", output: validOutput}
	e := newTestEngine(limited, backup)

	for _, text := range []string{"primeira pergunta", "segunda pergunta"} {
		resp, err := e.Process(context.Background(), NewRequest(text, 1))
		require.NoError(t, err)
		assert.Equal(t, "backup", resp.Provider)
	}

	assert.Equal(t, 1, limited.Calls(), "provider on cooldown is skipped")
	assert.EqualValues(t, 1, e.Stats().QuotaErrors)
}

func TestEngine_ForcedAnimation(t *testing.T) {
	e := newTestEngine(&fakeProvider{name: "p", output: validOutput})

	req := NewRequest("conte uma piada", 1)
	req.ForcedAnimation = "happy"

	resp, err := e.Process(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "happy", resp.AnimationTag)
}

func TestEngine_CancelledContext(t *testing.T) {
	e := newTestEngine(&fakeProvider{name: "slow", block: true})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Process(ctx, NewRequest("que horas são", 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, e.Stats().Fallbacks)
}

func TestEngine_CheckProviders(t *testing.T) {
	up := &fakeProvider{name: "up", output: validOutput}
	down := &fakeProvider{name: "down", err: errors.New("no route")}
	e := newTestEngine(down, up)

	status := e.CheckProviders(context.Background())
	assert.Equal(t, map[string]bool{"up": true, "down": false}, status)

	_, err := e.Process(context.Background(), NewRequest("olá", 1))
	require.NoError(t, err)
	assert.Zero(t, down.Calls())
	assert.Equal(t, []string{"down", "up"}, e.Providers())
}

// staticSource returns fixed text or an error
type staticSource struct {
	name  string
	text  string
	err   error
	delay time.Duration
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Context(ctx context.Context, req Request) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.text, s.err
}

func TestPromptBuilder_Build(t *testing.T) {
	b := NewPromptBuilder(DefaultPersona(), 50*time.Millisecond,
		staticSource{name: "memory", text: "user: oi\nassistant: olá"},
		staticSource{name: "vision", err: errors.New("camera offline")},
		staticSource{name: "slow", text: "never", delay: time.Second},
	)

	req := NewRequest("que horas são", 1)
	req.Attachment = "[imagem: relógio na parede]"

	start := time.Now()
	prompt := b.Build(context.Background(), req)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Contains(t, prompt.System, "speech_text")
	assert.Contains(t, prompt.System, "## memory\nuser: oi")
	assert.NotContains(t, prompt.System, "vision")
	assert.NotContains(t, prompt.System, "never")

	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "user", prompt.Messages[0].Role)
	assert.Contains(t, prompt.Messages[0].Content, "que horas são")
	assert.Contains(t, prompt.Messages[0].Content, "relógio")
}

func TestLoadPersona(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Lia\ninstructions: Fale como uma pirata.\n"), 0o644))

	p, err := LoadPersona(path)
	require.NoError(t, err)
	assert.Equal(t, "Lia", p.Name)
	assert.Equal(t, "pt", p.Language, "unset fields keep defaults")
	assert.Contains(t, p.System(), "pirata")
	assert.Contains(t, p.System(), "neutral")

	_, err = LoadPersona(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
