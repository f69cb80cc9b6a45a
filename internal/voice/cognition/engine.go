// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     cognition
// Description: Multi-provider engine with dedup, rate limiting and fallback
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package cognition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/internal/voice/llm"
	"github.com/msto63/conversa/pkg/core/logging"
)

// StreamObserver receives progress while a provider streams
type StreamObserver interface {
	OnThinking(requestID, provider string, tokens int)
}

// EngineConfig holds engine settings
type EngineConfig struct {
	// Cooldown applies after a quota error without Retry-After
	Cooldown time.Duration
	Fallback FallbackConfig
}

// EngineStats holds engine counters
type EngineStats struct {
	Requests         uint64 `json:"requests"`
	CacheHits        uint64 `json:"cache_hits"`
	ProviderFailures uint64 `json:"provider_failures"`
	InvalidResponses uint64 `json:"invalid_responses"`
	QuotaErrors      uint64 `json:"quota_errors"`
	Fallbacks        uint64 `json:"fallbacks"`
}

// Engine produces one response per request. Providers are tried in the
// order given; the fallback reply is returned when none succeeds.
type Engine struct {
	providers []llm.Provider
	prompts   *PromptBuilder
	limiter   *RateLimiter
	dedup     *Deduplicator
	cfg       EngineConfig
	logger    *logging.Logger

	mu       sync.Mutex
	cooldown map[string]time.Time
	observer StreamObserver
	now      func() time.Time

	requests         atomic.Uint64
	cacheHits        atomic.Uint64
	providerFailures atomic.Uint64
	invalid          atomic.Uint64
	quotaErrors      atomic.Uint64
	fallbacks        atomic.Uint64
}

// NewEngine creates an engine. providers must already be in priority order.
func NewEngine(providers []llm.Provider, prompts *PromptBuilder, limiter *RateLimiter, dedup *Deduplicator, cfg EngineConfig) *Engine {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Engine{
		providers: providers,
		prompts:   prompts,
		limiter:   limiter,
		dedup:     dedup,
		cfg:       cfg,
		logger:    logging.New("cognition"),
		cooldown:  make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetObserver installs the streaming progress observer
func (e *Engine) SetObserver(o StreamObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = o
}

// Providers returns the provider names in priority order
func (e *Engine) Providers() []string {
	names := make([]string, len(e.providers))
	for i, p := range e.providers {
		names[i] = p.Name()
	}
	return names
}

// CheckProviders checks every provider and puts unavailable ones on cooldown
func (e *Engine) CheckProviders(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(e.providers))
	for _, p := range e.providers {
		ok := p.Available(ctx)
		out[p.Name()] = ok
		if !ok {
			e.logger.Warn("Provider unavailable", "provider", p.Name())
			e.coolDown(p.Name(), e.cfg.Cooldown)
		}
	}
	return out
}

// Process runs one request. It returns an error only when ctx ends.
func (e *Engine) Process(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	e.requests.Add(1)

	prompt := e.prompts.Build(ctx, req)
	key := Key(prompt.Text())

	if cached, ok := e.dedup.Get(key); ok {
		e.cacheHits.Add(1)
		e.logger.Debug("Duplicate request served from cache", "request_id", req.ID)
		cached.Cached = true
		return e.finish(cached, req, start), nil
	}

	if waited, err := e.limiter.Wait(ctx); err != nil {
		return Response{}, err
	} else if waited > 0 {
		e.logger.Info("Rate limit reached, request delayed", "request_id", req.ID, "waited", waited)
	}

	for _, p := range e.providers {
		if e.coolingDown(p.Name()) {
			continue
		}

		resp, err := e.try(ctx, p, req, prompt)
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if err != nil {
			continue
		}

		e.dedup.Record(key, resp)
		return e.finish(resp, req, start), nil
	}

	e.fallbacks.Add(1)
	e.logger.Warn("All providers failed, using fallback", "request_id", req.ID)
	return e.finish(Fallback(e.cfg.Fallback), req, start), nil
}

func (e *Engine) try(ctx context.Context, p llm.Provider, req Request, prompt llm.Prompt) (Response, error) {
	observer := e.currentObserver()
	tokens := 0
	onToken := func(string) {
		tokens++
		if observer != nil {
			observer.OnThinking(req.ID, p.Name(), tokens)
		}
	}

	raw, err := p.Generate(ctx, prompt, onToken)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, err
		}
		e.providerFailures.Add(1)

		var qe *llm.QuotaError
		if errors.As(err, &qe) {
			e.quotaErrors.Add(1)
			d := qe.RetryAfter
			if d <= 0 {
				d = e.cfg.Cooldown
			}
			e.coolDown(p.Name(), d)
			e.logger.Warn("Provider quota exceeded", "provider", p.Name(), "cooldown", d)
		} else {
			e.logger.Warn("Provider failed", "provider", p.Name(), "error", err)
		}
		return Response{}, err
	}

	resp, err := ParseResponse(raw)
	if err != nil {
		e.providerFailures.Add(1)
		e.invalid.Add(1)
		e.logger.Info("Provider returned invalid response", "provider", p.Name(), "error", err)
		return Response{}, err
	}
	resp.Provider = p.Name()
	return resp, nil
}

func (e *Engine) finish(resp Response, req Request, start time.Time) Response {
	resp.RequestID = req.ID
	resp.Generation = req.Generation
	resp.Latency = time.Since(start)
	if req.ForcedAnimation != "" {
		resp.AnimationTag = req.ForcedAnimation
	}
	return resp
}

func (e *Engine) currentObserver() StreamObserver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observer
}

func (e *Engine) coolDown(name string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown[name] = e.now().Add(d)
}

func (e *Engine) coolingDown(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldown[name]
	if !ok {
		return false
	}
	if e.now().Before(until) {
		return true
	}
	delete(e.cooldown, name)
	return false
}

// Stats returns engine counters
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		Requests:         e.requests.Load(),
		CacheHits:        e.cacheHits.Load(),
		ProviderFailures: e.providerFailures.Load(),
		InvalidResponses: e.invalid.Load(),
		QuotaErrors:      e.quotaErrors.Load(),
		Fallbacks:        e.fallbacks.Load(),
	}
}

// Limiter returns the rate limiter
func (e *Engine) Limiter() *RateLimiter {
	return e.limiter
}

// Dedup returns the duplicate request cache
func (e *Engine) Dedup() *Deduplicator {
	return e.dedup
}
