// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     llm
// Description: LLM provider abstraction with quota error class
// Created:     2025-12-09
// License:     MIT
// ============================================================================

// Package llm defines the closed set of language model providers the
// cognition engine can fall back between.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/msto63/conversa/pkg/core/config"
)

// ErrQuotaExceeded is matched with errors.Is for any provider quota rejection
var ErrQuotaExceeded = errors.New("quota exceeded")

// QuotaError is returned when a provider rejects a request for rate or quota reasons
type QuotaError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: quota exceeded, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: quota exceeded", e.Provider)
}

// Unwrap makes errors.Is(err, ErrQuotaExceeded) work
func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is the provider-neutral request
type Prompt struct {
	System   string
	Messages []Message
}

// Text flattens the prompt. It is the input to the dedup key.
func (p Prompt) Text() string {
	var b strings.Builder
	b.WriteString(p.System)
	for _, m := range p.Messages {
		b.WriteString("\n")
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// TokenFunc receives partial output while a provider streams
type TokenFunc func(token string)

// Provider is a language model backend
type Provider interface {
	// Name returns the configured provider name
	Name() string

	// Available reports whether the backend answers a cheap request
	Available(ctx context.Context) bool

	// Generate returns the complete output. onToken may be nil.
	Generate(ctx context.Context, prompt Prompt, onToken TokenFunc) (string, error)
}

// Options holds settings shared by all providers
type Options struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// FromConfig converts a provider config section to Options
func FromConfig(pc config.ProviderConfig) Options {
	return Options{
		Name:        pc.Name,
		BaseURL:     strings.TrimRight(pc.BaseURL, "/"),
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
		Timeout:     pc.Timeout.Duration,
	}
}

// New creates the provider for a config section
func New(pc config.ProviderConfig) (Provider, error) {
	opts := FromConfig(pc)
	switch pc.Type {
	case "ollama":
		return NewOllama(opts), nil
	case "openai":
		return NewOpenAI(opts)
	case "anthropic":
		return NewAnthropic(opts)
	case "websocket":
		return NewWebSocket(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", pc.Type)
	}
}

func (o Options) httpClient() *http.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return 1024
	}
	return o.MaxTokens
}

// checkStatus maps a non-200 response to an error. 429 becomes a QuotaError.
func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &QuotaError{Provider: provider, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s returned %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// reachable issues a GET and reports whether it returned below 500
func reachable(ctx context.Context, client *http.Client, url string, header http.Header) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
