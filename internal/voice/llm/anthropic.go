// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     llm
// Description: Anthropic provider (/messages, SSE streaming)
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// Anthropic talks to the Anthropic messages API
type Anthropic struct {
	opts   Options
	client *http.Client
}

// NewAnthropic creates an Anthropic provider. An API key is required.
func NewAnthropic(opts Options) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.anthropic.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "claude-3-5-haiku-latest"
	}
	if opts.Name == "" {
		opts.Name = "anthropic"
	}
	return &Anthropic{opts: opts, client: opts.httpClient()}, nil
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Name returns the provider name
func (p *Anthropic) Name() string {
	return p.opts.Name
}

// Available checks /models with the configured key
func (p *Anthropic) Available(ctx context.Context) bool {
	return reachable(ctx, p.client, p.opts.BaseURL+"/models", p.headers())
}

func (p *Anthropic) headers() http.Header {
	h := http.Header{}
	h.Set("x-api-key", p.opts.APIKey)
	h.Set("anthropic-version", anthropicVersion)
	return h
}

// Generate streams a message and returns the joined text deltas
func (p *Anthropic) Generate(ctx context.Context, prompt Prompt, onToken TokenFunc) (string, error) {
	system := prompt.System
	messages := make([]Message, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		if m.Role == "system" {
			system = strings.TrimSpace(system + "\n" + m.Content)
			continue
		}
		messages = append(messages, m)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       p.opts.Model,
		Messages:    messages,
		MaxTokens:   p.opts.maxTokens(),
		System:      system,
		Temperature: p.opts.Temperature,
		Stream:      true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers() {
		req.Header[k] = v
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(p.opts.Name, resp); err != nil {
		return "", err
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}

		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				out.WriteString(ev.Delta.Text)
				if onToken != nil {
					onToken(ev.Delta.Text)
				}
			}
		case "message_stop":
			return out.String(), nil
		case "error":
			if ev.Error.Type == "overloaded_error" || ev.Error.Type == "rate_limit_error" {
				return "", &QuotaError{Provider: p.opts.Name}
			}
			return "", fmt.Errorf("%s: %s", p.opts.Name, ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream interrupted: %w", err)
	}
	return out.String(), nil
}
