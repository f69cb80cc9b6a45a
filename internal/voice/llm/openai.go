// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     llm
// Description: OpenAI-compatible provider (/chat/completions, SSE streaming)
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

// OpenAI talks to any OpenAI-compatible chat completions endpoint
type OpenAI struct {
	opts   Options
	client *http.Client
}

// NewOpenAI creates an OpenAI provider. An API key is required.
func NewOpenAI(opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	if opts.Name == "" {
		opts.Name = "openai"
	}
	return &OpenAI{opts: opts, client: opts.httpClient()}, nil
}

type openAIChatRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature,omitempty"`
	Stream         bool           `json:"stream"`
	ResponseFormat *openAIRespFmt `json:"response_format,omitempty"`
}

type openAIRespFmt struct {
	Type string `json:"type"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Name returns the provider name
func (p *OpenAI) Name() string {
	return p.opts.Name
}

// Available checks /models with the configured key
func (p *OpenAI) Available(ctx context.Context) bool {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.opts.APIKey)
	return reachable(ctx, p.client, p.opts.BaseURL+"/models", h)
}

// Generate streams a chat completion and returns the joined output
func (p *OpenAI) Generate(ctx context.Context, prompt Prompt, onToken TokenFunc) (string, error) {
	messages := make([]Message, 0, len(prompt.Messages)+1)
	if prompt.System != "" {
		messages = append(messages, Message{Role: "system", Content: prompt.System})
	}
	messages = append(messages, prompt.Messages...)

	body, err := json.Marshal(openAIChatRequest{
		Model:          p.opts.Model,
		Messages:       messages,
		MaxTokens:      p.opts.maxTokens(),
		Temperature:    p.opts.Temperature,
		Stream:         true,
		ResponseFormat: &openAIRespFmt{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.opts.APIKey)

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
		if data == "[DONE]" {
			return out.String(), nil
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if tok := chunk.Choices[0].Delta.Content; tok != "" {
			out.WriteString(tok)
			if onToken != nil {
				onToken(tok)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream interrupted: %w", err)
	}
	return out.String(), nil
}
