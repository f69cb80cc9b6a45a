// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     llm
// Description: Ollama provider (/api/chat, NDJSON streaming)
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

// Ollama talks to a local Ollama server
type Ollama struct {
	opts   Options
	client *http.Client
}

// NewOllama creates an Ollama provider
func NewOllama(opts Options) *Ollama {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434"
	}
	if opts.Name == "" {
		opts.Name = "ollama"
	}
	return &Ollama{opts: opts, client: opts.httpClient()}
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// Name returns the provider name
func (o *Ollama) Name() string {
	return o.opts.Name
}

// Available checks /api/tags
func (o *Ollama) Available(ctx context.Context) bool {
	return reachable(ctx, o.client, o.opts.BaseURL+"/api/tags", nil)
}

// Generate streams a chat completion and returns the joined output
func (o *Ollama) Generate(ctx context.Context, prompt Prompt, onToken TokenFunc) (string, error) {
	messages := make([]Message, 0, len(prompt.Messages)+1)
	if prompt.System != "" {
		messages = append(messages, Message{Role: "system", Content: prompt.System})
	}
	messages = append(messages, prompt.Messages...)

	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.opts.Model,
		Messages: messages,
		Stream:   true,
		Format:   "json",
		Options: ollamaOptions{
			Temperature: o.opts.Temperature,
			NumPredict:  o.opts.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.opts.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(o.opts.Name, resp); err != nil {
		return "", err
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("%s: %s", o.opts.Name, chunk.Error)
		}

		if tok := chunk.Message.Content; tok != "" {
			out.WriteString(tok)
			if onToken != nil {
				onToken(tok)
			}
		}
		if chunk.Done {
			return out.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream interrupted: %w", err)
	}
	return out.String(), nil
}
