// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     llm
// Description: Streaming chat provider over a WebSocket gateway
// Created:     2025-12-09
// License:     MIT
// ============================================================================

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket streams chat completions from a gateway speaking the
// chat/chunk/done/error message protocol. One request runs at a time on
// a persistent connection.
type WebSocket struct {
	opts   Options
	dialer websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsChatPayload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// wsChunkPayload accepts both "content" and "delta" for the text
type wsChunkPayload struct {
	Content string `json:"content,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (p wsChunkPayload) text() string {
	if p.Content != "" {
		return p.Content
	}
	return p.Delta
}

// NewWebSocket creates a WebSocket provider. The connection is opened lazily.
func NewWebSocket(opts Options) *WebSocket {
	if opts.Name == "" {
		opts.Name = "websocket"
	}
	return &WebSocket{
		opts:   opts,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Name returns the provider name
func (w *WebSocket) Name() string {
	return w.opts.Name
}

// Available reports whether the gateway accepts a connection
func (w *WebSocket) Available(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.connectLocked(ctx)
	return err == nil
}

// Close closes the connection
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropLocked()
}

func (w *WebSocket) connectLocked(ctx context.Context) (*websocket.Conn, error) {
	if w.conn != nil {
		return w.conn, nil
	}
	conn, _, err := w.dialer.DialContext(ctx, w.opts.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	w.conn = conn
	return conn, nil
}

func (w *WebSocket) dropLocked() error {
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	return err
}

// Generate sends the chat and reads chunks until done
func (w *WebSocket) Generate(ctx context.Context, prompt Prompt, onToken TokenFunc) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	conn, err := w.connectLocked(ctx)
	if err != nil {
		return "", err
	}

	out, err := w.exchange(ctx, conn, prompt, onToken)
	if err != nil {
		// The stream position is unknown after a failure
		w.dropLocked()
		return "", err
	}
	return out, nil
}

func (w *WebSocket) exchange(ctx context.Context, conn *websocket.Conn, prompt Prompt, onToken TokenFunc) (string, error) {
	messages := make([]Message, 0, len(prompt.Messages)+1)
	if prompt.System != "" {
		messages = append(messages, Message{Role: "system", Content: prompt.System})
	}
	messages = append(messages, prompt.Messages...)

	payload, err := json.Marshal(wsChatPayload{Model: w.opts.Model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := conn.WriteJSON(wsMessage{Type: "chat", Payload: payload}); err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	// Unblock ReadJSON when ctx ends
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if w.opts.Timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(w.opts.Timeout))
	}

	var out strings.Builder
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case "chunk":
			var chunk wsChunkPayload
			if err := json.Unmarshal(msg.Payload, &chunk); err != nil {
				continue
			}
			if chunk.Error != "" {
				return "", w.serverError(chunk.Error)
			}
			if tok := chunk.text(); tok != "" {
				out.WriteString(tok)
				if onToken != nil {
					onToken(tok)
				}
			}
			if chunk.Done {
				conn.SetReadDeadline(time.Time{})
				return out.String(), nil
			}
		case "done":
			conn.SetReadDeadline(time.Time{})
			return out.String(), nil
		case "error":
			var e struct {
				Error string `json:"error"`
			}
			json.Unmarshal(msg.Payload, &e)
			return "", w.serverError(e.Error)
		}
	}
}

func (w *WebSocket) serverError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota") {
		return &QuotaError{Provider: w.opts.Name}
	}
	return fmt.Errorf("%s: server error: %s", w.opts.Name, msg)
}
