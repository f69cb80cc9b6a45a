// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     monitor
// Description: WebSocket client for the telemetry feed
// Created:     2025-12-16
// License:     MIT
// ============================================================================

package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msto63/conversa/internal/telemetry"
)

// Frame is a telemetry frame with its payload still encoded
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client reads frames from the telemetry websocket and sends commands
type Client struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan Frame
	err    error
}

// NewClient creates a client for the given ws:// URL
func NewClient(url string) *Client {
	return &Client{url: url}
}

// Connect dials the server and starts reading frames
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.err = nil
	c.frames = make(chan Frame, 64)
	go c.readLoop(conn, c.frames)
	return nil
}

// Frames returns the frame channel. It is closed when the connection ends.
func (c *Client) Frames() <-chan Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Err returns the error that ended the connection
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Submit asks the pipeline to answer text as a typed turn
func (c *Client) Submit(text string) error {
	payload, err := json.Marshal(telemetry.SubmitPayload{Text: text})
	if err != nil {
		return err
	}
	return c.send(telemetry.Command{Type: "submit", Payload: payload})
}

// Interrupt asks the pipeline to abandon the current turn
func (c *Client) Interrupt() error {
	return c.send(telemetry.Command{Type: "interrupt"})
}

// Ping sends a ping command
func (c *Client) Ping() error {
	return c.send(telemetry.Command{Type: "ping"})
}

// IsConnected returns whether the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) send(cmd telemetry.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(cmd)
}

func (c *Client) readLoop(conn *websocket.Conn, out chan<- Frame) {
	defer close(out)
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.err = err
			}
			c.mu.Unlock()
			conn.Close()
			return
		}
		out <- f
	}
}
