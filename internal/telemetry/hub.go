// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     telemetry
// Description: Websocket hub streaming pipeline activity to UI clients
// Created:     2025-12-15
// License:     MIT
// ============================================================================

// Package telemetry exposes the running pipeline to a UI: a websocket feed
// of chat turns, state changes, snapshots and thinking progress, plus the
// /metrics, /health and /snapshot endpoints.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msto63/conversa/internal/voice"
	"github.com/msto63/conversa/internal/voice/cognition"
	"github.com/msto63/conversa/pkg/core/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Frame types sent to clients
const (
	FrameTurn     = "turn"
	FrameState    = "state"
	FrameSnapshot = "snapshot"
	FrameThinking = "thinking"
	FramePong     = "pong"
	FrameError    = "error"
	FrameAck      = "ack"
)

// WebSocket upgrader with permissive settings for local development
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Frame is one message to a client
type Frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StatePayload describes a state change
type StatePayload struct {
	From string        `json:"from"`
	To   string        `json:"to"`
	At   time.Time     `json:"at"`
	Held time.Duration `json:"held"`
}

// ThinkingPayload reports streaming progress of a request
type ThinkingPayload struct {
	RequestID string `json:"request_id"`
	Provider  string `json:"provider"`
	Tokens    int    `json:"tokens"`
}

// ErrorPayload represents an error
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Command is a message from a client
type Command struct {
	Type    string          `json:"type"` // "ping", "submit", "interrupt"
	Payload json.RawMessage `json:"payload"`
}

// SubmitPayload is the payload of a "submit" command
type SubmitPayload struct {
	Text      string `json:"text"`
	Animation string `json:"animation,omitempty"`
}

// Controller executes client commands
type Controller interface {
	Submit(text, animation string) error
	Interrupt(reason string) bool
}

// HubStats holds hub counters
type HubStats struct {
	Clients   int    `json:"clients"`
	Frames    uint64 `json:"frames"`
	Dropped   uint64 `json:"dropped"`
	Commands  uint64 `json:"commands"`
	Connected uint64 `json:"connected"`
}

// client is one websocket connection
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans frames out to all connected clients. Publishing never blocks:
// a client whose buffer is full misses the frame.
type Hub struct {
	controller Controller
	logger     *logging.Logger

	mu           sync.RWMutex
	clients      map[*client]struct{}
	lastSnapshot *voice.Snapshot

	frames    atomic.Uint64
	dropped   atomic.Uint64
	commands  atomic.Uint64
	connected atomic.Uint64
}

// NewHub creates a hub. controller may be nil for a read-only feed.
func NewHub(controller Controller) *Hub {
	return &Hub{
		controller: controller,
		logger:     logging.New("telemetry"),
		clients:    make(map[*client]struct{}),
	}
}

// OnChatTurn implements voice.Observer
func (h *Hub) OnChatTurn(t voice.ChatTurn) {
	h.broadcast(Frame{Type: FrameTurn, Payload: t})
}

// OnStateChange implements voice.Observer
func (h *Hub) OnStateChange(c voice.StateChange) {
	h.broadcast(Frame{Type: FrameState, Payload: StatePayload{
		From: c.From.String(),
		To:   c.To.String(),
		At:   c.At,
		Held: c.Held,
	}})
}

// OnSnapshot implements voice.Observer
func (h *Hub) OnSnapshot(s voice.Snapshot) {
	h.mu.Lock()
	h.lastSnapshot = &s
	h.mu.Unlock()
	h.broadcast(Frame{Type: FrameSnapshot, Payload: s})
}

// OnThinking implements cognition.StreamObserver
func (h *Hub) OnThinking(requestID, provider string, tokens int) {
	h.broadcast(Frame{Type: FrameThinking, Payload: ThinkingPayload{
		RequestID: requestID,
		Provider:  provider,
		Tokens:    tokens,
	}})
}

// LastSnapshot returns the most recent snapshot, if any
func (h *Hub) LastSnapshot() (voice.Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastSnapshot == nil {
		return voice.Snapshot{}, false
	}
	return *h.lastSnapshot, true
}

// Stats returns hub counters
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return HubStats{
		Clients:   n,
		Frames:    h.frames.Load(),
		Dropped:   h.dropped.Load(),
		Commands:  h.commands.Load(),
		Connected: h.connected.Load(),
	}
}

// ServeHTTP handles WebSocket upgrade and connections
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	snap := h.lastSnapshot
	h.mu.Unlock()
	h.connected.Add(1)
	h.logger.Info("WebSocket client connected", "remote", conn.RemoteAddr().String())

	if snap != nil {
		h.sendTo(c, Frame{Type: FrameSnapshot, Payload: *snap})
	}

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Warn("Failed to encode frame", "type", f.Type, "error", err)
		return
	}
	h.frames.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) sendTo(c *client, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
}

// readPump handles client commands until the connection closes
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", "error", err)
			} else {
				h.logger.Info("WebSocket client disconnected")
			}
			return
		}
		h.commands.Add(1)
		h.handleCommand(c, cmd)
	}
}

func (h *Hub) handleCommand(c *client, cmd Command) {
	switch cmd.Type {
	case "ping":
		h.sendTo(c, Frame{Type: FramePong})

	case "submit":
		var p SubmitPayload
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			h.sendError(c, "invalid_payload", "Invalid submit payload")
			return
		}
		if h.controller == nil {
			h.sendError(c, "read_only", "Commands are disabled")
			return
		}
		if err := h.controller.Submit(p.Text, p.Animation); err != nil {
			h.sendError(c, "submit_failed", err.Error())
			return
		}
		h.sendTo(c, Frame{Type: FrameAck, Payload: cmd.Type})

	case "interrupt":
		if h.controller == nil {
			h.sendError(c, "read_only", "Commands are disabled")
			return
		}
		h.sendTo(c, Frame{Type: FrameAck, Payload: h.controller.Interrupt("ui")})

	default:
		h.sendError(c, "unknown_type", "Unknown message type: "+cmd.Type)
	}
}

func (h *Hub) sendError(c *client, code, message string) {
	h.sendTo(c, Frame{Type: FrameError, Payload: ErrorPayload{Code: code, Message: message}})
}

// writePump owns all writes to the connection
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("WebSocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var (
	_ voice.Observer           = (*Hub)(nil)
	_ cognition.StreamObserver = (*Hub)(nil)
)
