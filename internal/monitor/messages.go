// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     monitor
// Description: Message types for async operations in the monitor
// Created:     2025-12-16
// License:     MIT
// ============================================================================

package monitor

import (
	"time"
)

// connectedMsg is sent when the websocket connection is established
type connectedMsg struct{}

// disconnectedMsg is sent when dialing fails or the feed ends
type disconnectedMsg struct {
	err error
}

// frameMsg carries one telemetry frame
type frameMsg struct {
	frame Frame
}

// commandSentMsg reports the outcome of sending a command
type commandSentMsg struct {
	command string
	err     error
}

// tickMsg is used for reconnects and the clock
type tickMsg time.Time
