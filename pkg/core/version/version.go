// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     version
// Description: Central version management for the agent and its stages
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package version

import (
	"fmt"
	"runtime"
)

// Version constants
const (
	// Platform version
	Platform = "0.4.0"

	// Protocol version of the telemetry websocket frames
	Telemetry = "1.1.0"

	// Protocol version of the TTS daemon line protocol
	TTSDaemon = "1.0.0"
)

// Set via -ldflags "-X github.com/msto63/conversa/pkg/core/version.Commit=..."
var (
	Commit    = "dev"
	BuildDate = "unknown"
)

// ComponentVersion returns the version for a given component name
func ComponentVersion(name string) string {
	switch name {
	case "telemetry":
		return Telemetry
	case "tts-daemon":
		return TTSDaemon
	default:
		return Platform
	}
}

// Info returns a one-line build description
func Info() string {
	return fmt.Sprintf("conversa %s (commit %s, built %s, %s %s/%s)",
		Platform, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
