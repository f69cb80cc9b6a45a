// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     monitor
// Description: Styles for the monitor TUI
// Created:     2025-12-16
// License:     MIT
// ============================================================================

package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/msto63/conversa/internal/voice"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#8B5CF6") // Violet
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Emerald
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorDimmed    = lipgloss.Color("#374151") // Dark Gray

	ColorBgPanel = lipgloss.Color("#1E293B") // Slate 800

	ColorText      = lipgloss.Color("#F8FAFC") // Slate 50
	ColorTextMuted = lipgloss.Color("#94A3B8") // Slate 400
	ColorTextDim   = lipgloss.Color("#64748B") // Slate 500
)

var (
	LogoStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	TitlePanelStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 2)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDimmed).
			Padding(0, 1)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)
)

// Turn styles
var (
	TimestampStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)

	UserStyle = lipgloss.NewStyle().
			Foreground(ColorSecondary).
			Bold(true)

	AssistantStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	MetaStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Italic(true)

	InterruptedStyle = lipgloss.NewStyle().
				Foreground(ColorWarning).
				Bold(true)

	DroppedStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)
)

// Status styles
var (
	StatusBarStyle = lipgloss.NewStyle().
			Background(ColorBgPanel).
			Foreground(ColorText).
			Padding(0, 1)

	StatusOnlineStyle = lipgloss.NewStyle().
				Foreground(ColorSuccess).
				Bold(true)

	StatusOfflineStyle = lipgloss.NewStyle().
				Foreground(ColorError).
				Bold(true)

	FlagOnStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess).
			Bold(true)

	FlagOffStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)
)

// Help styles
var (
	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)
)

// Icons
const (
	IconOnline  = "● "
	IconOffline = "○ "
)

// Logo
const Logo = "conversa monitor"

// RenderKeyHint renders a keyboard shortcut hint
func RenderKeyHint(key, description string) string {
	return HelpKeyStyle.Render(key) + " " + HelpDescStyle.Render(description)
}

// RenderFlag renders a turn flag indicator
func RenderFlag(name string, on bool) string {
	if on {
		return FlagOnStyle.Render(name)
	}
	return FlagOffStyle.Render(name)
}

// RenderStateBadge renders the pipeline state with its icon and a
// state-specific color
func RenderStateBadge(name string) string {
	state, ok := voice.ParseState(name)
	if !ok {
		return lipgloss.NewStyle().Foreground(ColorTextMuted).Bold(true).Render("[" + name + "]")
	}

	color := ColorTextMuted
	switch state {
	case voice.StateListening:
		color = ColorSuccess
	case voice.StateTranscribing, voice.StateProcessing:
		color = ColorSecondary
	case voice.StateSpeaking:
		color = ColorPrimary
	case voice.StateInterrupted:
		color = ColorWarning
	case voice.StateError:
		color = ColorError
	}
	return lipgloss.NewStyle().
		Foreground(color).
		Bold(true).
		Render(state.Icon() + " [" + state.String() + "]")
}

// RenderQueueBar renders a fill gauge of width cells
func RenderQueueBar(length, capacity, width int) string {
	if capacity <= 0 || width <= 0 {
		return ""
	}
	filled := length * width / capacity
	if length > 0 && filled == 0 {
		filled = 1
	}
	if filled > width {
		filled = width
	}

	color := ColorSuccess
	switch {
	case length >= capacity:
		color = ColorError
	case length*2 >= capacity:
		color = ColorWarning
	}
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	return bar + FlagOffStyle.Render(strings.Repeat("░", width-filled)) +
		fmt.Sprintf(" %d/%d", length, capacity)
}
