// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     monitor
// Description: Bubbletea dashboard for a running conversa pipeline
// Created:     2025-12-16
// License:     MIT
// ============================================================================

// Package monitor is a terminal dashboard that follows the telemetry
// websocket of a running pipeline: current state, turn flags, queue fill
// and the chat turns as they complete. Typed turns and interrupts can be
// sent back.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/msto63/conversa/internal/telemetry"
	"github.com/msto63/conversa/internal/voice"
	"github.com/msto63/conversa/pkg/core/version"
)

// Config holds monitor configuration
type Config struct {
	URL            string
	MaxTurns       int
	ReconnectDelay time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:8765/ws",
		MaxTurns:       200,
		ReconnectDelay: 2 * time.Second,
	}
}

// Model is the main Bubbletea model for the monitor
type Model struct {
	// State
	width      int
	height     int
	ready      bool
	connecting bool
	connected  bool
	autoScroll bool
	err        error
	status     string

	// Components
	viewport viewport.Model
	spinner  spinner.Model
	input    textinput.Model

	// Pipeline view
	state    string
	previous string
	stateAt  time.Time
	snapshot *voice.Snapshot
	turns    []voice.ChatTurn
	thinking *telemetry.ThinkingPayload

	client *Client
	cfg    Config
}

// New creates a new monitor model
func New(cfg Config) Model {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultConfig().MaxTurns
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultConfig().ReconnectDelay
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	input := textinput.New()
	input.Placeholder = "Pergunta digitada..."
	input.CharLimit = 500
	input.Width = 60

	return Model{
		spinner:    sp,
		input:      input,
		autoScroll: true,
		connecting: true,
		state:      voice.StateIdle.String(),
		client:     NewClient(cfg.URL),
		cfg:        cfg,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.connect,
	)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3 + m.panelHeight()
		footerHeight := 4 // input + status + help
		viewportHeight := msg.Height - headerHeight - footerHeight
		if viewportHeight < 3 {
			viewportHeight = 3
		}

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = viewportHeight
		}
		m.updateViewportContent()

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case connectedMsg:
		m.connecting = false
		m.connected = true
		m.err = nil
		cmds = append(cmds, m.waitForFrame())

	case disconnectedMsg:
		m.connected = false
		m.connecting = false
		m.thinking = nil
		if msg.err != nil {
			m.err = msg.err
		}
		cmds = append(cmds, tea.Tick(m.cfg.ReconnectDelay, func(t time.Time) tea.Msg {
			return tickMsg(t)
		}))

	case tickMsg:
		if !m.connected && !m.connecting {
			m.connecting = true
			cmds = append(cmds, m.connect, m.spinner.Tick)
		}

	case frameMsg:
		m.applyFrame(msg.frame)
		cmds = append(cmds, m.waitForFrame())

	case commandSentMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s falhou: %v", msg.command, msg.err)
		}
	}

	if !m.input.Focused() {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.client.Close()
		return m, tea.Quit
	}

	if m.input.Focused() {
		switch msg.Type {
		case tea.KeyEsc:
			m.input.Blur()
			return m, nil
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if text == "" {
				return m, nil
			}
			return m, m.submit(text)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.Type {
	case tea.KeyTab, tea.KeyEnter:
		return m, m.input.Focus()

	case tea.KeyRunes:
		switch string(msg.Runes) {
		case "q":
			m.client.Close()
			return m, tea.Quit

		case "i":
			return m, m.interrupt

		case "c":
			m.turns = nil
			m.updateViewportContent()
			return m, nil

		case "a":
			m.autoScroll = !m.autoScroll
			if m.autoScroll {
				m.viewport.GotoBottom()
			}
			return m, nil

		case "g":
			m.viewport.GotoTop()
			m.autoScroll = false
			return m, nil

		case "G":
			m.viewport.GotoBottom()
			m.autoScroll = true
			return m, nil
		}

	case tea.KeyPgUp:
		m.viewport.ViewUp()
		m.autoScroll = false
		return m, nil

	case tea.KeyPgDown:
		m.viewport.ViewDown()
		return m, nil

	case tea.KeyUp:
		m.viewport.LineUp(1)
		m.autoScroll = false
		return m, nil

	case tea.KeyDown:
		m.viewport.LineDown(1)
		return m, nil
	}

	return m, nil
}

// applyFrame folds one telemetry frame into the view
func (m *Model) applyFrame(f Frame) {
	switch f.Type {
	case telemetry.FrameState:
		var p telemetry.StatePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		m.state = p.To
		m.previous = p.From
		m.stateAt = p.At
		if p.To != voice.StateProcessing.String() {
			m.thinking = nil
		}

	case telemetry.FrameSnapshot:
		var s voice.Snapshot
		if err := json.Unmarshal(f.Payload, &s); err != nil {
			return
		}
		m.snapshot = &s
		m.state = s.State
		m.previous = s.Previous
		m.stateAt = s.At.Add(-s.StateFor)

	case telemetry.FrameTurn:
		var t voice.ChatTurn
		if err := json.Unmarshal(f.Payload, &t); err != nil {
			return
		}
		m.turns = append(m.turns, t)
		if len(m.turns) > m.cfg.MaxTurns {
			m.turns = m.turns[len(m.turns)-m.cfg.MaxTurns:]
		}
		m.thinking = nil
		m.updateViewportContent()
		if m.autoScroll {
			m.viewport.GotoBottom()
		}

	case telemetry.FrameThinking:
		var p telemetry.ThinkingPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		m.thinking = &p

	case telemetry.FrameError:
		var p telemetry.ErrorPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return
		}
		m.status = fmt.Sprintf("Erro %s: %s", p.Code, p.Message)

	case telemetry.FrameAck:
		m.status = "OK: " + strings.Trim(string(f.Payload), `"`)
	}
}

// View renders the UI
func (m Model) View() string {
	if !m.ready {
		return "Carregando monitor..."
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderPanels())
	b.WriteString("\n")
	b.WriteString(PanelStyle.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")
	b.WriteString(m.renderHelpBar())

	return b.String()
}

func (m Model) renderHeader() string {
	logo := LogoStyle.Render(Logo)

	var status string
	switch {
	case m.connected:
		status = StatusOnlineStyle.Render(IconOnline + "conectado")
	case m.connecting:
		status = m.spinner.View() + " conectando..."
	default:
		status = StatusOfflineStyle.Render(IconOffline + "offline")
	}

	held := ""
	if !m.stateAt.IsZero() {
		held = HelpDescStyle.Render(" " + time.Since(m.stateAt).Truncate(100*time.Millisecond).String())
	}
	if m.previous != "" && m.previous != m.state {
		held += HelpDescStyle.Render(" ← " + m.previous)
	}
	badge := RenderStateBadge(m.state)
	if m.connected && m.pipelineActive() {
		badge = m.spinner.View() + " " + badge
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		logo,
		strings.Repeat(" ", 3),
		status,
		strings.Repeat(" ", 3),
		badge,
		held,
	)
	return TitlePanelStyle.Width(m.width - 4).Render(header)
}

// pipelineActive reports whether the agent is in a working state
func (m Model) pipelineActive() bool {
	state, ok := voice.ParseState(m.state)
	return ok && state.IsActive()
}

func (m Model) panelHeight() int {
	return 7
}

func (m Model) renderPanels() string {
	half := (m.width - 6) / 2
	if half < 20 {
		half = 20
	}

	var left strings.Builder
	left.WriteString(PanelTitleStyle.Render("Pipeline"))
	left.WriteString("\n")
	if s := m.snapshot; s != nil {
		left.WriteString(strings.Join([]string{
			RenderFlag("ouvindo", s.Listening),
			RenderFlag("falando", s.Speaking),
			RenderFlag("barge-in", s.Armed),
		}, "  "))
		left.WriteString("\n")
		fmt.Fprintf(&left, "Geração %d  Turnos %d\n", s.Generation, s.Counters.Turns)
		fmt.Fprintf(&left, "Interrupções %d  Reinícios %d\n", s.Counters.Interrupts, s.Counters.Restarts)
		fmt.Fprintf(&left, "Sobreposições %d  Perdidos %d",
			s.Counters.Overlaps, s.Counters.BusDropped+s.Counters.Undelivered)
	} else {
		left.WriteString(MetaStyle.Render("aguardando snapshot"))
	}
	if m.thinking != nil {
		left.WriteString("\n")
		left.WriteString(MetaStyle.Render(fmt.Sprintf("%s pensando: %d tokens", m.thinking.Provider, m.thinking.Tokens)))
	}

	var right strings.Builder
	right.WriteString(PanelTitleStyle.Render("Filas"))
	if m.snapshot != nil {
		for _, q := range queueRows(m.snapshot) {
			right.WriteString("\n")
			fmt.Fprintf(&right, "%-12s %s  -%d", truncateString(q.name, 12), RenderQueueBar(q.length, q.capacity, 10), q.drops)
		}
	}

	height := m.panelHeight() - 2
	return lipgloss.JoinHorizontal(lipgloss.Top,
		PanelStyle.Width(half).Height(height).Render(left.String()),
		PanelStyle.Width(half).Height(height).Render(right.String()),
	)
}

type queueRow struct {
	name     string
	length   int
	capacity int
	drops    uint64
}

func queueRows(s *voice.Snapshot) []queueRow {
	rows := make([]queueRow, 0, len(s.Queues))
	for _, q := range s.Queues {
		rows = append(rows, queueRow{name: q.Name, length: q.Len, capacity: q.Capacity, drops: q.Drops})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })
	return rows
}

func (m Model) renderStatusBar() string {
	leftPart := HelpDescStyle.Render(fmt.Sprintf("Turnos: %d", len(m.turns)))
	centerPart := HelpDescStyle.Render("v" + version.Platform)

	rightPart := HelpDescStyle.Render(m.status)
	if m.err != nil && !m.connected {
		rightPart = StatusOfflineStyle.Render(truncateString(m.err.Error(), 40))
	}

	leftLen := lipgloss.Width(leftPart)
	centerLen := lipgloss.Width(centerPart)
	rightLen := lipgloss.Width(rightPart)
	availableSpace := m.width - leftLen - centerLen - rightLen - 4
	if availableSpace < 2 {
		availableSpace = 2
	}
	leftPadding := availableSpace / 2
	rightPadding := availableSpace - leftPadding

	content := leftPart + strings.Repeat(" ", leftPadding) + centerPart + strings.Repeat(" ", rightPadding) + rightPart
	return StatusBarStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderHelpBar() string {
	items := []string{
		RenderKeyHint("Tab", "Digitar"),
		RenderKeyHint("i", "Interromper"),
		RenderKeyHint("c", "Limpar"),
		RenderKeyHint("a", "AutoScroll"),
		RenderKeyHint("g/G", "Topo/Fim"),
		RenderKeyHint("q", "Sair"),
	}
	return HelpStyle.Render(strings.Join(items, "  "))
}

// updateViewportContent renders the chat turns
func (m *Model) updateViewportContent() {
	var content strings.Builder

	for _, t := range m.turns {
		timeStr := TimestampStyle.Render(t.StartedAt.Format("15:04:05"))
		content.WriteString(fmt.Sprintf("%s %s %s\n", timeStr, UserStyle.Render("Você:"), t.User))

		switch {
		case t.Dropped != "":
			content.WriteString("         " + DroppedStyle.Render("descartado ("+t.Dropped+")") + "\n")
		case t.Assistant != "":
			content.WriteString("         " + AssistantStyle.Render(t.Assistant) + "\n")
		}

		meta := []string{t.Source}
		if t.Provider != "" {
			meta = append(meta, t.Provider)
		}
		if t.Latency > 0 {
			meta = append(meta, t.Latency.Truncate(time.Millisecond).String())
		}
		line := "         " + MetaStyle.Render(strings.Join(meta, " · "))
		if t.Interrupted {
			line += " " + InterruptedStyle.Render("interrompido")
		}
		content.WriteString(line + "\n\n")
	}

	m.viewport.SetContent(content.String())
}

// connect dials the telemetry server
func (m Model) connect() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.client.Connect(ctx); err != nil {
		return disconnectedMsg{err: err}
	}
	return connectedMsg{}
}

// waitForFrame returns a command that waits for the next frame
func (m Model) waitForFrame() tea.Cmd {
	frames := m.client.Frames()
	client := m.client
	return func() tea.Msg {
		if frames == nil {
			return disconnectedMsg{}
		}
		f, ok := <-frames
		if !ok {
			return disconnectedMsg{err: client.Err()}
		}
		return frameMsg{frame: f}
	}
}

func (m Model) submit(text string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		return commandSentMsg{command: "submit", err: client.Submit(text)}
	}
}

func (m Model) interrupt() tea.Msg {
	return commandSentMsg{command: "interrupt", err: m.client.Interrupt()}
}

// truncateString truncates a string to max runes
func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "~"
}

// Run starts the monitor TUI
func Run(cfg Config) error {
	p := tea.NewProgram(New(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
