// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     voice
// Description: Turn coordination: state, flags, interrupts and supervision
// Created:     2025-12-12
// License:     MIT
// ============================================================================

// Package voice coordinates the pipeline stages. The Manager is the single
// writer of the pipeline state and of the turn-ownership flags; stages only
// report what happened through the event bus.
package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/stt"
	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/pkg/core/logging"
)

var (
	// ErrEmptyText is returned by Submit for blank input
	ErrEmptyText = errors.New("voice: empty text")
	// ErrBusy is returned by Submit when the request queue is full
	ErrBusy = errors.New("voice: request queue full")
)

// ManagerConfig holds coordination settings
type ManagerConfig struct {
	RestartDelay    time.Duration
	OverlapDebounce time.Duration
	EchoTail        time.Duration
	Poll            time.Duration
}

// DefaultManagerConfig returns default coordination settings
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RestartDelay:    time.Second,
		OverlapDebounce: 150 * time.Millisecond,
		EchoTail:        250 * time.Millisecond,
		Poll:            50 * time.Millisecond,
	}
}

// Clearable is a queue the manager drains on interrupt
type Clearable interface {
	Name() string
	Clear() int
}

// SpeechListener receives speech onset and offset signals
type SpeechListener interface {
	OnSpeech(started bool)
}

// Deps are the shared objects the manager coordinates
type Deps struct {
	Bus     *turn.Bus
	Tracker *turn.Tracker
	Flags   *turn.Flags
	Metrics *Metrics
	Fanout  *Fanout
	// Requests receives typed submissions
	Requests *queue.BackpressureQueue[stt.Transcript]
	// Clear lists the queues discarded on interrupt
	Clear []Clearable
}

// pendingTurn is a chat turn between RequestStarted and its completion
type pendingTurn struct {
	ChatTurn
	responded bool
	played    bool
}

// Manager owns the pipeline state and the turn flags
type Manager struct {
	cfg        ManagerConfig
	sm         *StateMachine
	bus        *turn.Bus
	tracker    *turn.Tracker
	flags      *turn.Flags
	metrics    *Metrics
	fanout     *Fanout
	requests   *queue.BackpressureQueue[stt.Transcript]
	clear      []Clearable
	supervisor *Supervisor
	logger     *logging.Logger

	// mu serializes compound updates of state, flags and pending turns
	mu           sync.Mutex
	pending      map[string]*pendingTurn
	speakingTurn string
	echoTimer    *time.Timer
	failed       map[string]bool
	speech       SpeechListener

	statsMu sync.RWMutex
	stats   map[string]func() any
	queues  []func() queue.Stats

	turns      atomic.Uint64
	interrupts atomic.Uint64
	overlaps   atomic.Uint64
}

// NewManager creates a manager in IDLE
func NewManager(cfg ManagerConfig, deps Deps) *Manager {
	def := DefaultManagerConfig()
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = def.RestartDelay
	}
	if cfg.OverlapDebounce <= 0 {
		cfg.OverlapDebounce = def.OverlapDebounce
	}
	if cfg.EchoTail < 0 {
		cfg.EchoTail = 0
	}
	if cfg.Poll <= 0 {
		cfg.Poll = def.Poll
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics("")
	}
	if deps.Fanout == nil {
		deps.Fanout = NewFanout(0)
	}
	if deps.Flags == nil {
		deps.Flags = turn.NewFlags()
	}

	m := &Manager{
		cfg:        cfg,
		sm:         NewStateMachine(),
		bus:        deps.Bus,
		tracker:    deps.Tracker,
		flags:      deps.Flags,
		metrics:    deps.Metrics,
		fanout:     deps.Fanout,
		requests:   deps.Requests,
		clear:      deps.Clear,
		supervisor: NewSupervisor(deps.Bus, cfg.RestartDelay),
		logger:     logging.New("manager"),
		pending:    make(map[string]*pendingTurn),
		failed:     make(map[string]bool),
		stats:      make(map[string]func() any),
	}

	m.sm.AddListener(func(c StateChange) {
		m.logger.Debug("State changed", "from", c.From.String(), "to", c.To.String(), "held", c.Held)
		m.metrics.RecordTransition(c)
		m.fanout.PublishState(c)
	})
	if deps.Requests != nil {
		m.WatchQueue(deps.Requests.Stats)
	}
	return m
}

// Run starts the stages under supervision and coordinates them until ctx
// is cancelled. It returns once every stage has stopped.
func (m *Manager) Run(ctx context.Context, stages ...Stage) error {
	for _, s := range stages {
		m.supervisor.Go(ctx, s)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.watchOverlap(ctx)
	}()

	m.logger.Info("Manager started", "stages", len(stages), "armed", m.flags.BargeInArmed())

	for {
		select {
		case ev := <-m.bus.Events():
			m.handle(ev)
		case <-ctx.Done():
			m.tracker.Stop()
			m.supervisor.Wait()
			wg.Wait()
			m.stopEchoTimer()
			m.logger.Info("Manager stopped")
			return nil
		}
	}
}

// Attach connects a speech listener and arms barge-in, which keeps
// listening enabled while the assistant speaks
func (m *Manager) Attach(l SpeechListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speech = l
	m.flags.SetArmed(true)
	m.flags.SetListening(true)
}

// State returns the current state
func (m *Manager) State() State {
	return m.sm.Current()
}

// States returns the state machine for listeners
func (m *Manager) States() *StateMachine {
	return m.sm
}

// Flags returns the turn flags (read-only for callers)
func (m *Manager) Flags() *turn.Flags {
	return m.flags
}

// Fanout returns the notification fan-out
func (m *Manager) Fanout() *Fanout {
	return m.fanout
}

// Metrics returns the prometheus metrics
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// Submit injects typed text as a request
func (m *Manager) Submit(text, animation string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	if m.requests == nil || !m.requests.Put(stt.Transcript{
		Text:      text,
		At:        time.Now(),
		Source:    stt.SourceTyped,
		Animation: animation,
	}) {
		return ErrBusy
	}
	m.logger.Debug("Text submitted", "text", text)
	return nil
}

// Interrupt aborts the current turn. It is a no-op unless the assistant is
// processing or speaking, so repeated calls are harmless.
func (m *Manager) Interrupt(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.sm.Current()
	if current != StateSpeaking && current != StateProcessing {
		return false
	}

	m.sm.Transition(StateInterrupted)
	gen := m.tracker.Advance()

	cleared := 0
	for _, q := range m.clear {
		cleared += q.Clear()
	}

	m.stopEchoTimerLocked()
	m.speakingTurn = ""
	m.flags.SetSpeaking(false)
	m.flags.SetListening(true)
	m.sm.Transition(StateListening)

	for id, p := range m.pending {
		p.Interrupted = true
		m.completeLocked(id, p)
	}

	m.interrupts.Add(1)
	m.metrics.InterruptsTotal.Inc()
	m.logger.Info("Turn interrupted", "reason", reason, "from", current.String(), "generation", gen, "cleared", cleared)
	return true
}

// BeginSpeaking gives the floor to the assistant for turnID
func (m *Manager) BeginSpeaking(turnID string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tracker.IsCurrent(gen) {
		return
	}

	m.stopEchoTimerLocked()
	m.speakingTurn = turnID
	m.flags.SetSpeaking(true)
	if !m.flags.BargeInArmed() {
		m.flags.SetListening(false)
	}

	switch m.sm.Current() {
	case StateListening, StateTranscribing:
		// A new utterance was cut off by the gate
		m.sm.Transition(StateIdle)
	}
	m.sm.Transition(StateSpeaking)
}

// EndSpeaking releases the floor. Calls for a turn that no longer holds
// the floor are ignored.
func (m *Manager) EndSpeaking(turnID string, gen uint64, interrupted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if turnID != m.speakingTurn || !m.tracker.IsCurrent(gen) {
		return
	}
	m.speakingTurn = ""
	m.flags.SetSpeaking(false)

	if interrupted || m.flags.BargeInArmed() || m.cfg.EchoTail == 0 {
		m.flags.SetListening(true)
	} else {
		m.echoTimer = time.AfterFunc(m.cfg.EchoTail, m.endEchoTail)
	}

	if interrupted {
		if p, ok := m.pending[turnID]; ok {
			p.Interrupted = true
			m.completeLocked(turnID, p)
		}
	}

	m.sm.Transition(StateIdle)
	if m.inflightLocked() {
		m.sm.Transition(StateProcessing)
	}
}

func (m *Manager) endEchoTail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.flags.AssistantSpeaking() {
		m.flags.SetListening(true)
	}
}

func (m *Manager) stopEchoTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopEchoTimerLocked()
}

func (m *Manager) stopEchoTimerLocked() {
	if m.echoTimer != nil {
		m.echoTimer.Stop()
		m.echoTimer = nil
	}
}

// handle applies one stage event
func (m *Manager) handle(ev turn.Event) {
	m.metrics.RecordEvent(ev)

	switch ev.Kind {
	case turn.SpeechStarted:
		m.signalSpeech(true)
		m.transitionFrom(StateListening, StateIdle, StateTranscribing)

	case turn.SpeechEnded:
		m.signalSpeech(false)
		if ev.Detail == "gated" {
			m.transitionFrom(StateIdle, StateListening)
		}

	case turn.UtteranceQueued:
		m.transitionFrom(StateTranscribing, StateListening)

	case turn.UtteranceDiscarded:
		m.transitionFrom(StateIdle, StateListening)

	case turn.TranscriptAccepted:
		m.transitionFrom(StateProcessing, StateIdle, StateListening, StateTranscribing)

	case turn.TranscriptRejected:
		m.transitionFrom(StateIdle, StateTranscribing)

	case turn.RequestStarted:
		m.startTurn(ev)

	case turn.ResponseReady:
		m.responseReady(ev)

	case turn.RequestDropped:
		m.requestDropped(ev)

	case turn.PlaybackFinished:
		m.playbackFinished(ev)

	case turn.StageFailed:
		m.stageFailed(ev)

	case turn.StageRestarted:
		m.stageRestarted(ev)
	}
}

func (m *Manager) signalSpeech(started bool) {
	m.mu.Lock()
	l := m.speech
	m.mu.Unlock()
	if l != nil {
		l.OnSpeech(started)
	}
}

// transitionFrom moves to "to" only when the current state is one of from
func (m *Manager) transitionFrom(to State, from ...State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.sm.Current()
	for _, f := range from {
		if current == f {
			return m.sm.Transition(to)
		}
	}
	return false
}

func (m *Manager) startTurn(ev turn.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tracker.IsCurrent(ev.Generation) {
		return
	}
	m.pending[ev.TurnID] = &pendingTurn{ChatTurn: ChatTurn{
		ID:         ev.TurnID,
		Generation: ev.Generation,
		Source:     ev.Detail,
		User:       ev.Text,
		StartedAt:  ev.At,
	}}
	if m.sm.Current() == StateIdle {
		m.sm.Transition(StateProcessing)
	}
}

func (m *Manager) responseReady(ev turn.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[ev.TurnID]
	if !ok {
		return
	}
	p.Assistant = ev.Text
	p.Provider = ev.Detail
	p.Latency = ev.Duration
	p.responded = true
	if p.played {
		m.completeLocked(ev.TurnID, p)
	}
}

func (m *Manager) playbackFinished(ev turn.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[ev.TurnID]
	if !ok {
		return
	}
	p.played = true
	if p.responded {
		m.completeLocked(ev.TurnID, p)
	}
}

func (m *Manager) requestDropped(ev turn.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[ev.TurnID]
	if !ok {
		return
	}
	p.Dropped = ev.Detail
	m.completeLocked(ev.TurnID, p)

	if m.sm.Current() == StateProcessing && !m.inflightLocked() {
		m.sm.Transition(StateIdle)
	}
}

// completeLocked publishes a finished turn and forgets it
func (m *Manager) completeLocked(id string, p *pendingTurn) {
	delete(m.pending, id)
	p.FinishedAt = time.Now()
	m.turns.Add(1)
	m.metrics.RecordTurn(p.Source, p.Interrupted)
	m.fanout.PublishTurn(p.ChatTurn)
}

// inflightLocked reports whether a request is still waiting for its response
func (m *Manager) inflightLocked() bool {
	for _, p := range m.pending {
		if !p.responded {
			return true
		}
	}
	return false
}

func (m *Manager) stageFailed(ev turn.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failed[ev.Stage] = true
	m.sm.Transition(StateError)

	// The turn in flight cannot be trusted after a stage fault
	m.tracker.Advance()
	for _, q := range m.clear {
		q.Clear()
	}
	m.stopEchoTimerLocked()
	m.speakingTurn = ""
	m.flags.SetSpeaking(false)
	m.flags.SetListening(true)
	for id, p := range m.pending {
		p.Dropped = "stage_failed"
		m.completeLocked(id, p)
	}
}

func (m *Manager) stageRestarted(ev turn.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.RecordRestart(ev.Stage)
	delete(m.failed, ev.Stage)
	if len(m.failed) == 0 {
		m.sm.Transition(StateIdle)
	}
}

// watchOverlap forces listening off when both flags stay set without an
// armed bridge
func (m *Manager) watchOverlap(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.flags.BargeInArmed() || m.flags.Overlap() <= m.cfg.OverlapDebounce {
				continue
			}
			m.mu.Lock()
			if !m.flags.BargeInArmed() && m.flags.AssistantSpeaking() {
				m.flags.SetListening(false)
				m.overlaps.Add(1)
				m.metrics.OverlapsTotal.Inc()
				m.logger.Warn("Listening and speaking overlapped, listening disabled", "debounce", m.cfg.OverlapDebounce)
			}
			m.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

// AddStats registers a stage stats source for snapshots
func (m *Manager) AddStats(name string, fn func() any) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	m.stats[name] = fn
}

// WatchQueue registers a queue for snapshots and metrics
func (m *Manager) WatchQueue(fn func() queue.Stats) {
	m.statsMu.Lock()
	m.queues = append(m.queues, fn)
	m.statsMu.Unlock()
	m.metrics.WatchQueue(fn)
}

// Snapshot returns a point-in-time view of the pipeline
func (m *Manager) Snapshot() Snapshot {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()

	snap := Snapshot{
		At:         time.Now(),
		State:      m.sm.Current().String(),
		Previous:   m.sm.Previous().String(),
		StateFor:   m.sm.StateDuration(),
		Generation: m.tracker.Generation(),
		Listening:  m.flags.ListeningEnabled(),
		Speaking:   m.flags.AssistantSpeaking(),
		Armed:      m.flags.BargeInArmed(),
		Stages:     make(map[string]any, len(m.stats)),
		Counters: SnapshotCounters{
			Turns:       m.turns.Load(),
			Interrupts:  m.interrupts.Load(),
			Restarts:    m.supervisor.Restarts(),
			Overlaps:    m.overlaps.Load(),
			BusDropped:  m.bus.Dropped(),
			Undelivered: m.fanout.Undelivered(),
		},
	}
	for _, fn := range m.queues {
		snap.Queues = append(snap.Queues, fn())
	}
	for name, fn := range m.stats {
		snap.Stages[name] = fn()
	}
	return snap
}
