// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     voice
// Description: Pipeline state machine
// Created:     2025-12-11
// License:     MIT
// ============================================================================

package voice

import (
	"slices"
	"sync"
	"time"
)

// State represents the current state of the pipeline
type State int

const (
	// StateIdle - waiting for speech or typed input
	StateIdle State = iota

	// StateListening - an utterance is open
	StateListening

	// StateTranscribing - an utterance is being transcribed
	StateTranscribing

	// StateProcessing - a request is with the cognition engine
	StateProcessing

	// StateSpeaking - the assistant holds the floor
	StateSpeaking

	// StateInterrupted - barge-in in progress
	StateInterrupted

	// StateError - a stage failed and is being restarted
	StateError
)

var stateNames = [...]string{
	StateIdle:         "IDLE",
	StateListening:    "LISTENING",
	StateTranscribing: "TRANSCRIBING",
	StateProcessing:   "PROCESSING",
	StateSpeaking:     "SPEAKING",
	StateInterrupted:  "INTERRUPTED",
	StateError:        "ERROR",
}

// String returns the string representation of the state
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Icon returns an icon for the state
func (s State) Icon() string {
	switch s {
	case StateIdle:
		return "⏸"
	case StateListening:
		return "🎤"
	case StateTranscribing:
		return "✍"
	case StateProcessing:
		return "⚙"
	case StateSpeaking:
		return "💬"
	case StateInterrupted:
		return "✋"
	case StateError:
		return "❌"
	default:
		return "?"
	}
}

// ParseState returns the state for its String form
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return StateIdle, false
}

// validTransitions lists the allowed targets per state
var validTransitions = map[State][]State{
	StateIdle:         {StateListening, StateProcessing, StateSpeaking, StateError},
	StateListening:    {StateTranscribing, StateIdle, StateProcessing, StateError},
	StateTranscribing: {StateProcessing, StateIdle, StateListening, StateError},
	StateProcessing:   {StateSpeaking, StateInterrupted, StateIdle, StateError},
	StateSpeaking:     {StateIdle, StateInterrupted, StateError},
	StateInterrupted:  {StateListening, StateError},
	StateError:        {StateIdle},
}

// StateChange describes one transition
type StateChange struct {
	From State         `json:"from"`
	To   State         `json:"to"`
	At   time.Time     `json:"at"`
	Held time.Duration `json:"held"`
}

// StateChangeListener is called when state changes
type StateChangeListener func(change StateChange)

// StateMachine holds the single authoritative state
type StateMachine struct {
	mu            sync.RWMutex
	currentState  State
	previousState State
	stateTime     time.Time
	listeners     []StateChangeListener
}

// NewStateMachine creates a new state machine in IDLE
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState: StateIdle,
		stateTime:    time.Now(),
	}
}

// Current returns the current state
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// Previous returns the previous state
func (sm *StateMachine) Previous() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.previousState
}

// StateDuration returns how long we've been in the current state
func (sm *StateMachine) StateDuration() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return time.Since(sm.stateTime)
}

// Transition changes to newState if the transition is valid
func (sm *StateMachine) Transition(newState State) bool {
	sm.mu.Lock()
	oldState := sm.currentState
	if !IsValidTransition(oldState, newState) {
		sm.mu.Unlock()
		return false
	}

	now := time.Now()
	change := StateChange{From: oldState, To: newState, At: now, Held: now.Sub(sm.stateTime)}
	sm.previousState = oldState
	sm.currentState = newState
	sm.stateTime = now
	listeners := sm.listeners
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener(change)
	}
	return true
}

// AddListener adds a state change listener
func (sm *StateMachine) AddListener(listener StateChangeListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, listener)
}

// IsValidTransition checks if a state transition is allowed
func IsValidTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// IsActive returns true while a turn is in flight
func (s State) IsActive() bool {
	return s != StateIdle && s != StateError
}
