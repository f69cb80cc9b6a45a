// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     voice
// Description: Restarts failed stage loops after a delay
// Created:     2025-12-12
// License:     MIT
// ============================================================================

package voice

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msto63/conversa/internal/voice/turn"
	"github.com/msto63/conversa/pkg/core/logging"
)

// errStageExited is reported when a stage returns nil before shutdown
var errStageExited = errors.New("stage exited unexpectedly")

// Stage is a long-running loop. Run returns nil once ctx is cancelled.
type Stage interface {
	Run(ctx context.Context) error
	String() string
}

// StageFunc adapts a function to Stage
type StageFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Run implements Stage
func (s StageFunc) Run(ctx context.Context) error { return s.Fn(ctx) }

// String implements Stage
func (s StageFunc) String() string { return s.Name }

// Supervisor runs stages and restarts them when they fail. A failure is
// reported as StageFailed; the restart after the delay as StageRestarted.
type Supervisor struct {
	bus      *turn.Bus
	delay    time.Duration
	logger   *logging.Logger
	wg       sync.WaitGroup
	restarts atomic.Uint64
}

// NewSupervisor creates a supervisor that reports to bus
func NewSupervisor(bus *turn.Bus, delay time.Duration) *Supervisor {
	if delay <= 0 {
		delay = time.Second
	}
	return &Supervisor{
		bus:    bus,
		delay:  delay,
		logger: logging.New("supervisor"),
	}
}

// Go starts stage on its own goroutine
func (s *Supervisor) Go(ctx context.Context, stage Stage) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.supervise(ctx, stage)
	}()
}

// Wait blocks until all supervised stages have returned
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Restarts returns the number of restarts so far
func (s *Supervisor) Restarts() uint64 {
	return s.restarts.Load()
}

func (s *Supervisor) supervise(ctx context.Context, stage Stage) {
	name := stage.String()
	for {
		err := runStage(ctx, stage)
		if ctx.Err() != nil {
			s.logger.Debug("Stage stopped", "stage", name)
			return
		}
		if err == nil {
			err = errStageExited
		}

		s.logger.Error("Stage failed", "stage", name, "error", err)
		s.bus.Emit(ctx, turn.Event{Kind: turn.StageFailed, Stage: name, Err: err, Detail: err.Error()})

		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return
		}

		s.restarts.Add(1)
		s.logger.Info("Restarting stage", "stage", name, "restarts", s.restarts.Load())
		s.bus.Emit(ctx, turn.Event{Kind: turn.StageRestarted, Stage: name})
	}
}

// runStage runs one iteration of the stage and converts a panic into an error
func runStage(ctx context.Context, stage Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return stage.Run(ctx)
}
