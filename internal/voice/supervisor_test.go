package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msto63/conversa/internal/voice/turn"
)

func TestRunStage_RecoversPanic(t *testing.T) {
	err := runStage(context.Background(), StageFunc{Name: "boom", Fn: func(context.Context) error {
		panic("nil frame")
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: nil frame")
}

func TestSupervisor_ReportsAndRestarts(t *testing.T) {
	bus := turn.NewBus(8)
	sup := NewSupervisor(bus, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	sup.Go(ctx, StageFunc{Name: "vad", Fn: func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("ring closed")
		}
		<-ctx.Done()
		return nil
	}})

	failed := <-bus.Events()
	assert.Equal(t, turn.StageFailed, failed.Kind)
	assert.Equal(t, "vad", failed.Stage)
	assert.EqualError(t, failed.Err, "ring closed")

	restarted := <-bus.Events()
	assert.Equal(t, turn.StageRestarted, restarted.Kind)

	cancel()
	sup.Wait()
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 1, sup.Restarts())
}

func TestSupervisor_NilReturnBeforeShutdownIsAFailure(t *testing.T) {
	bus := turn.NewBus(8)
	sup := NewSupervisor(bus, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	sup.Go(ctx, StageFunc{Name: "capture", Fn: func(context.Context) error { return nil }})

	ev := <-bus.Events()
	assert.ErrorIs(t, ev.Err, errStageExited)

	cancel()
	sup.Wait()
	assert.Zero(t, sup.Restarts())
}
