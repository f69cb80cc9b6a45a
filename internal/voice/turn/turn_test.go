package turn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_AdvanceCancelsPrevious(t *testing.T) {
	tr := NewTracker(context.Background())

	gen0, ctx0 := tr.Current()
	assert.Zero(t, gen0)
	assert.NoError(t, ctx0.Err())

	gen1 := tr.Advance()
	assert.EqualValues(t, 1, gen1)
	assert.Error(t, ctx0.Err(), "old generation context must be cancelled")
	assert.False(t, tr.IsCurrent(gen0))
	assert.True(t, tr.IsCurrent(gen1))

	assert.Error(t, tr.Context(gen0).Err())
	assert.NoError(t, tr.Context(gen1).Err())

	tr.Stop()
	assert.Error(t, tr.Context(gen1).Err())
}

func TestTracker_ParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tr := NewTracker(parent)
	_, ctx := tr.Current()

	cancel()
	assert.Error(t, ctx.Err())
	assert.Error(t, tr.Context(tr.Advance()).Err())
}

func TestFlags_Defaults(t *testing.T) {
	f := NewFlags()
	assert.True(t, f.ListeningEnabled())
	assert.False(t, f.AssistantSpeaking())
	assert.False(t, f.BargeInArmed())
	assert.Zero(t, f.Overlap())
}

func TestFlags_Overlap(t *testing.T) {
	f := NewFlags()
	now := time.Unix(100, 0)
	f.now = func() time.Time { return now }

	f.SetSpeaking(true)
	now = now.Add(80 * time.Millisecond)
	assert.Equal(t, 80*time.Millisecond, f.Overlap())

	f.SetListening(false)
	assert.Zero(t, f.Overlap())

	f.SetListening(true)
	now = now.Add(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, f.Overlap())

	f.SetSpeaking(false)
	assert.Zero(t, f.Overlap())
}

func TestBus_Emit(t *testing.T) {
	bus := NewBus(1)

	require.True(t, bus.Emit(context.Background(), Event{Kind: SpeechStarted}))
	ev := <-bus.Events()
	assert.Equal(t, SpeechStarted, ev.Kind)
	assert.False(t, ev.At.IsZero())

	// Full bus and cancelled context
	bus.Emit(context.Background(), Event{Kind: SpeechEnded})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, bus.Emit(ctx, Event{Kind: UtteranceQueued}))
	assert.EqualValues(t, 1, bus.Dropped())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "speech_started", SpeechStarted.String())
	assert.Equal(t, "stage_restarted", StageRestarted.String())
	assert.Equal(t, "unknown", Kind(999).String())
}
