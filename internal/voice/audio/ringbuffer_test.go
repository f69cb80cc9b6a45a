package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msto63/conversa/internal/voice/queue"
)

func TestRingBuffer_NoSilentLoss(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushes   int
		reads    int // reads interleaved after every push
	}{
		{"under capacity", 8, 5, 0},
		{"exact capacity", 8, 8, 0},
		{"overflow", 4, 20, 0},
		{"overflow with reader", 4, 50, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := NewRingBuffer[int](tt.capacity)
			successful := 0
			for i := 0; i < tt.pushes; i++ {
				rb.Push(i)
				if tt.reads > 0 && i%3 == 0 {
					if _, ok := rb.Pop(); ok {
						successful++
					}
				}
			}

			s := rb.Stats()
			assert.EqualValues(t, tt.pushes, s.Pushes)
			assert.EqualValues(t, successful, s.Pops)
			assert.EqualValues(t, tt.pushes-successful-s.Len, s.Drops)
			assert.LessOrEqual(t, s.Len, tt.capacity)
		})
	}
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		overwrote := rb.Push(i)
		assert.Equal(t, i > 3, overwrote)
	}

	for _, want := range []int{3, 4, 5} {
		got, ok := rb.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := rb.Pop()
	assert.False(t, ok)
	assert.EqualValues(t, 2, rb.Drops())
}

func TestRingBuffer_PopWait(t *testing.T) {
	rb := NewRingBuffer[string](2)

	_, res := rb.PopWait(context.Background(), 20*time.Millisecond)
	assert.Equal(t, queue.TimedOut, res)

	go func() {
		time.Sleep(5 * time.Millisecond)
		rb.Push("frame")
	}()
	got, res := rb.PopWait(context.Background(), time.Second)
	require.Equal(t, queue.Ok, res)
	assert.Equal(t, "frame", got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, res = rb.PopWait(ctx, time.Second)
	assert.Equal(t, queue.Cancelled, res)
}

func TestRingBuffer_Reset(t *testing.T) {
	rb := NewRingBuffer[int](4)
	rb.Push(1)
	rb.Push(2)

	assert.Equal(t, 2, rb.Reset())
	assert.Zero(t, rb.Len())
	assert.EqualValues(t, 2, rb.Drops())
	assert.Equal(t, 4, rb.Cap())
}

func TestChunkHelpers(t *testing.T) {
	c := Chunk{Samples: make([]float32, 480), SampleRate: 16000, Channels: 1}
	assert.Equal(t, 30*time.Millisecond, c.Duration())
	assert.Equal(t, 480, FrameSamples(30*time.Millisecond, 16000, 1))
	assert.Equal(t, 960, FrameSamples(30*time.Millisecond, 16000, 2))
	assert.Zero(t, SamplesDuration(100, 0, 1))

	assert.Zero(t, RMS(nil))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)

	pcm := Float32ToInt16([]float32{2, -2, 0})
	assert.Equal(t, []int16{32767, -32767, 0}, pcm)
	assert.InDelta(t, -1.0, Int16ToFloat32([]int16{-32768})[0], 1e-6)
}
