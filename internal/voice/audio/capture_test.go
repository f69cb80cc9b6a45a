package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource yields constant frames and fails on scripted reads
type fakeSource struct {
	mu        sync.Mutex
	opens     int
	openErrs  int // number of Open calls that fail first
	failReads map[int]bool
	reads     int
}

func (s *fakeSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErrs > 0 {
		s.openErrs--
		return errors.New("device busy")
	}
	return nil
}

func (s *fakeSource) Read() ([]float32, error) {
	s.mu.Lock()
	s.reads++
	n := s.reads
	fail := s.failReads[n]
	s.mu.Unlock()

	time.Sleep(time.Millisecond)
	if fail {
		return nil, errors.New("stream hiccup")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (s *fakeSource) Close() error    { return nil }
func (s *fakeSource) SampleRate() int { return 16000 }
func (s *fakeSource) Channels() int   { return 1 }

type gate struct{ on atomic.Bool }

func (g *gate) ListeningEnabled() bool { return g.on.Load() }

func runCapture(t *testing.T, w *CaptureWorker) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return cancel, done
}

func TestCaptureWorker_PushesFrames(t *testing.T) {
	src := &fakeSource{}
	ring := NewRingBuffer[Chunk](64)
	g := &gate{}
	g.on.Store(true)

	w := NewCaptureWorker(src, ring, g, CaptureConfig{RetryBackoff: time.Millisecond})
	cancel, done := runCapture(t, w)

	require.Eventually(t, func() bool { return ring.Len() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	chunk, ok := ring.Pop()
	require.True(t, ok)
	assert.Equal(t, 16000, chunk.SampleRate)
	assert.Equal(t, 1, chunk.Channels)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, chunk.Samples)
	assert.False(t, chunk.Timestamp.IsZero())
	assert.False(t, chunk.Final)
}

func TestCaptureWorker_DiscardsWhileGated(t *testing.T) {
	src := &fakeSource{}
	ring := NewRingBuffer[Chunk](64)
	g := &gate{}

	w := NewCaptureWorker(src, ring, g, CaptureConfig{RetryBackoff: time.Millisecond})
	cancel, done := runCapture(t, w)

	require.Eventually(t, func() bool { return w.Stats().Gated >= 5 }, time.Second, time.Millisecond)
	assert.Zero(t, ring.Len())
	assert.Zero(t, w.Stats().Frames)

	g.on.Store(true)
	require.Eventually(t, func() bool { return ring.Len() > 0 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestCaptureWorker_RecoversFromErrors(t *testing.T) {
	src := &fakeSource{openErrs: 2, failReads: map[int]bool{2: true, 3: true}}
	ring := NewRingBuffer[Chunk](64)
	g := &gate{}
	g.on.Store(true)

	w := NewCaptureWorker(src, ring, g, CaptureConfig{RetryBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond})
	cancel, done := runCapture(t, w)

	require.Eventually(t, func() bool { return ring.Len() >= 5 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	stats := w.Stats()
	assert.EqualValues(t, 4, stats.Errors, "two open failures and two read failures")
	assert.EqualValues(t, 2, stats.Reopens)
}

func TestCaptureWorker_StopsWhileDeviceMissing(t *testing.T) {
	src := &fakeSource{openErrs: 1 << 30}
	w := NewCaptureWorker(src, NewRingBuffer[Chunk](4), &gate{}, CaptureConfig{RetryBackoff: 5 * time.Millisecond})
	cancel, done := runCapture(t, w)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("capture worker did not stop")
	}
}
