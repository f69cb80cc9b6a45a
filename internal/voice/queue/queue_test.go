package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertInvariant(t *testing.T, s Stats) {
	t.Helper()
	assert.Equal(t, int(s.Puts-s.Drops-s.Pops), s.Len, "puts - drops - pops must equal len: %+v", s)
	assert.LessOrEqual(t, s.Len, s.Capacity)
}

func TestBackpressureQueue_RejectNew(t *testing.T) {
	q := New[int]("transcripts", 3, RejectNew)

	for i := 0; i < 10; i++ {
		accepted := q.Put(i)
		assert.Equal(t, i < 3, accepted, "put %d", i)
		assert.LessOrEqual(t, q.Len(), 3)
	}

	s := q.Stats()
	assert.EqualValues(t, 10, s.Puts)
	assert.EqualValues(t, 7, s.Drops)
	assert.Equal(t, 3, s.Len)
	assertInvariant(t, s)

	// Oldest items survive under reject-new
	for want := 0; want < 3; want++ {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assertInvariant(t, q.Stats())
}

func TestBackpressureQueue_DropOldest(t *testing.T) {
	q := New[int]("chunks", 3, DropOldest)

	for i := 0; i < 5; i++ {
		assert.True(t, q.Put(i))
	}

	s := q.Stats()
	assert.EqualValues(t, 2, s.Drops)
	assertInvariant(t, s)

	for want := 2; want < 5; want++ {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestBackpressureQueue_PopTimesOut(t *testing.T) {
	q := New[string]("empty", 2, RejectNew)

	start := time.Now()
	_, res := q.Pop(context.Background(), 30*time.Millisecond)

	assert.Equal(t, TimedOut, res)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.EqualValues(t, 1, q.Stats().Waits)
}

func TestBackpressureQueue_PopCancelled(t *testing.T) {
	q := New[string]("empty", 2, RejectNew)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, res := q.Pop(ctx, time.Second)
	assert.Equal(t, Cancelled, res)
}

func TestBackpressureQueue_PopWakesOnPut(t *testing.T) {
	q := New[string]("wake", 2, RejectNew)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Put("hello")
	}()

	got, res := q.Pop(context.Background(), time.Second)
	require.Equal(t, Ok, res)
	assert.Equal(t, "hello", got)
	assert.Greater(t, q.Stats().WaitTotal, time.Duration(0))
}

func TestBackpressureQueue_Clear(t *testing.T) {
	q := New[int]("tts", 4, DropOldest)
	q.Put(1)
	q.Put(2)
	q.Put(3)

	assert.Equal(t, 3, q.Clear())
	assert.Zero(t, q.Len())

	s := q.Stats()
	assert.EqualValues(t, 3, s.Drops)
	assertInvariant(t, s)

	q.Put(9)
	got, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 9, got)
}

func TestBackpressureQueue_MinimumCapacity(t *testing.T) {
	q := New[int]("tiny", 0, RejectNew)
	assert.Equal(t, 1, q.Cap())
	assert.True(t, q.Put(1))
	assert.False(t, q.Put(2))
}

func TestBackpressureQueue_ConcurrentConsumers(t *testing.T) {
	const producers, perProducer = 4, 250
	q := New[int]("mpmc", 16, RejectNew)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received int
		wg       sync.WaitGroup
	)

	for c := 0; c < 3; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, res := q.Pop(ctx, 20*time.Millisecond)
				switch res {
				case Ok:
					mu.Lock()
					received++
					mu.Unlock()
				case Cancelled:
					return
				}
			}
		}()
	}

	var pw sync.WaitGroup
	for p := 0; p < producers; p++ {
		pw.Add(1)
		go func() {
			defer pw.Done()
			for i := 0; i < perProducer; i++ {
				q.Put(i)
				assertInvariant(t, q.Stats())
			}
		}()
	}
	pw.Wait()

	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	s := q.Stats()
	assert.EqualValues(t, producers*perProducer, s.Puts)
	assert.EqualValues(t, received, s.Pops)
	assertInvariant(t, s)
}

func TestWaitResult_String(t *testing.T) {
	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "reject_new", RejectNew.String())
	assert.Equal(t, "drop_oldest", DropOldest.String())
}

func TestStats_AvgWait(t *testing.T) {
	assert.Zero(t, Stats{}.AvgWait())
	assert.Equal(t, 5*time.Millisecond, Stats{Waits: 2, WaitTotal: 10 * time.Millisecond}.AvgWait())
}
