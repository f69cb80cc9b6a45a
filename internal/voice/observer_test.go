package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu     sync.Mutex
	turns  []ChatTurn
	states []StateChange
	snaps  []Snapshot
}

func (r *recordingObserver) OnChatTurn(t ChatTurn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, t)
}

func (r *recordingObserver) OnStateChange(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, c)
}

func (r *recordingObserver) OnSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recordingObserver) counts() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns), len(r.states), len(r.snaps)
}

func TestFanout_Attach(t *testing.T) {
	f := NewFanout(8)
	defer f.Close()

	obs := &recordingObserver{}
	f.Attach(obs)

	f.PublishTurn(ChatTurn{ID: "t1", User: "olá"})
	f.PublishState(StateChange{From: StateIdle, To: StateListening})
	f.PublishSnapshot(Snapshot{State: "IDLE"})

	require.Eventually(t, func() bool {
		turns, states, snaps := obs.counts()
		return turns == 1 && states == 1 && snaps == 1
	}, time.Second, 5*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, "olá", obs.turns[0].User)
	assert.Equal(t, StateListening, obs.states[0].To)
}

func TestFanout_NeverBlocksPublisher(t *testing.T) {
	f := NewFanout(2)
	slow := f.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.PublishTurn(ChatTurn{ID: "t"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	assert.Len(t, slow, 2)
	assert.EqualValues(t, 8, f.Undelivered())
}

func TestFanout_UnsubscribeAndClose(t *testing.T) {
	f := NewFanout(4)
	a := f.Subscribe()
	b := f.Subscribe()

	f.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)

	f.PublishState(StateChange{To: StateError})
	n := <-b
	assert.Equal(t, NotifyState, n.Kind)

	f.Close()
	f.Close()
	_, open = <-b
	assert.False(t, open)

	late := f.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscribing after close returns a closed channel")
}
