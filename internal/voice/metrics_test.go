package voice

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/turn"
)

func TestMetrics_Transitions(t *testing.T) {
	m := NewMetrics("test")

	m.RecordTransition(StateChange{From: StateIdle, To: StateListening})
	m.RecordTransition(StateChange{From: StateListening, To: StateTranscribing})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.State.WithLabelValues("TRANSCRIBING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.State.WithLabelValues("LISTENING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("IDLE", "LISTENING")))
}

func TestMetrics_Events(t *testing.T) {
	m := NewMetrics("test")

	m.RecordEvent(turn.Event{Kind: turn.TranscriptRejected, Detail: "filler", Duration: 300 * time.Millisecond})
	m.RecordEvent(turn.Event{Kind: turn.TranscriptAccepted, Text: "free text stays out of labels"})
	m.RecordEvent(turn.Event{Kind: turn.ResponseReady, Detail: "cache:ollama", Duration: time.Second})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("transcript_rejected", "filler")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("transcript_accepted", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("response_ready", "")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StageLatency))
}

func TestMetrics_QueueCollectorAndHandler(t *testing.T) {
	m := NewMetrics("")
	q := queue.New[int]("tts_chunks", 2, queue.RejectNew)
	m.WatchQueue(q.Stats)
	q.Put(1)
	q.Put(2)
	q.Put(3)

	m.RecordTurn("voice", false)
	m.RecordRestart("capture")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `conversa_queue_length{queue="tts_chunks"} 2`)
	assert.Contains(t, text, `conversa_queue_drops_total{queue="tts_chunks"} 1`)
	assert.Contains(t, text, `conversa_turns_total{outcome="completed",source="voice"} 1`)
	assert.Contains(t, text, `conversa_stage_restarts_total{stage="capture"} 1`)
}
