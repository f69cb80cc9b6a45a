// ============================================================================
// conversa - Agente de voz
// ============================================================================
//
// Package:     voice
// Description: Prometheus metrics for the pipeline
// Created:     2025-12-12
// License:     MIT
// ============================================================================

package voice

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/msto63/conversa/internal/voice/queue"
	"github.com/msto63/conversa/internal/voice/turn"
)

// Metrics holds all Prometheus metrics of the pipeline
type Metrics struct {
	registry *prometheus.Registry

	// State metrics
	State            *prometheus.GaugeVec
	TransitionsTotal *prometheus.CounterVec

	// Stage metrics
	EventsTotal   *prometheus.CounterVec
	StageLatency  *prometheus.HistogramVec
	RestartsTotal *prometheus.CounterVec

	// Turn metrics
	TurnsTotal      *prometheus.CounterVec
	InterruptsTotal prometheus.Counter
	OverlapsTotal   prometheus.Counter

	queues *queueCollector
}

// NewMetrics creates a Metrics instance with its own registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "conversa"
	}

	registry := prometheus.NewRegistry()

	state := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current pipeline state (1 for the active state)",
		},
		[]string{"state"},
	)

	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of state transitions",
		},
		[]string{"from", "to"},
	)

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of stage events",
		},
		[]string{"kind", "detail"},
	)

	stageLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_seconds",
			Help:      "Per-stage latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	restartsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_restarts_total",
			Help:      "Total number of supervised stage restarts",
		},
		[]string{"stage"},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of completed chat turns",
		},
		[]string{"source", "outcome"},
	)

	interruptsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of barge-in interrupts",
		},
	)

	overlapsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flag_overlaps_total",
			Help:      "Times listening was forced off while the assistant was speaking",
		},
	)

	queues := newQueueCollector(namespace)

	registry.MustRegister(
		state,
		transitionsTotal,
		eventsTotal,
		stageLatency,
		restartsTotal,
		turnsTotal,
		interruptsTotal,
		overlapsTotal,
		queues,
	)

	return &Metrics{
		registry:         registry,
		State:            state,
		TransitionsTotal: transitionsTotal,
		EventsTotal:      eventsTotal,
		StageLatency:     stageLatency,
		RestartsTotal:    restartsTotal,
		TurnsTotal:       turnsTotal,
		InterruptsTotal:  interruptsTotal,
		OverlapsTotal:    overlapsTotal,
		queues:           queues,
	}
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WatchQueue exports the counters of a queue at scrape time
func (m *Metrics) WatchQueue(stats func() queue.Stats) {
	m.queues.add(stats)
}

// RecordTransition records a state change
func (m *Metrics) RecordTransition(change StateChange) {
	m.TransitionsTotal.WithLabelValues(change.From.String(), change.To.String()).Inc()
	for s := range stateNames {
		v := 0.0
		if State(s) == change.To {
			v = 1
		}
		m.State.WithLabelValues(State(s).String()).Set(v)
	}
}

// RecordEvent records a stage event and its latency where it has one
func (m *Metrics) RecordEvent(ev turn.Event) {
	m.EventsTotal.WithLabelValues(ev.Kind.String(), eventDetail(ev)).Inc()

	if ev.Duration <= 0 {
		return
	}
	switch ev.Kind {
	case turn.TranscriptAccepted, turn.TranscriptRejected:
		m.StageLatency.WithLabelValues("transcription").Observe(ev.Duration.Seconds())
	case turn.ResponseReady:
		m.StageLatency.WithLabelValues("cognition").Observe(ev.Duration.Seconds())
	case turn.SynthesisFinished:
		m.StageLatency.WithLabelValues("synthesis").Observe(ev.Duration.Seconds())
	case turn.PlaybackFinished:
		m.StageLatency.WithLabelValues("playback").Observe(ev.Duration.Seconds())
	}
}

// RecordTurn records a completed chat turn
func (m *Metrics) RecordTurn(source string, interrupted bool) {
	outcome := "completed"
	if interrupted {
		outcome = "interrupted"
	}
	m.TurnsTotal.WithLabelValues(source, outcome).Inc()
}

// RecordRestart records a supervised restart
func (m *Metrics) RecordRestart(stage string) {
	m.RestartsTotal.WithLabelValues(stage).Inc()
}

// eventDetail keeps the detail label bounded. Rejection reasons and drop
// causes are a closed set; free text is not.
func eventDetail(ev turn.Event) string {
	switch ev.Kind {
	case turn.TranscriptRejected, turn.RequestDropped, turn.UtteranceDiscarded, turn.SpeechEnded:
		return ev.Detail
	case turn.StageFailed, turn.StageRestarted:
		return ev.Stage
	default:
		return ""
	}
}

// queueCollector reads queue stats at scrape time
type queueCollector struct {
	mu    sync.Mutex
	stats []func() queue.Stats

	length   *prometheus.Desc
	capacity *prometheus.Desc
	puts     *prometheus.Desc
	drops    *prometheus.Desc
	pops     *prometheus.Desc
	wait     *prometheus.Desc
}

func newQueueCollector(namespace string) *queueCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", name), help, []string{"queue"}, nil)
	}
	return &queueCollector{
		length:   desc("length", "Items currently queued"),
		capacity: desc("capacity", "Fixed queue capacity"),
		puts:     desc("puts_total", "Total put attempts"),
		drops:    desc("drops_total", "Total items dropped by overflow or clear"),
		pops:     desc("pops_total", "Total items consumed"),
		wait:     desc("wait_seconds_total", "Total time consumers spent waiting"),
	}
}

func (c *queueCollector) add(stats func() queue.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = append(c.stats, stats)
}

// Describe implements prometheus.Collector
func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.length
	ch <- c.capacity
	ch <- c.puts
	ch <- c.drops
	ch <- c.pops
	ch <- c.wait
}

// Collect implements prometheus.Collector
func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	sources := append([]func() queue.Stats(nil), c.stats...)
	c.mu.Unlock()

	for _, fn := range sources {
		s := fn()
		ch <- prometheus.MustNewConstMetric(c.length, prometheus.GaugeValue, float64(s.Len), s.Name)
		ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity), s.Name)
		ch <- prometheus.MustNewConstMetric(c.puts, prometheus.CounterValue, float64(s.Puts), s.Name)
		ch <- prometheus.MustNewConstMetric(c.drops, prometheus.CounterValue, float64(s.Drops), s.Name)
		ch <- prometheus.MustNewConstMetric(c.pops, prometheus.CounterValue, float64(s.Pops), s.Name)
		ch <- prometheus.MustNewConstMetric(c.wait, prometheus.CounterValue, s.WaitTotal.Seconds(), s.Name)
	}
}
