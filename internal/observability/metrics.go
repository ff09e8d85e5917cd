package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. It
// satisfies tasks.Metrics and intent.ParseMetrics.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	TaskEvents       *prometheus.CounterVec
	TaskTransitions  *prometheus.CounterVec
	TaskCommands     *prometheus.CounterVec
	CommandLatency   *prometheus.HistogramVec
	EventsDropped    *prometheus.CounterVec
	ParseOutcomes    *prometheus.CounterVec
	LLMCalls         *prometheus.CounterVec
	LLMLatency       *prometheus.HistogramVec
	WSMessages       *prometheus.CounterVec
	TransportPublish *prometheus.CounterVec

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active conversation sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Published task lifecycle events by type.",
		}, []string{"event"}),
		TaskTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Committed task status transitions.",
		}, []string{"from", "to"}),
		TaskCommands: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_commands_total",
			Help:      "Task manager commands by outcome.",
		}, []string{"command", "outcome"}),
		CommandLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_command_latency_ms",
			Help:      "Task manager command latency in milliseconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"command"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded from full subscriber queues.",
		}, []string{"event"}),
		ParseOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_parse_total",
			Help:      "Model response parse outcomes.",
		}, []string{"outcome"}),
		LLMCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Completion calls by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		LLMLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_ms",
			Help:      "Completion latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"purpose"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		TransportPublish: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_publish_total",
			Help:      "Events forwarded to the message bus by outcome.",
		}, []string{"outcome"}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveTaskEvent(eventType string) {
	m.TaskEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveTaskTransition(from, to string) {
	m.TaskTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveTaskCommand(command, outcome string, d time.Duration) {
	m.TaskCommands.WithLabelValues(command, outcome).Inc()
	m.CommandLatency.WithLabelValues(command).Observe(float64(d) / float64(time.Millisecond))
	m.latency.Observe("command_"+command, d)
	if outcome != "ok" {
		m.latency.ObserveIndicator(outcome)
	}
}

func (m *Metrics) ObserveDroppedEvent(eventType string) {
	m.EventsDropped.WithLabelValues(eventType).Inc()
	m.latency.ObserveIndicator("event_dropped")
}

func (m *Metrics) ObserveParse(outcome string) {
	m.ParseOutcomes.WithLabelValues(outcome).Inc()
	if outcome == "malformed" {
		m.latency.ObserveIndicator("malformed_response")
	}
}

func (m *Metrics) ObserveLLMCall(purpose string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LLMCalls.WithLabelValues(purpose, outcome).Inc()
	m.LLMLatency.WithLabelValues(purpose).Observe(float64(d.Milliseconds()))
	m.latency.Observe("llm_"+purpose, d)
}

// ObserveStage records a named latency for the /v1/perf/latency window only.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.latency.Observe(stage, d)
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObservePublish(outcome string) {
	m.TransportPublish.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
