package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each Metrics
// owns its registry so independent instances never collide.
type Metrics struct {
	registry *prometheus.Registry
	turns    *turnWindow

	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	SafetyVerdicts    *prometheus.CounterVec
	TurnOutcomes      *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	RateLimited       prometheus.Counter
	CompletionLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		turns:    newTurnWindow(256),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of chat sessions held in memory.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		SafetyVerdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_verdicts_total",
			Help:      "Safety gate verdicts by result and enforcement mode.",
		}, []string{"result", "enforcement"}),
		TurnOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_outcomes_total",
			Help:      "Processed user messages by outcome.",
		}, []string{"outcome"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Completion provider errors by provider and code.",
		}, []string{"provider", "code"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Messages rejected by the per-session rate limiter.",
		}),
		CompletionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion provider call latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000, 60000},
		}),
	}
}

func (m *Metrics) ObserveCompletionLatency(provider string, d time.Duration) {
	m.CompletionLatency.Observe(float64(d.Milliseconds()))
	m.ObserveStage(StageCompletion, provider, d)
}

// ObserveStage records one pipeline stage duration in the rolling window.
// provider is empty for stages that run before the completion call.
func (m *Metrics) ObserveStage(stage, provider string, d time.Duration) {
	m.turns.observe(stage, provider, durationMS(d))
}

// ObserveTurn tallies a finished user message by provider and outcome.
func (m *Metrics) ObserveTurn(s TurnSample) {
	m.turns.observeTurn(s)
}

func (m *Metrics) SnapshotStages() LatencySnapshot {
	return m.turns.snapshot()
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
