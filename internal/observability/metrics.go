package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	AuthOutcomes   *prometheus.CounterVec
	TurnsAppended  *prometheus.CounterVec
	StorageErrors  *prometheus.CounterVec
	TurnFallbacks  prometheus.Counter
	SummarizerRuns *prometheus.CounterVec
	MemoryEntries  prometheus.Counter
	CommandChecks  *prometheus.CounterVec
	TurnLatency    prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active assistant sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		AuthOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_outcomes_total",
			Help:      "Authentication outcomes (creator, guest, degraded).",
		}, []string{"outcome"}),
		TurnsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_appended_total",
			Help:      "Conversation turns appended by store backend.",
		}, []string{"store"}),
		StorageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Persistence failures by operation.",
		}, []string{"op"}),
		TurnFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_fallbacks_total",
			Help:      "Turns kept only in the in-memory fallback log.",
		}),
		SummarizerRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summarizer_runs_total",
			Help:      "Summarizer runs by result (ok, skipped, empty).",
		}, []string{"result"}),
		MemoryEntries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_entries_created_total",
			Help:      "Long-term memory entries written by the summarizer.",
		}),
		CommandChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_checks_total",
			Help:      "Command dispatches by capability decision.",
		}, []string{"decision"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn handling latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
