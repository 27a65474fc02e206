package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"souschef/internal/memory"
	"souschef/internal/rag"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Chat metrics
	ChatRequests       prometheus.Counter
	ChatRequestLatency prometheus.Histogram
	ChatErrors         *prometheus.CounterVec

	// Dispatch metrics
	AgentDispatches *prometheus.CounterVec
	CircuitDenied   *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics. mem and coordinator
// feed gauge collectors and may be nil.
func InitMetrics(mem *memory.Manager, coordinator *rag.Coordinator) *Metrics {
	metrics := &Metrics{
		// Chat requests counter
		ChatRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "souschef_chat_requests_total",
			Help: "Total number of chat requests processed",
		}),

		// Chat request latency histogram
		ChatRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "souschef_chat_request_duration_seconds",
			Help:    "Chat request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
		}),

		// Chat errors by type
		ChatErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "souschef_chat_errors_total",
			Help: "Total number of chat errors by type",
		}, []string{"error_type"}),

		// Dispatches by agent and outcome
		AgentDispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "souschef_agent_dispatches_total",
			Help: "Total number of agent dispatches by agent type and outcome",
		}, []string{"agent_type", "outcome"}), // outcome: "success" or "failure"

		// Requests skipped because an agent's breaker was open
		CircuitDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "souschef_circuit_denied_total",
			Help: "Total number of dispatches denied by an open circuit breaker",
		}, []string{"agent_type"}),
	}

	// Live session count from the memory manager
	if mem != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "souschef_sessions_active",
				Help: "Current number of live sessions in the memory manager",
			},
			func() float64 {
				return float64(mem.Stats().ActiveSessions)
			},
		))
	}

	// Retrieval cache occupancy
	if coordinator != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "souschef_rag_cache_entries",
				Help: "Current number of entries in the retrieval query cache",
			},
			func() float64 {
				return float64(coordinator.CacheSize())
			},
		))
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordChatRequest records a chat request
func (m *Metrics) RecordChatRequest() {
	m.ChatRequests.Inc()
}

// RecordChatLatency records chat request latency
func (m *Metrics) RecordChatLatency(seconds float64) {
	m.ChatRequestLatency.Observe(seconds)
}

// RecordChatError records a chat error
func (m *Metrics) RecordChatError(errorType string) {
	m.ChatErrors.WithLabelValues(errorType).Inc()
}
