// Package metrics provides Prometheus metrics for the chat pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the chat pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	ChatRequestsTotal        *prometheus.CounterVec
	AdmissionRejectionsTotal *prometheus.CounterVec
	ToolCallsTotal           *prometheus.CounterVec
	StreamDuration           prometheus.Histogram
	StreamsInFlight          prometheus.Gauge
	TokensTotal              *prometheus.CounterVec
	PersistenceFailuresTotal *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChatRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_chat_requests_total",
				Help: "Total number of chat turns by terminal outcome",
			},
			[]string{"outcome"},
		),
		AdmissionRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_admission_rejections_total",
				Help: "Total number of chat requests rejected before streaming",
			},
			[]string{"reason"},
		),
		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_tool_calls_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool", "status"},
		),
		StreamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatpipe_stream_duration_seconds",
				Help:    "Duration of upstream streams in seconds",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),
		StreamsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatpipe_streams_in_flight",
				Help: "Number of upstream streams currently open",
			},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_tokens_total",
				Help: "Total number of model tokens reported by the provider",
			},
			[]string{"direction"},
		),
		PersistenceFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatpipe_persistence_failures_total",
				Help: "Total number of failed post-stream persistence steps",
			},
			[]string{"step"},
		),
	}
}

// RecordTurn records a finished chat turn.
func (m *Metrics) RecordTurn(outcome string, duration time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.ChatRequestsTotal.WithLabelValues(outcome).Inc()
	m.StreamDuration.Observe(duration.Seconds())
	m.TokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.AdmissionRejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RecordPersistenceFailure(step string) {
	if m == nil {
		return
	}
	m.PersistenceFailuresTotal.WithLabelValues(step).Inc()
}

// StreamStarted increments the in-flight gauge and returns the matching
// decrement.
func (m *Metrics) StreamStarted() func() {
	if m == nil {
		return func() {}
	}
	m.StreamsInFlight.Inc()
	return m.StreamsInFlight.Dec
}
