package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the multiai gateway.
type Metrics struct {
	RequestTotal       *prometheus.CounterVec
	RequestDurationMs  *prometheus.HistogramVec
	TokensTotal        *prometheus.CounterVec
	JudgeCostUSDTotal  prometheus.Counter
	RegistryFetchTotal *prometheus.CounterVec
	SnapshotSize       prometheus.Gauge
}

// NewMetrics creates and registers all metrics on the given registerer.
// Passing prometheus.DefaultRegisterer wires them into /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "multiai_request_total",
			Help: "Total number of chat requests processed by the gateway.",
		}, []string{"model", "provider", "status", "stream"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "multiai_request_duration_ms",
			Help:    "Total request duration in milliseconds (including provider latency).",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"model", "provider"}),

		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "multiai_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"model", "direction"}),

		JudgeCostUSDTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "multiai_judge_cost_usd_total",
			Help: "Estimated spend on judge-panel evaluations in USD.",
		}),

		RegistryFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "multiai_registry_fetch_total",
			Help: "Model discovery fetches by source and outcome.",
		}, []string{"source", "outcome"}),

		SnapshotSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "multiai_registry_snapshot_size",
			Help: "Number of free models in the current registry snapshot.",
		}),
	}
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Model            string
	Provider         string
	Status           string
	Stream           bool
	DurationMs       float64
	PromptTokens     int
	CompletionTokens int
}

// RecordRequest records metrics for a completed gateway request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	stream := "false"
	if labels.Stream {
		stream = "true"
	}
	m.RequestTotal.WithLabelValues(labels.Model, labels.Provider, labels.Status, stream).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Model, labels.Provider).Observe(labels.DurationMs)

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "prompt").Add(float64(labels.PromptTokens))
	}
	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "completion").Add(float64(labels.CompletionTokens))
	}
}

// RecordRegistryFetch records one source fetch outcome ("ok" or "error").
func (m *Metrics) RecordRegistryFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.RegistryFetchTotal.WithLabelValues(source, outcome).Inc()
}

// RecordSnapshotSize records the size of a freshly built snapshot.
func (m *Metrics) RecordSnapshotSize(n int) {
	if m == nil {
		return
	}
	m.SnapshotSize.Set(float64(n))
}

// RecordJudgeCost adds to the judge spend counter.
func (m *Metrics) RecordJudgeCost(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.JudgeCostUSDTotal.Add(usd)
}
