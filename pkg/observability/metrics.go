package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dailyfactoid/factoid/pkg/telemetry"
)

// Metrics holds the prometheus collectors for the service.
type Metrics struct {
	registry *prometheus.Registry

	generations      *prometheus.CounterVec
	admissionDenials *prometheus.CounterVec
	budgetDenials    *prometheus.CounterVec
	spend            *prometheus.CounterVec
	votes            *prometheus.CounterVec
	duration         prometheus.Histogram
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factoid_generations_total",
			Help: "Generation outcomes by status.",
		}, []string{"status", "profile"}),
		admissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factoid_admission_denials_total",
			Help: "Rate limit denials by scope and window.",
		}, []string{"scope", "window"}),
		budgetDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factoid_budget_denials_total",
			Help: "Cost guard denials by profile.",
		}, []string{"profile"}),
		spend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factoid_spend_usd_total",
			Help: "Settled upstream spend in USD by profile.",
		}, []string{"profile"}),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "factoid_votes_total",
			Help: "Votes recorded by direction.",
		}, []string{"direction"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "factoid_generation_duration_seconds",
			Help:    "End to end generation latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.generations, m.admissionDenials, m.budgetDenials, m.spend, m.votes, m.duration,
	)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Sink adapts the metrics to the telemetry event stream.
func (m *Metrics) Sink() telemetry.Sink {
	return &metricsSink{metrics: m}
}

type metricsSink struct {
	metrics *Metrics
}

func (s *metricsSink) Name() string { return "prometheus" }

func (s *metricsSink) Notify(event telemetry.Event) {
	m := s.metrics
	switch event.Type {
	case telemetry.EventGenerationSucceeded:
		m.generations.WithLabelValues("succeeded", event.Profile).Inc()
		m.spend.WithLabelValues(event.Profile).Add(event.CostUSD)
		m.duration.Observe(event.Duration.Seconds())
	case telemetry.EventGenerationFailed:
		m.generations.WithLabelValues("failed", event.Profile).Inc()
		if event.CostUSD > 0 {
			m.spend.WithLabelValues(event.Profile).Add(event.CostUSD)
		}
	case telemetry.EventAdmissionDenied:
		m.admissionDenials.WithLabelValues(event.Scope, event.Window).Inc()
	case telemetry.EventBudgetDenied:
		m.budgetDenials.WithLabelValues(event.Profile).Inc()
	case telemetry.EventVoteRecorded:
		m.votes.WithLabelValues(event.Reason).Inc()
	}
}
