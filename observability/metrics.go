// Package observability holds the Prometheus instruments and OpenTelemetry
// spans recorded by the dispatcher, the delivery engine and the API.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the metric instruments for Hookline. All methods are safe on
// a nil *Metrics.
type Metrics struct {
	EventsEmittedTotal prometheus.Counter
	DeliveriesTotal    *prometheus.CounterVec
	DeliveryLatency    prometheus.Histogram
	AttemptsCreated    prometheus.Counter
	RateLimitedTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the instruments on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		EventsEmittedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hookline_events_emitted_total",
			Help: "Events accepted by Emit.",
		}),
		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hookline_deliveries_total",
			Help: "Delivery tries by outcome.",
		}, []string{"outcome"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hookline_delivery_latency_seconds",
			Help:    "Latency of outbound webhook requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11),
		}),
		AttemptsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "hookline_attempts_created_total",
			Help: "Delivery attempts persisted by Emit.",
		}),
		RateLimitedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hookline_rate_limited_total",
			Help: "Calls denied by the rate limiter.",
		}, []string{"direction"}),
	}
}

// RecordEmit counts an emitted event and the attempts it created.
func (m *Metrics) RecordEmit(attempts int) {
	if m == nil {
		return
	}
	m.EventsEmittedTotal.Inc()
	m.AttemptsCreated.Add(float64(attempts))
}

// RecordDelivery records a try with the given outcome and latency.
func (m *Metrics) RecordDelivery(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(outcome).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordRateLimited counts a limiter denial. direction is "inbound" or
// "outbound".
func (m *Metrics) RecordRateLimited(direction string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(direction).Inc()
}
