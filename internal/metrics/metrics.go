// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the service updates at runtime.
type Metrics struct {
	EventsIngested  *prometheus.CounterVec
	EventsDuplicate prometheus.Counter
	EventsRejected  prometheus.Counter

	CyclesTotal     *prometheus.CounterVec
	PublishDuration prometheus.Histogram
	PendingReviews  prometheus.Gauge
}

// New builds the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production; tests use their own
// registry so parallel instances do not collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gazette",
			Name:      "events_ingested_total",
			Help:      "Events accepted into day buckets, by event type",
		}, []string{"type"}),
		EventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gazette",
			Name:      "events_duplicate_total",
			Help:      "Redelivered events dropped by deduplication",
		}),
		EventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gazette",
			Name:      "events_rejected_total",
			Help:      "Payloads rejected at classification",
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gazette",
			Name:      "cycles_total",
			Help:      "Publication cycles by outcome",
		}, []string{"outcome"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gazette",
			Name:      "publish_duration_seconds",
			Help:      "Time spent on the outbound publish call",
			Buckets:   prometheus.DefBuckets,
		}),
		PendingReviews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gazette",
			Name:      "pending_reviews",
			Help:      "Cycles currently parked awaiting human review",
		}),
	}
	reg.MustRegister(
		m.EventsIngested, m.EventsDuplicate, m.EventsRejected,
		m.CyclesTotal, m.PublishDuration, m.PendingReviews,
	)
	return m
}
