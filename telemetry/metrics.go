package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	WebhooksReceived    *prometheus.CounterVec
	WebhooksRejected    *prometheus.CounterVec
	QueueDepth          prometheus.Gauge
	EventsPublished     *prometheus.CounterVec
	NormalizationErrors *prometheus.CounterVec
	Deliveries          *prometheus.CounterVec
	DeliveryDuration    prometheus.Histogram
	Commands            *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ghrelay",
				Subsystem: "webhooks",
				Name:      "received_total",
				Help:      "Webhook payloads accepted into the queue",
			},
			[]string{"source"},
		),

		WebhooksRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ghrelay",
				Subsystem: "webhooks",
				Name:      "rejected_total",
				Help:      "Webhook requests refused before queueing",
			},
			[]string{"reason"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ghrelay",
				Subsystem: "webhooks",
				Name:      "queue_depth",
				Help:      "Payloads waiting for the ingress worker",
			},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ghrelay",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Canonical events published on the bus",
			},
			[]string{"category"},
		),

		NormalizationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ghrelay",
				Subsystem: "events",
				Name:      "normalization_errors_total",
				Help:      "Payloads dropped because they could not be normalized",
			},
			[]string{"tag"},
		),

		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ghrelay",
				Subsystem: "delivery",
				Name:      "messages_total",
				Help:      "Chat messages posted for events",
			},
			[]string{"outcome"},
		),

		DeliveryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ghrelay",
				Subsystem: "delivery",
				Name:      "duration_seconds",
				Help:      "Time spent posting one message",
				Buckets:   prometheus.DefBuckets,
			},
		),

		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ghrelay",
				Subsystem: "bot",
				Name:      "commands_total",
				Help:      "Chat commands run",
			},
			[]string{"command", "outcome"},
		),
	}

	reg.MustRegister(
		m.WebhooksReceived,
		m.WebhooksRejected,
		m.QueueDepth,
		m.EventsPublished,
		m.NormalizationErrors,
		m.Deliveries,
		m.DeliveryDuration,
		m.Commands,
	)
	return m
}
