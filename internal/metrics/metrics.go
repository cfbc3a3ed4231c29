package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discord_relay_events_received_total",
		Help: "Gateway events seen by the relay, labelled by kind (message, command).",
	}, []string{"kind"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discord_relay_events_rejected_total",
		Help: "Events rejected by the channel filter, labelled by reason.",
	}, []string{"reason"})

	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discord_relay_deliveries_total",
		Help: "Webhook delivery attempts, labelled by status (sent, failed, skipped).",
	}, []string{"status"})

	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discord_relay_delivery_duration_seconds",
		Help:    "Latency of webhook POSTs, including failures.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	UpdatesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discord_relay_updates_dropped_total",
		Help: "Gateway updates dropped because the dispatch queue was full.",
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discord_relay_deliveries_in_flight",
		Help: "Webhook POSTs currently in progress.",
	})
)
