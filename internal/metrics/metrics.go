// Package metrics holds the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued counts accepted webhook jobs by type and event.
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_assist_jobs_enqueued_total",
			Help: "Webhook jobs accepted for processing",
		},
		[]string{"type", "event"},
	)

	// JobsProcessed counts handler runs by outcome (completed, retried, failed, inline).
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_assist_jobs_processed_total",
			Help: "Webhook job handler runs by outcome",
		},
		[]string{"type", "outcome"},
	)

	// JobDuration tracks handler latency.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shop_assist_job_duration_seconds",
			Help:    "Webhook job handler duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	// RelayConnections is the number of live relay sockets.
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shop_assist_relay_connections",
			Help: "Currently connected relay sockets",
		},
	)

	// RelayBroadcasts counts fan-out events by event name.
	RelayBroadcasts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_assist_relay_broadcasts_total",
			Help: "Relay events fanned out to rooms",
		},
		[]string{"event"},
	)

	// ChatReplies counts chat turns by mode (sync, stream) and outcome.
	ChatReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shop_assist_chat_replies_total",
			Help: "Chat provider turns by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
)
