// internal/backend/metrics.go

package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	conversationCreates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_conversations_created_total",
			Help: "Conversation create requests by outcome",
		},
		[]string{"outcome"},
	)

	messagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_messages_stored_total",
			Help: "Messages stored by message type",
		},
		[]string{"type"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
