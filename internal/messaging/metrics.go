// internal/messaging/metrics.go

package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_sync_ticks_total",
			Help: "Message poll ticks by result",
		},
		[]string{"result"},
	)

	conversationCreates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_conversation_creates_total",
			Help: "Conversation creation attempts by outcome",
		},
		[]string{"outcome"},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_sent_total",
			Help: "Outgoing messages by result",
		},
		[]string{"result"},
	)

	attachmentsUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_attachments_uploaded_total",
			Help: "Attachment uploads by kind",
		},
		[]string{"kind"},
	)
)
