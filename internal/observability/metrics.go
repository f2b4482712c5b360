// Package observability wires tracing and domain metrics.
//
// This file defines the Prometheus collectors for the WhatsApp pipeline:
// inbound ingestion, auto-reply dispatch, and session lifecycle churn.
// Label cardinality is kept bounded: topics, urgency buckets, statuses,
// and outcomes are all small fixed sets; tenant IDs are deliberately not
// used as labels.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// MessagesIngested counts accepted inbound messages by topic and
	// urgency bucket. Duplicates are counted separately.
	MessagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalix_messages_ingested_total",
			Help: "Inbound WhatsApp messages accepted by the pipeline.",
		},
		[]string{"topic", "intent"},
	)

	// MessagesDuplicate counts replayed inbound messages dropped by the
	// idempotency check.
	MessagesDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whalix_messages_duplicate_total",
			Help: "Replayed inbound messages dropped as duplicates.",
		},
	)

	// RepliesDispatched counts auto-reply outcomes: sent, failed,
	// throttled (cooldown) or suppressed (below confidence threshold).
	RepliesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalix_replies_total",
			Help: "Auto-reply outcomes by result.",
		},
		[]string{"result"},
	)

	// SessionTransitions counts session state transitions by target state.
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whalix_session_transitions_total",
			Help: "WhatsApp session state transitions by target state.",
		},
		[]string{"status"},
	)

	// SessionsLive gauges currently supervised sessions.
	SessionsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whalix_sessions_live",
			Help: "Sessions currently supervised by the registry.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		MessagesIngested,
		MessagesDuplicate,
		RepliesDispatched,
		SessionTransitions,
		SessionsLive,
	)
}
