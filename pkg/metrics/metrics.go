// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// AIResponseDuration tracks AI responder latency.
	AIResponseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_response_duration_seconds",
			Help:    "AI responder completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"provider", "status"},
	)

	// AITokensTotal tracks total LLM tokens processed.
	AITokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// WebsocketConnectionsActive tracks live realtime connections on this instance.
	WebsocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// RealtimeEventsTotal counts frames emitted by the realtime gateway.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Realtime events emitted",
		},
		[]string{"event"},
	)

	// PresenceErrorsTotal counts failed presence store operations.
	PresenceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_errors_total",
			Help: "Presence store operations that failed",
		},
		[]string{"op"},
	)

	// ConversationTransitionsTotal tracks routed ownership transitions.
	ConversationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_transitions_total",
			Help: "Conversation state transitions by kind and outcome",
		},
		[]string{"transition", "outcome"},
	)

	// BotActionsTotal tracks bot engine results.
	BotActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_actions_total",
			Help: "Bot engine results by action and strategy",
		},
		[]string{"action", "strategy"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"sender"},
	)

	// DeliveryFailuresTotal counts failed outbound WhatsApp deliveries.
	DeliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_delivery_failures_total",
			Help: "Outbound WhatsApp deliveries that failed",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordAIResponse records metrics for an AI completion.
func RecordAIResponse(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	AIResponseDuration.WithLabelValues(provider, status).Observe(duration)
	if model != "" {
		AITokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
		AITokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// RecordTransition records the outcome of a router transition.
func RecordTransition(transition string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ConversationTransitionsTotal.WithLabelValues(transition, outcome).Inc()
}

// IncrementWebsocketConnections increments the active connection count.
func IncrementWebsocketConnections() {
	WebsocketConnectionsActive.Inc()
}

// DecrementWebsocketConnections decrements the active connection count.
func DecrementWebsocketConnections() {
	WebsocketConnectionsActive.Dec()
}
