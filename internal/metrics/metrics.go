package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthDecisions counts broker callback decisions by endpoint and outcome.
	AuthDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_auth_decisions_total",
			Help: "Broker authorization callback decisions",
		},
		[]string{"endpoint", "decision"},
	)

	// CredentialsIssued counts minted broker credentials.
	CredentialsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_credentials_issued_total",
			Help: "Total broker credentials issued",
		},
	)

	// MessagesPublished counts messages accepted by the publish endpoint.
	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_published_total",
			Help: "Messages published through the HTTP gateway",
		},
	)

	// MessagesFetched counts messages returned by the get endpoint.
	MessagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_messages_fetched_total",
			Help: "Messages fetched through the HTTP gateway",
		},
	)

	// WebsocketSessions tracks open bridge sessions.
	WebsocketSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_websocket_sessions",
			Help: "Currently open websocket bridge sessions",
		},
	)
)
