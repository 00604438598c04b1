package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wes_chat"

var (
	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections on this instance.",
		},
	)

	AuthFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Websocket handshakes rejected for a bad credential.",
		},
	)

	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound websocket events by type and outcome.",
		},
		[]string{"event", "outcome"},
	)

	Pushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Frames queued to connections.",
		},
	)

	DroppedPushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_pushes_total",
			Help:      "Frames dropped because a connection send buffer was full.",
		},
	)

	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted and handed to the broadcaster.",
		},
	)

	UnreadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unread_failures_total",
			Help:      "Unread counter updates that failed, by operation.",
		},
		[]string{"op"},
	)

	Reconciled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unread_reconciled_total",
			Help:      "Unread counters recomputed from the message store.",
		},
	)

	RelayEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Cross-instance relay events by direction.",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		Connections,
		AuthFailures,
		Events,
		Pushes,
		DroppedPushes,
		MessagesSent,
		UnreadFailures,
		Reconciled,
		RelayEvents,
	)
}
