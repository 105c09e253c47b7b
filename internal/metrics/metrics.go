package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lavaman"

var (
	// NodeUp is 1 while a node's websocket is open.
	NodeUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_up",
			Help:      "Whether the node websocket is connected",
		},
		[]string{"node"},
	)

	NodeRemotePlayers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_remote_players",
			Help:      "Players reported by the node's last stats frame",
		},
		[]string{"node"},
	)

	NodeAssignedPlayers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_assigned_players",
			Help:      "Players this client has bound to the node",
		},
		[]string{"node"},
	)

	RESTRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rest_requests_total",
			Help:      "REST calls issued to nodes",
		},
		[]string{"node", "method", "status"}, // status: http code or "error"
	)

	RESTDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rest_duration_seconds",
			Help:      "REST round trip latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"node", "method"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that failed to decode",
		},
		[]string{"node"},
	)

	EventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Decoded messages placed on the event channel",
		},
		[]string{"node", "op"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Decoded messages dropped because the event channel was full",
		},
		[]string{"node", "op"},
	)

	Players = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "players",
			Help:      "Players in the registry",
		},
	)

	Migrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_migrations_total",
			Help:      "Node changes by outcome",
		},
		[]string{"status"}, // ok/error
	)
)
