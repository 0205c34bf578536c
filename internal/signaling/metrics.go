package signaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for metricDropped.
const (
	dropNoTarget    = "no_target"
	dropQueueFull   = "queue_full"
	dropMalformed   = "malformed"
	dropUnknownKind = "unknown_kind"
)

var (
	gaugeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "Connected signaling sessions",
	})

	gaugeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_active",
		Help: "Rooms with at least one member",
	})

	metricMessagesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_in_total",
		Help: "Client frames handled by kind",
	}, []string{"kind"})

	metricMessagesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_out_total",
		Help: "Frames queued to clients by kind",
	}, []string{"kind"})

	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_dropped_total",
		Help: "Frames dropped by reason",
	}, []string{"reason"})

	metricSessionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_session_duration_seconds",
		Help:    "Lifetime of signaling sessions",
		Buckets: prometheus.ExponentialBuckets(1, 2.5, 10),
	})
)
