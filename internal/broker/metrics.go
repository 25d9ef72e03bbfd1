package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fitswebql_sessions_connected",
		Help: "Number of viewer sessions currently registered",
	})

	messagesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitswebql_messages_broadcast_total",
		Help: "Messages delivered to viewer sessions",
	})

	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fitswebql_messages_dropped_total",
		Help: "Messages dropped because a session or the broker queue was full",
	})

	evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitswebql_evictions_total",
		Help: "Datasets evicted from memory",
	}, []string{"reason"})
)
