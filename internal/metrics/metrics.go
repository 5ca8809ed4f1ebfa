package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sangam_ws_connections",
		Help: "Current number of live websocket connections",
	})
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sangam_online_users",
		Help: "Current number of distinct users with at least one live connection",
	})
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sangam_ws_events_total",
		Help: "Inbound websocket events by name",
	}, []string{"event"})
	MessagesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sangam_messages_persisted_total",
		Help: "Chat messages written to the message store",
	})
	SweepEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sangam_sweep_evictions_total",
		Help: "Connections evicted by the inactivity sweep",
	})
	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sangam_ws_rate_limited_total",
		Help: "Inbound events dropped by the per-connection rate limiter",
	})
	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sangam_ws_slow_consumers_total",
		Help: "Connections closed because their send buffer was full",
	})
	PushSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sangam_push_notifications_total",
		Help: "Web push notifications by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		Connections,
		OnlineUsers,
		EventsTotal,
		MessagesPersisted,
		SweepEvictions,
		RateLimited,
		SlowConsumers,
		PushSent,
	)
}
