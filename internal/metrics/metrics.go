package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_active_rooms",
		Help: "Rooms with at least one member.",
	})

	ActiveWhiteboards = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_active_whiteboards",
		Help: "Whiteboards with at least one participant.",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "huddle_active_connections",
		Help: "Open websocket sessions.",
	})

	InboundEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_inbound_events_total",
		Help: "Inbound events handled, by event name.",
	}, []string{"event"})

	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "huddle_dropped_events_total",
		Help: "Events dropped before delivery, by reason.",
	}, []string{"reason"})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "huddle_chat_messages_total",
		Help: "Chat messages appended to room history.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
