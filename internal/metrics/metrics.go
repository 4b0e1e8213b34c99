package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections        prometheus.Gauge
	RoomJoins          prometheus.Counter
	EventsPublished    *prometheus.CounterVec
	Deliveries         prometheus.Counter
	DroppedDeliveries  *prometheus.CounterVec
	SlowConsumerClosed prometheus.Counter
}

// New registers the relay collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connections",
			Help:      "Live WebSocket connections.",
		}),
		RoomJoins: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "room_joins_total",
			Help:      "Accepted join_room requests.",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "events_published_total",
			Help:      "Envelopes handed to the relay, by message type.",
		}, []string{"type"}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_total",
			Help:      "Envelopes queued on a connection.",
		}),
		DroppedDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "dropped_deliveries_total",
			Help:      "Envelopes that could not be queued on a connection.",
		}, []string{"reason"}),
		SlowConsumerClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "slow_consumer_disconnects_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
	}
}
