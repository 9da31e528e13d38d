package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for undelivered events.
const (
	DropOffline = "offline"
	DropSlow    = "slow_consumer"
)

// Metrics holds the collectors of the synchronization engine. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connectedChannels prometheus.Gauge
	eventsDelivered   *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	messagesSent      prometheus.Counter
	sessionsReplaced  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectedChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wiredm",
			Name:      "connected_channels",
			Help:      "Number of live channels in the presence registry.",
		}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wiredm",
			Name:      "events_delivered_total",
			Help:      "Events pushed to a live channel, by kind.",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wiredm",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the target was offline or too slow, by kind and reason.",
		}, []string{"kind", "reason"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wiredm",
			Name:      "messages_sent_total",
			Help:      "Messages persisted by send.",
		}),
		sessionsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wiredm",
			Name:      "sessions_replaced_total",
			Help:      "Channels displaced by a newer connection of the same user.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.connectedChannels,
			m.eventsDelivered,
			m.eventsDropped,
			m.messagesSent,
			m.sessionsReplaced,
		)
	}
	return m
}

// SetConnected records the current registry size.
func (m *Metrics) SetConnected(n int) {
	if m == nil {
		return
	}
	m.connectedChannels.Set(float64(n))
}

// Delivered counts one pushed event.
func (m *Metrics) Delivered(kind string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(kind).Inc()
}

// Dropped counts one undelivered event.
func (m *Metrics) Dropped(kind, reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind, reason).Inc()
}

// MessageSent counts one persisted message.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

// SessionReplaced counts one displaced channel.
func (m *Metrics) SessionReplaced() {
	if m == nil {
		return
	}
	m.sessionsReplaced.Inc()
}
