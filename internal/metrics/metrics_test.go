package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Delivered("message_created")
	m.Delivered("message_created")
	m.Dropped("message_created", DropOffline)
	m.SetConnected(3)
	m.MessageSent()

	require.Equal(t, 2.0, testutil.ToFloat64(m.eventsDelivered.WithLabelValues("message_created")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.eventsDropped.WithLabelValues("message_created", DropOffline)))
	require.Equal(t, 3.0, testutil.ToFloat64(m.connectedChannels))
	require.Equal(t, 1.0, testutil.ToFloat64(m.messagesSent))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Delivered("x")
		m.Dropped("x", DropSlow)
		m.SetConnected(1)
		m.MessageSent()
		m.SessionReplaced()
	})
}
