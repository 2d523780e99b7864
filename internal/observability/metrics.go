package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	connectsTotal         *prometheus.CounterVec
	connectionClosesTotal prometheus.Counter
	eventsReceivedTotal   *prometheus.CounterVec
	messagesSentTotal     prometheus.Counter
	eventsDiscardedTotal  *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the client.
func RegisterMetrics() {
	registerOnce.Do(func() {
		connectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diskuss_connects_total",
			Help: "Total number of websocket connection attempts.",
		}, []string{"kind"})

		connectionClosesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diskuss_connection_closes_total",
			Help: "Total number of websocket connection closes.",
		})

		eventsReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diskuss_events_received_total",
			Help: "Total number of incoming protocol events by event name.",
		}, []string{"event"})

		messagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "diskuss_messages_sent_total",
			Help: "Total number of send_message commands emitted.",
		})

		eventsDiscardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "diskuss_events_discarded_total",
			Help: "Total number of incoming events dropped by reason.",
		}, []string{"reason"})

		prometheus.MustRegister(connectsTotal, connectionClosesTotal, eventsReceivedTotal, messagesSentTotal, eventsDiscardedTotal)
	})
}

// Connects exposes the counter for connection attempts. The "kind" label is
// either "initial" or "reconnect".
func Connects() *prometheus.CounterVec {
	RegisterMetrics()
	return connectsTotal
}

// ConnectionCloses exposes the counter for connection closes.
func ConnectionCloses() prometheus.Counter {
	RegisterMetrics()
	return connectionClosesTotal
}

// EventsReceived exposes the counter for incoming protocol events.
func EventsReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsReceivedTotal
}

// MessagesSent exposes the counter for outbound send commands.
func MessagesSent() prometheus.Counter {
	RegisterMetrics()
	return messagesSentTotal
}

// EventsDiscarded exposes the counter for dropped events. Reasons are
// "stale", "protocol" and "closed".
func EventsDiscarded() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsDiscardedTotal
}
