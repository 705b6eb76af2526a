// Package metrics holds the gateway's prometheus collectors.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_gateway"

var (
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Outbound events published to the hub, by type.",
	}, []string{"type"})

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Events dropped because a subscriber queue was full or closed.",
	})

	InboundEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_events_total",
		Help:      "Client events handled, by type and result.",
	}, []string{"type", "result"})

	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Joined websocket connections.",
	})

	HandshakeRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshake_rejected_total",
		Help:      "Websocket handshakes closed before join, by reason.",
	}, []string{"reason"})

	RelayMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "relay_messages_total",
		Help:      "Cluster relay traffic, by direction.",
	}, []string{"direction"})
)

var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		EventsPublished, EventsDropped, InboundEvents, Connections, HandshakeRejected, RelayMessages,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the text exposition format.
func Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}
