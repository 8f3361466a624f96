// Package metrics holds the Prometheus collectors of the chat server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	MessagesDispatched *prometheus.CounterVec
	MessagesRejected   *prometheus.CounterVec
	TypingRelayed      prometheus.Counter
	Connections        prometheus.Gauge
	Rooms              prometheus.Gauge
	EventsDropped      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry so that tests can build
// as many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		MessagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "messages_dispatched_total",
			Help:      "Messages persisted and emitted, by kind.",
		}, []string{"kind"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "messages_rejected_total",
			Help:      "Send attempts that failed, by error code.",
		}, []string{"code"}),
		TypingRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "typing_relayed_total",
			Help:      "Typing and stop typing events relayed.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hermes",
			Name:      "ws_active_connections",
			Help:      "Active websocket connections.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hermes",
			Name:      "ws_rooms",
			Help:      "Rooms with at least one connection.",
		}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "ws_events_dropped_total",
			Help:      "Outbound events dropped, by reason.",
		}, []string{"reason"}),
		gatherer: reg,
	}
	reg.MustRegister(m.MessagesDispatched, m.MessagesRejected, m.TypingRelayed,
		m.Connections, m.Rooms, m.EventsDropped)
	return m
}

// Handler serves the registry for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
