package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes recorded by the router.
const (
	outcomeDelivered   = "delivered"
	outcomeUnreachable = "unreachable"
	outcomeDropped     = "dropped"
)

// Metrics holds the relay's prometheus collectors. Each Relay owns its own
// registry so tests can run isolated relays side by side.
type Metrics struct {
	registry *prometheus.Registry

	framesReceived *prometheus.CounterVec
	malformed      prometheus.Counter
	rateLimited    prometheus.Counter
	deliveries     *prometheus.CounterVec
	registrations  prometheus.Counter
	accepted       prometheus.Counter
	closed         prometheus.Counter
	evictions      prometheus.Counter
}

func newMetrics(registry *Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_received_total",
			Help: "Decoded inbound frames by type.",
		}, []string{"type"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_malformed_total",
			Help: "Inbound frames that failed to decode.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_rate_limited_total",
			Help: "Inbound frames discarded by the per-connection rate limit.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Chat message delivery attempts by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_identity_registrations_total",
			Help: "Accepted register-user frames.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_accepted_total",
			Help: "Connections accepted since start.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_closed_total",
			Help: "Connections torn down since start.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_liveness_evictions_total",
			Help: "Connections closed for missing a liveness probe.",
		}),
	}

	m.registry.MustRegister(
		m.framesReceived,
		m.malformed,
		m.rateLimited,
		m.deliveries,
		m.registrations,
		m.accepted,
		m.closed,
		m.evictions,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_open_connections",
			Help: "Currently open connections.",
		}, func() float64 { return float64(registry.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "relay_bound_identities",
			Help: "Identities currently reachable by chat-message.",
		}, func() float64 { return float64(registry.IdentityCount()) }),
		collectors.NewGoCollector(),
	)

	return m
}

// Handler exposes the relay's registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry for tests and embedding.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
