package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the hub's Prometheus collectors on a dedicated registry so
// tests can build as many hubs as they like without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedSessions prometheus.Gauge
	OperationsTotal   *prometheus.CounterVec
	FanoutDuration    *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatrelay_connected_sessions",
			Help: "Number of currently connected sessions",
		}),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatrelay_operations_total",
			Help: "Total log operations applied by type",
		}, []string{"type"}),
		FanoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatrelay_fanout_duration_seconds",
			Help:    "Time to apply and broadcast each operation type",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}

	m.registry.MustRegister(m.ConnectedSessions, m.OperationsTotal, m.FanoutDuration)
	return m
}

// Handler exposes the hub's collectors for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
