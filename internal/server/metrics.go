package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the connection metrics of a server.
type Metrics struct {
	Connections *prometheus.CounterVec // Handshakes by requested state
	Active      prometheus.Gauge       // Open connections
}

// NewMetrics creates the server metrics and registers them with reg when it
// is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	connections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gameserver_connections_total",
		Help: "Total number of client handshakes by next state",
	}, []string{"state"})

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gameserver_connections_active",
		Help: "Number of open client connections",
	})

	if reg != nil {
		reg.MustRegister(connections)
		reg.MustRegister(active)
	}

	return &Metrics{
		Connections: connections,
		Active:      active,
	}
}
