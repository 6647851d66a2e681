package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for module loading.
type Metrics struct {
	LoadDuration *prometheus.HistogramVec // Initialize duration per module
	LoadFailures *prometheus.CounterVec   // Failed Initialize calls per module
	Loaded       prometheus.Gauge         // Currently loaded modules
}

// NewMetrics creates and registers the lifecycle metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	loadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gameserver_module_load_duration_seconds",
		Help:    "Time spent initializing a module",
		Buckets: prometheus.DefBuckets,
	}, []string{"module"})

	loadFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gameserver_module_load_failures_total",
		Help: "Total number of failed module initializations",
	}, []string{"module"})

	loaded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gameserver_modules_loaded",
		Help: "Number of currently loaded modules",
	})

	reg.MustRegister(loadDuration)
	reg.MustRegister(loadFailures)
	reg.MustRegister(loaded)

	return &Metrics{
		LoadDuration: loadDuration,
		LoadFailures: loadFailures,
		Loaded:       loaded,
	}
}
