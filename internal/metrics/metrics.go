// Package metrics serves Prometheus metrics and a health endpoint over HTTP.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/shiftsad/gameserver/internal/logging"
)

// ModuleName is the lifecycle name of the metrics server.
const ModuleName = "Metrics"

// LoadedLister reports which modules are currently loaded.
type LoadedLister interface {
	Loaded() []string
}

// HealthResponse is the body served on /healthz
type HealthResponse struct {
	Modules []string `json:"modules"`
	Status  string   `json:"status"`
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Module is the HTTP server behind /metrics and /healthz.
type Module struct {
	address  string
	gatherer prometheus.Gatherer
	modules  LoadedLister
	logger   *logging.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates the module. modules may be nil, in which case /healthz lists none.
func New(address string, gatherer prometheus.Gatherer, modules LoadedLister) *Module {
	return &Module{
		address:  address,
		gatherer: gatherer,
		modules:  modules,
		logger:   logging.GetLogger("metrics"),
	}
}

// Name implements lifecycle.Module
func (m *Module) Name() string {
	return ModuleName
}

// Priority implements lifecycle.Module
func (m *Module) Priority() lifecycle.BootPriority {
	return lifecycle.Normal
}

// Handler returns the routes served by the module.
func (m *Module) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", m.handleHealth)
	return mux
}

func (m *Module) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Modules: []string{}, Status: "ok"}
	if m.modules != nil {
		response.Modules = append(response.Modules, m.modules.Loaded()...)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		m.logger.Debug("Failed to write health response: %v", err)
	}
}

// Initialize binds the listen address and starts serving in the background.
// Binding here makes a busy port fail the boot instead of a log line.
func (m *Module) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", m.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.address, err)
	}

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          logging.StdLogger("metrics.http"),
	}
	m.done = make(chan struct{})

	go func(server *http.Server, done chan struct{}) {
		defer close(done)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server error: %v", err)
		}
	}(m.server, m.done)

	m.logger.Info("Serving metrics on %s", listener.Addr())
	return nil
}

// Addr returns the bound address, or nil before Initialize.
func (m *Module) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Stop shuts the server down, letting in-flight scrapes finish.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	server, done := m.server, m.done
	m.server, m.listener = nil, nil
	m.mu.Unlock()

	if server == nil {
		return nil
	}

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	<-done
	m.logger.Info("Metrics server stopped")
	return nil
}
