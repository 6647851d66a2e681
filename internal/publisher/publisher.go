// Package publisher announces a running game server in Consul KV so proxies
// and matchmakers can find it, and withdraws the entry on shutdown.
package publisher

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shiftsad/gameserver/internal/consul"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/shiftsad/gameserver/internal/logging"
)

// ModuleName is the lifecycle name of the publisher.
const ModuleName = "ServerPublisher"

// Module writes name -> port under an optional key prefix.
type Module struct {
	kv        consul.KV
	keyPrefix string
	name      string
	port      int
	logger    *logging.Logger
}

var _ lifecycle.Dependent = (*Module)(nil)

// New creates a publisher for the server called name listening on port.
func New(kv consul.KV, keyPrefix, name string, port int) *Module {
	return &Module{
		kv:        kv,
		keyPrefix: keyPrefix,
		name:      name,
		port:      port,
		logger:    logging.GetLogger("publisher"),
	}
}

// Name implements lifecycle.Module
func (m *Module) Name() string {
	return ModuleName
}

// Priority implements lifecycle.Module. Publishing happens last so the
// server is only announced once everything else is up.
func (m *Module) Priority() lifecycle.BootPriority {
	return lifecycle.Lowest
}

// DependsOn implements lifecycle.Dependent
func (m *Module) DependsOn() []string {
	return []string{consul.ModuleName}
}

// Key returns the Consul key the server is published under.
func (m *Module) Key() string {
	return m.keyPrefix + m.name
}

// Initialize publishes the server.
func (m *Module) Initialize(ctx context.Context) error {
	if err := m.kv.Set(ctx, m.Key(), strconv.Itoa(m.port)); err != nil {
		return fmt.Errorf("failed to publish server in consul: %w", err)
	}

	m.logger.InfoWithFields("Published server",
		logging.Field("key", m.Key()),
		logging.Field("port", m.port),
	)
	return nil
}

// Stop removes the published entry.
func (m *Module) Stop(ctx context.Context) error {
	if err := m.kv.Delete(ctx, m.Key()); err != nil {
		return fmt.Errorf("failed to unpublish server in consul: %w", err)
	}

	m.logger.Info("Unpublished server %s", m.Key())
	return nil
}
