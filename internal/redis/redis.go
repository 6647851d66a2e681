// Package redis provides the Redis connection module. The server address is
// read from Consul so every game server in a deployment shares one Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shiftsad/gameserver/internal/config"
	"github.com/shiftsad/gameserver/internal/consul"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/shiftsad/gameserver/internal/logging"
)

// ModuleName is the name other modules use to depend on Redis.
const ModuleName = "Redis"

// ErrNotConnected is returned by commands before Initialize or after Stop.
var ErrNotConnected = errors.New("redis module is not connected")

// Module owns a go-redis client for the lifetime of the server.
type Module struct {
	kv     consul.KV
	cfg    config.RedisConfig
	logger *logging.Logger

	mu     sync.RWMutex
	client *goredis.Client
}

var _ lifecycle.Dependent = (*Module)(nil)

// New creates the module. kv is usually the consul module.
func New(kv consul.KV, cfg config.RedisConfig) *Module {
	if cfg.ConsulKey == "" {
		cfg.ConsulKey = "redis.host"
	}
	return &Module{
		kv:     kv,
		cfg:    cfg,
		logger: logging.GetLogger("redis"),
	}
}

// Name implements lifecycle.Module
func (m *Module) Name() string {
	return ModuleName
}

// Priority implements lifecycle.Module
func (m *Module) Priority() lifecycle.BootPriority {
	return lifecycle.Highest
}

// DependsOn implements lifecycle.Dependent
func (m *Module) DependsOn() []string {
	return []string{consul.ModuleName}
}

// Initialize resolves the Redis address, connects and pings.
func (m *Module) Initialize(ctx context.Context) error {
	address, err := m.resolveAddress(ctx)
	if err != nil {
		return err
	}

	opts, err := parseAddress(address)
	if err != nil {
		return err
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.logger.InfoWithFields("Connected to redis", logging.Field("address", opts.Addr), logging.Field("db", opts.DB))
	return nil
}

// resolveAddress prefers the Consul key and falls back to local config.
func (m *Module) resolveAddress(ctx context.Context) (string, error) {
	value, found, err := m.kv.Get(ctx, m.cfg.ConsulKey)
	if err != nil {
		return "", fmt.Errorf("failed to read redis address: %w", err)
	}
	if found && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}

	if m.cfg.Address != "" {
		m.logger.Warn("Consul key %s not set, using configured redis address", m.cfg.ConsulKey)
		return m.cfg.Address, nil
	}

	return "", fmt.Errorf("redis address not found in consul key %q or config", m.cfg.ConsulKey)
}

// parseAddress accepts redis:// or rediss:// URLs and bare host:port.
func parseAddress(address string) (*goredis.Options, error) {
	if strings.Contains(address, "://") {
		opts, err := goredis.ParseURL(address)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url %q: %w", address, err)
		}
		return opts, nil
	}
	return &goredis.Options{Addr: address}, nil
}

// Stop closes the client. Calling it more than once is safe.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	m.logger.Info("Redis connection closed")
	return nil
}

// Client returns the underlying client, or nil when not connected.
func (m *Module) Client() *goredis.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

func (m *Module) connected() (*goredis.Client, error) {
	client := m.Client()
	if client == nil {
		return nil, ErrNotConnected
	}
	return client, nil
}

// Get returns the string at key; found is false when the key does not exist.
func (m *Module) Get(ctx context.Context, key string) (string, bool, error) {
	client, err := m.connected()
	if err != nil {
		return "", false, err
	}

	value, err := client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores value at key. A zero ttl means no expiry.
func (m *Module) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	client, err := m.connected()
	if err != nil {
		return err
	}
	return client.Set(ctx, key, value, ttl).Err()
}

// Del removes keys and returns how many existed.
func (m *Module) Del(ctx context.Context, keys ...string) (int64, error) {
	client, err := m.connected()
	if err != nil {
		return 0, err
	}
	return client.Del(ctx, keys...).Result()
}
