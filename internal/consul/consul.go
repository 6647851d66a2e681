// Package consul provides the Consul KV module other modules read their
// settings from and the server publishes itself to.
package consul

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shiftsad/gameserver/internal/config"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/shiftsad/gameserver/internal/logging"
)

// ModuleName is the name other modules use to depend on the KV module.
const ModuleName = "ConsulConfig"

// ErrNotInitialized is returned by KV operations before Initialize succeeded.
var ErrNotInitialized = errors.New("consul module is not initialized")

// KV is the key/value surface other modules depend on.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string]string, error)
}

type cacheEntry struct {
	value string
	found bool
}

// Module is a lifecycle module wrapping the Consul KV store.
type Module struct {
	cfg    config.ConsulConfig
	logger *logging.Logger

	client *api.Client
	cache  *expirable.LRU[string, cacheEntry]
}

var (
	_ lifecycle.Module = (*Module)(nil)
	_ KV               = (*Module)(nil)
)

// New creates the module. Nothing connects until Initialize.
func New(cfg config.ConsulConfig) *Module {
	return &Module{
		cfg:    cfg,
		logger: logging.GetLogger("consul"),
	}
}

// Name implements lifecycle.Module
func (m *Module) Name() string {
	return ModuleName
}

// Priority implements lifecycle.Module
func (m *Module) Priority() lifecycle.BootPriority {
	return lifecycle.Critical
}

// Initialize creates the client and checks that the cluster has a leader.
func (m *Module) Initialize(ctx context.Context) error {
	if m.cfg.Address == "" {
		return fmt.Errorf("consul address must be set")
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Address = m.cfg.Address
	if m.cfg.Token != "" {
		apiCfg.Token = m.cfg.Token
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return fmt.Errorf("failed to create consul client: %w", err)
	}

	leader, err := client.Status().LeaderWithQueryOptions((&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reach consul at %s: %w", m.cfg.Address, err)
	}
	if leader == "" {
		return fmt.Errorf("consul at %s has no leader", m.cfg.Address)
	}

	m.client = client
	if m.cfg.CacheTTL > 0 && m.cfg.CacheSize > 0 {
		m.cache = expirable.NewLRU[string, cacheEntry](m.cfg.CacheSize, nil, m.cfg.CacheTTL)
	}

	m.logger.InfoWithFields("Connected to consul",
		logging.Field("address", m.cfg.Address),
		logging.Field("leader", leader),
		logging.Field("cache_ttl", m.cfg.CacheTTL),
	)
	return nil
}

// Stop drops cached reads. The HTTP client holds no long-lived resources.
func (m *Module) Stop(ctx context.Context) error {
	if m.cache != nil {
		m.cache.Purge()
	}
	return nil
}

func (m *Module) kv() (*api.KV, error) {
	if m.client == nil {
		return nil, ErrNotInitialized
	}
	return m.client.KV(), nil
}

// Get returns the value stored under key. A missing key, or one with a nil
// value, returns found=false and no error.
func (m *Module) Get(ctx context.Context, key string) (string, bool, error) {
	if m.cache != nil {
		if entry, ok := m.cache.Get(key); ok {
			return entry.value, entry.found, nil
		}
	}

	kv, err := m.kv()
	if err != nil {
		return "", false, err
	}

	pair, _, err := kv.Get(key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return "", false, fmt.Errorf("failed to read consul key %q: %w", key, err)
	}

	entry := cacheEntry{}
	if pair != nil && pair.Value != nil {
		entry = cacheEntry{value: string(pair.Value), found: true}
	}

	if m.cache != nil {
		m.cache.Add(key, entry)
	}
	return entry.value, entry.found, nil
}

// Set stores value under key.
func (m *Module) Set(ctx context.Context, key, value string) error {
	kv, err := m.kv()
	if err != nil {
		return err
	}

	pair := &api.KVPair{Key: key, Value: []byte(value)}
	if _, err := kv.Put(pair, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to write consul key %q: %w", key, err)
	}

	m.invalidate(key)
	m.logger.Debug("Set %s", key)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Module) Delete(ctx context.Context, key string) error {
	kv, err := m.kv()
	if err != nil {
		return err
	}

	if _, err := kv.Delete(key, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete consul key %q: %w", key, err)
	}

	m.invalidate(key)
	m.logger.Debug("Deleted %s", key)
	return nil
}

// List returns every key under prefix with the prefix and one leading "/"
// stripped. Keys with nil values are skipped. List is never cached.
func (m *Module) List(ctx context.Context, prefix string) (map[string]string, error) {
	kv, err := m.kv()
	if err != nil {
		return nil, err
	}

	pairs, _, err := kv.List(prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list consul prefix %q: %w", prefix, err)
	}

	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if pair == nil || pair.Value == nil {
			continue
		}
		values[trimKey(pair.Key, prefix)] = string(pair.Value)
	}
	return values, nil
}

func trimKey(key, prefix string) string {
	if strings.HasPrefix(key, prefix) {
		key = strings.TrimPrefix(key, prefix)
		key = strings.TrimPrefix(key, "/")
	}
	return key
}

func (m *Module) invalidate(key string) {
	if m.cache != nil {
		m.cache.Remove(key)
	}
}
