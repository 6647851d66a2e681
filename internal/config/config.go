package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/shiftsad/gameserver/internal/logging"
)

// DefaultPort is the port used when none is configured.
const DefaultPort = 25565

// Config holds all configuration for a game server process
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Consul    ConsulConfig    `koanf:"consul"`
	Redis     RedisConfig     `koanf:"redis"`
	Publisher PublisherConfig `koanf:"publisher"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Log       LogConfig       `koanf:"log"`

	// ShutdownTimeout is the grace period given to each module on shutdown
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ServerConfig describes the game server itself
type ServerConfig struct {
	// Game is the game mode this server runs (e.g. "tag")
	Game string `koanf:"game"`

	// Name identifies this server instance; generated when empty
	Name string `koanf:"name"`

	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	MaxPlayers      int    `koanf:"max_players"`
	MOTD            string `koanf:"motd"`
	VersionName     string `koanf:"version_name"`
	ProtocolVersion int    `koanf:"protocol_version"`
}

// ConsulConfig configures the Consul KV client
type ConsulConfig struct {
	// Address is host:port of the Consul HTTP API
	Address string `koanf:"address"`
	Token   string `koanf:"token"`

	// CacheTTL bounds how long KV reads are cached; 0 disables the cache
	CacheTTL  time.Duration `koanf:"cache_ttl"`
	CacheSize int           `koanf:"cache_size"`
}

// RedisConfig configures the Redis connection
type RedisConfig struct {
	// ConsulKey is the Consul key holding the Redis address
	ConsulKey string `koanf:"consul_key"`

	// Address is used when ConsulKey is missing from Consul
	Address string `koanf:"address"`
}

// PublisherConfig configures how the server announces itself in Consul
type PublisherConfig struct {
	KeyPrefix string `koanf:"key_prefix"`
}

// MetricsConfig configures the metrics and health HTTP endpoint
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"`
}

// TracingConfig configures OpenTelemetry trace export
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	TLSCAPath   string `koanf:"tls_ca_path"`
	TLSInsecure bool   `koanf:"tls_insecure"`
}

// LogConfig holds the log level specs, in --log-level format
// ("info", "consul=debug", "server.*=warn").
type LogConfig struct {
	Levels []string `koanf:"levels"`
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Game == "" {
		return NewConfigError("server.game must not be empty")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return NewConfigError("server.port must be between 1 and 65535")
	}

	if c.Server.MaxPlayers < 0 {
		return NewConfigError("server.max_players must not be negative")
	}

	if c.Server.VersionName != "" {
		if _, err := version.NewVersion(c.Server.VersionName); err != nil {
			return NewConfigError(fmt.Sprintf("server.version_name %q is not a valid version: %v", c.Server.VersionName, err))
		}
	}

	if c.Consul.CacheTTL < 0 {
		return NewConfigError("consul.cache_ttl must not be negative")
	}

	if c.Consul.CacheTTL > 0 && c.Consul.CacheSize < 1 {
		return NewConfigError("consul.cache_size must be at least 1 when the cache is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return NewConfigError("metrics.address must be set when metrics are enabled")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	if c.ShutdownTimeout <= 0 {
		return NewConfigError("shutdown_timeout must be positive")
	}

	if _, _, err := ParseLogLevels(c.Log.Levels); err != nil {
		return NewConfigError(err.Error())
	}

	return nil
}

// ParseLogLevels splits level specs into a default level and per-package
// levels. A bare level ("debug") sets the default; "pkg=level" sets a package.
// The default is "info" when no bare level is given.
func ParseLogLevels(specs []string) (string, map[string]string, error) {
	defaultLevel := "info"
	packages := make(map[string]string)

	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}

		pkg, level, found := strings.Cut(spec, "=")
		if !found {
			defaultLevel = spec
			continue
		}
		if pkg == "default" {
			defaultLevel = level
			continue
		}
		packages[pkg] = level
	}

	if err := logging.ValidateLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range packages {
		if err := logging.ValidateLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %w", pkg, err)
		}
	}

	return defaultLevel, packages, nil
}

// EnvLogLevels returns LOG_LEVEL_* variables as level specs:
// LOG_LEVEL_CONFIG_WATCHER=debug becomes "config.watcher=debug" and
// LOG_LEVEL_DEFAULT=warn becomes "default=warn".
func EnvLogLevels() []string {
	var specs []string
	for _, envPair := range os.Environ() {
		key, level, ok := strings.Cut(envPair, "=")
		if !ok || !strings.HasPrefix(key, "LOG_LEVEL_") {
			continue
		}
		specs = append(specs, EnvKeyToPackageName(key)+"="+level)
	}
	sort.Strings(specs)
	return specs
}

// EnvKeyToPackageName converts LOG_LEVEL_CONFIG_WATCHER -> config.watcher
func EnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// ResolveLogLevels parses the LOG_LEVEL_* variables followed by each group
// of specs; later entries win.
func ResolveLogLevels(specs ...[]string) (string, map[string]string, error) {
	merged := EnvLogLevels()
	for _, group := range specs {
		merged = append(merged, group...)
	}
	return ParseLogLevels(merged)
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
