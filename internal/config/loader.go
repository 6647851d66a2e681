package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. A double underscore separates
// key levels: GAMESERVER_CONSUL__ADDRESS sets consul.address.
const EnvPrefix = "GAMESERVER_"

// DefaultValues returns the built-in configuration as a flat koanf map.
func DefaultValues() map[string]interface{} {
	return map[string]interface{}{
		"server.game":             "",
		"server.name":             "",
		"server.host":             "0.0.0.0",
		"server.port":             DefaultPort,
		"server.max_players":      20,
		"server.motd":             "",
		"server.version_name":     "1.21.5",
		"server.protocol_version": 770,
		"consul.address":          "",
		"consul.token":            "",
		"consul.cache_ttl":        "30s",
		"consul.cache_size":       128,
		"redis.consul_key":        "redis.host",
		"redis.address":           "",
		"publisher.key_prefix":    "",
		"metrics.enabled":         false,
		"metrics.address":         ":9090",
		"tracing.enabled":         false,
		"tracing.endpoint":        "",
		"tracing.tls_ca_path":     "",
		"tracing.tls_insecure":    false,
		"log.levels":              []string{"info"},
		"shutdown_timeout":        "30s",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, GAMESERVER_* variables and finally the PORT, CONSUL_HOST and
// CONSUL_PORT variables. Later sources win. The result is not validated;
// callers apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	k, err := loadKoanf(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

func loadKoanf(path string) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(DefaultValues(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment config: %w", err)
	}

	overrides, err := legacyEnv()
	if err != nil {
		return nil, err
	}
	if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return k, nil
}

// envKey maps GAMESERVER_SERVER__MAX_PLAYERS to server.max_players.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// legacyEnv reads the variables the game images have always been deployed with.
func legacyEnv() (map[string]interface{}, error) {
	overrides := make(map[string]interface{})

	if raw, ok := os.LookupEnv("PORT"); ok && raw != "" {
		port, err := ParsePort(raw)
		if err != nil {
			return nil, err
		}
		overrides["server.port"] = port
	}

	host, hostSet := os.LookupEnv("CONSUL_HOST")
	rawPort, portSet := os.LookupEnv("CONSUL_PORT")
	if hostSet || portSet {
		port, err := strconv.Atoi(rawPort)
		if host == "" || err != nil || port <= 0 {
			return nil, NewConfigError("CONSUL_HOST or CONSUL_PORT must be set")
		}
		overrides["consul.address"] = net.JoinHostPort(host, strconv.Itoa(port))
	}

	return overrides, nil
}

// ParsePort parses a port value where 0 selects DefaultPort.
func ParsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, NewConfigError(fmt.Sprintf("invalid port %q", raw))
	}
	if port == 0 {
		return DefaultPort, nil
	}
	return port, nil
}
