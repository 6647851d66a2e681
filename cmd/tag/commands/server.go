package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shiftsad/gameserver/internal/config"
	"github.com/shiftsad/gameserver/internal/consul"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/shiftsad/gameserver/internal/logging"
	"github.com/shiftsad/gameserver/internal/metrics"
	"github.com/shiftsad/gameserver/internal/namegen"
	"github.com/shiftsad/gameserver/internal/publisher"
	"github.com/shiftsad/gameserver/internal/redis"
	"github.com/shiftsad/gameserver/internal/server"
	"github.com/shiftsad/gameserver/internal/tracing"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath         string
	serverName         string
	serverHost         string
	serverPort         int
	consulAddr         string
	metricsAddr        string
	publishPrefix      string
	shutdownTimeout    time.Duration
	tracingEnabled     bool
	tracingEndpoint    string
	tracingTLSCAPath   string
	tracingTLSInsecure bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the game server",
	Long: `Start a tag game server. Configuration is read from defaults, the optional
--config file, GAMESERVER_* and PORT/CONSUL_HOST/CONSUL_PORT environment
variables and finally the flags below.`,
	Run: runServer,
}

func init() {
	serverCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file (optional, reloaded on change)")
	serverCmd.Flags().StringVar(&serverName, "name", "", "Server name (default: random Animal-Color-Adjective)")
	serverCmd.Flags().StringVar(&serverHost, "host", "0.0.0.0", "Address the game listener binds to")
	serverCmd.Flags().IntVar(&serverPort, "port", config.DefaultPort, "Port the game listener binds to")
	serverCmd.Flags().StringVar(&consulAddr, "consul-addr", "", "Consul HTTP address (host:port)")
	serverCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (enables metrics)")
	serverCmd.Flags().StringVar(&publishPrefix, "publish-prefix", "", "Consul key prefix the server is published under")
	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Grace period for each module on shutdown")
	serverCmd.Flags().BoolVar(&tracingEnabled, "tracing-enabled", false, "Enable OpenTelemetry tracing (default: false)")
	serverCmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "", "OTLP gRPC endpoint for traces (e.g., otel-collector:4317)")
	serverCmd.Flags().StringVar(&tracingTLSCAPath, "tracing-tls-ca", "", "Path to CA certificate for TLS verification (optional)")
	serverCmd.Flags().BoolVar(&tracingTLSInsecure, "tracing-tls-insecure", false, "Skip TLS certificate verification (insecure, use only for testing)")
}

func runServer(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(configPath)
	HandleError(err, "Failed to load configuration")

	applyFlagOverrides(cfg, cmd.Flags())

	// --log-level wins over the file; the file wins over LOG_LEVEL_*.
	pinned := pinnedLogLevels(cmd)
	HandleError(setupLog(cfg.Log.Levels, pinned), "Failed to parse log level")

	HandleError(cfg.Validate(), "Invalid configuration")

	logger := logging.GetLogger(gameName)
	logger.Info("Starting %s server %s v%s", cfg.Server.Game, cfg.Server.Name, Version)

	srv, err := buildServer(cfg, configPath, pinned, metrics.NewRegistry())
	HandleError(err, "Failed to create server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error: %v", err)
		stop()
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}

// applyFlagOverrides copies explicitly set flags over the loaded config and
// fills in the name and game when nothing configured them.
func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("name") {
		cfg.Server.Name = serverName
	}
	if flags.Changed("host") {
		cfg.Server.Host = serverHost
	}
	if flags.Changed("port") {
		cfg.Server.Port = serverPort
		if serverPort == 0 {
			cfg.Server.Port = config.DefaultPort
		}
	}
	if flags.Changed("consul-addr") {
		cfg.Consul.Address = consulAddr
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = metricsAddr != ""
		cfg.Metrics.Address = metricsAddr
	}
	if flags.Changed("publish-prefix") {
		cfg.Publisher.KeyPrefix = publishPrefix
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = shutdownTimeout
	}
	if flags.Changed("tracing-enabled") {
		cfg.Tracing.Enabled = tracingEnabled
	}
	if flags.Changed("tracing-endpoint") {
		cfg.Tracing.Endpoint = tracingEndpoint
	}
	if flags.Changed("tracing-tls-ca") {
		cfg.Tracing.TLSCAPath = tracingTLSCAPath
	}
	if flags.Changed("tracing-tls-insecure") {
		cfg.Tracing.TLSInsecure = tracingTLSInsecure
	}

	if cfg.Server.Game == "" {
		cfg.Server.Game = gameName
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = namegen.RandomName(namegen.Animal, namegen.Color, namegen.Adjective)
	}
}

// buildServer wires the modules of a game server. The config watcher is only
// added when a config file is in use, and the metrics module only when enabled.
// pinnedLevels are re-applied on top of the file whenever it is reloaded.
func buildServer(cfg *config.Config, configPath string, pinnedLevels []string, reg *prometheus.Registry) (*server.Server, error) {
	kv := consul.New(cfg.Consul)

	modules := []lifecycle.Module{
		tracing.New(cfg.Tracing, "gameserver-"+cfg.Server.Game, Version),
		kv,
		redis.New(kv, cfg.Redis),
		publisher.New(kv, cfg.Publisher.KeyPrefix, cfg.Server.Name, cfg.Server.Port),
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, 0, config.LogLevelReloader(pinnedLevels))
		if err != nil {
			return nil, err
		}
		modules = append(modules, watcher)
	}

	srv, err := server.New(server.Config{
		Game:            cfg.Server.Game,
		Name:            cfg.Server.Name,
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		MaxPlayers:      cfg.Server.MaxPlayers,
		MOTD:            cfg.Server.MOTD,
		VersionName:     cfg.Server.VersionName,
		ProtocolVersion: int32(cfg.Server.ProtocolVersion),
		Modules:         modules,
		Registerer:      reg,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		// Registered after New so /healthz can report the server's own manager.
		if err := srv.Modules().Register(metrics.New(cfg.Metrics.Address, reg, srv.Modules())); err != nil {
			return nil, err
		}
	}

	return srv, nil
}
