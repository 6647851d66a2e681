package commands

import (
	"fmt"
	"os"

	"github.com/shiftsad/gameserver/internal/config"
	"github.com/shiftsad/gameserver/internal/logging"
	"github.com/spf13/cobra"
)

const Version = "0.1.0"

// gameName is the game mode this binary serves.
const gameName = "tag"

var (
	logLevelFlags []string // Supports multiple --log-level flags
)

var rootCmd = &cobra.Command{
	Use:   gameName,
	Short: "Tag - Minecraft game server",
	Long: `Tag runs a single game server instance. It reads shared configuration
from Consul, connects to Redis and announces itself so proxies can route
players to it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level consul=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level lifecycle=debug --log-level server=warn")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// setupLog initializes the logging system from LOG_LEVEL_* environment
// variables followed by each group of specs; later entries win.
func setupLog(specs ...[]string) error {
	defaultLevel, packageLevels, err := config.ResolveLogLevels(specs...)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// pinnedLogLevels returns the --log-level values when given explicitly. They
// take precedence over the config file, including after a reload.
func pinnedLogLevels(cmd *cobra.Command) []string {
	if !cmd.Flags().Changed("log-level") {
		return nil
	}
	return logLevelFlags
}
