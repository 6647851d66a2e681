package commands

import (
	"testing"

	"github.com/shiftsad/gameserver/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLogLevels_FlagsOverEnv(t *testing.T) {
	tests := []struct {
		name          string
		flags         []string
		env           map[string]string
		wantDefault   string
		wantPackages  map[string]string
		expectedError bool
	}{
		{
			name:         "bare level sets default",
			flags:        []string{"debug"},
			wantDefault:  "debug",
			wantPackages: map[string]string{},
		},
		{
			name:         "per-package levels",
			flags:        []string{"default=warn", "lifecycle=debug", "server=error"},
			wantDefault:  "warn",
			wantPackages: map[string]string{"lifecycle": "debug", "server": "error"},
		},
		{
			name:         "env vars become package levels",
			flags:        []string{"info"},
			env:          map[string]string{"LOG_LEVEL_CONFIG_WATCHER": "debug"},
			wantDefault:  "info",
			wantPackages: map[string]string{"config.watcher": "debug"},
		},
		{
			name:         "flags override env",
			flags:        []string{"consul=error"},
			env:          map[string]string{"LOG_LEVEL_CONSUL": "debug", "LOG_LEVEL_DEFAULT": "warn"},
			wantDefault:  "warn",
			wantPackages: map[string]string{"consul": "error"},
		},
		{
			name:          "invalid default level",
			flags:         []string{"verbose"},
			expectedError: true,
		},
		{
			name:          "invalid package level from env",
			env:           map[string]string{"LOG_LEVEL_REDIS": "loud"},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			defaultLevel, packages, err := config.ResolveLogLevels(tt.flags)
			if tt.expectedError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantDefault, defaultLevel)
			assert.Equal(t, tt.wantPackages, packages)
		})
	}
}

func TestPinnedLogLevels(t *testing.T) {
	prev := logLevelFlags
	t.Cleanup(func() { logLevelFlags = prev })

	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().StringSliceVar(&logLevelFlags, "log-level", []string{"info"}, "")
	assert.Nil(t, pinnedLogLevels(cmd), "default flag value is not pinned")

	require.NoError(t, cmd.Flags().Set("log-level", "consul=debug"))
	assert.Equal(t, []string{"consul=debug"}, pinnedLogLevels(cmd))
}

func TestRootCommand(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "server")
	assert.Contains(t, names, "config")
	assert.Equal(t, Version, rootCmd.Version)
}
