package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shiftsad/gameserver/internal/config"
	"github.com/shiftsad/gameserver/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_TLSConfiguration(t *testing.T) {
	badCA := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(badCA, []byte("not a certificate"), 0o600))

	tests := []struct {
		name        string
		cfg         config.TracingConfig
		expectError string
	}{
		{
			name: "TLS with insecure skip verify",
			cfg:  config.TracingConfig{Enabled: true, Endpoint: "localhost:4317", TLSInsecure: true},
		},
		{
			name:        "missing CA certificate",
			cfg:         config.TracingConfig{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: "/path/to/ca.crt"},
			expectError: "failed to read CA certificate",
		},
		{
			name:        "unparseable CA certificate",
			cfg:         config.TracingConfig{Enabled: true, Endpoint: "localhost:4317", TLSCAPath: badCA},
			expectError: "failed to append CA certificate",
		},
		{
			name: "plaintext connection",
			cfg:  config.TracingConfig{Enabled: true, Endpoint: "localhost:4317"},
		},
		{
			name:        "enabled without endpoint",
			cfg:         config.TracingConfig{Enabled: true},
			expectError: "endpoint not configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, "gameserver-test", "0.0.0")
			err := p.Initialize(context.Background())
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				assert.False(t, p.IsEnabled())
				return
			}

			require.NoError(t, err)
			assert.True(t, p.IsEnabled())
			// No collector is listening; shutdown must not hang on the flush.
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_ = p.Stop(ctx)
			assert.False(t, p.IsEnabled())
		})
	}
}

func TestProvider_Disabled(t *testing.T) {
	p := New(config.TracingConfig{}, "gameserver-test", "0.0.0")
	assert.Equal(t, "Tracing", p.Name())
	assert.Equal(t, lifecycle.Critical, p.Priority())

	require.NoError(t, p.Initialize(context.Background()))
	assert.False(t, p.IsEnabled())
	assert.NotNil(t, p.Tracer("test"))
	require.NoError(t, p.Stop(context.Background()))
}
