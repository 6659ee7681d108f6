package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "taskmaster", cfg.ServiceName)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	enabled := func(mutate func(*Config)) *Config {
		cfg := NewDefaultConfig()
		cfg.Enabled = true
		mutate(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		config *Config
		errMsg string
	}{
		{
			name:   "disabled config skips validation",
			config: &Config{Enabled: false},
		},
		{
			name:   "enabled defaults",
			config: enabled(func(*Config) {}),
		},
		{
			name:   "missing endpoint",
			config: enabled(func(c *Config) { c.Endpoint = "" }),
			errMsg: "endpoint is required",
		},
		{
			name:   "missing service name",
			config: enabled(func(c *Config) { c.ServiceName = "" }),
			errMsg: "service_name is required",
		},
		{
			name:   "unknown protocol",
			config: enabled(func(c *Config) { c.Protocol = "thrift" }),
			errMsg: "telemetry.protocol",
		},
		{
			name:   "http protocol",
			config: enabled(func(c *Config) { c.Protocol = ProtocolHTTP }),
		},
		{
			name: "insecure remote endpoint",
			config: enabled(func(c *Config) {
				c.Endpoint = "otel.example.com:4317"
			}),
			errMsg: "only allowed for local endpoints",
		},
		{
			name: "tls remote endpoint",
			config: enabled(func(c *Config) {
				c.Endpoint = "https://otel.example.com:4318"
				c.Insecure = false
			}),
		},
		{
			name:   "sampling rate too low",
			config: enabled(func(c *Config) { c.Sampling.Rate = -0.1 }),
			errMsg: "sampling.rate",
		},
		{
			name:   "sampling rate too high",
			config: enabled(func(c *Config) { c.Sampling.Rate = 1.5 }),
			errMsg: "sampling.rate",
		},
		{
			name:   "zero export interval",
			config: enabled(func(c *Config) { c.Metrics.ExportInterval = 0 }),
			errMsg: "export_interval",
		},
		{
			name: "zero export interval with metrics off",
			config: enabled(func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.ExportInterval = 0
			}),
		},
		{
			name:   "zero shutdown timeout",
			config: enabled(func(c *Config) { c.Shutdown.Timeout = 0 }),
			errMsg: "shutdown.timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.Equal(t, taskerr.CodeConfigInvalid, taskerr.CodeOf(err))
		})
	}
}

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		isLocal  bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"http://localhost:4318", true},
		{"127.0.0.1:4317", true},
		{"127.0.1.1:4317", true},
		{"[::1]:4317", true},
		{"::1:4317", true},
		{"::1", true},
		{"collector.prod:4317", false},
		{"https://otel.example.com", false},
		{"192.168.1.1:4317", false},
		{"localhost.evil.com:4317", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.isLocal, cfg.isLocalEndpoint())
		})
	}
}
