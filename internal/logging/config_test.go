package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Stdout)
	assert.Contains(t, cfg.RedactKeys, "api_token")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad format", func(c *Config) { c.Format = "xml" }, "format"},
		{"no output", func(c *Config) { c.Output = OutputConfig{} }, "output"},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, "tick"},
		{"zero initial", func(c *Config) { c.Sampling.Initial = 0 }, "initial"},
		{"sampling off ignores tick", func(c *Config) { c.Sampling = SamplingConfig{Tick: -time.Second} }, ""},
		{"empty field name", func(c *Config) { c.Fields[" "] = "x" }, "field"},
		{"stderr only", func(c *Config) { c.Output = OutputConfig{Stderr: true} }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig("debug", "console")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg, err = ParseConfig("warn", "")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Format)

	_, err = ParseConfig("loud", "json")
	assert.Error(t, err)

	_, err = ParseConfig("info", "xml")
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]zapcore.Level{
		"trace": TraceLevel,
		"TRACE": TraceLevel,
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for in, want := range tests {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := LevelFromString("verbose")
	assert.Error(t, err)
}
