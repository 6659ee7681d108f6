// internal/logging/config.go
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  zapcore.Level
	Format string // json or console
	Output OutputConfig

	Sampling SamplingConfig

	// Caller adds the calling file and line to each entry.
	Caller bool

	// Fields are attached to every entry.
	Fields map[string]string

	// RedactKeys are field names whose values are never written.
	RedactKeys []string

	// Scrubber, when set, rewrites every string field value. The secrets
	// redactor satisfies it.
	Scrubber Scrubber
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout bool
	// Stderr replaces Stdout so the stdio MCP transport owns stdout.
	Stderr bool
	OTEL   bool
}

// SamplingConfig drops repeated entries below Error within each Tick.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// Scrubber removes secrets from a string.
type Scrubber interface {
	Redact(string) string
}

// NewDefaultConfig returns JSON on stdout at info.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{"service": "taskmaster"},
		RedactKeys: []string{
			"password", "secret", "token", "api_key", "api_token",
			"authorization", "credential", "private_key",
		},
	}
}

// ParseConfig builds a default config at the named level and format.
func ParseConfig(level, format string) (*Config, error) {
	cfg := NewDefaultConfig()
	lvl, err := LevelFromString(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	if format != "" {
		cfg.Format = format
	}
	return cfg, cfg.Validate()
}

// Validate reports unusable settings.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout, stderr or otel)")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
		}
		if c.Sampling.Initial < 1 {
			return fmt.Errorf("sampling initial must be >= 1, got %d", c.Sampling.Initial)
		}
	}
	for k := range c.Fields {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("constant field names cannot be empty")
		}
	}
	return nil
}

// TraceLevel sits below Debug; it logs full command payloads.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, including "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.EqualFold(level, "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
