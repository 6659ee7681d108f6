package telemetry

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// Supported OTLP protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool           `koanf:"enabled"`
	Endpoint       string         `koanf:"endpoint"`
	Protocol       string         `koanf:"protocol"`
	ServiceName    string         `koanf:"service_name"`
	ServiceVersion string         `koanf:"service_version"`
	Insecure       bool           `koanf:"insecure"`        // plaintext, local collectors only
	TLSSkipVerify  bool           `koanf:"tls_skip_verify"` // internal CAs
	Sampling       SamplingConfig `koanf:"sampling"`
	Metrics        MetricsConfig  `koanf:"metrics"`
	Shutdown       ShutdownConfig `koanf:"shutdown"`
}

// SamplingConfig controls trace sampling.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls flush on exit.
type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns defaults with export switched off. Most agents run
// taskmaster without a collector nearby.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       ProtocolGRPC,
		ServiceName:    "taskmaster",
		ServiceVersion: "dev",
		Insecure:       true,
		Sampling:       SamplingConfig{Rate: 1.0},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: 15 * time.Second,
		},
		Shutdown: ShutdownConfig{Timeout: 5 * time.Second},
	}
}

// Validate reports CONFIG_INVALID for unusable settings. A disabled config is
// always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return taskerr.ConfigError("telemetry.endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return taskerr.ConfigError("telemetry.service_name is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return taskerr.ConfigError("telemetry.protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}
	if c.Insecure && !c.isLocalEndpoint() {
		return taskerr.ConfigError("telemetry.insecure is only allowed for local endpoints, got %q", c.Endpoint)
	}
	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return taskerr.ConfigError("telemetry.sampling.rate must be between 0 and 1, got %g", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval <= 0 {
		return taskerr.ConfigError("telemetry.metrics.export_interval must be positive")
	}
	if c.Shutdown.Timeout <= 0 {
		return taskerr.ConfigError("telemetry.shutdown.timeout must be positive")
	}
	return nil
}

func (c *Config) protocol() string {
	if c.Protocol == "" {
		return ProtocolGRPC
	}
	return c.Protocol
}

// isLocalEndpoint reports whether the endpoint host is loopback.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)

	if strings.HasPrefix(host, "[") {
		// [::1]:4317 or [::1]
		if idx := strings.Index(host, "]"); idx != -1 {
			host = host[1:idx]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "::1:") ||
		strings.HasPrefix(host, "127.")
}
