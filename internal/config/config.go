// Package config loads taskmaster configuration.
//
// Values come from defaults, then ~/.config/taskmaster/config.yaml, then
// TASKMASTER_* environment variables. Validate reports CONFIG_INVALID.
package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/taskmaster/internal/secrets"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
	"github.com/fyrsmithlabs/taskmaster/internal/telemetry"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds the complete taskmaster configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Validation ValidationConfig `koanf:"validation"`
	Review     ReviewConfig     `koanf:"review"`
	NATS       NATSConfig       `koanf:"nats"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  telemetry.Config `koanf:"telemetry"`
	Secrets    secrets.Config   `koanf:"secrets"`
}

// ServerConfig holds HTTP transport settings.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RateLimit       float64       `koanf:"rate_limit"` // requests per second per client, 0 disables
	RateBurst       int           `koanf:"rate_burst"`
	APIToken        Secret        `koanf:"api_token"` // bearer token for /api, empty disables auth
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend      string `koanf:"backend"`
	Path         string `koanf:"path"`
	MaxSnapshots int    `koanf:"max_snapshots"`
}

// ValidationConfig configures the rule engine.
type ValidationConfig struct {
	StrictUnknownRules bool `koanf:"strict_unknown_rules"`
}

// ReviewConfig configures the adversarial review loop.
type ReviewConfig struct {
	MaxCorrectionCycles int `koanf:"max_correction_cycles"`
}

// NATSConfig configures session event publishing.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig holds the logging settings exposed in config files. The rest
// of the logging package defaults apply unchanged.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Storage: StorageConfig{
			Backend:      BackendFile,
			Path:         "~/.local/share/taskmaster",
			MaxSnapshots: 5,
		},
		Review:    ReviewConfig{MaxCorrectionCycles: 3},
		NATS:      NATSConfig{URL: "nats://127.0.0.1:4222", SubjectPrefix: "taskmaster"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Telemetry: *telemetry.NewDefaultConfig(),
		Secrets:   *secrets.DefaultConfig(),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return taskerr.ConfigError("server.http_port must be between 0 and 65535, got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return taskerr.ConfigError("server.shutdown_timeout must be positive")
	}
	if c.Server.RateLimit < 0 {
		return taskerr.ConfigError("server.rate_limit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return taskerr.ConfigError("server.rate_burst must be at least 1 when rate limiting is on")
	}

	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		return taskerr.ConfigError("storage.backend must be %q or %q, got %q", BackendFile, BackendSQLite, c.Storage.Backend)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return taskerr.ConfigError("storage.path is required")
	}
	if c.Storage.MaxSnapshots < 0 {
		return taskerr.ConfigError("storage.max_snapshots must not be negative")
	}

	if c.Review.MaxCorrectionCycles < 1 {
		return taskerr.ConfigError("review.max_correction_cycles must be at least 1, got %d", c.Review.MaxCorrectionCycles)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return taskerr.ConfigError("nats.url is required when nats is enabled")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return taskerr.ConfigError("logging.format must be json or console, got %q", c.Logging.Format)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if err := c.Secrets.Validate(); err != nil {
		return taskerr.Wrap(taskerr.KindConfiguration, taskerr.CodeConfigInvalid, err, "secrets")
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
