package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix marks environment variables read by LoadWithFile.
	EnvPrefix = "TASKMASTER_"
)

// nestedEnvKeys maps flattened env keys onto nested config paths. Everything
// else splits on the first underscore into section.field.
var nestedEnvKeys = map[string]string{
	"telemetry.sampling_rate":           "telemetry.sampling.rate",
	"telemetry.metrics_enabled":         "telemetry.metrics.enabled",
	"telemetry.metrics_export_interval": "telemetry.metrics.export_interval",
	"telemetry.shutdown_timeout":        "telemetry.shutdown.timeout",
}

// DefaultPath returns ~/.config/taskmaster/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Dir returns ~/.config/taskmaster.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "taskmaster"), nil
}

// LoadWithFile loads defaults, then the YAML file at configPath if it exists,
// then TASKMASTER_* environment variables.
//
// An empty configPath means ~/.config/taskmaster/config.yaml. The file must
// live under ~/.config/taskmaster/ or /etc/taskmaster/, be 0600 or 0400, and
// be at most 1MB.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	TASKMASTER_SERVER_HTTP_PORT      -> server.http_port
//	TASKMASTER_STORAGE_BACKEND       -> storage.backend
//	TASKMASTER_TELEMETRY_SAMPLING_RATE -> telemetry.sampling.rate
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, taskerr.Wrap(taskerr.KindConfiguration, taskerr.CodeConfigInvalid, err, "config path %s", configPath)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, taskerr.Wrap(taskerr.KindConfiguration, taskerr.CodeConfigInvalid, err, "config file %s", configPath)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, taskerr.Wrap(taskerr.KindConfiguration, taskerr.CodeConfigInvalid, err, "parse config file %s", configPath)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, taskerr.Wrap(taskerr.KindConfiguration, taskerr.CodeConfigInvalid, err, "decode config")
	}

	path, err := ExpandHome(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("expand storage.path: %w", err)
	}
	cfg.Storage.Path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps TASKMASTER_SERVER_HTTP_PORT to server.http_port.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	key := parts[0] + "." + parts[1]
	if nested, ok := nestedEnvKeys[key]; ok {
		return nested
	}
	return key
}

// readConfigFile validates and reads the file through one descriptor so the
// checked file is the one read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// EnsureConfigDir creates ~/.config/taskmaster with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath checks that path resolves inside an allowed directory.
// The file itself need not exist.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so a link cannot escape the allowed dirs.
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolved = absPath
	}

	userDir, err := Dir()
	if err != nil {
		return err
	}
	allowed := []string{userDir, "/etc/taskmaster"}
	for _, dir := range allowed {
		if real, err := filepath.EvalSymlinks(dir); err == nil && real != dir {
			allowed = append(allowed, real)
		}
	}
	for _, dir := range allowed {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/taskmaster/ or /etc/taskmaster/")
}

// validateConfigFileProperties checks permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
