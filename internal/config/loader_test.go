package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
)

// setupTestHome points HOME at a temp dir and returns the config dir inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "taskmaster")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `server:
  http_host: 0.0.0.0
  http_port: 9191
  shutdown_timeout: 3s
  api_token: s3cret
storage:
  backend: sqlite
  path: ~/data/taskmaster
  max_snapshots: 2
validation:
  strict_unknown_rules: true
review:
  max_correction_cycles: 5
nats:
  enabled: true
  url: nats://broker:4222
telemetry:
  sampling:
    rate: 0.5
logging:
  level: debug
  format: console
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	home := os.Getenv("HOME")
	assert.Equal(t, "0.0.0.0:9191", cfg.Server.Addr())
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "s3cret", cfg.Server.APIToken.Value())
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(home, "data", "taskmaster"), cfg.Storage.Path)
	assert.Equal(t, 2, cfg.Storage.MaxSnapshots)
	assert.True(t, cfg.Validation.StrictUnknownRules)
	assert.Equal(t, 5, cfg.Review.MaxCorrectionCycles)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 0.5, cfg.Telemetry.Sampling.Rate)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 20.0, cfg.Server.RateLimit)
	assert.Equal(t, "taskmaster", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "taskmaster", cfg.Telemetry.ServiceName)
	assert.Equal(t, 15*time.Second, cfg.Telemetry.Metrics.ExportInterval)
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0600)

	t.Setenv("TASKMASTER_SERVER_HTTP_PORT", "9292")
	t.Setenv("TASKMASTER_STORAGE_MAX_SNAPSHOTS", "9")
	t.Setenv("TASKMASTER_REVIEW_MAX_CORRECTION_CYCLES", "7")
	t.Setenv("TASKMASTER_TELEMETRY_SAMPLING_RATE", "0.25")
	t.Setenv("TASKMASTER_TELEMETRY_SHUTDOWN_TIMEOUT", "2s")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9292, cfg.Server.Port)
	assert.Equal(t, 9, cfg.Storage.MaxSnapshots)
	assert.Equal(t, 7, cfg.Review.MaxCorrectionCycles)
	assert.Equal(t, 0.25, cfg.Telemetry.Sampling.Rate)
	assert.Equal(t, 2*time.Second, cfg.Telemetry.Shutdown.Timeout)
}

func TestLoadWithFile_DefaultPathMissingFile(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Review, cfg.Review)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".local", "share", "taskmaster"), cfg.Storage.Path)
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server: [unclosed\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.True(t, taskerr.IsCode(err, taskerr.CodeConfigInvalid))
}

func TestLoadWithFile_Validation(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "storage:\n  backend: postgres\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.backend")
	assert.True(t, taskerr.IsCode(err, taskerr.CodeConfigInvalid))
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	for _, path := range []string{
		"/tmp/taskmaster.yaml",
		"../../../etc/passwd",
		"/etc/taskmaster-evil/config.yaml",
	} {
		t.Run(path, func(t *testing.T) {
			_, err := LoadWithFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must be in")
		})
	}
}

func TestValidateConfigPath_AllowsConfigDirs(t *testing.T) {
	dir := setupTestHome(t)

	assert.NoError(t, validateConfigPath(filepath.Join(dir, "config.yaml")))
	assert.NoError(t, validateConfigPath(filepath.Join(dir, "nested", "does-not-exist.yaml")))
	assert.NoError(t, validateConfigPath("/etc/taskmaster/config.yaml"))
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not enforced on windows")
	}
	dir := setupTestHome(t)

	for _, perm := range []os.FileMode{0644, 0666, 0640} {
		path := writeConfig(t, dir, "server:\n  http_port: 9191\n", perm)
		_, err := LoadWithFile(path)
		require.Error(t, err, "perm %v", perm)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	}
}

func TestLoadWithFile_ReadOnlyPermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9191\n", 0400)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	dir := setupTestHome(t)

	var buf bytes.Buffer
	buf.WriteString("# padding\n")
	for buf.Len() <= maxConfigFileSize {
		buf.WriteString("# xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx\n")
	}
	path := writeConfig(t, dir, buf.String(), 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"TASKMASTER_SERVER_HTTP_PORT":                 "server.http_port",
		"TASKMASTER_NATS_SUBJECT_PREFIX":              "nats.subject_prefix",
		"TASKMASTER_SECRETS_REDACTION_STRING":         "secrets.redaction_string",
		"TASKMASTER_TELEMETRY_METRICS_EXPORT_INTERVAL": "telemetry.metrics.export_interval",
		"TASKMASTER_DEBUG":                            "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())

	info, err := os.Stat(filepath.Join(home, ".config", "taskmaster"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	}
}
