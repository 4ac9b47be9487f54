package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmsh/swarmsh/internal/config"
)

// writeConfigFile drops a config file into a temp dir and returns its path.
func writeConfigFile(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "swarmsh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoad_EmptyFile_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultServiceName, cfg.Service.Name)
	assert.Equal(t, config.DefaultLockTimeoutSeconds, cfg.Store.LockTimeoutSeconds)
	assert.Equal(t, config.DefaultMaxSpans, cfg.Telemetry.MaxSpans)
	assert.Equal(t, config.DefaultRetainSpans, cfg.Telemetry.RetainSpans)
	assert.Equal(t, config.DefaultSampling, cfg.Telemetry.Sampling)
	assert.Equal(t, config.DefaultMaxWorkActive, cfg.Engine.MaxWorkActive)
	assert.Equal(t, config.DefaultMaxRetries, cfg.Engine.MaxRetries)
	assert.Equal(t, config.DefaultAgentLoadMax, cfg.Optimizer.AgentLoadMax)
	assert.Equal(t, config.DefaultHealthInterval, cfg.Scheduler.HealthInterval)
	assert.Equal(t, config.DefaultWorkArchiveAt, cfg.Scheduler.WorkArchiveAt)
	assert.Equal(t, config.DefaultJobTimeout, cfg.Scheduler.JobTimeout)
	assert.Equal(t, config.DefaultDiagnosticsAddr, cfg.Diagnostics.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
coordination_dir: /var/lib/swarm
store:
  lock_timeout_seconds: 5
telemetry:
  sampling: "ratio:0.5"
scheduler:
  health_interval: 45m
  workers: 2
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/swarm", cfg.CoordinationDir)
	assert.Equal(t, 5, cfg.Store.LockTimeoutSeconds)
	assert.Equal(t, "ratio:0.5", cfg.Telemetry.Sampling)
	assert.Equal(t, 45*time.Minute, cfg.Scheduler.HealthInterval)
	assert.Equal(t, 2, cfg.Scheduler.Workers)
}

func TestLoad_BareEnvAliases_Override(t *testing.T) {
	t.Setenv("COORDINATION_DIR", "/tmp/coord")
	t.Setenv("LOCK_TIMEOUT_SECONDS", "7")
	t.Setenv("MAX_SPANS", "2000")
	t.Setenv("MAX_WORK_ACTIVE", "12")
	t.Setenv("MAX_FAST_PATH", "333")
	t.Setenv("STALE_WORK_TTL_HOURS", "1")
	t.Setenv("OTEL_SERVICE_NAME", "swarm-ci")
	t.Setenv("OTEL_SERVICE_VERSION", "1.2.3")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	t.Setenv("FORCE_TRACE_ID", "4bf92f3577b34da6a3ce929d0e0e4736")

	cfg, err := config.Load(writeConfigFile(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/coord", cfg.CoordinationDir)
	assert.Equal(t, 7, cfg.Store.LockTimeoutSeconds)
	assert.Equal(t, 2000, cfg.Telemetry.MaxSpans)
	assert.Equal(t, 12, cfg.Engine.MaxWorkActive)
	assert.Equal(t, 333, cfg.Store.MaxFastPath)
	assert.Equal(t, 1, cfg.Engine.StaleWorkTTLHours)
	assert.Equal(t, "swarm-ci", cfg.Service.Name)
	assert.Equal(t, "1.2.3", cfg.Service.Version)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", cfg.Telemetry.ForceTraceID)
}

func TestLoad_PrefixedEnv_Override(t *testing.T) {
	t.Setenv("SWARMSH_STORE_LOCK_TIMEOUT_SECONDS", "9")
	t.Setenv("SWARMSH_SCHEDULER_AGGRESSIVE", "true")

	cfg, err := config.Load(writeConfigFile(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Store.LockTimeoutSeconds)
	assert.True(t, cfg.Scheduler.Aggressive)
}

func TestLoad_MissingExplicitFile_ReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedFile_ReturnsError(t *testing.T) {
	path := writeConfigFile(t, "{unbalanced")

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_RejectedValue_ReturnsValidationError(t *testing.T) {
	path := writeConfigFile(t, "store:\n  lock_timeout_seconds: -5\n")

	_, err := config.Load(path)
	assert.ErrorIs(t, err, config.ErrInvalidLockTimeout)
}
