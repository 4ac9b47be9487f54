package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmsh/swarmsh/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		CoordinationDir: "agent_coordination",
		Service: config.ServiceConfig{
			Name:    "swarmsh",
			Version: "dev",
		},
		Store: config.StoreConfig{
			LockTimeoutSeconds: 30,
			MaxFastPath:        1000,
		},
		Telemetry: config.TelemetryConfig{
			MaxSpans:    10000,
			RetainSpans: 500,
			Sampling:    config.SamplingAll,
		},
		Engine: config.EngineConfig{
			MaxWorkActive:     100,
			MaxRetries:        3,
			StaleWorkTTLHours: 24,
		},
		Optimizer: config.OptimizerConfig{
			AgentLoadMax:          4,
			AgentLoadMin:          2,
			MoveCap:               1,
			TeamVarianceThreshold: 1.0,
			ArchiveAfterHours:     24,
		},
		Scheduler: config.SchedulerConfig{
			Workers:       4,
			WorkArchiveAt: "03:00",
			JobTimeout:    10 * time.Minute,
		},
		Advisor: config.AdvisorConfig{
			TimeoutSeconds: 30,
		},
		Isolation: config.IsolationConfig{
			BasePort:      9000,
			PortsPerEnv:   10,
			LeaseTTLHours: 24,
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func TestValidate_ValidConfig_NoError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RatioSampling_NoError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Telemetry.Sampling = "ratio:0.25"

	require.NoError(t, cfg.Validate())
}

func TestValidate_EmptyCoordinationDir_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.CoordinationDir = ""

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrEmptyCoordinationDir)
}

func TestValidate_InvalidLockTimeout_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Store.LockTimeoutSeconds = 0

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidLockTimeout)
}

func TestValidate_InvalidMaxFastPath_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Store.MaxFastPath = -1

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidMaxFastPath)
}

func TestValidate_InvalidMaxSpans_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Telemetry.MaxSpans = 0

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidMaxSpans)
}

func TestValidate_RetainSpansAboveMaxSpans_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Telemetry.RetainSpans = cfg.Telemetry.MaxSpans

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidRetainSpans)
}

func TestValidate_UnknownSampling_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Telemetry.Sampling = "sometimes"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidSampling)
}

func TestValidate_RatioSamplingOutOfRange_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Telemetry.Sampling = "ratio:1.5"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidSampling)
}

func TestValidate_RatioSamplingZero_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Telemetry.Sampling = "ratio:0"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidSampling)
}

func TestValidate_MalformedForceTraceID_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Telemetry.ForceTraceID = "not-a-trace-id"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidForceTraceID)
}

func TestValidate_WellFormedForceTraceID_NoError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Telemetry.ForceTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	require.NoError(t, cfg.Validate())
}

func TestValidate_InvalidMaxWorkActive_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Engine.MaxWorkActive = 0

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidMaxWorkActive)
}

func TestValidate_NegativeMaxRetries_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Engine.MaxRetries = -1

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidMaxRetries)
}

func TestValidate_ZeroMaxRetries_NoError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Engine.MaxRetries = 0

	require.NoError(t, cfg.Validate())
}

func TestValidate_InvalidStaleTTL_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Engine.StaleWorkTTLHours = 0

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidStaleTTL)
}

func TestValidate_LoadMaxBelowLoadMin_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Optimizer.AgentLoadMax = cfg.Optimizer.AgentLoadMin

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidLoadBounds)
}

func TestValidate_InvalidMoveCap_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Optimizer.MoveCap = 0

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidMoveCap)
}

func TestValidate_InvalidWorkers_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Scheduler.Workers = 0

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidWorkers)
}

func TestValidate_ZeroJobTimeout_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Scheduler.JobTimeout = 0

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidJobTimeout)
}

func TestValidate_MalformedWorkArchiveAt_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Scheduler.WorkArchiveAt = "25:99"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidWorkArchiveAt)
}

func TestValidate_UnknownLogLevel_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestValidate_UnknownLogFormat_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	assert.ErrorIs(t, err, config.ErrInvalidLogFormat)
}

func TestParseClock_Valid(t *testing.T) {
	t.Parallel()

	hour, minute, err := config.ParseClock("03:00")
	require.NoError(t, err)
	assert.Equal(t, 3, hour)
	assert.Equal(t, 0, minute)
}

func TestParseClock_Malformed_ReturnsError(t *testing.T) {
	t.Parallel()

	_, _, err := config.ParseClock("3pm")
	require.Error(t, err)
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()

	assert.Equal(t, 30*time.Second, cfg.LockTimeout())
	assert.Equal(t, 24*time.Hour, cfg.StaleWorkTTL())
	assert.Equal(t, 24*time.Hour, cfg.ArchiveAfter())
	assert.Equal(t, 30*time.Second, cfg.AdvisorTimeout())
	assert.Equal(t, 24*time.Hour, cfg.LeaseTTL())
}
