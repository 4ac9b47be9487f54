package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/swarmsh/swarmsh/pkg/ids"
)

// Config is the top-level configuration struct for swarmsh.
// Field tags use mapstructure for viper unmarshalling. The struct is
// immutable after Load returns; components receive it by value.
type Config struct {
	// CoordinationDir is the root directory of all persisted state.
	CoordinationDir string `mapstructure:"coordination_dir"`

	Service     ServiceConfig     `mapstructure:"service"`
	Store       StoreConfig       `mapstructure:"store"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Optimizer   OptimizerConfig   `mapstructure:"optimizer"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Advisor     AdvisorConfig     `mapstructure:"advisor"`
	Isolation   IsolationConfig   `mapstructure:"isolation"`
	Log         LogConfig         `mapstructure:"log"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

// ServiceConfig identifies this deployment in telemetry.
type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// StoreConfig holds file store knobs.
type StoreConfig struct {
	// LockTimeoutSeconds bounds the wait for a collection lock.
	LockTimeoutSeconds int `mapstructure:"lock_timeout_seconds"`
	// MaxFastPath caps the fast-path claim log; older lines are dropped
	// on the next archival pass.
	MaxFastPath int `mapstructure:"max_fast_path"`
}

// TelemetryConfig holds span pipeline knobs.
type TelemetryConfig struct {
	// OTLPEndpoint enables best-effort span forwarding when non-empty.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	// MaxSpans is the span log size that triggers archival.
	MaxSpans int `mapstructure:"max_spans"`
	// RetainSpans is how many newest spans survive archival.
	RetainSpans int `mapstructure:"retain_spans"`
	// Sampling is the span sampling policy: "all", "none", or "ratio:<f>".
	Sampling string `mapstructure:"sampling"`
	// ForceTraceID overrides the root trace ID for one invocation.
	ForceTraceID string `mapstructure:"force_trace_id"`
	// CompressArchives writes lz4-compressed span archives when true.
	CompressArchives bool `mapstructure:"compress_archives"`
}

// EngineConfig holds coordination engine limits.
type EngineConfig struct {
	// MaxWorkActive is the system-wide cap on open work items.
	MaxWorkActive int `mapstructure:"max_work_active"`
	// MaxRetries bounds internal retries of lock-timeout failures.
	MaxRetries int `mapstructure:"max_retries"`
	// StaleWorkTTLHours ages out claims whose items stopped updating.
	StaleWorkTTLHours int `mapstructure:"stale_work_ttl_hours"`
}

// OptimizerConfig holds rebalancing bounds.
type OptimizerConfig struct {
	// AgentLoadMax marks an agent overloaded above this open-item count.
	AgentLoadMax int `mapstructure:"agent_load_max"`
	// AgentLoadMin marks an agent underutilized below this count.
	AgentLoadMin int `mapstructure:"agent_load_min"`
	// MoveCap bounds items moved per mutation per cycle.
	MoveCap int `mapstructure:"move_cap"`
	// TeamVarianceThreshold gates team rebalancing.
	TeamVarianceThreshold float64 `mapstructure:"team_variance_threshold"`
	// ArchiveAfterHours ages terminal items out of the primary collection.
	ArchiveAfterHours int `mapstructure:"archive_after_hours"`
}

// SchedulerConfig holds the maintenance dispatch cadences.
type SchedulerConfig struct {
	Workers    int  `mapstructure:"workers"`
	Aggressive bool `mapstructure:"aggressive"`

	HealthInterval    time.Duration `mapstructure:"health_interval"`
	OptimizeInterval  time.Duration `mapstructure:"optimize_interval"`
	AnalyzeInterval   time.Duration `mapstructure:"analyze_interval"`
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"`
	StaleInterval     time.Duration `mapstructure:"stale_interval"`
	// WorkArchiveAt is the local HH:MM of the daily work archive run.
	WorkArchiveAt string        `mapstructure:"work_archive_at"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

// AdvisorConfig holds the optional recommendation backend.
type AdvisorConfig struct {
	// Command is an external advisor executable; empty disables it.
	Command string `mapstructure:"command"`
	// TimeoutSeconds bounds a single advisor call.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// IsolationConfig holds the local environment provider knobs.
type IsolationConfig struct {
	// BasePort is the first port of the allocatable range.
	BasePort int `mapstructure:"base_port"`
	// PortsPerEnv is the size of each allocated port block.
	PortsPerEnv int `mapstructure:"ports_per_env"`
	// LeaseTTLHours ages out abandoned environments.
	LeaseTTLHours int `mapstructure:"lease_ttl_hours"`
}

// LogConfig holds structured logging output knobs.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DiagnosticsConfig holds the daemon's diagnostics HTTP endpoint.
type DiagnosticsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Sampling policy names accepted by telemetry.sampling.
const (
	SamplingAll         = "all"
	SamplingNone        = "none"
	samplingRatioPrefix = "ratio:"
)

// Sentinel errors for configuration validation.
var (
	// ErrEmptyCoordinationDir indicates no state root was configured.
	ErrEmptyCoordinationDir = errors.New("coordination_dir must not be empty")
	// ErrInvalidLockTimeout indicates the lock timeout is not positive.
	ErrInvalidLockTimeout = errors.New("store.lock_timeout_seconds must be positive")
	// ErrInvalidMaxFastPath indicates the fast-path cap is not positive.
	ErrInvalidMaxFastPath = errors.New("store.max_fast_path must be positive")
	// ErrInvalidMaxSpans indicates the span cap is not positive.
	ErrInvalidMaxSpans = errors.New("telemetry.max_spans must be positive")
	// ErrInvalidRetainSpans indicates the retention count is out of range.
	ErrInvalidRetainSpans = errors.New("telemetry.retain_spans must be positive and below telemetry.max_spans")
	// ErrInvalidSampling indicates an unknown sampling policy.
	ErrInvalidSampling = errors.New(`telemetry.sampling must be "all", "none", or "ratio:<0..1]"`)
	// ErrInvalidForceTraceID indicates the override is not a 32-char hex trace ID.
	ErrInvalidForceTraceID = errors.New("telemetry.force_trace_id must be 32 lowercase hex characters")
	// ErrInvalidMaxWorkActive indicates the open-work cap is not positive.
	ErrInvalidMaxWorkActive = errors.New("engine.max_work_active must be positive")
	// ErrInvalidMaxRetries indicates the retry bound is negative.
	ErrInvalidMaxRetries = errors.New("engine.max_retries must be non-negative")
	// ErrInvalidStaleTTL indicates the stale TTL is not positive.
	ErrInvalidStaleTTL = errors.New("engine.stale_work_ttl_hours must be positive")
	// ErrInvalidLoadBounds indicates agent_load_max does not exceed agent_load_min.
	ErrInvalidLoadBounds = errors.New("optimizer.agent_load_max must exceed optimizer.agent_load_min")
	// ErrInvalidMoveCap indicates the per-cycle move cap is not positive.
	ErrInvalidMoveCap = errors.New("optimizer.move_cap must be positive")
	// ErrInvalidWorkers indicates the scheduler pool size is not positive.
	ErrInvalidWorkers = errors.New("scheduler.workers must be positive")
	// ErrInvalidJobTimeout indicates the per-job timeout is not positive.
	ErrInvalidJobTimeout = errors.New("scheduler.job_timeout must be positive")
	// ErrInvalidWorkArchiveAt indicates a malformed daily schedule time.
	ErrInvalidWorkArchiveAt = errors.New(`scheduler.work_archive_at must be "HH:MM"`)
	// ErrInvalidLogLevel indicates an unknown log level.
	ErrInvalidLogLevel = errors.New("log.level must be debug, info, warn, or error")
	// ErrInvalidLogFormat indicates an unknown log format.
	ErrInvalidLogFormat = errors.New("log.format must be text or json")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.CoordinationDir == "" {
		return ErrEmptyCoordinationDir
	}

	storeErr := c.validateStore()
	if storeErr != nil {
		return storeErr
	}

	telemetryErr := c.validateTelemetry()
	if telemetryErr != nil {
		return telemetryErr
	}

	engineErr := c.validateEngine()
	if engineErr != nil {
		return engineErr
	}

	return c.validateRuntime()
}

func (c *Config) validateStore() error {
	if c.Store.LockTimeoutSeconds <= 0 {
		return ErrInvalidLockTimeout
	}

	if c.Store.MaxFastPath <= 0 {
		return ErrInvalidMaxFastPath
	}

	return nil
}

func (c *Config) validateTelemetry() error {
	if c.Telemetry.MaxSpans <= 0 {
		return ErrInvalidMaxSpans
	}

	if c.Telemetry.RetainSpans <= 0 || c.Telemetry.RetainSpans >= c.Telemetry.MaxSpans {
		return ErrInvalidRetainSpans
	}

	if !validSampling(c.Telemetry.Sampling) {
		return ErrInvalidSampling
	}

	if c.Telemetry.ForceTraceID != "" && !ids.IsTraceID(c.Telemetry.ForceTraceID) {
		return ErrInvalidForceTraceID
	}

	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.MaxWorkActive <= 0 {
		return ErrInvalidMaxWorkActive
	}

	if c.Engine.MaxRetries < 0 {
		return ErrInvalidMaxRetries
	}

	if c.Engine.StaleWorkTTLHours <= 0 {
		return ErrInvalidStaleTTL
	}

	return nil
}

func (c *Config) validateRuntime() error {
	if c.Optimizer.AgentLoadMax <= c.Optimizer.AgentLoadMin {
		return ErrInvalidLoadBounds
	}

	if c.Optimizer.MoveCap <= 0 {
		return ErrInvalidMoveCap
	}

	if c.Scheduler.Workers <= 0 {
		return ErrInvalidWorkers
	}

	if c.Scheduler.JobTimeout <= 0 {
		return ErrInvalidJobTimeout
	}

	_, _, clockErr := ParseClock(c.Scheduler.WorkArchiveAt)
	if clockErr != nil {
		return ErrInvalidWorkArchiveAt
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	return nil
}

func validSampling(policy string) bool {
	switch policy {
	case SamplingAll, SamplingNone:
		return true
	}

	if !strings.HasPrefix(policy, samplingRatioPrefix) {
		return false
	}

	ratio, err := strconv.ParseFloat(strings.TrimPrefix(policy, samplingRatioPrefix), 64)

	return err == nil && ratio > 0 && ratio <= 1
}

// ParseClock parses a "HH:MM" local wall-clock schedule time.
func ParseClock(value string) (hour, minute int, err error) {
	parsed, parseErr := time.Parse("15:04", value)
	if parseErr != nil {
		return 0, 0, parseErr
	}

	return parsed.Hour(), parsed.Minute(), nil
}

// LockTimeout is the bounded wait for a collection lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Store.LockTimeoutSeconds) * time.Second
}

// StaleWorkTTL is the age past which an open claim counts as stale.
func (c *Config) StaleWorkTTL() time.Duration {
	return time.Duration(c.Engine.StaleWorkTTLHours) * time.Hour
}

// ArchiveAfter is the age past which terminal items are archived.
func (c *Config) ArchiveAfter() time.Duration {
	return time.Duration(c.Optimizer.ArchiveAfterHours) * time.Hour
}

// AdvisorTimeout bounds one advisor call.
func (c *Config) AdvisorTimeout() time.Duration {
	return time.Duration(c.Advisor.TimeoutSeconds) * time.Second
}

// LeaseTTL is the age past which isolation environments are swept.
func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Isolation.LeaseTTLHours) * time.Hour
}
