package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	configName      = ".swarmsh"
	configType      = "yaml"
	envPrefix       = "SWARMSH"
	envKeySeparator = "_"
)

// envAliases binds the environment names honored verbatim, without the
// SWARMSH_ prefix, for compatibility with existing agent harnesses.
var envAliases = []struct {
	key string
	env string
}{
	{"coordination_dir", "COORDINATION_DIR"},
	{"service.name", "OTEL_SERVICE_NAME"},
	{"service.version", "OTEL_SERVICE_VERSION"},
	{"telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT"},
	{"telemetry.max_spans", "MAX_SPANS"},
	{"telemetry.force_trace_id", "FORCE_TRACE_ID"},
	{"store.lock_timeout_seconds", "LOCK_TIMEOUT_SECONDS"},
	{"store.max_fast_path", "MAX_FAST_PATH"},
	{"engine.max_work_active", "MAX_WORK_ACTIVE"},
	{"engine.stale_work_ttl_hours", "STALE_WORK_TTL_HOURS"},
}

// Load reads configuration from file and environment variables.
// Precedence is environment over config file over defaults. A missing
// config file is not an error; a malformed one is.
func Load(configPath string) (*Config, error) {
	// Opportunistic .env preload so aliases work in bare shells.
	_ = godotenv.Load()

	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	for _, alias := range envAliases {
		bindErr := viperCfg.BindEnv(alias.key, alias.env)
		if bindErr != nil {
			return nil, fmt.Errorf("bind env %s: %w", alias.env, bindErr)
		}
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		if home, homeErr := os.UserHomeDir(); homeErr == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("coordination_dir", DefaultCoordinationDir)

	viperCfg.SetDefault("service.name", DefaultServiceName)
	viperCfg.SetDefault("service.version", DefaultServiceVersion)

	viperCfg.SetDefault("store.lock_timeout_seconds", DefaultLockTimeoutSeconds)
	viperCfg.SetDefault("store.max_fast_path", DefaultMaxFastPath)

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.max_spans", DefaultMaxSpans)
	viperCfg.SetDefault("telemetry.retain_spans", DefaultRetainSpans)
	viperCfg.SetDefault("telemetry.sampling", DefaultSampling)
	viperCfg.SetDefault("telemetry.force_trace_id", "")
	viperCfg.SetDefault("telemetry.compress_archives", false)

	viperCfg.SetDefault("engine.max_work_active", DefaultMaxWorkActive)
	viperCfg.SetDefault("engine.max_retries", DefaultMaxRetries)
	viperCfg.SetDefault("engine.stale_work_ttl_hours", DefaultStaleWorkTTLHours)

	viperCfg.SetDefault("optimizer.agent_load_max", DefaultAgentLoadMax)
	viperCfg.SetDefault("optimizer.agent_load_min", DefaultAgentLoadMin)
	viperCfg.SetDefault("optimizer.move_cap", DefaultMoveCap)
	viperCfg.SetDefault("optimizer.team_variance_threshold", DefaultTeamVarianceThreshold)
	viperCfg.SetDefault("optimizer.archive_after_hours", DefaultArchiveAfterHours)

	viperCfg.SetDefault("scheduler.workers", DefaultSchedulerWorkers)
	viperCfg.SetDefault("scheduler.aggressive", false)
	viperCfg.SetDefault("scheduler.health_interval", DefaultHealthInterval)
	viperCfg.SetDefault("scheduler.optimize_interval", DefaultOptimizeInterval)
	viperCfg.SetDefault("scheduler.analyze_interval", DefaultAnalyzeInterval)
	viperCfg.SetDefault("scheduler.telemetry_interval", DefaultTelemetryInterval)
	viperCfg.SetDefault("scheduler.stale_interval", DefaultStaleInterval)
	viperCfg.SetDefault("scheduler.work_archive_at", DefaultWorkArchiveAt)
	viperCfg.SetDefault("scheduler.job_timeout", DefaultJobTimeout)

	viperCfg.SetDefault("advisor.command", "")
	viperCfg.SetDefault("advisor.timeout_seconds", DefaultAdvisorTimeoutSeconds)

	viperCfg.SetDefault("isolation.base_port", DefaultBasePort)
	viperCfg.SetDefault("isolation.ports_per_env", DefaultPortsPerEnv)
	viperCfg.SetDefault("isolation.lease_ttl_hours", DefaultLeaseTTLHours)

	viperCfg.SetDefault("log.level", DefaultLogLevel)
	viperCfg.SetDefault("log.format", DefaultLogFormat)

	viperCfg.SetDefault("diagnostics.addr", DefaultDiagnosticsAddr)
}
