// Package observability provides OpenTelemetry-based tracing, metrics,
// and structured logging for both swarmsh execution modes (CLI and
// daemon), plus the daemon's diagnostics HTTP endpoints.
package observability

import "log/slog"

// AppMode identifies the process execution mode.
type AppMode string

const (
	// ModeCLI is a short-lived command invocation.
	ModeCLI AppMode = "cli"
	// ModeDaemon is the long-running coordinator with the scheduler.
	ModeDaemon AppMode = "daemon"
)

const (
	// defaultServiceName is the default OTel service name.
	defaultServiceName = "swarmsh"

	// defaultShutdownTimeoutSec is the default shutdown timeout in seconds.
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the semantic version of the running binary.
	ServiceVersion string

	// Mode identifies how the binary was launched.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g.
	// "localhost:4317"). Empty disables export; providers become no-op.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// EnablePrometheus attaches a Prometheus registry to the meter
	// provider so the daemon can serve a /metrics scrape endpoint.
	EnablePrometheus bool

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON enables JSON-formatted log output.
	LogJSON bool

	// ShutdownTimeoutSec is the maximum seconds to wait for flush on
	// shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config with sensible defaults for zero-config
// startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ParseLevel maps a config level name onto a slog level. Unknown names
// fall back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
