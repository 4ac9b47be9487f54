package config

import "time"

// DefaultCoordinationDir is the state root when none is configured.
const DefaultCoordinationDir = "agent_coordination"

// DefaultServiceName identifies spans emitted without an explicit name.
const DefaultServiceName = "swarmsh"

// DefaultServiceVersion is used when no build version is injected.
const DefaultServiceVersion = "dev"

// DefaultLockTimeoutSeconds bounds the wait for a collection lock.
const DefaultLockTimeoutSeconds = 30

// DefaultMaxFastPath caps the fast-path claim log line count.
const DefaultMaxFastPath = 1000

// DefaultMaxSpans is the span log size that triggers archival.
const DefaultMaxSpans = 10000

// DefaultRetainSpans is how many newest spans survive archival.
const DefaultRetainSpans = 500

// DefaultSampling records every span.
const DefaultSampling = SamplingAll

// DefaultMaxWorkActive caps open work items across all agents.
const DefaultMaxWorkActive = 100

// DefaultMaxRetries bounds internal retries of lock-timeout failures.
const DefaultMaxRetries = 3

// DefaultStaleWorkTTLHours ages out claims whose items stopped updating.
const DefaultStaleWorkTTLHours = 24

// DefaultAgentLoadMax marks an agent overloaded above this open-item count.
const DefaultAgentLoadMax = 4

// DefaultAgentLoadMin marks an agent underutilized below this count.
const DefaultAgentLoadMin = 2

// DefaultMoveCap bounds items moved per mutation per optimizer cycle.
const DefaultMoveCap = 1

// DefaultTeamVarianceThreshold gates team rebalancing on load variance.
const DefaultTeamVarianceThreshold = 1.0

// DefaultArchiveAfterHours ages terminal items out of the primary collection.
const DefaultArchiveAfterHours = 24

// DefaultSchedulerWorkers sizes the maintenance job pool.
const DefaultSchedulerWorkers = 4

// DefaultHealthInterval is the health snapshot cadence.
const DefaultHealthInterval = 2 * time.Hour

// AggressiveStaleWorkTTL is the stale claim TTL the daemon pairs with
// aggressive mode's tighter health cadence.
const AggressiveStaleWorkTTL = time.Hour

// DefaultOptimizeInterval is the optimization cycle cadence.
const DefaultOptimizeInterval = time.Hour

// DefaultAnalyzeInterval is the full analysis cadence.
const DefaultAnalyzeInterval = 6 * time.Hour

// DefaultTelemetryInterval is the span archival check cadence.
const DefaultTelemetryInterval = 4 * time.Hour

// DefaultStaleInterval is the stale lock sweep cadence.
const DefaultStaleInterval = 30 * time.Minute

// DefaultWorkArchiveAt is the daily work archive wall-clock time.
const DefaultWorkArchiveAt = "03:00"

// DefaultJobTimeout bounds a single scheduled job run.
const DefaultJobTimeout = 10 * time.Minute

// DefaultAdvisorTimeoutSeconds bounds one advisor call.
const DefaultAdvisorTimeoutSeconds = 30

// DefaultBasePort is the first port of the isolation allocation range.
const DefaultBasePort = 9000

// DefaultPortsPerEnv is the size of each isolation port block.
const DefaultPortsPerEnv = 10

// DefaultLeaseTTLHours ages out abandoned isolation environments.
const DefaultLeaseTTLHours = 24

// DefaultLogLevel is the minimum level written by the logger.
const DefaultLogLevel = "info"

// DefaultLogFormat renders human-readable log lines.
const DefaultLogFormat = "text"

// DefaultDiagnosticsAddr serves daemon health and metrics endpoints.
const DefaultDiagnosticsAddr = ":9464"
