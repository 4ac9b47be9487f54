// Package store persists coordination state as locked JSON collections
// and append-only JSONL logs under a single root directory. All
// cross-process safety relies on advisory file locks held next to each
// collection.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/swarmsh/swarmsh/internal/model"
)

// Collection and log file names under the store root.
const (
	WorkClaimsFile      = "work_claims.json"
	AgentStatusFile     = "agent_status.json"
	CoordinationLogFile = "coordination_log.json"
	TelemetrySpansFile  = "telemetry_spans.jsonl"
	FastPathFile        = "work_claims_fast.jsonl"
)

// Subdirectories of the store root.
const (
	// BackupsDir holds timestamped pre-mutation and quarantine copies.
	BackupsDir = "backups"
	// ArchivesDir holds rotated span and completed-work archives.
	ArchivesDir = "archives"
)

const (
	lockSuffix = ".lock"

	dirPerm  = 0o755
	filePerm = 0o644

	backupTimeFormat  = "20060102T150405"
	archiveTimeFormat = "20060102T150405"
	archiveDateFormat = "2006-01-02"
)

// DefaultLockTimeout bounds lock waits when no option overrides it.
const DefaultLockTimeout = 30 * time.Second

// Store owns one coordination state root.
type Store struct {
	root        string
	lockTimeout time.Duration
	compress    bool
	now         func() time.Time

	workSchema  *gojsonschema.Schema
	agentSchema *gojsonschema.Schema
	logSchema   *gojsonschema.Schema
}

// Option adjusts Store construction.
type Option func(*Store)

// WithLockTimeout bounds every lock acquisition wait.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = timeout
	}
}

// WithCompression toggles lz4 compression of rotated span archives.
func WithCompression(enabled bool) Option {
	return func(s *Store) {
		s.compress = enabled
	}
}

// WithClock substitutes the wall clock used for backup and archive names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open prepares the store layout rooted at dir and compiles the
// collection schemas used for corruption detection.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		root:        dir,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	for _, sub := range []string{dir, filepath.Join(dir, BackupsDir), filepath.Join(dir, ArchivesDir)} {
		mkdirErr := os.MkdirAll(sub, dirPerm)
		if mkdirErr != nil {
			return nil, fmt.Errorf("create store layout: %w", mkdirErr)
		}
	}

	var schemaErr error

	s.workSchema, schemaErr = compileSchema(workClaimsSchemaJSON)
	if schemaErr != nil {
		return nil, fmt.Errorf("work claims schema: %w", schemaErr)
	}

	s.agentSchema, schemaErr = compileSchema(agentStatusSchemaJSON)
	if schemaErr != nil {
		return nil, fmt.Errorf("agent status schema: %w", schemaErr)
	}

	s.logSchema, schemaErr = compileSchema(coordinationLogSchemaJSON)
	if schemaErr != nil {
		return nil, fmt.Errorf("coordination log schema: %w", schemaErr)
	}

	return s, nil
}

// Root returns the state root directory.
func (s *Store) Root() string {
	return s.root
}

// LockTimeout returns the configured lock acquisition bound.
func (s *Store) LockTimeout() time.Duration {
	return s.lockTimeout
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, name)
}

// Work is the primary work item collection.
func (s *Store) Work() *Collection[model.WorkItem] {
	return &Collection[model.WorkItem]{store: s, name: WorkClaimsFile, schema: s.workSchema}
}

// Agents is the registered agent collection.
func (s *Store) Agents() *Collection[model.Agent] {
	return &Collection[model.Agent]{store: s, name: AgentStatusFile, schema: s.agentSchema}
}

// Log is the append-only coordination audit collection.
func (s *Store) Log() *Collection[model.LogEntry] {
	return &Collection[model.LogEntry]{store: s, name: CoordinationLogFile, schema: s.logSchema}
}

// Spans is the append-only telemetry span log.
func (s *Store) Spans() *Lines[model.Span] {
	return &Lines[model.Span]{store: s, name: TelemetrySpansFile}
}

// FastPath is the optional fast-path claim log.
func (s *Store) FastPath() *Lines[model.FastClaim] {
	return &Lines[model.FastClaim]{store: s, name: FastPathFile}
}

// syncDir flushes directory metadata so a rename survives a crash.
func syncDir(dir string) error {
	handle, openErr := os.Open(dir)
	if openErr != nil {
		return fmt.Errorf("open dir %s: %w", dir, openErr)
	}
	defer handle.Close()

	syncErr := handle.Sync()
	if syncErr != nil {
		return fmt.Errorf("sync dir %s: %w", dir, syncErr)
	}

	return nil
}
