// Package isolation leases per-environment workspaces: a directory, a
// port block, and a database URL per named environment. Real worktree
// and database provisioning live outside the coordination core; this
// package owns naming, lease bookkeeping, and expiry.
package isolation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	"github.com/swarmsh/swarmsh/internal/model"
)

// EnvironmentsDir is the directory under the coordination root holding
// one subdirectory per leased environment.
const EnvironmentsDir = "environments"

const (
	leaseFile = "lease.json"
	leaseLock = ".lease.lock"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Allocation defaults.
const (
	// DefaultBasePort is the first port of the first block.
	DefaultBasePort = 18000
	// DefaultPortsPerEnv is the block width handed to each environment.
	DefaultPortsPerEnv = 4
	// DefaultLockTimeout bounds the wait for the lease table lock.
	DefaultLockTimeout = 30 * time.Second
)

// lockRetryInterval is the poll cadence while waiting on a held lock.
const lockRetryInterval = 25 * time.Millisecond

// Sentinel errors.
var (
	// ErrNotAllocated reports a release of an unknown environment.
	ErrNotAllocated = errors.New("environment not allocated")
	// ErrInvalidName reports an environment name unusable as a
	// directory name.
	ErrInvalidName = errors.New("invalid environment name")
	// ErrLockTimeout reports that the lease table lock stayed held
	// past the configured timeout.
	ErrLockTimeout = errors.New("lease lock timeout")
)

// Environment is one allocated isolation slot.
type Environment struct {
	Name        string `json:"name" yaml:"name"`
	Dir         string `json:"dir" yaml:"dir"`
	Ports       []int  `json:"ports" yaml:"ports"`
	DatabaseURL string `json:"database_url" yaml:"database_url"`
}

// Provider allocates and releases isolated environments.
type Provider interface {
	// Allocate leases an environment under the given name, creating it
	// if needed. Allocating an existing name renews its lease and
	// returns the original resources.
	Allocate(ctx context.Context, name string) (Environment, error)

	// Release frees the named environment and its resources.
	Release(ctx context.Context, name string) error

	// Sweep releases environments whose leases are older than
	// olderThan and reports how many were released.
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)
}

// lease is the on-disk record for one environment.
type lease struct {
	Name        string     `json:"name"`
	Slot        int        `json:"slot"`
	Ports       []int      `json:"ports"`
	DatabaseURL string     `json:"database_url"`
	AllocatedAt model.Time `json:"allocated_at"`
}

// LocalProvider leases environments as plain directories under the
// coordination root. Port blocks are handed out sequentially from a
// base port; database URLs are file URLs inside the environment
// directory. Lease mutations are serialized by an advisory lock, so
// concurrent daemons on one host stay consistent.
type LocalProvider struct {
	root        string
	basePort    int
	portsPerEnv int
	lockTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// LocalOption adjusts local provider construction.
type LocalOption func(*LocalProvider)

// WithBasePort sets the first port of the first block.
func WithBasePort(port int) LocalOption {
	return func(p *LocalProvider) { p.basePort = port }
}

// WithPortsPerEnv sets how many consecutive ports each environment
// receives.
func WithPortsPerEnv(n int) LocalOption {
	return func(p *LocalProvider) { p.portsPerEnv = n }
}

// WithLockTimeout bounds the wait for the lease table lock.
func WithLockTimeout(d time.Duration) LocalOption {
	return func(p *LocalProvider) { p.lockTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(p *LocalProvider) { p.logger = logger }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) LocalOption {
	return func(p *LocalProvider) { p.now = now }
}

// NewLocal creates a provider rooted at dir/environments, creating the
// directory if needed.
func NewLocal(dir string, opts ...LocalOption) (*LocalProvider, error) {
	p := &LocalProvider{
		root:        filepath.Join(dir, EnvironmentsDir),
		basePort:    DefaultBasePort,
		portsPerEnv: DefaultPortsPerEnv,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := os.MkdirAll(p.root, dirPerm); err != nil {
		return nil, fmt.Errorf("create environments dir: %w", err)
	}

	return p, nil
}

// Allocate leases name, assigning the lowest free port block. An
// existing lease is renewed rather than re-provisioned.
func (p *LocalProvider) Allocate(ctx context.Context, name string) (Environment, error) {
	if err := validateName(name); err != nil {
		return Environment{}, err
	}

	unlock, err := p.lock(ctx)
	if err != nil {
		return Environment{}, fmt.Errorf("allocate %s: %w", name, err)
	}
	defer unlock()

	leases, err := p.readLeases()
	if err != nil {
		return Environment{}, fmt.Errorf("allocate %s: %w", name, err)
	}

	existing, ok := leases[name]
	if ok {
		existing.AllocatedAt = model.NewTime(p.now())
		if err := p.writeLease(existing); err != nil {
			return Environment{}, fmt.Errorf("renew %s: %w", name, err)
		}

		return p.environment(existing), nil
	}

	slot := lowestFreeSlot(leases)
	dir := filepath.Join(p.root, name)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return Environment{}, fmt.Errorf("allocate %s: %w", name, err)
	}

	created := lease{
		Name:        name,
		Slot:        slot,
		Ports:       p.portBlock(slot),
		DatabaseURL: fileURL(dir, name),
		AllocatedAt: model.NewTime(p.now()),
	}

	if err := p.writeLease(created); err != nil {
		return Environment{}, fmt.Errorf("allocate %s: %w", name, err)
	}

	p.logger.InfoContext(ctx, "environment allocated",
		"environment", name,
		"slot", slot,
		"ports", created.Ports)

	return p.environment(created), nil
}

// Release frees name and removes its directory.
func (p *LocalProvider) Release(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	unlock, err := p.lock(ctx)
	if err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	defer unlock()

	dir := filepath.Join(p.root, name)
	if _, err := os.Stat(filepath.Join(dir, leaseFile)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("release %s: %w", name, ErrNotAllocated)
		}

		return fmt.Errorf("release %s: %w", name, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}

	p.logger.InfoContext(ctx, "environment released", "environment", name)

	return nil
}

// Sweep releases every environment whose lease is older than olderThan.
func (p *LocalProvider) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	unlock, err := p.lock(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep environments: %w", err)
	}
	defer unlock()

	leases, err := p.readLeases()
	if err != nil {
		return 0, fmt.Errorf("sweep environments: %w", err)
	}

	cutoff := p.now().UTC().Add(-olderThan)
	released := 0

	for name, l := range leases {
		if !l.AllocatedAt.Time.Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(p.root, name)); err != nil {
			return released, fmt.Errorf("sweep %s: %w", name, err)
		}

		released++
	}

	if released > 0 {
		p.logger.InfoContext(ctx, "expired environments released",
			"released", released,
			"older_than", olderThan.String())
	}

	return released, nil
}

// lock takes the advisory lock guarding the lease table.
func (p *LocalProvider) lock(ctx context.Context) (func(), error) {
	guard := flock.New(filepath.Join(p.root, leaseLock))

	waitCtx, cancel := context.WithTimeout(ctx, p.lockTimeout)
	defer cancel()

	locked, lockErr := guard.TryLockContext(waitCtx, lockRetryInterval)
	if locked {
		return func() { _ = guard.Unlock() }, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if lockErr != nil && !errors.Is(lockErr, context.DeadlineExceeded) {
		return nil, lockErr
	}

	return nil, fmt.Errorf("%w after %s", ErrLockTimeout, p.lockTimeout)
}

// readLeases loads every parseable lease under the environments dir.
func (p *LocalProvider) readLeases() (map[string]lease, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, fmt.Errorf("read environments dir: %w", err)
	}

	leases := make(map[string]lease, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(p.root, entry.Name(), leaseFile))
		if os.IsNotExist(err) {
			// A directory without a lease is mid-allocation or debris.
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("read lease %s: %w", entry.Name(), err)
		}

		var l lease
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("decode lease %s: %w", entry.Name(), err)
		}

		leases[entry.Name()] = l
	}

	return leases, nil
}

func (p *LocalProvider) writeLease(l lease) error {
	payload, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}

	payload = append(payload, '\n')
	target := filepath.Join(p.root, l.Name, leaseFile)

	if err := renameio.WriteFile(target, payload, filePerm); err != nil {
		return fmt.Errorf("write lease: %w", err)
	}

	return nil
}

func (p *LocalProvider) environment(l lease) Environment {
	return Environment{
		Name:        l.Name,
		Dir:         filepath.Join(p.root, l.Name),
		Ports:       l.Ports,
		DatabaseURL: l.DatabaseURL,
	}
}

// portBlock returns the consecutive ports for slot.
func (p *LocalProvider) portBlock(slot int) []int {
	ports := make([]int, p.portsPerEnv)
	for i := range ports {
		ports[i] = p.basePort + slot*p.portsPerEnv + i
	}

	return ports
}

// lowestFreeSlot finds the smallest slot index no live lease occupies,
// so released port blocks are reused before the range grows.
func lowestFreeSlot(leases map[string]lease) int {
	used := make(map[int]bool, len(leases))
	for _, l := range leases {
		used[l.Slot] = true
	}

	slot := 0
	for used[slot] {
		slot++
	}

	return slot
}

// fileURL builds the SQLite-style URL for an environment database. URL
// construction only; opening it is the consumer's concern.
func fileURL(dir, name string) string {
	return fmt.Sprintf("file:%s?mode=rwc", filepath.ToSlash(filepath.Join(dir, name+".db")))
}

// validateName rejects names unusable as a single directory component.
func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}

// NoopProvider satisfies Provider without leasing anything. It serves
// tests and deployments that run without workspace isolation.
type NoopProvider struct{}

// Allocate returns an environment carrying only the requested name.
func (NoopProvider) Allocate(_ context.Context, name string) (Environment, error) {
	return Environment{Name: name}, nil
}

// Release accepts any name.
func (NoopProvider) Release(context.Context, string) error {
	return nil
}

// Sweep never finds anything to release.
func (NoopProvider) Sweep(context.Context, time.Duration) (int, error) {
	return 0, nil
}
