package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is the poll cadence while waiting on a held lock.
const lockRetryInterval = 25 * time.Millisecond

// acquire takes the advisory lock guarding name. The wait is bounded by
// the store's lock timeout; cancelling ctx aborts the wait early.
func (s *Store) acquire(ctx context.Context, name string, exclusive bool) (func(), error) {
	guard := flock.New(s.path(name) + lockSuffix)

	waitCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var (
		locked  bool
		lockErr error
	)

	if exclusive {
		locked, lockErr = guard.TryLockContext(waitCtx, lockRetryInterval)
	} else {
		locked, lockErr = guard.TryRLockContext(waitCtx, lockRetryInterval)
	}

	if locked {
		return func() { _ = guard.Unlock() }, nil
	}

	// A cancelled parent context is not a timeout.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("lock %s: %w", name, ctx.Err())
	}

	if lockErr != nil && !errors.Is(lockErr, context.DeadlineExceeded) {
		return nil, fmt.Errorf("lock %s: %w", name, lockErr)
	}

	return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, name, s.lockTimeout)
}

// Lock acquires the named collection's exclusive lock directly. Callers
// coordinating several collections must acquire in work, agent, log
// order and release in reverse.
func (s *Store) Lock(ctx context.Context, name string) (func(), error) {
	return s.acquire(ctx, name, true)
}
