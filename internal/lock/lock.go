// Package lock provides per-identity mutual exclusion: an in-process
// implementation for single-node deployments and a graph-backed advisory
// lock for cross-process coordination.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a lock cannot be acquired within the caller's
// budget. Callers never block indefinitely.
var ErrTimeout = errors.New("lock: acquisition timed out")

// Locker is the mutual-exclusion contract. Unlock of a key that is not held
// is a no-op.
type Locker interface {
	// TryLock attempts to acquire the key, waiting up to timeout. On
	// failure it returns an error wrapping ErrTimeout.
	TryLock(ctx context.Context, key string, timeout time.Duration) error

	// Unlock releases the key.
	Unlock(ctx context.Context, key string) error
}

// timeoutErr builds the standard acquisition failure.
func timeoutErr(key string, timeout time.Duration) error {
	return fmt.Errorf("lock: key %q not acquired within %s: %w", key, timeout, ErrTimeout)
}
