// Package lock provides the repository's advisory lock.
//
// The lock is an OS file lock (flock) on .beargit/.lock. Holding it is what
// serializes mutating commands from separate invocations against the same
// repository. The kernel drops it when the holder exits, so a crashed
// process never leaves the repository locked; the lock file itself stays on
// disk and carries no state.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when the lock is still held after the timeout.
var ErrLocked = errors.New("repository is locked by another process")

// retryDelay is how often Acquire retries while the lock is held.
const retryDelay = 20 * time.Millisecond

// Lock is a held repository lock.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path, waiting up to timeout for a current
// holder to release it. A timeout of zero or less tries once.
func Acquire(path string, timeout time.Duration) (*Lock, error) {
	fl := flock.New(path)

	var (
		ok  bool
		err error
	)
	if timeout <= 0 {
		ok, err = fl.TryLock()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ok, err = fl.TryLockContext(ctx, retryDelay)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), err == nil && !ok:
		return nil, fmt.Errorf("%w (gave up on %s after %s)", ErrLocked, path, timeout)
	case err != nil:
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	fl := l.fl
	l.fl = nil
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}
