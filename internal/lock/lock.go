// Package lock provides per-key critical sections that fail fast instead of
// waiting when the key is already held.
package lock

import (
	"context"
	"errors"
)

var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker runs fn while holding key. If another holder has key, WithLock
// returns ErrLockNotAcquired without calling fn.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
