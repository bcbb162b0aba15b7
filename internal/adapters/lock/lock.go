// Package lock provides per-pair mutual exclusion for score writers.
package lock

import (
	"context"
	"errors"

	"github.com/okian/matchengine/internal/domain/model"
)

// ErrLockNotAcquired is returned when the lock could not be taken before
// the context ended.
var ErrLockNotAcquired = errors.New("pair lock not acquired")

// Release gives a held lock back. It is safe to call more than once.
type Release func()

// PairLocker serializes work on one (student, opportunity) pair.
type PairLocker interface {
	// Lock blocks until the pair is held by the caller or ctx ends.
	Lock(ctx context.Context, pair model.PairKey) (Release, error)
}
