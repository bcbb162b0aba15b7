package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/metrics"
)

const defaultStripes = 64

type keyLock struct {
	sem  chan struct{}
	refs int
}

type stripe struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// MemoryLocker is an in-process PairLocker. Pairs hash onto stripes so
// unrelated pairs rarely contend on the bookkeeping mutex.
type MemoryLocker struct {
	stripes []*stripe
}

// NewMemoryLocker creates a locker with n stripes (default 64 when n <= 0).
func NewMemoryLocker(n int) *MemoryLocker {
	if n <= 0 {
		n = defaultStripes
	}
	m := &MemoryLocker{stripes: make([]*stripe, n)}
	for i := range m.stripes {
		m.stripes[i] = &stripe{locks: make(map[string]*keyLock)}
	}
	return m
}

func (m *MemoryLocker) stripeFor(key string) *stripe {
	return m.stripes[xxhash.Sum64String(key)%uint64(len(m.stripes))]
}

// Lock acquires the pair lock.
func (m *MemoryLocker) Lock(ctx context.Context, pair model.PairKey) (Release, error) {
	key := pair.String()
	s := m.stripeFor(key)

	s.mu.Lock()
	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		s.locks[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	default:
		metrics.RecordLockContention()
		select {
		case kl.sem <- struct{}{}:
		case <-ctx.Done():
			m.unref(s, key, kl)
			return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			m.unref(s, key, kl)
		})
	}, nil
}

func (m *MemoryLocker) unref(s *stripe, key string, kl *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(s.locks, key)
	}
}

// Held returns the number of pairs currently tracked.
func (m *MemoryLocker) Held() int {
	n := 0
	for _, s := range m.stripes {
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
