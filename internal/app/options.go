package service

import (
	"time"

	"github.com/okian/matchengine/internal/adapters/lock"
	"github.com/okian/matchengine/internal/adapters/repository"
	"github.com/okian/matchengine/internal/adapters/source"
	"github.com/okian/matchengine/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueCapacities sets the per-priority queue bounds.
func WithQueueCapacities(high, normal, low int) Option {
	return func(s *Service) {
		if high > 0 {
			s.capacities[0] = high
		}
		if normal > 0 {
			s.capacities[1] = normal
		}
		if low > 0 {
			s.capacities[2] = low
		}
	}
}

// WithDedupeSize sets the size of the mutation event id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithMaxAttempts sets the retry budget of a task.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the initial and maximum retry delay.
func WithRetryBackoff(initial, maxDelay time.Duration) Option {
	return func(s *Service) {
		if initial > 0 && maxDelay >= initial {
			s.initialBackoff = initial
			s.maxBackoff = maxDelay
		}
	}
}

// WithTaskTimeout sets the wall-clock budget of one task.
func WithTaskTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.taskTimeout = d
		}
	}
}

// WithExperienceTarget sets the months of relevant experience that score 0.8.
func WithExperienceTarget(months float64) Option {
	return func(s *Service) {
		if months > 0 {
			s.targetMonths = months
		}
	}
}

// WithSweepInterval enables the periodic batch sweep. Zero disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.sweepInterval = d
		}
	}
}

// WithSource sets the data collaborator snapshots are read from.
func WithSource(src source.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithStore sets the score store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPairLocker sets the per-pair exclusion lock.
func WithPairLocker(l lock.PairLocker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}
