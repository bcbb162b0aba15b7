package queue

import (
	"time"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/logger"
)

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the capacity of one priority bucket.
func WithCapacity(p model.Priority, capacity int) Option {
	return func(q *InMemoryQueue) {
		if p.Valid() && capacity > 0 {
			q.capacity[p] = capacity
		}
	}
}

// WithCapacities sets the capacity of every bucket at once.
func WithCapacities(high, normal, low int) Option {
	return func(q *InMemoryQueue) {
		WithCapacity(model.PriorityHigh, high)(q)
		WithCapacity(model.PriorityNormal, normal)(q)
		WithCapacity(model.PriorityLow, low)(q)
	}
}

// WithHistorySize bounds how many finished tasks stay inspectable.
func WithHistorySize(size int) Option {
	return func(q *InMemoryQueue) {
		if size > 0 {
			q.historySize = size
		}
	}
}

// WithDeadLetterRetention sets how long FAILED tasks are kept.
func WithDeadLetterRetention(d time.Duration) Option {
	return func(q *InMemoryQueue) {
		if d > 0 {
			q.deadLetterTTL = d
		}
	}
}

// WithLogger sets the logger used for drops and dead letters.
func WithLogger(l logger.Logger) Option {
	return func(q *InMemoryQueue) {
		if l != nil {
			q.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *InMemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}
