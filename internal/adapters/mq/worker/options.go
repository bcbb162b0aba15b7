package worker

import (
	"time"

	"github.com/okian/matchengine/pkg/logger"
)

// Option applies a configuration option to the TaskWorker.
type Option func(*TaskWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *TaskWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *TaskWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTaskTimeout bounds a single task execution.
func WithTaskTimeout(d time.Duration) Option {
	return func(w *TaskWorker) {
		if d > 0 {
			w.taskTimeout = d
		}
	}
}

// WithMaxAttempts sets how many attempts a task gets before it is failed.
func WithMaxAttempts(n int) Option {
	return func(w *TaskWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry delay range. Delays double from initial up to max.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(w *TaskWorker) {
		if initial > 0 {
			w.initialBackoff = initial
		}
		if maxDelay >= w.initialBackoff {
			w.maxBackoff = maxDelay
		}
	}
}

// WithJitter sets the randomization factor applied to retry delays.
func WithJitter(factor float64) Option {
	return func(w *TaskWorker) {
		if factor >= 0 && factor < 1 {
			w.jitter = factor
		}
	}
}

// WithClock overrides the time source used for retry gates and timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *TaskWorker) {
		if now != nil {
			w.now = now
		}
	}
}
