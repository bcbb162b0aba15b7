// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// WorkerCount sets the number of recompute workers.
	WorkerCount int `koanf:"worker_count"`

	// Queue bounds per priority bucket.
	QueueHighCapacity   int `koanf:"queue_high_capacity"`
	QueueNormalCapacity int `koanf:"queue_normal_capacity"`
	QueueLowCapacity    int `koanf:"queue_low_capacity"`

	// MaxAttempts is the retry budget of a task before it is dead-lettered.
	MaxAttempts int `koanf:"max_attempts"`

	// Retry delays grow exponentially from the initial to the max backoff.
	RetryInitialBackoffMS int `koanf:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS     int `koanf:"retry_max_backoff_ms"`

	// TaskTimeoutMS is the wall-clock budget of one task.
	TaskTimeoutMS int `koanf:"task_timeout_ms"`

	// DrainTimeoutMS bounds the wait for the queue to empty on shutdown.
	DrainTimeoutMS int `koanf:"drain_timeout_ms"`

	// DedupeSize sets the size of the mutation event id cache.
	DedupeSize int `koanf:"dedupe_size"`

	// StoreShardCount configures the shards of the in-memory score store.
	StoreShardCount int `koanf:"store_shard_count"`

	// ExperienceTargetMonths is the relevant experience that scores 0.8.
	ExperienceTargetMonths float64 `koanf:"experience_target_months"`

	// SweepIntervalS schedules the batch sweep. Zero disables it.
	SweepIntervalS int `koanf:"sweep_interval_s"`

	// PostgresDSN switches the data source and score store to Postgres.
	PostgresDSN string `koanf:"postgres_dsn"`

	// Redis enables the cross-process pair lock and the snapshot cache.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`

	// SnapshotCacheTTLS is the lifetime of a cached snapshot.
	SnapshotCacheTTLS int `koanf:"snapshot_cache_ttl_s"`

	// LockTTLMS is the expiry of a Redis pair lock.
	LockTTLMS int `koanf:"lock_ttl_ms"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":9080",
		WorkerCount:            runtime.NumCPU() * 2,
		QueueHighCapacity:      10_000,
		QueueNormalCapacity:    10_000,
		QueueLowCapacity:       10_000,
		MaxAttempts:            5,
		RetryInitialBackoffMS:  100,
		RetryMaxBackoffMS:      10_000,
		TaskTimeoutMS:          10_000,
		DrainTimeoutMS:         15_000,
		DedupeSize:             50_000,
		StoreShardCount:        32,
		ExperienceTargetMonths: 12,
		SweepIntervalS:         0,
		SnapshotCacheTTLS:      600,
		LockTTLMS:              30_000,
	}
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.QueueHighCapacity < 1 || c.QueueNormalCapacity < 1 || c.QueueLowCapacity < 1:
		return fmt.Errorf("%w: queue capacities must be positive", ErrInvalidConfig)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidConfig)
	case c.RetryInitialBackoffMS < 1 || c.RetryMaxBackoffMS < c.RetryInitialBackoffMS:
		return fmt.Errorf("%w: retry backoff must satisfy 0 < initial <= max", ErrInvalidConfig)
	case c.TaskTimeoutMS < 1:
		return fmt.Errorf("%w: task_timeout_ms must be positive", ErrInvalidConfig)
	case c.DrainTimeoutMS < 0:
		return fmt.Errorf("%w: drain_timeout_ms must not be negative", ErrInvalidConfig)
	case c.DedupeSize < 1:
		return fmt.Errorf("%w: dedupe_size must be positive", ErrInvalidConfig)
	case c.StoreShardCount < 1:
		return fmt.Errorf("%w: store_shard_count must be positive", ErrInvalidConfig)
	case c.ExperienceTargetMonths <= 0:
		return fmt.Errorf("%w: experience_target_months must be positive", ErrInvalidConfig)
	case c.SweepIntervalS < 0:
		return fmt.Errorf("%w: sweep_interval_s must not be negative", ErrInvalidConfig)
	case c.RedisDB < 0:
		return fmt.Errorf("%w: redis_db must not be negative", ErrInvalidConfig)
	case c.RedisAddr != "" && c.LockTTLMS <= c.TaskTimeoutMS:
		// a lock that expires mid-task lets a second holder in
		return fmt.Errorf("%w: lock_ttl_ms must exceed task_timeout_ms", ErrInvalidConfig)
	}
	return nil
}

// RetryInitialBackoff returns the first retry delay.
func (c *Config) RetryInitialBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoffMS) * time.Millisecond
}

// RetryMaxBackoff returns the retry delay cap.
func (c *Config) RetryMaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoffMS) * time.Millisecond
}

// TaskTimeout returns the per-task budget.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMS) * time.Millisecond
}

// DrainTimeout returns the shutdown drain budget.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

// SweepInterval returns the batch sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalS) * time.Second
}

// SnapshotCacheTTL returns the snapshot cache entry lifetime.
func (c *Config) SnapshotCacheTTL() time.Duration {
	return time.Duration(c.SnapshotCacheTTLS) * time.Second
}

// LockTTL returns the Redis pair lock expiry.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}
