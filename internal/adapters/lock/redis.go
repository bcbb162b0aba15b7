package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/matchengine/internal/domain/model"
	"github.com/okian/matchengine/pkg/logger"
	"github.com/okian/matchengine/pkg/metrics"
)

const (
	defaultLockTTL      = 30 * time.Second
	defaultPollInterval = 25 * time.Millisecond
	defaultKeyPrefix    = "match:lock:"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a PairLocker shared by every process using the same Redis.
// The TTL must exceed the worker task timeout so a live holder never loses
// the lock.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	prefix string
	log    logger.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets the lock expiry.
func WithTTL(d time.Duration) RedisOption {
	return func(r *RedisLocker) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithPollInterval sets how often a contended lock is retried.
func WithPollInterval(d time.Duration) RedisOption {
	return func(r *RedisLocker) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithKeyPrefix namespaces lock keys.
func WithKeyPrefix(p string) RedisOption {
	return func(r *RedisLocker) {
		if p != "" {
			r.prefix = p
		}
	}
}

// NewRedisLocker creates a Redis-backed locker.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	r := &RedisLocker{
		client: client,
		ttl:    defaultLockTTL,
		poll:   defaultPollInterval,
		prefix: defaultKeyPrefix,
		log:    logger.Get().Named("redis-lock"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock acquires the pair lock with SET NX, polling while it is held elsewhere.
func (r *RedisLocker) Lock(ctx context.Context, pair model.PairKey) (Release, error) {
	key := r.prefix + pair.String()
	token := uuid.NewString()

	contended := false
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			break
		}
		if !contended {
			contended = true
			metrics.RecordLockContention()
		}
		t := time.NewTimer(r.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, ctx.Err())
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be done; release on a fresh one
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				r.log.Warn(rctx, "failed to release pair lock", logger.String("key", key), logger.Error(err))
			}
		})
	}, nil
}
