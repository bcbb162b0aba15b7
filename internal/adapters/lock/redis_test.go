package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/matchengine/internal/domain/model"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_LockRelease(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewRedisLocker(client, WithTTL(time.Minute), WithKeyPrefix("test:lock:"))
	pair := model.PairKey{StudentID: "s1", OpportunityID: "o1"}

	release, err := l.Lock(context.Background(), pair)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:s1|o1"))
	assert.Equal(t, time.Minute, mr.TTL("test:lock:s1|o1"))

	release()
	assert.False(t, mr.Exists("test:lock:s1|o1"))
	release()
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := setupRedis(t)
	a := NewRedisLocker(client, WithPollInterval(5*time.Millisecond))
	b := NewRedisLocker(client, WithPollInterval(5*time.Millisecond))
	pair := model.PairKey{StudentID: "s1", OpportunityID: "o1"}

	release, err := a.Lock(context.Background(), pair)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = b.Lock(ctx, pair)
	assert.True(t, errors.Is(err, ErrLockNotAcquired))

	acquired := make(chan struct{})
	go func() {
		r, err := b.Lock(context.Background(), pair)
		if err == nil {
			r()
			close(acquired)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second locker never acquired the pair")
	}
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewRedisLocker(client, WithTTL(time.Second))
	pair := model.PairKey{StudentID: "s1", OpportunityID: "o1"}

	release, err := l.Lock(context.Background(), pair)
	require.NoError(t, err)

	// the lock expired and someone else took it
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(defaultKeyPrefix+"s1|o1", "other-holder"))

	release()
	got, err := mr.Get(defaultKeyPrefix + "s1|o1")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestRedisLocker_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewRedisLocker(client)
	mr.Close()

	_, err := l.Lock(context.Background(), model.PairKey{StudentID: "s", OpportunityID: "o"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrLockNotAcquired))
}
