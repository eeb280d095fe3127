package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftea/order-system/shared/saga"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_SingleOwner(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, "locks:", time.Minute)

	unlock, err := locker.Lock(ctx, "order-saga:o-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("locks:order-saga:o-1"))

	_, err = locker.Lock(ctx, "order-saga:o-1")
	assert.True(t, errors.Is(err, saga.ErrLocked))

	other, err := locker.Lock(ctx, "order-saga:o-2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("locks:order-saga:o-1"))

	again, err := locker.Lock(ctx, "order-saga:o-1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLocker_ExpiredLockIsNotReleasedByOldOwner(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, "locks:", time.Second)

	stale, err := locker.Lock(ctx, "order-saga:o-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = locker.Lock(ctx, "order-saga:o-1")
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	assert.True(t, mr.Exists("locks:order-saga:o-1"), "new owner keeps the lock")
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	ttl := 300 * time.Millisecond
	locker := NewRedisLocker(client, "locks:", ttl)

	unlock, err := locker.Lock(ctx, "order-saga:o-1")
	require.NoError(t, err)

	// three times the ttl, in steps the renewal keeps up with
	for i := 0; i < 9; i++ {
		mr.FastForward(ttl / 2)
		require.True(t, mr.Exists("locks:order-saga:o-1"), "lock expired after %d steps", i+1)
		require.Eventually(t, func() bool {
			return mr.TTL("locks:order-saga:o-1") > ttl/2
		}, time.Second, 10*time.Millisecond)
	}

	_, err = locker.Lock(ctx, "order-saga:o-1")
	assert.True(t, errors.Is(err, saga.ErrLocked))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("locks:order-saga:o-1"))
	require.NoError(t, unlock(ctx))
}
