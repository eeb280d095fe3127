package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/draftea/order-system/shared/saga"
)

// releaseScript deletes the lock only while it still carries our token
var releaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`)

// renewScript extends the lock only while it still carries our token
var renewScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('pexpire', KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a saga.Locker shared by every replica of the service.
// A held lock is renewed every ttl/3 until it is released; a crashed driver
// stops renewing and its lock expires after ttl.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (saga.Unlock, error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire lock %s", redisKey)
	}
	if !ok {
		return nil, errors.Wrap(saga.ErrLocked, key)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(context.WithoutCancel(ctx), redisKey, token, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			return errors.Wrapf(err, "failed to release lock %s", redisKey)
		}
		return nil
	}, nil
}

func (l *RedisLocker) renew(ctx context.Context, redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			renewed, err := renewScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			if err == nil && renewed == 0 {
				// lost to expiry; the saga log version check fences the old owner
				return
			}
		}
	}
}
