package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ssebide/music-platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock could not be acquired before the context ended.
var ErrLockTimeout = errors.New("redis lock not acquired")

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only while the key still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker serializes work on one upload across processes sharing an upload volume.
// The key is refreshed every ttl/3 while held, so a long assembly keeps it.
type RedisLocker struct {
	client    redis.Cmdable
	prefix    string
	ttl       time.Duration
	pollEvery time.Duration
	maxPoll   time.Duration
}

// NewRedisLocker 创建分布式锁
func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{
		client:    client,
		prefix:    "upload:lock:",
		ttl:       ttl,
		pollEvery: 10 * time.Millisecond,
		maxPoll:   250 * time.Millisecond,
	}
}

// Key returns the Redis key guarding trackID.
func (l *RedisLocker) Key(trackID string) string {
	return l.prefix + trackID
}

// Lock polls SET NX with backoff until acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, trackID string) (func(), error) {
	key := l.Key(trackID)
	token := uuid.NewString()
	wait := l.pollEvery

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(key, token, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					l.release(key, token)
				})
			}, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-timer.C:
		}
		if wait *= 2; wait > l.maxPoll {
			wait = l.maxPoll
		}
	}
}

func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				logger.Warn("failed to refresh upload lock",
					logger.String("key", key),
					logger.ErrorField(err))
				continue
			}
			if n == 0 {
				logger.Error("upload lock expired while held", logger.String("key", key))
				return
			}
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	// the request context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		logger.Warn("failed to release upload lock",
			logger.String("key", key),
			logger.ErrorField(err))
	}
}
