package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned by Acquire when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another process")

const keyPrefix = "memgraph:"

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the lock's TTL only if it still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Coordinator serializes batch jobs across processes and publishes their
// summaries on Redis Streams.
type Coordinator struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewCoordinator creates a Redis-backed coordinator.
func NewCoordinator(redisURL string, logger *zap.Logger) (*Coordinator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Coordinator{rdb: rdb, logger: logger}, nil
}

// Acquire takes the named lock for ttl and keeps extending it every ttl/3 until
// release is called, so a holder that outlives ttl keeps the lock. If the process
// dies the lock expires after at most ttl. The returned release func is safe to
// call after the lock has been lost; it never deletes a lock taken by someone else.
func (c *Coordinator) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := keyPrefix + "lock:" + name
	token := uuid.New().String()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s: %w", key, ErrLockHeld)
	}

	c.logger.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", ttl))

	stop := make(chan struct{})
	done := make(chan struct{})
	go c.renew(key, token, ttl, stop, done)

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		if err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		c.logger.Debug("lock released", zap.String("key", key))
		return nil
	}
	return release, nil
}

// renew extends the lock while we still own it. It exits when stop is closed or
// the lock turns out to belong to someone else.
func (c *Coordinator) renew(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			n, err := extendScript.Run(ctx, c.rdb, []string{key}, token, ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				c.logger.Warn("lock renewal failed", zap.String("key", key), zap.Error(err))
			case n == 0:
				c.logger.Warn("lock lost before release", zap.String("key", key))
				return
			}
		}
	}
}

// Publish appends v as JSON to the named stream.
func (c *Coordinator) Publish(ctx context.Context, stream string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	key := keyPrefix + stream
	_, err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", key, err)
	}

	c.logger.Debug("published", zap.String("stream", key))
	return nil
}

// Recent returns the latest n entries of the named stream, newest first, as raw JSON.
func (c *Coordinator) Recent(ctx context.Context, stream string, n int64) ([]json.RawMessage, error) {
	key := keyPrefix + stream
	msgs, err := c.rdb.XRevRangeN(ctx, key, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		out = append(out, json.RawMessage(data))
	}
	return out, nil
}

// Close shuts down the Redis connection.
func (c *Coordinator) Close() error {
	return c.rdb.Close()
}
