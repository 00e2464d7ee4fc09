package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	rd "github.com/go-redis/redis/v9"
	c "github.com/patrickmn/go-cache"
)

const RATELIMIT_KEY string = "RATELIMIT"

// Counter increments a windowed counter and returns the value after the increment.
type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RedisCounter struct {
	redisClient rd.UniversalClient
	namespace   string
}

var _ Counter = new(RedisCounter)

func NewRedisCounter(redisClient rd.UniversalClient, namespace string) *RedisCounter {
	return &RedisCounter{
		redisClient: redisClient,
		namespace:   namespace,
	}
}

func (rc *RedisCounter) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", rc.namespace, strings.Join(args, ":"))
}

func (rc *RedisCounter) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	key = rc.getNamespaceKey(RATELIMIT_KEY, key)
	var incr *rd.IntCmd
	_, err := rc.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (rc *RedisCounter) Ping(ctx context.Context) error {
	return rc.redisClient.Ping(ctx).Err()
}

type LocalCounter struct {
	mu    sync.Mutex
	cache *c.Cache
}

var _ Counter = new(LocalCounter)

func NewLocalCounter(cleanupInterval time.Duration) *LocalCounter {
	return &LocalCounter{
		cache: c.New(c.NoExpiration, cleanupInterval),
	}
}

func (lc *LocalCounter) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	// Add fails when the bucket already exists, which is the common case.
	_ = lc.cache.Add(key, int64(0), ttl)
	return lc.cache.IncrementInt64(key, 1)
}
