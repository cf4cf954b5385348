package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var replayCacheDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "coinledger_replay_cache_duration_ms",
	Help:    "Latency of replay cache operations in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
}, []string{"op"})

const defaultKeyPrefix = "coinledger:replay:"

// RedisCache shares replay state across instances. Claim is SET NX so only
// one instance processes a given external reference at a time.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

type RedisOption func(*RedisCache)

func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{client: client, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	defer observe("claim", time.Now())
	return c.client.SetNX(ctx, c.prefix+key, "1", ttl).Result()
}

func (c *RedisCache) Release(ctx context.Context, key string) error {
	defer observe("release", time.Now())
	return c.client.Del(ctx, c.prefix+key).Err()
}

func (c *RedisCache) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	defer observe("lookup", time.Now())
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (c *RedisCache) Remember(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	defer observe("remember", time.Now())
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

func observe(op string, start time.Time) {
	replayCacheDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
