package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a fixed window counter shared by every instance talking to the same
// Redis. Each key gets one counter per window, expiring with it.
type Redis struct {
	client   *goredis.Client
	prefix   string
	requests int64
	window   time.Duration
	now      func() time.Time
}

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, cfg RedisConfig, prefix string, requests int, window time.Duration) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	return newRedis(client, prefix, requests, window), nil
}

func newRedis(client *goredis.Client, prefix string, requests int, window time.Duration) *Redis {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Redis{
		client:   client,
		prefix:   prefix,
		requests: int64(requests),
		window:   window,
		now:      time.Now,
	}
}

// Allow increments the key's counter for the current window.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		key = "unknown"
	}

	slot := r.now().UnixNano() / int64(r.window)
	redisKey := r.prefix + key + ":" + strconv.FormatInt(slot, 10)

	var incr *goredis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, r.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}

	return incr.Val() <= r.requests, nil
}

// Close releases the Redis connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
