package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis sits on the request path for rate limiting and idempotent replay, so
// every call is bounded well below the HTTP timeouts.
const (
	redisCommandTimeout = 2 * time.Second
	redisPoolTimeout    = 3 * time.Second
)

// NewRedisClient parses a redis:// URL, applies the service's pool and timeout
// settings and verifies connectivity. Options given as URL query parameters
// (pool_size, read_timeout, ...) take precedence.
func NewRedisClient(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.PoolSize == 0 && poolSize > 0 {
		opt.PoolSize = poolSize
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = pingTimeout
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = redisCommandTimeout
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = redisCommandTimeout
	}
	if opt.PoolTimeout == 0 {
		opt.PoolTimeout = redisPoolTimeout
	}
	if opt.ConnMaxLifetime == 0 {
		opt.ConnMaxLifetime = maxConnLifetime
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}
