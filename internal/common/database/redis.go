// internal/common/database/redis.go
// Redis connection for the realtime bus and presence pass-through

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Pool defaults sized for the engine's workload: every open session holds
// pub/sub subscriptions, so the pool runs larger than a cache-only client.
const (
	defaultPoolSize     = 32
	defaultMinIdleConns = 4
	pingTimeout         = 5 * time.Second
)

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// NewRedisClient creates a new Redis client
func NewRedisClient(config *RedisConfig) (*redis.Client, error) {
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     poolSize,
		MinIdleConns: defaultMinIdleConns,
	})

	if err := pingRedis(client); err != nil {
		return nil, err
	}
	return client, nil
}

// NewRedisClientFromURL creates a Redis client from URL, applying the
// engine's pool defaults when the URL does not override them
func NewRedisClientFromURL(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.PoolSize == 0 {
		opts.PoolSize = defaultPoolSize
	}
	if opts.MinIdleConns == 0 {
		opts.MinIdleConns = defaultMinIdleConns
	}

	client := redis.NewClient(opts)
	if err := pingRedis(client); err != nil {
		return nil, err
	}
	return client, nil
}

// pingRedis tests the connection with a bounded wait so a dead broker
// fails the boot instead of hanging it
func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}
