package repository

import (
	"context"
	"fmt"
	"time"

	"autoposter/internal/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisDayGuard stores day claims as expiring redis keys.
type RedisDayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDayGuard(client *redis.Client, ttl time.Duration) *RedisDayGuard {
	return &RedisDayGuard{client: client, ttl: ttl}
}

func dayKey(userID string, day time.Time) string {
	return fmt.Sprintf("autoposter:day:%s:%s", userID, day.UTC().Format("2006-01-02"))
}

func (r *RedisDayGuard) Claim(ctx context.Context, userID string, day time.Time) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, dayKey(userID, day), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim day in redis: %w", err)
	}
	return ok, nil
}

func (r *RedisDayGuard) Release(ctx context.Context, userID string, day time.Time) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, dayKey(userID, day)).Err(); err != nil {
		return fmt.Errorf("failed to release day in redis: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
