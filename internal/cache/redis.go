package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/guardbooking/config"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// NewRedisClient builds the client shared by the Redis rate-limit store and
// the Redis ledger, and checks that the server answers.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NeedsRedis reports whether any configured driver uses Redis.
func NeedsRedis(cfg *config.Config) bool {
	return cfg.Ledger.Driver == config.DriverRedis || cfg.RateLimit.Driver == config.DriverRedis
}
