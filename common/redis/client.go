package redis

import (
	"context"

	"github.com/JesusCabrera84/siscom-trips/common/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient builds a client; it does not dial until first use
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks connectivity
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close closes the client
func Close(client *redis.Client) error {
	return client.Close()
}
