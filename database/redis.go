package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// UsesRedis reports whether any configured component is backed by redis.
func UsesRedis(cfg *config.Config) bool {
	return cfg.Challenge.Store == "redis" || cfg.RateLimit.Store == "redis"
}

// ProvideRedisClient builds the shared client. go-redis dials lazily, so the
// client is cheap when nothing uses it; the startup ping only runs when a
// redis-backed store is configured.
func ProvideRedisClient(lc fx.Lifecycle, cfg *config.Config, logger *logging.Service) redis.UniversalClient {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !UsesRedis(cfg) {
				return nil
			}
			if err := client.Ping(ctx).Err(); err != nil {
				if logger != nil {
					logger.Error("failed to connect to redis",
						zap.Error(err),
						zap.String("addr", cfg.Redis.Addr))
				}
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			if logger != nil {
				logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}
