package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const redisKeyPrefix = "twofa:ratelimit:"

func NewStore(cfg *config.RateLimitConfig, client redis.UniversalClient) Store {
	if cfg.Store == "redis" && client != nil {
		return NewRedisStore(client, redisKeyPrefix)
	}
	return NewMemoryStore()
}

type StoreParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *logging.Service
	Redis     redis.UniversalClient `optional:"true"`
}

func ProvideRateLimitStore(p StoreParams) Store {
	store := NewStore(&p.Config.RateLimit, p.Redis)

	if p.Logger != nil {
		p.Logger.Info("initializing rate limit store",
			zap.String("store_type", p.Config.RateLimit.Store),
			zap.Int("rate", p.Config.RateLimit.Rate),
			zap.Duration("period", p.Config.RateLimit.Period))
	}

	if mem, ok := store.(*MemoryStore); ok {
		ctx, cancel := context.WithCancel(context.Background())
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go mem.Cleanup(ctx, time.Minute)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}

	return store
}

var Module = fx.Options(
	fx.Provide(ProvideRateLimitStore),
)
