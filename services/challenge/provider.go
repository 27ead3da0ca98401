package challenge

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type StoreParams struct {
	fx.In
	Config *config.Config
	Logger *logging.Service
	DB     *gorm.DB              `optional:"true"`
	Redis  redis.UniversalClient `optional:"true"`
}

func ProvideStore(p StoreParams) (Store, error) {
	cfg := p.Config

	if p.Logger != nil {
		p.Logger.Info("initializing verification store",
			zap.String("store_type", cfg.Challenge.Store),
			zap.Bool("database_available", p.DB != nil),
			zap.Bool("redis_available", p.Redis != nil))
	}

	switch cfg.Challenge.Store {
	case "database":
		if p.DB == nil {
			return nil, fmt.Errorf("challenge store %q requires a database connection", cfg.Challenge.Store)
		}
		return NewGormStore(p.DB), nil
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("challenge store %q requires a redis client", cfg.Challenge.Store)
		}
		return NewRedisStore(p.Redis, cfg.Redis.KeyPrefix, cfg.Challenge.Retention), nil
	case "memory":
		if p.Logger != nil {
			p.Logger.Warn("using in-memory verification store - challenges are lost on restart and not shared between instances")
		}
		return NewMemoryStore(), nil
	default:
		if p.Logger != nil {
			p.Logger.Error("unsupported verification store type",
				zap.String("store_type", cfg.Challenge.Store),
				zap.Strings("supported_types", []string{"database", "redis", "memory"}))
		}
		return nil, fmt.Errorf("unsupported challenge store type: %s", cfg.Challenge.Store)
	}
}

type ServiceParams struct {
	fx.In
	Config   *config.Config
	Store    Store
	Logger   *logging.Service
	Recorder Recorder `optional:"true"`
}

func ProvideService(p ServiceParams) (*Service, error) {
	var opts []Option
	if p.Recorder != nil {
		opts = append(opts, WithRecorder(p.Recorder))
	}
	return NewService(p.Config, p.Store, p.Logger.Named("challenge"), opts...)
}

func StartCleanupWorker(lc fx.Lifecycle, cfg *config.Config, svc *Service) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			svc.StartCleanupWorker(ctx, cfg.Challenge.CleanupInterval)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

var Module = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(ProvideService),
	fx.Invoke(StartCleanupWorker),
)
