package logging

import (
	"context"

	"github.com/tech-arch1tect/twofactor/config"
	"go.uber.org/fx"
)

// Module flushes a logger supplied by the application builder on shutdown.
var Module = fx.Invoke(registerSync)

func NewLoggingService(cfg *config.Config) (*Service, error) {
	return NewService(Config{
		Level:      LogLevel(cfg.Log.Level),
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
}

func registerSync(lc fx.Lifecycle, logger *Service) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// stdout/stderr sync returns EINVAL on most platforms
			_ = logger.Sync()
			return nil
		},
	})
}
