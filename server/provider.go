package server

import (
	"context"

	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/openapi"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"github.com/tech-arch1tect/twofactor/services/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In
	Config  *config.Config
	Logger  *logging.Service
	Metrics *metrics.Service `optional:"true"`
}

func ProvideServer(p Params) *Server {
	srv := New(p.Config, p.Logger)
	if p.Metrics != nil && p.Config.Metrics.Enabled {
		srv.EnableMetrics(p.Metrics)
	}
	return srv
}

func ProvideOpenAPI(srv *Server) *openapi.OpenAPI {
	return srv.OpenAPI()
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, logger *logging.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && logger != nil {
					logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(ProvideServer),
	fx.Provide(ProvideOpenAPI),
	fx.Invoke(registerLifecycle),
)
