// Package twofactor issues and verifies single-use one-time codes for second
// factor authentication. New assembles the full service; embedders that only
// need the engine can use services/challenge directly.
package twofactor

import (
	"github.com/tech-arch1tect/twofactor/app"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/internal/options"
	"go.uber.org/fx"
)

type App = app.App

func New(opts ...options.Option) (*App, error) {
	o := options.Apply(opts...)

	b := app.NewApp()
	if o.Config != nil {
		b.WithConfig(o.Config)
	}
	if o.EnableDatabase {
		b.WithDatabase(o.DatabaseModels...)
	}
	if o.EnableRedis {
		b.WithRedis()
	}
	if o.DisableHTTP {
		b.WithoutHTTP()
	}
	b.WithFxOptions(o.ExtraFxOptions...)

	return b.Build()
}

func WithConfig(cfg *config.Config) options.Option {
	return options.WithConfig(cfg)
}

func WithDatabase(models ...any) options.Option {
	return options.WithDatabase(models...)
}

func WithRedis() options.Option {
	return options.WithRedis()
}

func WithoutHTTP() options.Option {
	return options.WithoutHTTP()
}

func WithFxOptions(fxOpts ...fx.Option) options.Option {
	return options.WithFxOptions(fxOpts...)
}
