package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/middleware/ratelimit"
	"github.com/tech-arch1tect/twofactor/openapi"
	"github.com/tech-arch1tect/twofactor/server"
	"github.com/tech-arch1tect/twofactor/services/challenge"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"github.com/tech-arch1tect/twofactor/services/notifier"
	"go.uber.org/fx"
)

type Params struct {
	fx.In
	Server         *server.Server
	API            *openapi.OpenAPI
	Service        *challenge.Service
	Notifier       notifier.Notifier
	Config         *config.Config
	Logger         *logging.Service
	RateLimitStore ratelimit.Store `optional:"true"`
}

func RegisterRoutes(p Params) *ChallengeHandler {
	h := NewChallengeHandler(p.Service, p.Notifier, p.Config, p.Logger)

	var limiter echo.MiddlewareFunc
	if p.RateLimitStore != nil {
		limiter = ratelimit.Middleware(&ratelimit.Config{
			Store:        p.RateLimitStore,
			Rate:         p.Config.RateLimit.Rate,
			Period:       p.Config.RateLimit.Period,
			CountMode:    p.Config.RateLimit.CountMode,
			KeyGenerator: limiterKey,
			Logger:       p.Logger,
		})
	}

	h.Register(p.Server.Echo(), p.API, limiter)
	return h
}

// limiterKey gives verify and resend separate budgets per client and principal.
func limiterKey(c echo.Context) string {
	return ratelimit.ParamKeyGenerator(principalParam)(c) + ":" + c.Path()
}

var Module = fx.Options(
	fx.Provide(RegisterRoutes),
	fx.Invoke(func(*ChallengeHandler) {}),
)
