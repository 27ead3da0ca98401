package ratelimit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"go.uber.org/zap"
)

type Config struct {
	Store          Store
	Rate           int
	Period         time.Duration
	CountMode      config.CountingMode
	KeyGenerator   func(c echo.Context) string
	OnLimitReached func(c echo.Context) error
	Logger         *logging.Service
}

func Middleware(cfg *Config) echo.MiddlewareFunc {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}

	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}

	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}

	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}

	if cfg.CountMode == "" {
		cfg.CountMode = config.CountAll
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := cfg.KeyGenerator(c)

			count, resetTime, err := cfg.Store.Get(ctx, key)
			if err != nil {
				// Fail open: the verification engine enforces its own attempt ceiling.
				if cfg.Logger != nil {
					cfg.Logger.Warn("rate limit store unavailable, allowing request",
						zap.Error(err),
						zap.String("key", key))
				}
				return next(c)
			}

			if count >= cfg.Rate {
				setHeaders(c, cfg.Rate, 0, resetTime)
				if cfg.Logger != nil {
					cfg.Logger.Warn("rate limit exceeded",
						zap.String("key", key),
						zap.Int("limit", cfg.Rate))
				}
				return cfg.OnLimitReached(c)
			}

			if cfg.CountMode == config.CountAll {
				newCount, newReset, err := cfg.Store.Increment(ctx, key, cfg.Period)
				if err == nil {
					setHeaders(c, cfg.Rate, cfg.Rate-newCount, newReset)
				}
				return next(c)
			}

			if resetTime.IsZero() {
				resetTime = time.Now().Add(cfg.Period)
			}
			setHeaders(c, cfg.Rate, cfg.Rate-count, resetTime)

			err = next(c)

			status := responseStatus(c, err)
			shouldCount := false
			switch cfg.CountMode {
			case config.CountFailures:
				shouldCount = status >= http.StatusBadRequest
			case config.CountSuccess:
				shouldCount = status < http.StatusBadRequest
			}

			if shouldCount {
				if _, _, incErr := cfg.Store.Increment(ctx, key, cfg.Period); incErr != nil && cfg.Logger != nil {
					cfg.Logger.Warn("failed to record rate limited request",
						zap.Error(incErr),
						zap.String("key", key))
				}
			}

			return err
		}
	}
}

// responseStatus resolves the status a request will end with, including errors
// the handler returned but echo has not written yet.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func setHeaders(c echo.Context, limit, remaining int, resetTime time.Time) {
	c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}

func DefaultKeyGenerator(c echo.Context) string {
	realIP := c.RealIP()

	if realIP == "" || realIP == "unknown" {
		realIP = "fallback"
	}

	return "rate_limit:" + realIP
}

// ParamKeyGenerator keys by client IP and the named path parameter, so one
// client hammering one principal does not lock out others.
func ParamKeyGenerator(param string) func(c echo.Context) string {
	return func(c echo.Context) string {
		return DefaultKeyGenerator(c) + ":" + c.Param(param)
	}
}

func DefaultOnLimitReached(c echo.Context) error {
	return echo.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
}
