package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/openapi"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"github.com/tech-arch1tect/twofactor/services/metrics"
	"go.uber.org/zap"
)

const healthPath = "/healthz"

type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger *logging.Service
	api    *openapi.OpenAPI
}

func New(cfg *config.Config, logger *logging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	configureTrustedProxies(e, cfg.Server.TrustedProxies, logger)

	e.Use(middleware.Recover())
	if logger != nil {
		e.Use(logging.RequestLogger(logger, healthPath, cfg.Metrics.Path))
	}

	api := openapi.New(cfg.App.Name, cfg.App.Version).
		Description("One-time code issuance and verification for second-factor authentication.")

	e.GET(healthPath, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/openapi.json", api.JSONHandler())
	e.GET("/openapi.yaml", api.YAMLHandler())

	return &Server{
		echo:   e,
		cfg:    cfg,
		logger: logger,
		api:    api,
	}
}

// EnableMetrics instruments every route and serves the registry at the
// configured metrics path.
func (s *Server) EnableMetrics(m *metrics.Service) {
	s.echo.Use(m.Middleware())
	s.echo.GET(s.cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start blocks serving HTTP, or HTTPS when a certificate is configured, until
// Shutdown is called.
func (s *Server) Start() error {
	addr := s.Addr()
	tls := s.cfg.Server.TLSCertFile != ""

	if s.logger != nil {
		s.logger.Info("starting HTTP server",
			zap.String("addr", addr),
			zap.Bool("tls", tls))
		s.logRoutes()
	}

	var err error
	if tls {
		err = s.echo.StartTLS(addr, s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	} else {
		err = s.echo.Start(addr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("shutting down HTTP server")
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) logRoutes() {
	for _, r := range s.echo.Routes() {
		s.logger.Debug("route registered",
			zap.String("method", r.Method),
			zap.String("path", r.Path),
			zap.String("handler", shortenHandlerName(r.Name)))
	}
}

func (s *Server) Get(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.GET(path, handler, m...)
}

func (s *Server) Post(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.POST(path, handler, m...)
}

func (s *Server) Put(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.PUT(path, handler, m...)
}

func (s *Server) Delete(path string, handler echo.HandlerFunc, m ...echo.MiddlewareFunc) {
	s.echo.DELETE(path, handler, m...)
}

func (s *Server) Group(prefix string, m ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, m...)
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) OpenAPI() *openapi.OpenAPI {
	return s.api
}

// configureTrustedProxies reads client addresses from X-Forwarded-For only
// when the hop is one of the listed proxies. Without any valid entry the
// socket address is used.
func configureTrustedProxies(e *echo.Echo, proxies []string, logger *logging.Service) {
	var opts []echo.TrustOption

	for _, proxy := range proxies {
		proxy = strings.TrimSpace(proxy)
		if proxy == "" {
			continue
		}

		if !strings.Contains(proxy, "/") {
			ip := net.ParseIP(proxy)
			if ip == nil {
				if logger != nil {
					logger.Warn("ignoring invalid trusted proxy", zap.String("proxy", proxy))
				}
				continue
			}
			if ip.To4() != nil {
				proxy += "/32"
			} else {
				proxy += "/128"
			}
		}

		_, ipNet, err := net.ParseCIDR(proxy)
		if err != nil {
			if logger != nil {
				logger.Warn("ignoring invalid trusted proxy", zap.String("proxy", proxy), zap.Error(err))
			}
			continue
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}

	if len(opts) == 0 {
		e.IPExtractor = echo.ExtractIPDirect()
		return
	}

	opts = append(opts,
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	)
	e.IPExtractor = echo.ExtractIPFromXFFHeader(opts...)

	if logger != nil {
		logger.Info("trusting forwarded client addresses", zap.Int("proxies", len(opts)-3))
	}
}

func shortenHandlerName(name string) string {
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if len(name) > 80 {
		name = name[:77] + "..."
	}
	return name
}
