package e2etesting

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tech-arch1tect/twofactor/app"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/notifier"
	"go.uber.org/fx"
)

// E2EApp runs the full service on a loopback listener with code delivery
// redirected into Codes.
type E2EApp struct {
	App              *app.App
	BaseURL          string
	Config           *config.Config
	Codes            *CodeSink
	readinessTimeout time.Duration
}

type TestConfig struct {
	EnableDebugMode  bool
	OverrideConfig   func(*config.Config) *config.Config
	ReadinessTimeout time.Duration
}

type HTTPClient struct {
	Client  *http.Client
	BaseURL string
}

func DefaultTestConfig() *TestConfig {
	return &TestConfig{
		ReadinessTimeout: 5 * time.Second,
	}
}

func createTestConfig(testConfig *TestConfig) *config.Config {
	cfg := &config.Config{
		App: config.AppConfig{
			Name:    "twofactor-e2e",
			Version: "test",
		},
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: "0",
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "json",
			Output: "stdout",
		},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			DSN:         ":memory:",
			AutoMigrate: true,
		},
		Challenge: config.ChallengeConfig{
			TTL:            10 * time.Minute,
			MaxAttempts:    5,
			CodeDigits:     6,
			HashKey:        "e2e-hash-key-not-for-production-use",
			Store:          "memory",
			ResendCooldown: 30 * time.Second,
			Retention:      time.Hour,
		},
		Notifier: config.NotifierConfig{
			Channel: "none",
		},
		RateLimit: config.RateLimitConfig{
			Store:     "memory",
			Rate:      20,
			Period:    time.Minute,
			CountMode: config.CountFailures,
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}

	if testConfig.EnableDebugMode {
		cfg.Log.Level = "debug"
	}

	if testConfig.OverrideConfig != nil {
		cfg = testConfig.OverrideConfig(cfg)
	}

	return cfg
}

// BuildTestApp assembles the application from builder. Whatever notifier the
// configuration selects is replaced by a CodeSink.
func BuildTestApp(builder *app.AppBuilder, testConfig *TestConfig) (*E2EApp, error) {
	if testConfig == nil {
		testConfig = DefaultTestConfig()
	}

	cfg := createTestConfig(testConfig)
	sink := NewCodeSink()

	builtApp, err := builder.
		WithConfig(cfg).
		WithFxOptions(fx.Decorate(func(notifier.Notifier) notifier.Notifier {
			return sink
		})).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build test app: %w", err)
	}

	readinessTimeout := testConfig.ReadinessTimeout
	if readinessTimeout == 0 {
		readinessTimeout = 5 * time.Second
	}

	return &E2EApp{
		App:              builtApp,
		Config:           cfg,
		Codes:            sink,
		readinessTimeout: readinessTimeout,
	}, nil
}

func (e *E2EApp) Start(ctx context.Context) error {
	if e.App == nil {
		return fmt.Errorf("application not built - call BuildTestApp first")
	}

	if err := e.App.StartTest(); err != nil {
		return fmt.Errorf("failed to start test app: %w", err)
	}

	addr, err := e.waitForListener(ctx)
	if err != nil {
		return fmt.Errorf("server failed to become ready: %w", err)
	}
	e.BaseURL = "http://" + addr

	return nil
}

func (e *E2EApp) waitForListener(ctx context.Context) (string, error) {
	echoServer := e.App.Server()
	if echoServer == nil {
		return "", fmt.Errorf("echo server not initialized")
	}

	deadline := time.After(e.readinessTimeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if addr := echoServer.ListenerAddr(); addr != nil {
			conn, err := net.DialTimeout("tcp", addr.String(), 100*time.Millisecond)
			if err == nil {
				conn.Close()
				return addr.String(), nil
			}
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return "", fmt.Errorf("timeout after %s waiting for HTTP listener", e.readinessTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (e *E2EApp) Stop() {
	if e.App != nil {
		e.App.StopTest()
	}
}

func (e *E2EApp) Client() *HTTPClient {
	return &HTTPClient{
		Client:  &http.Client{Timeout: 10 * time.Second},
		BaseURL: e.BaseURL,
	}
}
