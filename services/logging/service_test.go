package logging

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/twofactor/config"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewService(t *testing.T) {
	t.Run("json to stdout", func(t *testing.T) {
		service, err := NewService(Config{Level: Info, Format: "json", OutputPath: "stdout"})

		require.NoError(t, err)
		assert.NotNil(t, service.logger)
	})

	t.Run("console format", func(t *testing.T) {
		service, err := NewService(Config{Level: Debug, Format: "console", OutputPath: "stdout"})

		require.NoError(t, err)
		assert.NotNil(t, service.logger)
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "twofactor.log")

		service, err := NewService(Config{Level: Warn, Format: "json", OutputPath: logFile})
		require.NoError(t, err)

		service.Warn("challenge store degraded")
		_ = service.Sync()

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "challenge store degraded")
	})
}

func TestService_LevelMethods(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	service := NewFromZap(zap.New(core))

	tests := []struct {
		name  string
		log   func(string, ...zap.Field)
		level zapcore.Level
	}{
		{"Debug", service.Debug, zapcore.DebugLevel},
		{"Info", service.Info, zapcore.InfoLevel},
		{"Warn", service.Warn, zapcore.WarnLevel},
		{"Error", service.Error, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.log("message", zap.String("principal_id", "42"))

			logs := recorded.TakeAll()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Equal(t, "42", logs[0].ContextMap()["principal_id"])
		})
	}
}

func TestService_WithAndNamed(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	service := NewFromZap(zap.New(core))

	child := service.Named("challenge").With(zap.String("store", "memory"))
	child.Info("issued")

	logs := recorded.TakeAll()
	require.Len(t, logs, 1)
	assert.Equal(t, "challenge", logs[0].LoggerName)
	assert.Equal(t, "memory", logs[0].ContextMap()["store"])
}

func TestService_NilSafety(t *testing.T) {
	t.Run("nil service", func(t *testing.T) {
		var service *Service

		assert.NotPanics(t, func() {
			service.Debug("test")
			service.Info("test")
			service.Warn("test")
			service.Error("test")
			assert.Nil(t, service.With(zap.String("k", "v")))
			assert.Nil(t, service.Named("x"))
			assert.Nil(t, service.Logger())
			assert.NoError(t, service.Sync())
		})
	})

	t.Run("service with nil logger", func(t *testing.T) {
		service := &Service{}

		assert.NotPanics(t, func() {
			service.Info("test")
			service.With(zap.String("k", "v")).Info("test")
			assert.NoError(t, service.Sync())
		})
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zapcore.Level
	}{
		{Debug, zapcore.DebugLevel},
		{Info, zapcore.InfoLevel},
		{Warn, zapcore.WarnLevel},
		{Error, zapcore.ErrorLevel},
		{LogLevel("unknown"), zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestRequestLogger(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	service := NewFromZap(zap.New(core))

	e := echo.New()
	e.Use(RequestLogger(service, "/healthz"))
	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/challenges/:principal", func(c echo.Context) error { return c.NoContent(http.StatusNotFound) })

	t.Run("logs client errors as warnings", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/challenges/42", nil)
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
		e.ServeHTTP(httptest.NewRecorder(), req)

		logs := recorded.TakeAll()
		require.Len(t, logs, 1)
		assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
		assert.Equal(t, "client error", logs[0].Message)
		assert.Equal(t, int64(http.StatusNotFound), logs[0].ContextMap()["status"])
	})

	t.Run("skips configured paths", func(t *testing.T) {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Empty(t, recorded.TakeAll())
	})
}

func TestNewLoggingService(t *testing.T) {
	cfg := &config.Config{Log: config.LogConfig{Level: "warn", Format: "console", Output: "stdout"}}

	logger, err := NewLoggingService(cfg)
	require.NoError(t, err)

	assert.False(t, logger.Logger().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Logger().Core().Enabled(zapcore.WarnLevel))

	app := fxtest.New(t, fx.Supply(logger), Module, fx.NopLogger)
	app.RequireStart()
	app.RequireStop()
}
