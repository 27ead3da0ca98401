package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/twofactor/config"
)

func serve(t *testing.T, mw echo.MiddlewareFunc, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	return rec, mw(handler)(e.NewContext(req, rec))
}

func expectTooManyRequests(t *testing.T, err error) {
	t.Helper()
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d, got %d", http.StatusTooManyRequests, httpErr.Code)
	}
}

func fixedKey(key string) func(c echo.Context) string {
	return func(c echo.Context) string { return key }
}

func TestMiddleware(t *testing.T) {
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	t.Run("basic rate limiting", func(t *testing.T) {
		mw := Middleware(&Config{Store: NewMemoryStore(), Rate: 1, Period: time.Minute, KeyGenerator: fixedKey("k")})

		rec, err := serve(t, mw, ok)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		_, err = serve(t, mw, ok)
		expectTooManyRequests(t, err)
	})

	t.Run("default configuration", func(t *testing.T) {
		cfg := &Config{}
		mw := Middleware(cfg)

		if cfg.Store == nil {
			t.Error("expected default store to be set")
		}
		if cfg.Rate != 10 {
			t.Errorf("expected default rate 10, got %d", cfg.Rate)
		}
		if cfg.Period != time.Minute {
			t.Errorf("expected default period 1 minute, got %v", cfg.Period)
		}
		if cfg.CountMode != config.CountAll {
			t.Errorf("expected default count mode %q, got %q", config.CountAll, cfg.CountMode)
		}
		if _, err := serve(t, mw, ok); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("headers are set correctly", func(t *testing.T) {
		mw := Middleware(&Config{Store: NewMemoryStore(), Rate: 5, Period: time.Minute})

		rec, err := serve(t, mw, ok)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
			t.Errorf("expected X-RateLimit-Limit: 5, got %s", got)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
			t.Errorf("expected X-RateLimit-Remaining: 4, got %s", got)
		}
		if rec.Header().Get("X-RateLimit-Reset") == "" {
			t.Error("expected X-RateLimit-Reset header to be set")
		}
	})

	t.Run("count mode: count all", func(t *testing.T) {
		mw := Middleware(&Config{Store: NewMemoryStore(), Rate: 2, Period: time.Minute, CountMode: config.CountAll})
		failing := func(c echo.Context) error { return c.String(http.StatusInternalServerError, "error") }

		for i := 0; i < 2; i++ {
			if _, err := serve(t, mw, failing); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}

		_, err := serve(t, mw, failing)
		expectTooManyRequests(t, err)
	})

	t.Run("count mode: count failures ignores successes", func(t *testing.T) {
		mw := Middleware(&Config{Store: NewMemoryStore(), Rate: 1, Period: time.Minute, CountMode: config.CountFailures, KeyGenerator: fixedKey("k")})

		for i := 0; i < 5; i++ {
			if _, err := serve(t, mw, ok); err != nil {
				t.Fatalf("request %d: unexpected error: %v", i, err)
			}
		}
	})

	t.Run("count mode: count failures counts written errors", func(t *testing.T) {
		mw := Middleware(&Config{Store: NewMemoryStore(), Rate: 1, Period: time.Minute, CountMode: config.CountFailures, KeyGenerator: fixedKey("k")})
		mismatch := func(c echo.Context) error {
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "mismatch"})
		}

		if _, err := serve(t, mw, mismatch); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err := serve(t, mw, ok)
		expectTooManyRequests(t, err)
	})

	t.Run("count mode: count failures counts returned errors", func(t *testing.T) {
		mw := Middleware(&Config{Store: NewMemoryStore(), Rate: 2, Period: time.Minute, CountMode: config.CountFailures, KeyGenerator: fixedKey("k")})
		notFound := func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "not found") }

		for i := 0; i < 2; i++ {
			if _, err := serve(t, mw, notFound); err == nil {
				t.Fatal("expected handler error to pass through")
			}
		}

		_, err := serve(t, mw, ok)
		expectTooManyRequests(t, err)
	})

	t.Run("count mode: count success", func(t *testing.T) {
		mw := Middleware(&Config{Store: NewMemoryStore(), Rate: 1, Period: time.Minute, CountMode: config.CountSuccess, KeyGenerator: fixedKey("k")})
		bad := func(c echo.Context) error { return c.String(http.StatusBadRequest, "bad") }

		for i := 0; i < 3; i++ {
			if _, err := serve(t, mw, bad); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if _, err := serve(t, mw, ok); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err := serve(t, mw, ok)
		expectTooManyRequests(t, err)
	})

	t.Run("custom limit handler", func(t *testing.T) {
		mw := Middleware(&Config{
			Store:  NewMemoryStore(),
			Rate:   1,
			Period: time.Minute,
			OnLimitReached: func(c echo.Context) error {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "slow down"})
			},
		})

		if _, err := serve(t, mw, ok); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rec, err := serve(t, mw, ok)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
			t.Errorf("expected X-RateLimit-Remaining: 0, got %s", got)
		}
	})

	t.Run("store failure fails open", func(t *testing.T) {
		mw := Middleware(&Config{Store: brokenStore{}, Rate: 1})

		for i := 0; i < 3; i++ {
			if _, err := serve(t, mw, ok); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func (brokenStore) Increment(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("store down")
}

func (brokenStore) Reset(context.Context, string) error {
	return errors.New("store down")
}

func TestKeyGenerators(t *testing.T) {
	e := echo.New()

	t.Run("default key uses real ip", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderXRealIP, "203.0.113.7")
		c := e.NewContext(req, httptest.NewRecorder())

		if got := DefaultKeyGenerator(c); got != "rate_limit:203.0.113.7" {
			t.Errorf("unexpected key %q", got)
		}
	})

	t.Run("param key includes principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/challenges/user-42/verify", nil)
		req.Header.Set(echo.HeaderXRealIP, "203.0.113.7")
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("principal")
		c.SetParamValues("user-42")

		if got := ParamKeyGenerator("principal")(c); got != "rate_limit:203.0.113.7:user-42" {
			t.Errorf("unexpected key %q", got)
		}
	})
}
