package e2etesting

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/twofactor/app"
	"github.com/tech-arch1tect/twofactor/config"
)

func startTestApp(t *testing.T, tc *TestConfig) (*E2EApp, *HTTPClient) {
	t.Helper()

	e2e, err := BuildTestApp(app.NewApp(), tc)
	require.NoError(t, err)
	require.NoError(t, e2e.Start(context.Background()))
	t.Cleanup(e2e.Stop)

	return e2e, e2e.Client()
}

func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

func TestE2E_IssueAndVerify(t *testing.T) {
	e2e, client := startTestApp(t, nil)

	resp, err := client.Post("/challenges/user-42", nil)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusCreated)
	resp.AssertContains(t, `"delivered":true`)
	resp.AssertNotContains(t, "code")

	code, ok := e2e.Codes.Code("user-42")
	require.True(t, ok)
	require.Len(t, code, 6)

	resp, err = client.Post("/challenges/user-42/verify", map[string]string{"code": wrongCode(code)})
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusUnprocessableEntity)

	var mismatch struct {
		AttemptsRemaining int `json:"attempts_remaining"`
	}
	require.NoError(t, resp.GetJSON(&mismatch))
	assert.Equal(t, 4, mismatch.AttemptsRemaining)

	resp, err = client.Post("/challenges/user-42/verify", map[string]string{"code": code})
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	resp.AssertContains(t, `"verified":true`)

	resp, err = client.Post("/challenges/user-42/verify", map[string]string{"code": code})
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusNotFound)

	resp, err = client.Get("/challenges/user-42")
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	resp.AssertContains(t, `"state":"consumed"`)
}

func TestE2E_Lockout(t *testing.T) {
	e2e, client := startTestApp(t, &TestConfig{
		OverrideConfig: func(cfg *config.Config) *config.Config {
			cfg.Challenge.MaxAttempts = 2
			return cfg
		},
	})

	resp, err := client.Post("/challenges/user-7", nil)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusCreated)

	code, ok := e2e.Codes.Code("user-7")
	require.True(t, ok)

	for range 2 {
		resp, err = client.Post("/challenges/user-7/verify", map[string]string{"code": wrongCode(code)})
		require.NoError(t, err)
		resp.AssertStatus(t, http.StatusUnprocessableEntity)
	}

	resp, err = client.Post("/challenges/user-7/verify", map[string]string{"code": code})
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusLocked)
}

func TestE2E_ResendCooldown(t *testing.T) {
	e2e, client := startTestApp(t, nil)

	resp, err := client.Post("/challenges/user-42", nil)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusCreated)

	resp, err = client.Post("/challenges/user-42/resend", nil)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusTooManyRequests)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, 1, e2e.Codes.Deliveries())
}

func TestE2E_ServiceEndpoints(t *testing.T) {
	_, client := startTestApp(t, nil)

	resp, err := client.Get("/healthz")
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)

	resp, err = client.Get("/openapi.json")
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	resp.AssertContains(t, "/challenges/{principal}/verify")

	resp, err = client.Post("/challenges/user-42", nil)
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusCreated)

	resp, err = client.Get("/metrics")
	require.NoError(t, err)
	resp.AssertStatus(t, http.StatusOK)
	resp.AssertContains(t, "challenges_issued_total")
}

func TestBuildTestApp_Defaults(t *testing.T) {
	e2e, err := BuildTestApp(app.NewApp(), nil)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", e2e.Config.Server.Host)
	assert.Equal(t, "memory", e2e.Config.Challenge.Store)
	assert.NotNil(t, e2e.Codes)
	assert.Empty(t, e2e.BaseURL)
}
