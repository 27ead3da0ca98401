package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/twofactor/services/challenge"
)

func TestService_Counters(t *testing.T) {
	svc := NewService("twofactor")

	svc.ChallengeIssued("issue")
	svc.ChallengeIssued("issue")
	svc.ChallengeIssued("resend")
	svc.VerificationResult(challenge.ResultSuccess)
	svc.VerificationResult(challenge.ResultMismatch)
	svc.RecordsPurged(3)
	svc.NotificationSent("email", nil)
	svc.NotificationSent("email", errors.New("smtp down"))

	assert.Equal(t, float64(2), testutil.ToFloat64(svc.challengesIssued.WithLabelValues("issue")))
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.challengesIssued.WithLabelValues("resend")))
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.verifications.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.verifications.WithLabelValues("mismatch")))
	assert.Equal(t, float64(3), testutil.ToFloat64(svc.recordsPurged))
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.notifications.WithLabelValues("email", "failure")))
}

func TestService_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewService("twofactor")
		NewService("twofactor")
	})
}

func TestService_Handler(t *testing.T) {
	svc := NewService("twofactor")
	svc.ChallengeIssued("issue")

	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `twofactor_challenges_issued_total{reason="issue"} 1`)
}

func TestService_Middleware(t *testing.T) {
	svc := NewService("twofactor")
	e := echo.New()
	e.Use(svc.Middleware())
	e.GET("/challenges/:principal", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.POST("/challenges/:principal/verify", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "mismatch")
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/challenges/user-42", nil),
		httptest.NewRequest(http.MethodPost, "/challenges/user-42/verify", nil),
	} {
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(svc.httpRequests.WithLabelValues("GET", "/challenges/:principal", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.httpRequests.WithLabelValues("POST", "/challenges/:principal/verify", "422")))
}
