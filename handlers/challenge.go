package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/openapi"
	"github.com/tech-arch1tect/twofactor/services/challenge"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"github.com/tech-arch1tect/twofactor/services/notifier"
	"go.uber.org/zap"
)

const (
	principalParam = "principal"
	challengesTag  = "challenges"
)

type IssueResponse struct {
	PrincipalID string    `json:"principal_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Delivered   bool      `json:"delivered" doc:"false when the code could not be handed to the delivery channel"`
}

type VerifyRequest struct {
	Code string `json:"code" doc:"the one-time code sent to the principal" example:"123456"`
}

type VerifyResponse struct {
	Verified bool `json:"verified"`
}

type ErrorResponse struct {
	Error             string `json:"error"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
	Reauthenticate    bool   `json:"reauthenticate,omitempty" doc:"the caller must repeat primary authentication"`
	RetryAfter        int    `json:"retry_after,omitempty" doc:"seconds until the request may be repeated"`
}

// ChallengeHandler exposes the verification engine over HTTP. It is the only
// place codes are handed to a notifier; the engine never delivers them.
type ChallengeHandler struct {
	service  *challenge.Service
	notifier notifier.Notifier
	config   *config.Config
	logger   *logging.Service
	now      func() time.Time
}

func NewChallengeHandler(svc *challenge.Service, n notifier.Notifier, cfg *config.Config, logger *logging.Service) *ChallengeHandler {
	if n == nil {
		n = notifier.NopNotifier{}
	}
	return &ChallengeHandler{
		service:  svc,
		notifier: n,
		config:   cfg,
		logger:   logger.Named("http"),
		now:      time.Now,
	}
}

// Register mounts the challenge routes on e and documents them in api. limiter
// wraps the verify route only; nil disables rate limiting.
func (h *ChallengeHandler) Register(e *echo.Echo, api *openapi.OpenAPI, limiter echo.MiddlewareFunc) {
	var limited []echo.MiddlewareFunc
	if limiter != nil {
		limited = append(limited, limiter)
	}

	e.POST("/challenges/:principal", h.Issue)
	e.POST("/challenges/:principal/resend", h.Resend, limited...)
	e.POST("/challenges/:principal/verify", h.Verify, limited...)
	e.GET("/challenges/:principal", h.Status)

	if api != nil {
		h.document(api)
	}
}

// Issue handles POST /challenges/:principal.
func (h *ChallengeHandler) Issue(c echo.Context) error {
	principalID := c.Param(principalParam)

	ch, err := h.service.Issue(c.Request().Context(), principalID)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, h.deliver(c, ch))
}

// Resend handles POST /challenges/:principal/resend. A fresh code is refused
// while the previous one is younger than the configured cooldown. The check
// and the resend are separate steps, so concurrent requests can each send a
// code; the rate limiter bounds how many.
func (h *ChallengeHandler) Resend(c echo.Context) error {
	ctx := c.Request().Context()
	principalID := c.Param(principalParam)

	status, err := h.service.Status(ctx, principalID)
	switch {
	case err == nil:
		if wait := status.IssuedAt.Add(h.config.Challenge.ResendCooldown).Sub(h.now()); wait > 0 {
			seconds := int(math.Ceil(wait.Seconds()))
			h.logger.Info("resend refused during cooldown",
				zap.String("principal_id", principalID),
				zap.Duration("wait", wait))
			c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:      "a code was sent recently, try again later",
				RetryAfter: seconds,
			})
		}
	case errors.Is(err, challenge.ErrNotFound):
	default:
		return h.writeError(c, err)
	}

	ch, err := h.service.Resend(ctx, principalID)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, h.deliver(c, ch))
}

// Verify handles POST /challenges/:principal/verify.
func (h *ChallengeHandler) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.service.Verify(c.Request().Context(), c.Param(principalParam), req.Code); err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, VerifyResponse{Verified: true})
}

// Status handles GET /challenges/:principal.
func (h *ChallengeHandler) Status(c echo.Context) error {
	status, err := h.service.Status(c.Request().Context(), c.Param(principalParam))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// deliver hands the plaintext code to the notifier. Delivery failure leaves the
// challenge in place; the client may resend once the cooldown passes.
func (h *ChallengeHandler) deliver(c echo.Context, ch *challenge.Challenge) IssueResponse {
	resp := IssueResponse{
		PrincipalID: ch.PrincipalID,
		IssuedAt:    ch.IssuedAt,
		ExpiresAt:   ch.ExpiresAt,
		Delivered:   true,
	}

	if err := h.notifier.Notify(c.Request().Context(), ch.PrincipalID, ch.Code, ch.ExpiresAt); err != nil {
		h.logger.Error("failed to deliver verification code",
			zap.Error(err),
			zap.String("principal_id", ch.PrincipalID))
		resp.Delivered = false
	}

	return resp
}

func (h *ChallengeHandler) writeError(c echo.Context, err error) error {
	var mismatch *challenge.MismatchError

	switch {
	case errors.As(err, &mismatch):
		remaining := mismatch.Remaining
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:             "verification code does not match",
			AttemptsRemaining: &remaining,
		})
	case errors.Is(err, challenge.ErrExpired):
		return c.JSON(http.StatusGone, ErrorResponse{
			Error:          "verification code has expired",
			Reauthenticate: challenge.MustReauthenticate(err),
		})
	case errors.Is(err, challenge.ErrTooManyAttempts):
		return c.JSON(http.StatusLocked, ErrorResponse{Error: "too many failed attempts, request a new code"})
	case errors.Is(err, challenge.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "no active verification code"})
	case errors.Is(err, challenge.ErrInvalidPrincipal):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, challenge.ErrStoreUnavailable):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "verification temporarily unavailable"})
	default:
		h.logger.Error("unexpected verification error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (h *ChallengeHandler) document(api *openapi.OpenAPI) {
	api.Tag(challengesTag, "Issue and verify one-time codes")
	api.AddSchema("Error", ErrorResponse{})

	principalDoc := "opaque identifier of the user being verified"

	api.Document(http.MethodPost, "/challenges/:principal").
		Summary("Issue a code").
		Description("Creates a new challenge, replacing any previous one, and sends the code through the configured channel.").
		OperationID("issueChallenge").
		Tags(challengesTag).
		PathParam(principalParam, principalDoc).
		Response(http.StatusCreated, IssueResponse{}, "challenge issued").
		Response(http.StatusBadRequest, ErrorResponse{}, "missing principal").
		Response(http.StatusServiceUnavailable, ErrorResponse{}, "store unavailable").
		Build()

	api.Document(http.MethodPost, "/challenges/:principal/resend").
		Summary("Resend a code").
		Description("Supersedes the current code with a new one.").
		OperationID("resendChallenge").
		Tags(challengesTag).
		PathParam(principalParam, principalDoc).
		Response(http.StatusCreated, IssueResponse{}, "challenge reissued").
		ResponseWithHeaders(http.StatusTooManyRequests, ErrorResponse{}, "resend cooldown active", map[string]string{
			"Retry-After": "seconds until a resend is accepted",
		}).
		Response(http.StatusServiceUnavailable, ErrorResponse{}, "store unavailable").
		Build()

	api.Document(http.MethodPost, "/challenges/:principal/verify").
		Summary("Verify a code").
		Description("Each challenge can be verified successfully once.").
		OperationID("verifyChallenge").
		Tags(challengesTag).
		PathParam(principalParam, principalDoc).
		Body(VerifyRequest{}, "submitted code").
		Response(http.StatusOK, VerifyResponse{}, "code accepted").
		Response(http.StatusBadRequest, nil, "malformed request body").
		Response(http.StatusNotFound, ErrorResponse{}, "no active challenge").
		Response(http.StatusGone, ErrorResponse{}, "challenge expired, reauthenticate").
		Response(http.StatusUnprocessableEntity, ErrorResponse{}, "code does not match").
		Response(http.StatusLocked, ErrorResponse{}, "attempt ceiling reached").
		ResponseWithHeaders(http.StatusTooManyRequests, nil, "rate limited", map[string]string{
			"X-RateLimit-Limit":     "requests allowed per window",
			"X-RateLimit-Remaining": "requests left in the window",
			"X-RateLimit-Reset":     "unix time the window resets",
		}).
		Response(http.StatusServiceUnavailable, ErrorResponse{}, "store unavailable").
		Build()

	api.Document(http.MethodGet, "/challenges/:principal").
		Summary("Challenge status").
		OperationID("challengeStatus").
		Tags(challengesTag).
		PathParam(principalParam, principalDoc).
		Response(http.StatusOK, challenge.Status{}, "current challenge").
		Response(http.StatusNotFound, ErrorResponse{}, "no challenge issued").
		Response(http.StatusServiceUnavailable, ErrorResponse{}, "store unavailable").
		Build()
}
