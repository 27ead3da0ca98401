package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"go.uber.org/zap"
)

type SMSErrorType string

const (
	SMSErrConfig     SMSErrorType = "CONFIG"
	SMSErrNetwork    SMSErrorType = "NETWORK"
	SMSErrProvider   SMSErrorType = "PROVIDER"
	SMSErrRateLimit  SMSErrorType = "RATE_LIMIT"
	SMSErrValidation SMSErrorType = "VALIDATION"
)

type SMSError struct {
	Type    SMSErrorType
	Code    int
	Message string
	Cause   error
}

func (e *SMSError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("SMS %s error: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("SMS %s error: %s", e.Type, e.Message)
}

func (e *SMSError) Unwrap() error {
	return e.Cause
}

func (e *SMSError) retryable() bool {
	return e.Type != SMSErrConfig && e.Type != SMSErrValidation
}

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// RetryWithBackoff calls fn until it succeeds, returns a non-retryable
// *SMSError, or MaxAttempts is reached. The delay doubles after each failure.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	attempts := max(cfg.MaxAttempts, 1)
	delay := cfg.Delay

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var smsErr *SMSError
		if errors.As(err, &smsErr) && !smsErr.retryable() {
			return err
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return lastErr
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

// SMSNotifier posts codes to an HTTP SMS gateway as JSON.
type SMSNotifier struct {
	config    config.SMSConfig
	appName   string
	directory Directory
	client    *http.Client
	retry     RetryConfig
	now       func() time.Time
	logger    *logging.Service
}

func NewSMSNotifier(cfg config.SMSConfig, appName string, directory Directory, logger *logging.Service) (*SMSNotifier, error) {
	if cfg.APIURL == "" {
		return nil, &SMSError{Type: SMSErrConfig, Message: "TWOFA_SMS_API_URL is required"}
	}

	return &SMSNotifier{
		config:    cfg,
		appName:   appName,
		directory: directory,
		client:    &http.Client{Timeout: cfg.Timeout},
		retry:     RetryConfig{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelay},
		now:       time.Now,
		logger:    logger,
	}, nil
}

func (n *SMSNotifier) Notify(ctx context.Context, principalID, code string, expiresAt time.Time) error {
	contact, err := n.directory.Lookup(ctx, principalID)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("cannot deliver verification code - contact lookup failed",
				zap.Error(err),
				zap.String("principal_id", principalID))
		}
		return err
	}

	phone := normalizePhone(contact.Phone)
	if phone == "" {
		if n.logger != nil {
			n.logger.Warn("cannot deliver verification code - no phone number",
				zap.String("principal_id", principalID))
		}
		return fmt.Errorf("%w: sms", ErrNoAddress)
	}

	payload := smsRequest{
		To:   phone,
		From: n.config.Sender,
		Message: fmt.Sprintf("Your %s verification code is %s. It expires in %s.",
			n.appName, code, formatRemaining(expiresAt.Sub(n.now()))),
	}

	attempt := 0
	err = RetryWithBackoff(ctx, n.retry, func(ctx context.Context) error {
		attempt++
		err := n.send(ctx, payload)
		if err != nil && n.logger != nil {
			n.logger.Warn("sms delivery attempt failed",
				zap.Error(err),
				zap.String("principal_id", principalID),
				zap.Int("attempt", attempt))
		}
		return err
	})
	if err != nil {
		if n.logger != nil {
			n.logger.Error("failed to deliver verification code by sms",
				zap.Error(err),
				zap.String("principal_id", principalID))
		}
		return err
	}

	if n.logger != nil {
		n.logger.Info("verification code sent by sms",
			zap.String("principal_id", principalID),
			zap.Int("attempts", attempt))
	}
	return nil
}

func (n *SMSNotifier) send(ctx context.Context, payload smsRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &SMSError{Type: SMSErrValidation, Message: "invalid payload", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.APIURL, bytes.NewReader(body))
	if err != nil {
		return &SMSError{Type: SMSErrConfig, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.AccessKey != "" {
		req.Header.Set("X-API-KEY", n.config.AccessKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return &SMSError{Type: SMSErrNetwork, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &SMSError{Type: SMSErrRateLimit, Code: resp.StatusCode, Message: "rate limited by provider"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &SMSError{Type: SMSErrConfig, Code: resp.StatusCode, Message: "provider rejected credentials"}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &SMSError{Type: SMSErrValidation, Code: resp.StatusCode, Message: strings.TrimSpace(string(responseBody))}
	default:
		return &SMSError{Type: SMSErrProvider, Code: resp.StatusCode, Message: strings.TrimSpace(string(responseBody))}
	}
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return ""
		}
	}
	if b.Len() < 7 {
		return ""
	}
	return b.String()
}
