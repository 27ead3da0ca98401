package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/testutils"
)

var testContact = Contact{
	PrincipalID: "user-42",
	Email:       "user42@example.com",
	Phone:       "+44 (0) 7700-900123",
}

type recordingObserver struct {
	channel string
	err     error
	calls   int
}

func (o *recordingObserver) NotificationSent(channel string, err error) {
	o.channel = channel
	o.err = err
	o.calls++
}

func TestMapDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMapDirectory(testContact)

	c, err := dir.Lookup(ctx, "user-42")
	require.NoError(t, err)
	assert.Equal(t, testContact.Email, c.Email)

	_, err = dir.Lookup(ctx, "nobody")
	assert.ErrorIs(t, err, ErrContactNotFound)

	require.NoError(t, dir.Save(ctx, Contact{PrincipalID: "user-7", Email: "seven@example.com"}))
	c, err = dir.Lookup(ctx, "user-7")
	require.NoError(t, err)
	assert.Equal(t, "seven@example.com", c.Email)
}

func TestGormDirectory(t *testing.T) {
	ctx := context.Background()
	db := testutils.SetupTestDB(t, &Contact{})
	dir := NewGormDirectory(db)

	t.Run("missing contact", func(t *testing.T) {
		_, err := dir.Lookup(ctx, "user-42")

		assert.ErrorIs(t, err, ErrContactNotFound)
	})

	t.Run("save and update", func(t *testing.T) {
		require.NoError(t, dir.Save(ctx, testContact))

		c, err := dir.Lookup(ctx, "user-42")
		require.NoError(t, err)
		assert.Equal(t, testContact.Phone, c.Phone)

		require.NoError(t, dir.Save(ctx, Contact{PrincipalID: "user-42", Email: "new@example.com"}))

		c, err = dir.Lookup(ctx, "user-42")
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", c.Email)
		assert.Empty(t, c.Phone)

		var count int64
		require.NoError(t, db.Model(&Contact{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("lookup after table reset", func(t *testing.T) {
		testutils.CleanupTestDB(t, db, "principal_contacts")

		_, err := dir.Lookup(ctx, "user-42")

		assert.ErrorIs(t, err, ErrContactNotFound)
	})
}

func TestEmailNotifier(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	expiresAt := now.Add(10 * time.Minute)

	t.Run("sends verification template", func(t *testing.T) {
		mailer := &testutils.MockMailService{}
		mailer.On("SendTemplate", mock.Anything, "verification_code", []string{"user42@example.com"}, "Your code",
			mock.MatchedBy(func(data map[string]any) bool {
				return data["Code"] == "482913" &&
					data["ExpiresIn"] == "10 minutes" &&
					data["AppName"] == "Test App" &&
					data["ExpiresAt"] == "12:10 UTC"
			})).Return(nil)

		n := NewEmailNotifier(mailer, NewMapDirectory(testContact), "Test App", "Your code", nil)
		n.now = func() time.Time { return now }

		require.NoError(t, n.Notify(ctx, "user-42", "482913", expiresAt))
		mailer.AssertExpectations(t)
	})

	t.Run("unknown principal", func(t *testing.T) {
		mailer := &testutils.MockMailService{}
		n := NewEmailNotifier(mailer, NewMapDirectory(), "Test App", "Your code", nil)

		err := n.Notify(ctx, "user-42", "482913", expiresAt)

		assert.ErrorIs(t, err, ErrContactNotFound)
		mailer.AssertNotCalled(t, "SendTemplate")
	})

	t.Run("principal without email", func(t *testing.T) {
		mailer := &testutils.MockMailService{}
		dir := NewMapDirectory(Contact{PrincipalID: "user-42", Phone: "+447700900123"})
		n := NewEmailNotifier(mailer, dir, "Test App", "Your code", nil)

		err := n.Notify(ctx, "user-42", "482913", expiresAt)

		assert.ErrorIs(t, err, ErrNoAddress)
	})

	t.Run("mailer failure", func(t *testing.T) {
		mailer := &testutils.MockMailService{}
		mailer.On("SendTemplate", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("smtp unavailable"))
		n := NewEmailNotifier(mailer, NewMapDirectory(testContact), "Test App", "Your code", nil)

		err := n.Notify(ctx, "user-42", "482913", expiresAt)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp unavailable")
	})
}

func newSMSNotifier(t *testing.T, url string) *SMSNotifier {
	t.Helper()
	n, err := NewSMSNotifier(config.SMSConfig{
		APIURL:     url,
		AccessKey:  "test-key",
		Sender:     "TWOFA",
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}, "Test App", NewMapDirectory(testContact), nil)
	require.NoError(t, err)
	return n
}

func TestSMSNotifier(t *testing.T) {
	ctx := context.Background()
	expiresAt := time.Now().Add(5 * time.Minute)

	t.Run("posts code to gateway", func(t *testing.T) {
		var got smsRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		require.NoError(t, newSMSNotifier(t, server.URL).Notify(ctx, "user-42", "482913", expiresAt))

		assert.Equal(t, "+4407700900123", got.To)
		assert.Equal(t, "TWOFA", got.From)
		assert.Contains(t, got.Message, "482913")
		assert.Contains(t, got.Message, "Test App")
	})

	t.Run("retries provider errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		require.NoError(t, newSMSNotifier(t, server.URL).Notify(ctx, "user-42", "482913", expiresAt))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		err := newSMSNotifier(t, server.URL).Notify(ctx, "user-42", "482913", expiresAt)

		var smsErr *SMSError
		require.ErrorAs(t, err, &smsErr)
		assert.Equal(t, SMSErrRateLimit, smsErr.Type)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("does not retry rejected requests", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "invalid number", http.StatusBadRequest)
		}))
		defer server.Close()

		err := newSMSNotifier(t, server.URL).Notify(ctx, "user-42", "482913", expiresAt)

		var smsErr *SMSError
		require.ErrorAs(t, err, &smsErr)
		assert.Equal(t, SMSErrValidation, smsErr.Type)
		assert.Equal(t, "invalid number", smsErr.Message)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("principal without phone", func(t *testing.T) {
		n := newSMSNotifier(t, "http://127.0.0.1:1")
		n.directory = NewMapDirectory(Contact{PrincipalID: "user-42", Email: "a@example.com"})

		err := n.Notify(ctx, "user-42", "482913", expiresAt)

		assert.ErrorIs(t, err, ErrNoAddress)
	})

	t.Run("missing gateway url", func(t *testing.T) {
		_, err := NewSMSNotifier(config.SMSConfig{}, "Test App", NewMapDirectory(), nil)

		var smsErr *SMSError
		require.ErrorAs(t, err, &smsErr)
		assert.Equal(t, SMSErrConfig, smsErr.Type)
	})
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("stops on success", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(ctx, RetryConfig{MaxAttempts: 5, Delay: time.Millisecond}, func(context.Context) error {
			calls++
			if calls == 2 {
				return nil
			}
			return errors.New("transient")
		})

		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("zero attempts still calls once", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(ctx, RetryConfig{}, func(context.Context) error {
			calls++
			return errors.New("transient")
		})

		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("honours cancellation between attempts", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		calls := 0
		err := RetryWithBackoff(cancelled, RetryConfig{MaxAttempts: 3, Delay: time.Hour}, func(context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+44 7700 900123", "+447700900123"},
		{"(555) 010-9999", "5550109999"},
		{"", ""},
		{"12345", ""},
		{"+1 555 CALL NOW", ""},
		{"555+0109999", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePhone(tt.in))
		})
	}
}

func TestObserve(t *testing.T) {
	ctx := context.Background()

	t.Run("nil observer returns notifier unchanged", func(t *testing.T) {
		n := NopNotifier{}
		assert.Equal(t, Notifier(n), Observe(n, "none", nil))
	})

	t.Run("reports results", func(t *testing.T) {
		inner := &testutils.MockNotifier{}
		inner.On("Notify", mock.Anything, "user-42", "482913", mock.Anything).Return(errors.New("boom"))
		obs := &recordingObserver{}

		err := Observe(inner, "sms", obs).Notify(ctx, "user-42", "482913", time.Now())

		require.Error(t, err)
		assert.Equal(t, 1, obs.calls)
		assert.Equal(t, "sms", obs.channel)
		assert.EqualError(t, obs.err, "boom")
	})
}

func TestNew(t *testing.T) {
	dir := NewMapDirectory()

	t.Run("none", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.Notifier.Channel = "none"

		n, err := New(cfg, dir, nil)

		require.NoError(t, err)
		assert.IsType(t, NopNotifier{}, n)
	})

	t.Run("email", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.Notifier.Channel = "email"

		n, err := New(cfg, dir, nil)

		require.NoError(t, err)
		assert.IsType(t, &EmailNotifier{}, n)
	})

	t.Run("email without sender address", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.Notifier.Channel = "email"
		cfg.Mail.FromAddress = ""

		_, err := New(cfg, dir, nil)

		require.Error(t, err)
	})

	t.Run("sms", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.Notifier.Channel = "sms"
		cfg.SMS.APIURL = "https://sms.example.com/send"

		n, err := New(cfg, dir, nil)

		require.NoError(t, err)
		assert.IsType(t, &SMSNotifier{}, n)
	})

	t.Run("unknown channel", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.Notifier.Channel = "pigeon"

		_, err := New(cfg, dir, nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported notifier channel")
	})
}
