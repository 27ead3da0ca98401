package testutils

import (
	"sync"
	"time"

	"github.com/tech-arch1tect/twofactor/config"
)

const TestHashKey = "test-hash-key-that-is-long-enough-for-blake2b"

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:    "Test App",
			Version: "1.0.0",
		},
		Server: config.ServerConfig{
			Host: "localhost",
			Port: "8080",
		},
		Database: config.DatabaseConfig{
			Driver:      "sqlite",
			DSN:         ":memory:",
			AutoMigrate: true,
		},
		Challenge: config.ChallengeConfig{
			TTL:             10 * time.Minute,
			MaxAttempts:     5,
			CodeDigits:      6,
			HashKey:         TestHashKey,
			Store:           "memory",
			CleanupInterval: time.Minute,
			ResendCooldown:  30 * time.Second,
			Retention:       time.Hour,
		},
		Redis: config.RedisConfig{
			KeyPrefix: "twofa:test:",
		},
		Notifier: config.NotifierConfig{
			Channel: "none",
		},
		Mail: config.MailConfig{
			Host:        "localhost",
			Port:        587,
			FromAddress: "noreply@example.com",
			FromName:    "Test App",
			Subject:     "Your verification code",
		},
		RateLimit: config.RateLimitConfig{
			Store:     "memory",
			Rate:      10,
			Period:    time.Minute,
			CountMode: config.CountFailures,
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

var TestPrincipals = struct {
	Primary   string
	Secondary string
}{
	Primary:   "user-42",
	Secondary: "user-7",
}

// FakeClock is a settable clock shared by tests that need to move time.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
