package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig       `envPrefix:"TWOFA_APP_"`
	Server    ServerConfig    `envPrefix:"TWOFA_SERVER_"`
	Log       LogConfig       `envPrefix:"TWOFA_LOG_"`
	Database  DatabaseConfig  `envPrefix:"TWOFA_DATABASE_"`
	Challenge ChallengeConfig `envPrefix:"TWOFA_CHALLENGE_"`
	Redis     RedisConfig     `envPrefix:"TWOFA_REDIS_"`
	Notifier  NotifierConfig  `envPrefix:"TWOFA_NOTIFIER_"`
	Mail      MailConfig      `envPrefix:"TWOFA_MAIL_"`
	SMS       SMSConfig       `envPrefix:"TWOFA_SMS_"`
	RateLimit RateLimitConfig `envPrefix:"TWOFA_RATE_LIMIT_"`
	Metrics   MetricsConfig   `envPrefix:"TWOFA_METRICS_"`
}

type AppConfig struct {
	Name    string `env:"NAME" envDefault:"twofactor"`
	Version string `env:"VERSION" envDefault:"1.0.0"`
}

type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	Host           string   `env:"HOST" envDefault:"localhost"`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	TLSCertFile    string   `env:"TLS_CERT_FILE"`
	TLSKeyFile     string   `env:"TLS_KEY_FILE"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"twofactor.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

// ChallengeConfig controls code issuance and verification. Store selects the
// record backend: "database", "redis" or "memory". Expired records are kept
// for Retention so late verifies still report expiry.
type ChallengeConfig struct {
	TTL             time.Duration `env:"TTL" envDefault:"10m"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	CodeDigits      int           `env:"CODE_DIGITS" envDefault:"6"`
	HashKey         string        `env:"HASH_KEY"`
	Store           string        `env:"STORE" envDefault:"database"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m"`
	ResendCooldown  time.Duration `env:"RESEND_COOLDOWN" envDefault:"30s"`
	Retention       time.Duration `env:"RETENTION" envDefault:"1h"`
}

type RedisConfig struct {
	Addr      string `env:"ADDR" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"twofa:challenge:"`
}

// NotifierConfig selects how plaintext codes leave the service: "email", "sms"
// or "none".
type NotifierConfig struct {
	Channel string `env:"CHANNEL" envDefault:"email"`
}

type MailConfig struct {
	Host         string `env:"HOST" envDefault:"localhost"`
	Port         int    `env:"PORT" envDefault:"587"`
	Username     string `env:"USERNAME"`
	Password     string `env:"PASSWORD"`
	Encryption   string `env:"ENCRYPTION" envDefault:"tls"`
	FromAddress  string `env:"FROM_ADDRESS"`
	FromName     string `env:"FROM_NAME"`
	TemplatesDir string `env:"TEMPLATES_DIR"`
	Subject      string `env:"SUBJECT" envDefault:"Your verification code"`
}

type SMSConfig struct {
	APIURL     string        `env:"API_URL"`
	AccessKey  string        `env:"ACCESS_KEY"`
	Sender     string        `env:"SENDER"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s"`
	MaxRetries int           `env:"MAX_RETRIES" envDefault:"3"`
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"500ms"`
}

type CountingMode string

const (
	CountAll      CountingMode = "all"
	CountFailures CountingMode = "failures"
	CountSuccess  CountingMode = "success"
)

type RateLimitConfig struct {
	Store     string        `env:"STORE" envDefault:"memory"`
	Rate      int           `env:"RATE" envDefault:"10"`
	Period    time.Duration `env:"PERIOD" envDefault:"1m"`
	CountMode CountingMode  `env:"COUNT_MODE" envDefault:"failures"`
}

type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Path    string `env:"PATH" envDefault:"/metrics"`
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	if c, ok := cfg.(*Config); ok {
		return c.Validate()
	}
	return nil
}

func (c *Config) Validate() error {
	errs := []error{c.Challenge.Validate()}

	switch c.Challenge.Store {
	case "database", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported challenge store: %s (supported: database, redis, memory)", c.Challenge.Store))
	}

	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("TLS requires both TWOFA_SERVER_TLS_CERT_FILE and TWOFA_SERVER_TLS_KEY_FILE"))
	}

	switch c.Notifier.Channel {
	case "email", "sms", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported notifier channel: %s (supported: email, sms, none)", c.Notifier.Channel))
	}

	return errors.Join(errs...)
}

// Validate checks the settings the verification engine itself depends on.
func (c ChallengeConfig) Validate() error {
	var errs []error

	if c.TTL <= 0 {
		errs = append(errs, fmt.Errorf("challenge TTL must be positive, got %s", c.TTL))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("challenge max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.CodeDigits < 4 || c.CodeDigits > 9 {
		errs = append(errs, fmt.Errorf("challenge code digits must be between 4 and 9, got %d", c.CodeDigits))
	}
	if c.HashKey == "" {
		errs = append(errs, errors.New("TWOFA_CHALLENGE_HASH_KEY is required"))
	}
	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("challenge retention must not be negative, got %s", c.Retention))
	}

	return errors.Join(errs...)
}
