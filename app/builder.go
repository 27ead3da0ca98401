package app

import (
	"fmt"

	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/database"
	"github.com/tech-arch1tect/twofactor/handlers"
	"github.com/tech-arch1tect/twofactor/middleware/ratelimit"
	"github.com/tech-arch1tect/twofactor/server"
	"github.com/tech-arch1tect/twofactor/services/challenge"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"github.com/tech-arch1tect/twofactor/services/metrics"
	"github.com/tech-arch1tect/twofactor/services/notifier"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type AppBuilder struct {
	config    *config.Config
	services  map[string]bool
	models    []any
	fxOptions []fx.Option
	errors    []error
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		services:  make(map[string]bool),
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithDatabase opens the configured database even when no store needs it and
// migrates models alongside the built-in tables.
func (b *AppBuilder) WithDatabase(models ...any) *AppBuilder {
	b.services["database"] = true
	b.models = append(b.models, models...)
	return b
}

func (b *AppBuilder) WithRedis() *AppBuilder {
	b.services["redis"] = true
	return b
}

func (b *AppBuilder) WithoutHTTP() *AppBuilder {
	b.services["no_http"] = true
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("configuration errors: %v", b.errors)
	}

	if b.config == nil {
		b.WithAutoConfig()
	}

	if err := b.validate(); err != nil {
		return nil, err
	}

	logger, err := b.createLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{
		config: b.config,
		logger: logger,
	}

	fxOptions := b.buildFxOptions(logger)
	fxOptions = append(fxOptions, fx.Invoke(func(p populated) {
		app.db = p.DB
		app.server = p.Server
		app.challenges = p.Challenges
	}))

	app.fx = fx.New(fxOptions...)
	if err := app.fx.Err(); err != nil {
		return nil, fmt.Errorf("failed to assemble application: %w", err)
	}

	return app, nil
}

type populated struct {
	fx.In
	DB         *gorm.DB       `optional:"true"`
	Server     *server.Server `optional:"true"`
	Challenges *challenge.Service
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

// validate derives the backing services the configuration needs.
func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}

	if b.config == nil {
		return fmt.Errorf("config is required")
	}

	if err := b.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if b.config.Challenge.Store == "database" {
		b.services["database"] = true
	}

	// Contact addresses live in the database.
	if b.config.Notifier.Channel != "none" {
		b.services["database"] = true
	}

	if database.UsesRedis(b.config) {
		b.services["redis"] = true
	}

	return nil
}

func (b *AppBuilder) createLogger() (*logging.Service, error) {
	if b.config == nil {
		return nil, fmt.Errorf("config required for logger creation")
	}

	return logging.NewLoggingService(b.config)
}

func (b *AppBuilder) buildFxOptions(logger *logging.Service) []fx.Option {
	options := []fx.Option{
		config.NewProvider(b.config),
		fx.Supply(logger),
		logging.Module,
		fx.NopLogger,
	}

	if b.services["database"] {
		models := append([]any{&challenge.Record{}, &notifier.Contact{}}, b.models...)
		options = append(options,
			fx.Supply(database.WithModels(models...)),
			database.Module,
		)
	} else if b.services["redis"] {
		options = append(options, fx.Provide(database.ProvideRedisClient))
	}

	if b.config.Metrics.Enabled {
		options = append(options, metrics.Module)
	}

	options = append(options,
		challenge.Module,
		notifier.Module,
	)

	if !b.services["no_http"] {
		options = append(options,
			ratelimit.Module,
			server.Module,
			handlers.Module,
		)
	}

	options = append(options, b.fxOptions...)

	return options
}
