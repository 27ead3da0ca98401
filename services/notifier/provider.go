package notifier

import (
	"fmt"

	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"github.com/tech-arch1tect/twofactor/services/mail"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type DirectoryParams struct {
	fx.In
	Logger *logging.Service
	DB     *gorm.DB `optional:"true"`
}

func ProvideDirectory(p DirectoryParams) Directory {
	if p.DB == nil {
		if p.Logger != nil {
			p.Logger.Warn("no database available - contact directory is in-memory and starts empty")
		}
		return NewMapDirectory()
	}

	return NewGormDirectory(p.DB)
}

type NotifierParams struct {
	fx.In
	Config    *config.Config
	Logger    *logging.Service
	Directory Directory
	Observer  Observer `optional:"true"`
}

func ProvideNotifier(p NotifierParams) (Notifier, error) {
	n, err := New(p.Config, p.Directory, p.Logger)
	if err != nil {
		return nil, err
	}
	return Observe(n, p.Config.Notifier.Channel, p.Observer), nil
}

// New builds the notifier selected by cfg.Notifier.Channel.
func New(cfg *config.Config, directory Directory, logger *logging.Service) (Notifier, error) {
	logger = logger.Named("notifier")

	if logger != nil {
		logger.Info("initializing notifier",
			zap.String("channel", cfg.Notifier.Channel))
	}

	switch cfg.Notifier.Channel {
	case "email":
		mailer, err := mail.NewService(&cfg.Mail, logger.Named("mail"))
		if err != nil {
			return nil, err
		}
		return NewEmailNotifier(mailer, directory, cfg.App.Name, cfg.Mail.Subject, logger), nil
	case "sms":
		return NewSMSNotifier(cfg.SMS, cfg.App.Name, directory, logger)
	case "none":
		if logger != nil {
			logger.Warn("notifier channel is none - codes are issued but never delivered")
		}
		return NopNotifier{}, nil
	default:
		return nil, fmt.Errorf("unsupported notifier channel: %s", cfg.Notifier.Channel)
	}
}

var Module = fx.Options(
	fx.Provide(ProvideDirectory),
	fx.Provide(ProvideNotifier),
)
