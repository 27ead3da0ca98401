package metrics

import (
	"strings"

	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/challenge"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"github.com/tech-arch1tect/twofactor/services/notifier"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideMetrics(cfg *config.Config, logger *logging.Service) *Service {
	namespace := strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(strings.ToLower(cfg.App.Name))
	if namespace == "" {
		namespace = "twofactor"
	}

	if logger != nil {
		logger.Info("initializing metrics",
			zap.String("namespace", namespace),
			zap.String("path", cfg.Metrics.Path))
	}

	return NewService(namespace)
}

func ProvideRecorder(svc *Service) challenge.Recorder {
	return svc
}

func ProvideObserver(svc *Service) notifier.Observer {
	return svc
}

var Module = fx.Options(
	fx.Provide(ProvideMetrics),
	fx.Provide(ProvideRecorder),
	fx.Provide(ProvideObserver),
)
