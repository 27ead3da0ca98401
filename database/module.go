package database

import (
	"github.com/tech-arch1tect/twofactor/config"
	"github.com/tech-arch1tect/twofactor/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type DatabaseParams struct {
	fx.In
	Config    *config.Config
	ModelsOpt *ModelsOption `optional:"true"`
	Logger    *logging.Service
}

// Module provides the database and the shared redis client, which only
// connects when a redis-backed store is configured.
var Module = fx.Options(
	fx.Provide(ProvideDatabaseFx),
	fx.Provide(ProvideRedisClient),
)

func ProvideDatabaseFx(p DatabaseParams) (*gorm.DB, error) {
	return ProvideDatabase(*p.Config, p.ModelsOpt, p.Logger.Named("database"))
}
