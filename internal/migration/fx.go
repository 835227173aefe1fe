package migration

import (
	"github.com/smallbiznis/referrals/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.RunMigrations {
			log.Info("database migrations disabled")
			return nil
		}

		if cfg.DBType != "postgres" {
			log.Info("applying model migrations", zap.String("dialect", cfg.DBType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		log.Info("applying sql migrations")
		return RunMigrations(sqlDB)
	}),
)
