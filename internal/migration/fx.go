package migration

import (
	"strings"

	"github.com/smallbiznis/cooptariff/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.MigrateOnStart {
			return nil
		}

		dbType := strings.ToLower(strings.TrimSpace(cfg.DBType))
		if dbType != "" && dbType != "postgres" {
			log.Info("applying schema via gorm automigrate", zap.String("type", dbType))
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
