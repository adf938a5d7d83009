package migration

import (
	auditdomain "github.com/tripdeal/bargain/internal/auditlog/domain"
	capsuledomain "github.com/tripdeal/bargain/internal/capsule/domain"
	"github.com/tripdeal/bargain/internal/config"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// mysql/sqlite deployments are dev setups; let gorm derive the
		// schema from the models.
		return conn.AutoMigrate(
			&sessiondomain.NegotiationSession{},
			&auditdomain.NegotiationEvent{},
			&capsuledomain.Capsule{},
		)
	}),
)
