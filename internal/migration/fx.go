package migration

import (
	"strings"

	"github.com/openshelf/engage/internal/config"
	grantdomain "github.com/openshelf/engage/internal/grant/domain"
	intakedomain "github.com/openshelf/engage/internal/intake/domain"
	pointsdomain "github.com/openshelf/engage/internal/points/domain"
	referraldomain "github.com/openshelf/engage/internal/referral/domain"
	streakdomain "github.com/openshelf/engage/internal/streak/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The versioned SQL migrations target postgres. sqlite and mysql are
		// supported for local development through the schema models directly.
		if !strings.EqualFold(cfg.DBType, "postgres") {
			return conn.AutoMigrate(
				&pointsdomain.Entry{},
				&grantdomain.RewardGrant{},
				&streakdomain.Record{},
				&referraldomain.Referral{},
				&referraldomain.MilestoneCompletion{},
				&intakedomain.Event{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
